package arq

// Input processes a concatenation of one or more peer segments. It
// stops at the first malformed segment, returning the number of bytes
// consumed from segments already applied along with the error; state
// from segments processed earlier in the same call is kept.
func (cb *ControlBlock) Input(data []byte) (int, error) {
	if len(data) < headerSize {
		return 0, &InvalidSegmentSizeError{Got: len(data)}
	}

	current := cb.current
	unaBefore := cb.sndUna
	consumed := 0

	sawAck := false
	var maxAckSn, maxAckTs uint32

	for len(data) >= headerSize {
		seg, err := decodeHeader(data)
		if err != nil {
			return consumed, err
		}
		segLen := len(seg.data)

		if seg.conv != cb.conv {
			if cb.waitingConv {
				cb.conv = seg.conv
				cb.waitingConv = false
			} else {
				return consumed, &ConvInconsistentError{Expected: cb.conv, Found: seg.conv}
			}
		}

		if !isKnownCmd(seg.cmd) {
			return consumed, &UnsupportedCmdError{Cmd: seg.cmd}
		}

		cb.rmtWnd = uint32(seg.wnd)
		cb.parseUna(seg.una)
		cb.shrinkBuf()

		switch seg.cmd {
		case cmdAck:
			if timediff(current, seg.ts) >= 0 {
				cb.rto.sample(timediff(current, seg.ts), cb.interval)
			}
			cb.parseAck(seg.sn)
			cb.shrinkBuf()
			if !sawAck || isGreaterAck(seg.sn, seg.ts, maxAckSn, maxAckTs) {
				maxAckSn, maxAckTs = seg.sn, seg.ts
			}
			sawAck = true
		case cmdPush:
			if timediff(seg.sn, cb.rcvNxt+cb.rcvWnd) < 0 {
				cb.acklist = append(cb.acklist, ackItem{sn: seg.sn, ts: seg.ts})
				if timediff(seg.sn, cb.rcvNxt) >= 0 {
					payload := make([]byte, segLen)
					copy(payload, seg.data)
					seg.data = payload
					cb.parseData(seg)
				}
			}
		case cmdWask:
			cb.probe |= askTell
		case cmdWins:
			// remote window already updated above; nothing else to do
		}

		data = data[headerSize+segLen:]
		consumed += headerSize + segLen
	}

	if sawAck {
		cb.parseFastAck(maxAckSn, maxAckTs)
	}

	if timediff(cb.sndUna, unaBefore) > 0 {
		cb.growCwndOnUnaAdvance()
	}

	return consumed, nil
}

// parseUna drops every snd_buf segment the peer has cumulatively
// acknowledged and recomputes snd_una from whatever remains.
func (cb *ControlBlock) parseUna(una uint32) {
	n := 0
	for n < len(cb.sndBuf) && timediff(una, cb.sndBuf[n].sn) > 0 {
		n++
	}
	cb.sndBuf = cb.sndBuf[n:]
}

func (cb *ControlBlock) shrinkBuf() {
	if len(cb.sndBuf) > 0 {
		cb.sndUna = cb.sndBuf[0].sn
	} else {
		cb.sndUna = cb.sndNxt
	}
}

// parseAck removes the one snd_buf segment matching sn, the selective
// part of selective+cumulative acknowledgement.
func (cb *ControlBlock) parseAck(sn uint32) {
	if timediff(sn, cb.sndUna) < 0 || timediff(sn, cb.sndNxt) >= 0 {
		return
	}
	for i := range cb.sndBuf {
		if cb.sndBuf[i].sn == sn {
			cb.sndBuf = append(cb.sndBuf[:i], cb.sndBuf[i+1:]...)
			break
		}
		if timediff(sn, cb.sndBuf[i].sn) < 0 {
			break
		}
	}
}

// parseFastAck credits fastack to every snd_buf segment sn strictly
// before maxSn. With fastAckConserve set every such segment is credited
// regardless of timestamp ordering; otherwise only segments whose own
// ts is no later than latestTs are credited, so a reordered older ACK
// can't inflate fastack for a segment sent after it.
func (cb *ControlBlock) parseFastAck(maxSn, latestTs uint32) {
	if timediff(maxSn, cb.sndUna) < 0 || timediff(maxSn, cb.sndNxt) >= 0 {
		return
	}
	for i := range cb.sndBuf {
		seg := &cb.sndBuf[i]
		if timediff(maxSn, seg.sn) < 0 {
			break
		}
		if seg.sn == maxSn {
			continue
		}
		if cb.fastAckConserve || timediff(latestTs, seg.ts) >= 0 {
			seg.fastack++
		}
	}
}

// isGreaterAck reports whether (sn, ts) sorts after (bestSn, bestTs)
// under the sn-then-ts rule used to resolve which ACK in a batch is
// "latest" for fastack accounting.
func isGreaterAck(sn, ts, bestSn, bestTs uint32) bool {
	if d := timediff(sn, bestSn); d != 0 {
		return d > 0
	}
	return timediff(ts, bestTs) > 0
}
