package arq

// Send queues an application payload for delivery (spec §4.2). In
// message mode each call is one application message, reassembled whole
// on the peer's Recv; in stream mode boundaries are not preserved and a
// short trailing segment may be extended by a later call. It fails with
// ErrUserBufTooBig if the payload would require more fragments than the
// receive-window floor allows.
func (cb *ControlBlock) Send(data []byte) (int, error) {
	sent := 0

	if cb.stream {
		if n := len(cb.sndQueue); n > 0 {
			old := &cb.sndQueue[n-1]
			if len(old.data) < cb.mss {
				capacity := cb.mss - len(old.data)
				extend := capacity
				if len(data) < capacity {
					extend = len(data)
				}
				old.data = append(old.data, data[:extend]...)
				old.frg = 0
				data = data[extend:]
				sent += extend
			}
		}
		if len(data) == 0 {
			return sent, nil
		}
	}

	count := 1
	if len(data) > cb.mss {
		count = (len(data) + cb.mss - 1) / cb.mss
	}
	if count >= wndRcvMin {
		return sent, ErrUserBufTooBig
	}

	for i := 0; i < count; i++ {
		size := cb.mss
		if len(data) < size {
			size = len(data)
		}
		payload := make([]byte, size)
		copy(payload, data[:size])

		var frg uint8
		if !cb.stream {
			frg = uint8(count - i - 1)
		}
		cb.sndQueue = append(cb.sndQueue, segment{data: payload, frg: frg})

		data = data[size:]
		sent += size
	}
	return sent, nil
}

// promoteSendWindow moves segments from sndQueue to sndBuf while the
// sending window allows (spec §4.2 last paragraph, §4.6 step 6): each
// promoted segment is assigned its sn here, not at Send time.
func (cb *ControlBlock) promoteSendWindow(cwndEff uint32, wnd uint16, current uint32) int {
	n := 0
	for n < len(cb.sndQueue) {
		if timediff(cb.sndNxt, cb.sndUna+cwndEff) >= 0 {
			break
		}
		seg := cb.sndQueue[n]
		seg.conv = cb.conv
		seg.cmd = cmdPush
		seg.sn = cb.sndNxt
		seg.wnd = wnd
		seg.ts = current
		seg.una = cb.rcvNxt
		seg.resendts = current
		seg.rto = cb.rto.rto
		seg.fastack = 0
		seg.xmit = 0
		cb.sndBuf = append(cb.sndBuf, seg)
		cb.sndNxt++
		n++
	}
	cb.sndQueue = cb.sndQueue[n:]
	return n
}

// retransmitPass walks the whole of sndBuf in one sweep emitting first
// transmissions, RTO timeouts, and fast retransmits (spec §4.6 step 7).
// A segment just promoted by promoteSendWindow in this same flush has
// xmit==0 and so naturally takes the first-transmission branch below —
// there is no separate "new segment" loop.
func (cb *ControlBlock) retransmitPass(f *flusher, wnd uint16, current uint32) (lost bool, change int, err error) {
	resent := cb.resentThreshold()
	var rtomin uint32
	if !cb.nodelay {
		rtomin = cb.rto.rto >> 3
	}

	for i := range cb.sndBuf {
		seg := &cb.sndBuf[i]
		needSend := false

		switch {
		case seg.xmit == 0:
			needSend = true
			seg.xmit = 1
			seg.rto = cb.rto.rto
			seg.resendts = current + seg.rto + rtomin
		case timediff(current, seg.resendts) >= 0:
			needSend = true
			seg.xmit++
			cb.xmit++
			if !cb.nodelay {
				seg.rto += imax32(seg.rto, cb.rto.rto)
			} else {
				seg.rto += seg.rto / 2
			}
			seg.resendts = current + seg.rto
			lost = true
		case seg.fastack >= resent && (cb.fastLimit <= 0 || int32(seg.xmit) <= cb.fastLimit):
			needSend = true
			seg.xmit++
			seg.fastack = 0
			seg.resendts = current + seg.rto
			change++
		default:
			// not due; leave it queued
		}

		if !needSend {
			continue
		}

		seg.ts = current
		seg.wnd = wnd
		seg.una = cb.rcvNxt

		if err = f.put(outputWriterOf(cb), seg); err != nil {
			return lost, change, err
		}
		if seg.xmit >= cb.deadLink {
			cb.dead = true
		}
	}
	return lost, change, nil
}
