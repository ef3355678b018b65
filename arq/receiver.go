package arq

// PeekSize reports the byte length of the next complete message in the
// receive queue without consuming it. It fails with ErrRecvQueueEmpty
// if nothing has arrived, or ErrExpectingFragment if the head message's
// fragments haven't all arrived yet.
func (cb *ControlBlock) PeekSize() (int, error) {
	if len(cb.rcvQueue) == 0 {
		return 0, ErrRecvQueueEmpty
	}
	head := &cb.rcvQueue[0]
	if head.frg == 0 {
		return len(head.data), nil
	}
	if len(cb.rcvQueue) < int(head.frg)+1 {
		return 0, ErrExpectingFragment
	}
	size := 0
	for i := range cb.rcvQueue {
		size += len(cb.rcvQueue[i].data)
		if cb.rcvQueue[i].frg == 0 {
			break
		}
	}
	return size, nil
}

// Recv copies the next complete message into buf and returns its
// length. It fails without consuming anything if buf is too small
// (ErrUserBufTooSmall) or no complete message is ready
// (ErrRecvQueueEmpty/ErrExpectingFragment).
func (cb *ControlBlock) Recv(buf []byte) (int, error) {
	size, err := cb.PeekSize()
	if err != nil {
		return 0, err
	}
	if size > len(buf) {
		return 0, ErrUserBufTooSmall
	}

	fastRecover := len(cb.rcvQueue) >= int(cb.rcvWnd)

	n := 0
	count := 0
	for i := range cb.rcvQueue {
		seg := &cb.rcvQueue[i]
		n += copy(buf[n:], seg.data)
		count++
		if seg.frg == 0 {
			break
		}
	}
	cb.rcvQueue = cb.rcvQueue[count:]

	cb.promoteReceived()

	if fastRecover && len(cb.rcvQueue) < int(cb.rcvWnd) {
		cb.probe |= askTell
	}
	return n, nil
}

// parseData inserts a freshly-decoded PUSH segment into rcv_buf in sn
// order, discarding it if out of window or a duplicate of an sn already
// buffered, then promotes whatever contiguous prefix is now available.
func (cb *ControlBlock) parseData(seg segment) {
	sn := seg.sn
	if timediff(sn, cb.rcvNxt+cb.rcvWnd) >= 0 || timediff(sn, cb.rcvNxt) < 0 {
		return
	}

	n := len(cb.rcvBuf) - 1
	insertAt := 0
	repeat := false
	for i := n; i >= 0; i-- {
		if cb.rcvBuf[i].sn == sn {
			repeat = true
			break
		}
		if timediff(sn, cb.rcvBuf[i].sn) > 0 {
			insertAt = i + 1
			break
		}
	}

	if !repeat {
		if insertAt == n+1 {
			cb.rcvBuf = append(cb.rcvBuf, seg)
		} else {
			cb.rcvBuf = append(cb.rcvBuf, segment{})
			copy(cb.rcvBuf[insertAt+1:], cb.rcvBuf[insertAt:])
			cb.rcvBuf[insertAt] = seg
		}
	}

	cb.promoteReceived()
}

// promoteReceived moves the contiguous run of rcv_buf starting at
// rcv_nxt into rcv_queue, in sn order, bounded by the receive window's
// budget as it stood before this promotion.
func (cb *ControlBlock) promoteReceived() {
	base := len(cb.rcvQueue)
	count := 0
	for count < len(cb.rcvBuf) {
		seg := &cb.rcvBuf[count]
		if seg.sn == cb.rcvNxt && base+count < int(cb.rcvWnd) {
			cb.rcvNxt++
			count++
		} else {
			break
		}
	}
	cb.rcvQueue = append(cb.rcvQueue, cb.rcvBuf[:count]...)
	cb.rcvBuf = cb.rcvBuf[count:]
}
