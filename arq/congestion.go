package arq

// growCwndOnUnaAdvance is called from Input after snd_una has advanced
// in that Input call, provided cwnd hasn't already caught up with the
// peer's advertised window. Slow start grows cwnd by one segment per
// ack; congestion avoidance grows the byte-granularity accumulator incr
// and, once incr covers the next whole segment, sets cwnd to
// ceil(incr/mss).
func (cb *ControlBlock) growCwndOnUnaAdvance() {
	if cb.cwnd >= cb.rmtWnd {
		return
	}
	mss := uint32(cb.mss)
	if cb.cwnd < cb.ssthresh {
		cb.cwnd++
		cb.incr += mss
	} else {
		if cb.incr < mss {
			cb.incr = mss
		}
		cb.incr += mss*mss/cb.incr + mss/16
		if (cb.cwnd+1)*mss <= cb.incr {
			cb.cwnd = (cb.incr + mss - 1) / mss
		}
	}
	if cb.cwnd > cb.rmtWnd {
		cb.cwnd = cb.rmtWnd
		cb.incr = cb.rmtWnd * mss
	}
}
