// Package arq implements the per-conversation protocol engine of a
// reliable, ordered, message-oriented ARQ transport overlay meant to run
// atop an unreliable datagram substrate: segment codec, sliding-window
// send/receive state, RTO estimation, selective and cumulative
// acknowledgement, fast retransmit, congestion control, and the flush
// scheduler. Datagram I/O, connection establishment, crypto framing,
// and multiplexing are the caller's concern, not this package's.
package arq

import "io"

// Tunable defaults and fixed floors, wire/behavior-compatible with the
// reference KCP protocol.
const (
	defaultSndWnd = 32
	defaultRcvWnd = 128

	// wndRcvMin is the floor on rcv_wnd and doubles as the fragment-count
	// ceiling enforced by Send.
	wndRcvMin = 128

	defaultMTU      = 1400
	defaultInterval = 100
	defaultDeadLink = 20

	threshInit = 2
	threshMin  = 2

	probeInit  = 7000
	probeLimit = 120000

	intervalMin = 10
	intervalMax = 5000
)

// ControlBlock is one conversation endpoint's full protocol state. It
// is single-threaded and caller-driven — callers must serialize their
// own calls into one ControlBlock; nothing here spawns a goroutine or
// blocks.
type ControlBlock struct {
	conv   uint32
	mtu    int
	mss    int
	stream bool

	nodelay         bool
	nocwnd          bool
	deadLink        uint32
	fastResend      int32
	fastLimit       int32
	fastAckConserve bool

	sndUna uint32
	sndNxt uint32
	rcvNxt uint32

	sndWnd   uint32
	rcvWnd   uint32
	rmtWnd   uint32
	cwnd     uint32
	ssthresh uint32
	incr     uint32

	current   uint32
	interval  uint32
	tsFlush   uint32
	tsProbe   uint32
	probeWait uint32
	probe     uint32

	rto rtoEstimator

	xmit    uint32
	updated bool
	dead    bool

	sndQueue []segment
	sndBuf   []segment
	rcvBuf   []segment
	rcvQueue []segment
	acklist  []ackItem

	buf []byte

	waitingConv bool

	out io.Writer
}

type ackItem struct {
	sn uint32
	ts uint32
}

// New creates a message-mode control block: Send boundaries are
// preserved, one Send call corresponds to one Recv call on the peer.
// conv must match the peer's conv (or be adopted via
// InputConv/waiting-conv mode). out receives fully-formed datagrams
// from Flush; its Write errors propagate out of Flush unchanged.
func New(conv uint32, out io.Writer) *ControlBlock {
	return newControlBlock(conv, out, false)
}

// NewStream creates a stream-mode control block: Send does not
// preserve message boundaries, consecutive small sends may be coalesced
// into one segment. Stream vs message mode is fixed at construction —
// it cannot be switched later.
func NewStream(conv uint32, out io.Writer) *ControlBlock {
	return newControlBlock(conv, out, true)
}

func newControlBlock(conv uint32, out io.Writer, stream bool) *ControlBlock {
	cb := &ControlBlock{
		conv:     conv,
		stream:   stream,
		mtu:      defaultMTU,
		sndWnd:   defaultSndWnd,
		rcvWnd:   defaultRcvWnd,
		rmtWnd:   defaultRcvWnd,
		ssthresh: threshInit,
		deadLink: defaultDeadLink,
		interval: defaultInterval,
		tsFlush:  defaultInterval,
		rto:      newRTOEstimator(),
		out:      out,
	}
	cb.mss = cb.mtu - headerSize
	cb.buf = make([]byte, (cb.mtu+headerSize)*3)
	return cb
}

// --- accessors ---

// Conv returns the conversation identifier.
func (cb *ControlBlock) Conv() uint32 { return cb.conv }

// Mtu returns the current MTU.
func (cb *ControlBlock) Mtu() int { return cb.mtu }

// Mss returns the current maximum segment size (Mtu - header size).
func (cb *ControlBlock) Mss() int { return cb.mss }

// SndWnd returns the local send window size, in segments.
func (cb *ControlBlock) SndWnd() uint32 { return cb.sndWnd }

// RcvWnd returns the local receive window size, in segments.
func (cb *ControlBlock) RcvWnd() uint32 { return cb.rcvWnd }

// RmtWnd returns the peer's last-advertised receive window.
func (cb *ControlBlock) RmtWnd() uint32 { return cb.rmtWnd }

// Cwnd returns the effective congestion window: min(sndWnd, rmtWnd),
// further bounded by cwnd unless nocwnd is set.
func (cb *ControlBlock) Cwnd() uint32 {
	w := imin32(cb.sndWnd, cb.rmtWnd)
	if !cb.nocwnd {
		w = imin32(cb.cwnd, w)
	}
	return w
}

// WaitSnd returns how many segments are queued or in flight.
func (cb *ControlBlock) WaitSnd() int { return len(cb.sndBuf) + len(cb.sndQueue) }

// IsDeadLink reports whether any segment has been retransmitted at
// least DeadLink times. The caller decides policy; this package only
// marks the condition.
func (cb *ControlBlock) IsDeadLink() bool { return cb.dead }

// IsStream reports whether this control block was built with NewStream.
func (cb *ControlBlock) IsStream() bool { return cb.stream }

// HeaderLen returns the fixed wire header size (24 bytes).
func (cb *ControlBlock) HeaderLen() int { return headerSize }

// WaitingConv reports whether one-shot conv adoption is armed.
func (cb *ControlBlock) WaitingConv() bool { return cb.waitingConv }

// SetConv overrides the conversation identifier directly.
func (cb *ControlBlock) SetConv(conv uint32) { cb.conv = conv }

// InputConv arms one-shot adoption of the peer's conv on the next Input
// call whose conv differs from ours, instead of failing with
// ConvInconsistentError.
func (cb *ControlBlock) InputConv() { cb.waitingConv = true }

// Xmit returns the total number of timeout-driven retransmissions.
// First transmissions and fast retransmits are not counted.
func (cb *ControlBlock) Xmit() uint32 { return cb.xmit }

// --- tuning API ---

// SetMtu changes the MTU. Fails with InvalidMtuError if n is below the
// fixed floor of 50 bytes or smaller than the header itself.
func (cb *ControlBlock) SetMtu(n int) error {
	if n < 50 || n < headerSize {
		return &InvalidMtuError{Got: n}
	}
	cb.mtu = n
	cb.mss = n - headerSize
	need := (n + headerSize) * 3
	if cap(cb.buf) < need {
		cb.buf = make([]byte, need)
	} else {
		cb.buf = cb.buf[:need]
	}
	return nil
}

// SetInterval sets the flush period, clamped to [10, 5000] ms.
func (cb *ControlBlock) SetInterval(n uint32) {
	cb.interval = bound32(intervalMin, n, intervalMax)
}

// SetNoDelay configures the low-latency knobs in one call: nodelay
// lowers the minimum RTO; interval is clamped as in SetInterval;
// resend, if >= 0, sets the fast-resend threshold; nocwnd disables
// congestion-window enforcement.
func (cb *ControlBlock) SetNoDelay(nodelay bool, interval int, resend int, nocwnd bool) {
	cb.nodelay = nodelay
	cb.rto.setNoDelay(nodelay)
	if interval >= 0 {
		cb.SetInterval(uint32(interval))
	}
	if resend >= 0 {
		cb.fastResend = int32(resend)
	}
	cb.nocwnd = nocwnd
}

// SetWndSize updates the local send/receive window sizes. snd is
// ignored if <= 0; rcv is floored at wndRcvMin regardless.
func (cb *ControlBlock) SetWndSize(snd, rcv int) {
	if snd > 0 {
		cb.sndWnd = uint32(snd)
	}
	if rcv > 0 {
		cb.rcvWnd = imax32(uint32(rcv), wndRcvMin)
	} else {
		cb.rcvWnd = imax32(cb.rcvWnd, wndRcvMin)
	}
}

// SetMaximumResendTimes sets the retransmit count past which the
// connection is marked a dead link.
func (cb *ControlBlock) SetMaximumResendTimes(n uint32) { cb.deadLink = n }

// SetFastLimit caps how many times a segment may be fast-retransmitted;
// n <= 0 disables the cap (unconditional fast retransmit), which is
// also the zero-value default.
func (cb *ControlBlock) SetFastLimit(n int32) { cb.fastLimit = n }

// SetFastAckConserve switches fastack accounting from the sn-then-ts
// tie-break rule (default) to the "conserve" rule that credits every
// distinct-sn ACK regardless of timestamp ordering.
func (cb *ControlBlock) SetFastAckConserve(conserve bool) { cb.fastAckConserve = conserve }

// --- clock-driven operations ---

// Update stamps the clock and, once the flush schedule says it's time,
// invokes Flush. current is a caller-supplied monotonic millisecond
// timestamp.
func (cb *ControlBlock) Update(current uint32) error {
	cb.current = current
	if !cb.updated {
		cb.updated = true
		cb.tsFlush = current
	}

	slap := timediff(current, cb.tsFlush)
	if slap >= 10000 || slap < -10000 {
		cb.tsFlush = current
		slap = 0
	}

	if slap >= 0 {
		cb.tsFlush += cb.interval
		if timediff(current, cb.tsFlush) >= 0 {
			cb.tsFlush = current + cb.interval
		}
		return cb.Flush()
	}
	return nil
}

// Check returns how many milliseconds until the caller should next
// invoke Update for this control block to make useful progress: 0 if
// Update has never run, flush time has arrived, or a segment is due for
// retransmission; otherwise the soonest of flush time, earliest
// retransmit time, and the flush interval.
func (cb *ControlBlock) Check(current uint32) uint32 {
	if !cb.updated {
		return 0
	}

	tsFlush := cb.tsFlush
	if d := timediff(current, tsFlush); d >= 10000 || d < -10000 {
		tsFlush = current
	}
	if timediff(current, tsFlush) >= 0 {
		return 0
	}

	tmFlush := uint32(timediff(tsFlush, current))
	tmPacket := uint32(0x7fffffff)
	for i := range cb.sndBuf {
		diff := timediff(cb.sndBuf[i].resendts, current)
		if diff <= 0 {
			return 0
		}
		if uint32(diff) < tmPacket {
			tmPacket = uint32(diff)
		}
	}

	minimal := tmPacket
	if tmFlush < minimal {
		minimal = tmFlush
	}
	if cb.interval < minimal {
		minimal = cb.interval
	}
	return minimal
}
