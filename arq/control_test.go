package arq

import (
	"bytes"
	"testing"
)

// link is a lossless, zero-latency in-memory pipe: writes to one side
// become input for the other's peer on the next Input call. Tests pull
// messages across it explicitly rather than running background
// goroutines, since ControlBlock is single-threaded and caller-driven.
type link struct {
	out *bytes.Buffer
}

func newLink() *link { return &link{out: new(bytes.Buffer)} }

func (l *link) Write(p []byte) (int, error) {
	return l.out.Write(p)
}

func (l *link) drainTo(peer *ControlBlock) error {
	if l.out.Len() == 0 {
		return nil
	}
	data := l.out.Bytes()
	l.out.Reset()
	_, err := peer.Input(data)
	return err
}

// newPair builds two directly-wired control blocks tuned for fast,
// deterministic delivery in tests (nodelay + nocwnd): the ordering and
// reassembly tests below care about message delivery, not congestion
// window ramp-up, which is exercised separately in TestCongestionWindowGrowsOnAck.
func newPair() (a, b *ControlBlock, aOut, bOut *link) {
	aOut, bOut = newLink(), newLink()
	a = New(0x11223344, aOut)
	b = New(0x11223344, bOut)
	a.SetNoDelay(true, 10, 0, true)
	b.SetNoDelay(true, 10, 0, true)
	return
}

func pump(t *testing.T, a, b *ControlBlock, aOut, bOut *link, current uint32, rounds int) {
	t.Helper()
	for i := 0; i < rounds; i++ {
		if err := a.Update(current); err != nil {
			t.Fatalf("a.Update: %v", err)
		}
		if err := b.Update(current); err != nil {
			t.Fatalf("b.Update: %v", err)
		}
		if err := aOut.drainTo(b); err != nil {
			t.Fatalf("a->b Input: %v", err)
		}
		if err := bOut.drainTo(a); err != nil {
			t.Fatalf("b->a Input: %v", err)
		}
		current += 10
	}
}

// TestRoundTripOrderedMessages covers property 2: a sequence of sends
// arrives at the peer's Recv in the same order, unchanged.
func TestRoundTripOrderedMessages(t *testing.T) {
	a, b, aOut, bOut := newPair()

	messages := [][]byte{
		[]byte("first"),
		[]byte("second message, a bit longer"),
		[]byte("3"),
		bytes.Repeat([]byte("x"), 3000), // spans multiple fragments
	}
	for _, m := range messages {
		if _, err := a.Send(m); err != nil {
			t.Fatalf("Send(%q): %v", m, err)
		}
	}

	pump(t, a, b, aOut, bOut, 0, 50)

	buf := make([]byte, 8192)
	for i, want := range messages {
		n, err := b.Recv(buf)
		if err != nil {
			t.Fatalf("Recv message %d: %v", i, err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Fatalf("message %d: got %q, want %q", i, buf[:n], want)
		}
	}
	if _, err := b.Recv(buf); err != ErrRecvQueueEmpty {
		t.Fatalf("Recv after drain: got %v, want ErrRecvQueueEmpty", err)
	}
}

// TestFragmentBoundary covers S4: a payload needing exactly wndRcvMin-1
// fragments succeeds, one needing wndRcvMin fails.
func TestFragmentBoundary(t *testing.T) {
	a := New(1, newLink())
	mss := a.mss

	ok := bytes.Repeat([]byte("a"), (wndRcvMin-1)*mss)
	if _, err := a.Send(ok); err != nil {
		t.Fatalf("Send at fragment ceiling-1: %v", err)
	}

	tooBig := bytes.Repeat([]byte("a"), wndRcvMin*mss)
	if _, err := a.Send(tooBig); err != ErrUserBufTooBig {
		t.Fatalf("Send at fragment ceiling: got %v, want ErrUserBufTooBig", err)
	}
}

// TestConvMismatch covers S5: an unexpected conv fails Input, unless
// waiting-conv mode is armed, after which the conv is adopted.
func TestConvMismatch(t *testing.T) {
	b := New(0xBEEF, newLink())
	b.Update(0)

	peer := New(0xDEAD, newLink())
	peer.Update(0)
	if _, err := peer.Send([]byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := peer.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	datagram := peer.out.(*link).out.Bytes()

	if _, err := b.Input(datagram); err == nil {
		t.Fatalf("Input with mismatched conv: got nil error, want ConvInconsistentError")
	} else if ce, ok := err.(*ConvInconsistentError); !ok {
		t.Fatalf("Input with mismatched conv: got %T, want *ConvInconsistentError", err)
	} else if ce.Expected != 0xBEEF || ce.Found != 0xDEAD {
		t.Fatalf("ConvInconsistentError fields: got %+v", ce)
	}

	b.InputConv()
	if _, err := b.Input(datagram); err != nil {
		t.Fatalf("Input after InputConv: %v", err)
	}
	if b.Conv() != 0xDEAD {
		t.Fatalf("conv after adoption: got %d, want %d", b.Conv(), 0xDEAD)
	}
}

// TestMtuCompliance covers property 4: every datagram handed to the
// sink is at most mtu bytes, even when many segments coalesce in one
// flush.
func TestMtuCompliance(t *testing.T) {
	out := &sizeCheckingWriter{t: t, mtu: 200}
	a := New(1, out)
	if err := a.SetMtu(200); err != nil {
		t.Fatalf("SetMtu: %v", err)
	}
	a.SetWndSize(256, 256)
	a.SetNoDelay(false, -1, -1, true) // nocwnd: exercise many in-flight segments without congestion-window gating

	for i := 0; i < 64; i++ {
		if _, err := a.Send(bytes.Repeat([]byte{byte(i)}, 100)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := a.Update(0); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

type sizeCheckingWriter struct {
	t   *testing.T
	mtu int
}

func (w *sizeCheckingWriter) Write(p []byte) (int, error) {
	if len(p) > w.mtu {
		w.t.Fatalf("datagram of %d bytes exceeds mtu %d", len(p), w.mtu)
	}
	return len(p), nil
}

// TestCheckReturnsZeroAfterFlushDue covers the §9 resolution: once
// ts_flush has arrived, Check returns 0 rather than the interval.
func TestCheckReturnsZeroAfterFlushDue(t *testing.T) {
	a := New(1, newLink())
	if err := a.Update(0); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := a.Check(a.interval + 1); got != 0 {
		t.Fatalf("Check past ts_flush: got %d, want 0", got)
	}
}

// TestCheckBeforeUpdateIsZero ensures a control block that has never
// seen Update reports an immediate wake so the caller calls Update.
func TestCheckBeforeUpdateIsZero(t *testing.T) {
	a := New(1, newLink())
	if got := a.Check(12345); got != 0 {
		t.Fatalf("Check before Update: got %d, want 0", got)
	}
}

// TestFlushBeforeUpdateFails covers NeedUpdate (misuse class, §7).
func TestFlushBeforeUpdateFails(t *testing.T) {
	a := New(1, newLink())
	if err := a.Flush(); err != ErrNeedUpdate {
		t.Fatalf("Flush before Update: got %v, want ErrNeedUpdate", err)
	}
}

// TestRecvBufTooSmall covers UserBufTooSmall without consuming the
// pending message.
func TestRecvBufTooSmall(t *testing.T) {
	a, b, aOut, bOut := newPair()
	if _, err := a.Send([]byte("hello world")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	pump(t, a, b, aOut, bOut, 0, 20)

	tiny := make([]byte, 2)
	if _, err := b.Recv(tiny); err != ErrUserBufTooSmall {
		t.Fatalf("Recv with tiny buf: got %v, want ErrUserBufTooSmall", err)
	}

	big := make([]byte, 64)
	n, err := b.Recv(big)
	if err != nil {
		t.Fatalf("Recv after failed small attempt: %v", err)
	}
	if string(big[:n]) != "hello world" {
		t.Fatalf("Recv payload: got %q", big[:n])
	}
}

// TestDuplicateInputIdempotent covers property 3: feeding the same
// datagram twice doesn't duplicate delivered data.
func TestDuplicateInputIdempotent(t *testing.T) {
	a, b, aOut, _ := newPair()
	if _, err := a.Send([]byte("once")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Update(0); err != nil {
		t.Fatalf("a.Update: %v", err)
	}
	datagram := append([]byte(nil), aOut.out.Bytes()...)
	aOut.out.Reset()

	if _, err := b.Input(datagram); err != nil {
		t.Fatalf("first Input: %v", err)
	}
	if _, err := b.Input(datagram); err != nil {
		t.Fatalf("duplicate Input: %v", err)
	}

	buf := make([]byte, 64)
	n, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != "once" {
		t.Fatalf("Recv payload: got %q", buf[:n])
	}
	if _, err := b.Recv(buf); err != ErrRecvQueueEmpty {
		t.Fatalf("second Recv: got %v, want ErrRecvQueueEmpty (duplicate must not enqueue twice)", err)
	}
}

// TestCongestionWindowStartsAtZeroAndWarmsUp documents the reference
// protocol's cold-start behaviour (spec §3: cwnd is part of the
// control-block state, grown only via §4.7): with congestion control
// enabled, cwnd begins at 0 and nothing is promoted on the very first
// flush; the unconditional floor at the end of flush (§4.6 step 9)
// bumps it to 1 so the second flush can make progress.
func TestCongestionWindowStartsAtZeroAndWarmsUp(t *testing.T) {
	a := New(1, newLink())
	if a.cwnd != 0 {
		t.Fatalf("initial cwnd: got %d, want 0", a.cwnd)
	}
	if _, err := a.Send([]byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Update(0); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(a.sndBuf) != 0 {
		t.Fatalf("sndBuf after first flush with cwnd=0: got %d segments, want 0", len(a.sndBuf))
	}
	if a.cwnd != 1 {
		t.Fatalf("cwnd after first flush: got %d, want 1 (floor applied)", a.cwnd)
	}

	if err := a.Update(200); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(a.sndBuf) != 1 {
		t.Fatalf("sndBuf after second flush: got %d segments, want 1", len(a.sndBuf))
	}
}

// TestCongestionWindowGrowsOnAck covers §4.7 window growth: cwnd grows
// on Input calls in which snd_una advances (one segment per call in slow
// start, more slowly in congestion avoidance) and never exceeds rmt_wnd.
func TestCongestionWindowGrowsOnAck(t *testing.T) {
	a, b, aOut, bOut := newPair()
	a.SetNoDelay(true, 10, 0, false) // re-enable congestion control for this test
	b.SetNoDelay(true, 10, 0, false)

	for i := 0; i < 20; i++ {
		if _, err := a.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	before := a.cwnd
	pump(t, a, b, aOut, bOut, 0, 80)
	if a.cwnd <= before {
		t.Fatalf("cwnd after exchange: got %d, want > %d (slow start should have grown it)", a.cwnd, before)
	}
	if a.cwnd > a.rmtWnd {
		t.Fatalf("cwnd exceeded rmt_wnd: cwnd=%d rmt_wnd=%d", a.cwnd, a.rmtWnd)
	}
}

// TestFlushAckEmitsPendingAcks guards against a regression where the
// ack-only path coalesced pending acks into the scratch buffer but
// never drained it to the sink: FlushAck is a spec §6 operation and
// must actually write.
func TestFlushAckEmitsPendingAcks(t *testing.T) {
	peerOut := newLink()
	peer := New(1, peerOut)
	if err := peer.Update(0); err != nil {
		t.Fatalf("peer.Update: %v", err)
	}
	if _, err := peer.Send([]byte("x")); err != nil {
		t.Fatalf("peer.Send: %v", err)
	}
	if err := peer.Flush(); err != nil {
		t.Fatalf("peer.Flush: %v", err)
	}
	datagram := append([]byte(nil), peerOut.out.Bytes()...)

	out := newLink()
	a := New(1, out)
	if err := a.Update(0); err != nil {
		t.Fatalf("a.Update: %v", err)
	}
	out.out.Reset()

	if _, err := a.Input(datagram); err != nil {
		t.Fatalf("a.Input: %v", err)
	}
	if len(a.acklist) == 0 {
		t.Fatalf("expected a pending ack after receiving a PUSH segment")
	}

	if err := a.FlushAck(); err != nil {
		t.Fatalf("FlushAck: %v", err)
	}
	if out.out.Len() == 0 {
		t.Fatalf("FlushAck wrote nothing to the sink")
	}
	if out.out.Bytes()[4] != cmdAck {
		t.Fatalf("FlushAck datagram cmd: got %d, want %d (ACK)", out.out.Bytes()[4], cmdAck)
	}
	if len(a.acklist) != 0 {
		t.Fatalf("acklist should be cleared after FlushAck, got %d pending", len(a.acklist))
	}
}

// TestZeroWindowProbe covers S6: once the peer's advertised window has
// been zero for at least the initial 7s backoff, a WASK probe is sent;
// a subsequent WINS carrying a positive window updates rmt_wnd so the
// sender can resume.
func TestZeroWindowProbe(t *testing.T) {
	out := newLink()
	a := New(1, out)
	a.SetNoDelay(true, 10, 0, true)
	if err := a.Update(0); err != nil {
		t.Fatalf("Update: %v", err)
	}

	a.rmtWnd = 0
	if err := a.Update(10); err != nil {
		t.Fatalf("Update: %v", err)
	}
	out.out.Reset()

	if err := a.Update(7020); err != nil {
		t.Fatalf("Update: %v", err)
	}
	data := out.out.Bytes()
	if len(data) < headerSize {
		t.Fatalf("expected a WASK probe datagram, got %d bytes", len(data))
	}
	if data[4] != cmdWask {
		t.Fatalf("probe datagram cmd: got %d, want %d (WASK)", data[4], cmdWask)
	}

	wins := segment{conv: a.conv, cmd: cmdWins, wnd: 128, una: a.rcvNxt}
	buf := make([]byte, headerSize)
	wins.encode(buf)
	if _, err := a.Input(buf); err != nil {
		t.Fatalf("Input(WINS): %v", err)
	}
	if a.rmtWnd != 128 {
		t.Fatalf("rmtWnd after WINS: got %d, want 128", a.rmtWnd)
	}
}
