package arq

import "fmt"

// Error taxonomy: ErrRecvQueueEmpty and ErrExpectingFragment are
// transient/retry-later; everything else is either caller misuse or a
// protocol violation observed from the peer. Sink I/O errors are never
// wrapped here — flush returns them verbatim.

// ConvInconsistentError is returned by Input when a segment's conv
// field does not match this control block's conv and waiting-conv mode
// was not armed.
type ConvInconsistentError struct {
	Expected, Found uint32
}

func (e *ConvInconsistentError) Error() string {
	return fmt.Sprintf("arq: conv inconsistent, expected %d, found %d", e.Expected, e.Found)
}

// InvalidMtuError is returned by SetMtu when the requested size is below
// the 50-byte floor or cannot hold a header.
type InvalidMtuError struct {
	Got int
}

func (e *InvalidMtuError) Error() string { return fmt.Sprintf("arq: invalid mtu %d", e.Got) }

// InvalidSegmentSizeError is returned by Input when fewer than
// headerSize bytes remain in the buffer.
type InvalidSegmentSizeError struct {
	Got int
}

func (e *InvalidSegmentSizeError) Error() string {
	return fmt.Sprintf("arq: invalid segment size %d", e.Got)
}

// InvalidSegmentDataSizeError is returned by Input when a segment's
// declared length exceeds what remains in the buffer.
type InvalidSegmentDataSizeError struct {
	Want, Got int
}

func (e *InvalidSegmentDataSizeError) Error() string {
	return fmt.Sprintf("arq: invalid segment data size, expected %d, found %d", e.Want, e.Got)
}

// UnsupportedCmdError is returned by Input when a segment carries a cmd
// byte outside {PUSH, ACK, WASK, WINS}.
type UnsupportedCmdError struct {
	Cmd uint8
}

func (e *UnsupportedCmdError) Error() string {
	return fmt.Sprintf("arq: command %d is not supported", e.Cmd)
}

// sentinel errors: no payload beyond their identity, so plain values
// suffice (mirrors error.rs's unit variants).
type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const (
	// ErrNeedUpdate is returned by Flush before Update has ever run.
	ErrNeedUpdate = sentinelError("arq: need to call Update() once")
	// ErrRecvQueueEmpty is returned by Recv/PeekSize when no message is ready.
	ErrRecvQueueEmpty = sentinelError("arq: recv queue is empty")
	// ErrExpectingFragment is returned by Recv/PeekSize when the head
	// message's fragments have not all arrived yet.
	ErrExpectingFragment = sentinelError("arq: expecting fragment")
	// ErrUserBufTooBig is returned by Send when the input would fragment
	// past the window's fragment-count ceiling.
	ErrUserBufTooBig = sentinelError("arq: user's send buffer is too big")
	// ErrUserBufTooSmall is returned by Recv when the caller's buffer
	// cannot hold the next full message.
	ErrUserBufTooSmall = sentinelError("arq: user's recv buffer is too small")
)

// IsWouldBlock reports whether err is one of the transient/retry-later
// errors (ErrRecvQueueEmpty, ErrExpectingFragment) as opposed to a
// misuse or protocol-violation error. Mirrors error.rs's split between
// io::ErrorKind::WouldBlock and io::ErrorKind::Other.
func IsWouldBlock(err error) bool {
	return err == ErrRecvQueueEmpty || err == ErrExpectingFragment
}
