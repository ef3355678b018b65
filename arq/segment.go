package arq

import "encoding/binary"

// Command codes, wire-compatible with the reference KCP protocol.
const (
	cmdPush uint8 = 81 // push data
	cmdAck  uint8 = 82 // acknowledge
	cmdWask uint8 = 83 // window probe (ask)
	cmdWins uint8 = 84 // window size (tell)
)

// probe bits, set on the control block and consumed by flush.
const (
	askSend uint32 = 1 // need to send cmdWask
	askTell uint32 = 2 // need to send cmdWins
)

// headerSize is the fixed wire size of a segment header, per spec §3.
const headerSize = 24

// segment is one wire unit: a 24-byte header plus payload. The header
// layout (offsets, widths, field order) is bit-exact with the reference
// KCP protocol so a peer speaking that wire format can interoperate.
type segment struct {
	conv uint32
	cmd  uint8
	frg  uint8
	wnd  uint16
	ts   uint32
	sn   uint32
	una  uint32
	data []byte

	// sender-side bookkeeping, never put on the wire beyond what's
	// already encoded above.
	resendts uint32
	rto      uint32
	fastack  uint32
	xmit     uint32
}

// encode writes the header followed by the payload into dst, which must
// have at least headerSize+len(data) bytes of room. It returns the
// number of bytes written.
func (s *segment) encode(dst []byte) int {
	binary.LittleEndian.PutUint32(dst[0:4], s.conv)
	dst[4] = s.cmd
	dst[5] = s.frg
	binary.LittleEndian.PutUint16(dst[6:8], s.wnd)
	binary.LittleEndian.PutUint32(dst[8:12], s.ts)
	binary.LittleEndian.PutUint32(dst[12:16], s.sn)
	binary.LittleEndian.PutUint32(dst[16:20], s.una)
	binary.LittleEndian.PutUint32(dst[20:24], uint32(len(s.data)))
	n := headerSize
	n += copy(dst[headerSize:], s.data)
	return n
}

// decodeHeader parses the 24-byte header at the front of buf. It does
// not validate cmd or copy the payload: s.data is a slice of buf, so no
// allocation is forced on the hot path, and callers that keep the
// payload must copy it.
func decodeHeader(buf []byte) (s segment, err error) {
	if len(buf) < headerSize {
		return segment{}, &InvalidSegmentSizeError{Got: len(buf)}
	}
	s.conv = binary.LittleEndian.Uint32(buf[0:4])
	s.cmd = buf[4]
	s.frg = buf[5]
	s.wnd = binary.LittleEndian.Uint16(buf[6:8])
	s.ts = binary.LittleEndian.Uint32(buf[8:12])
	s.sn = binary.LittleEndian.Uint32(buf[12:16])
	s.una = binary.LittleEndian.Uint32(buf[16:20])
	length := binary.LittleEndian.Uint32(buf[20:24])
	if length > uint32(len(buf)-headerSize) {
		return segment{}, &InvalidSegmentDataSizeError{Want: int(length), Got: len(buf) - headerSize}
	}
	s.data = buf[headerSize : headerSize+int(length)]
	return s, nil
}

func isKnownCmd(cmd uint8) bool {
	return cmd == cmdPush || cmd == cmdAck || cmd == cmdWask || cmd == cmdWins
}
