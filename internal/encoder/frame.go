// Package encoder decodes the telemetry frames emitted by the dual-encoder
// rotary position sensor.
//
// Every frame is 31 bytes: a 0x5A header followed by a 30-byte payload made
// of six ASCII hex sub-fields. Each sub-field is transmitted with its bytes
// reversed, so the payload has to be flipped field by field before the digits
// read most significant first:
//
//	offset  width  field
//	     0      4  coarse command
//	     4      6  coarse count
//	    10      6  fine count
//	    16      4  fine command
//	    20      4  inner count (not used downstream)
//	    24      6  index (absolute fine angle at the index mark)
//
// Signed values use a two's complement whose width is that of the field
// (four bits per digit), not a machine word.
package encoder

import "fmt"

const (
	// HeaderByte marks the start of every frame ('Z').
	HeaderByte byte = 0x5A
	// PayloadLength is the number of bytes following the header.
	PayloadLength = 30
	// MessageLength is the full frame length including the header.
	MessageLength = 1 + PayloadLength
)

// SubField is a named byte range within the frame payload.
type SubField struct {
	Name   string
	Offset int
	Width  int
}

// Payload sub-fields in wire order.
var (
	CoarseCommandField = SubField{Name: "coarse_command", Offset: 0, Width: 4}
	CoarseCountField   = SubField{Name: "coarse_count", Offset: 4, Width: 6}
	FineCountField     = SubField{Name: "fine_count", Offset: 10, Width: 6}
	FineCommandField   = SubField{Name: "fine_command", Offset: 16, Width: 4}
	InnerCountField    = SubField{Name: "inner_count", Offset: 20, Width: 4}
	IndexField         = SubField{Name: "index", Offset: 24, Width: 6}
)

// PayloadLayout lists the sub-fields in wire order. The ranges are contiguous
// and cover the whole payload.
var PayloadLayout = []SubField{
	CoarseCommandField,
	CoarseCountField,
	FineCountField,
	FineCommandField,
	InnerCountField,
	IndexField,
}

// end returns the offset one past the last byte of the field.
func (f SubField) end() int {
	return f.Offset + f.Width
}

// Digits returns the field's bytes from payload in reversed order, read as
// ASCII text.
func (f SubField) Digits(payload []byte) string {
	src := payload[f.Offset:f.end()]
	out := make([]byte, len(src))
	for i, b := range src {
		out[len(src)-1-i] = b
	}
	return string(out)
}

// put writes digits into payload in wire order (reversed).
func (f SubField) put(payload []byte, digits string) {
	dst := payload[f.Offset:f.end()]
	for i := 0; i < f.Width; i++ {
		dst[f.Width-1-i] = digits[i]
	}
}

// RawFrame is one complete frame as read from the wire, header included.
// It is an array so copies never alias the stream buffer.
type RawFrame [MessageLength]byte

// NewRawFrame copies b into a RawFrame, checking the length and header byte.
func NewRawFrame(b []byte) (RawFrame, error) {
	var f RawFrame
	if len(b) != MessageLength {
		return f, fmt.Errorf("%w: length %d, want %d", ErrInvalidFrame, len(b), MessageLength)
	}
	if b[0] != HeaderByte {
		return f, fmt.Errorf("%w: header 0x%02X, want 0x%02X", ErrInvalidFrame, b[0], HeaderByte)
	}
	copy(f[:], b)
	return f, nil
}

// Payload returns the frame bytes after the header.
func (f *RawFrame) Payload() []byte {
	return f[1:]
}

// Bytes returns a copy of the frame.
func (f RawFrame) Bytes() []byte {
	out := make([]byte, MessageLength)
	copy(out, f[:])
	return out
}
