package wire

import "bytes"

// SignalSize is the width of the signal field.
const SignalSize = 32

const (
	// DefaultTotalSize is the size of every envelope and the control read buffer.
	DefaultTotalSize = 1024

	// DefaultNameSize is the width of the from and to fields.
	DefaultNameSize = 16
)

// Envelope is a decoded fixed-layout message.
type Envelope struct {
	Signal  string
	From    string
	To      string
	Payload string
}

// Layout describes the field widths of an envelope. The payload takes whatever
// remains of TotalSize after the signal and both name fields.
type Layout struct {
	TotalSize int
	NameSize  int
}

// DefaultLayout is the layout used when no configuration overrides it.
var DefaultLayout = Layout{TotalSize: DefaultTotalSize, NameSize: DefaultNameSize}

// NewLayout returns the layout for the given buffer and name sizes.
func NewLayout(totalSize, nameSize int) Layout {
	return Layout{TotalSize: totalSize, NameSize: nameSize}
}

// PayloadSize returns the width of the payload field.
func (l Layout) PayloadSize() int {
	return l.TotalSize - SignalSize - 2*l.NameSize
}

func (l Layout) fromOffset() int    { return SignalSize }
func (l Layout) toOffset() int      { return SignalSize + l.NameSize }
func (l Layout) payloadOffset() int { return SignalSize + 2*l.NameSize }

// Encode writes the four fields into a zeroed TotalSize buffer. Fields longer than
// their width are truncated to exactly that width.
func (l Layout) Encode(signal, from, to, payload string) []byte {
	buf := make([]byte, l.TotalSize)
	copy(buf[:l.fromOffset()], signal)
	copy(buf[l.fromOffset():l.toOffset()], from)
	copy(buf[l.toOffset():l.payloadOffset()], to)
	copy(buf[l.payloadOffset():], payload)
	return buf
}

// EncodeEnvelope is Encode for an Envelope value.
func (l Layout) EncodeEnvelope(e Envelope) []byte {
	return l.Encode(e.Signal, e.From, e.To, e.Payload)
}

// Decode slices buf at the fixed offsets. Each field ends at its first NUL byte or at its
// width, whichever comes first. A short buf decodes as if zero-padded.
func (l Layout) Decode(buf []byte) Envelope {
	return Envelope{
		Signal:  field(buf, 0, l.fromOffset()),
		From:    field(buf, l.fromOffset(), l.toOffset()),
		To:      field(buf, l.toOffset(), l.payloadOffset()),
		Payload: field(buf, l.payloadOffset(), l.TotalSize),
	}
}

func field(buf []byte, start, end int) string {
	if start >= len(buf) {
		return ""
	}
	if end > len(buf) {
		end = len(buf)
	}
	b := buf[start:end]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
