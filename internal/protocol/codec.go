// internal/protocol/codec.go
package protocol

import (
	"encoding/binary"
	"fmt"
)

// LengthPrefixSize is the size of the little-endian length in front of every canonical packet.
const LengthPrefixSize = 2

// MaxPayloadSize keeps len = 2 + payload inside the 16-bit length field.
const MaxPayloadSize = 0xFFFF - 2

// Framing selects which view of the canonical buffer a transport puts on the wire.
type Framing int

const (
	// FramingStream sends the canonical buffer, length prefix included.
	// Used where the transport has no packet boundaries of its own (serial).
	FramingStream Framing = iota

	// FramingPreFramed strips the length prefix. USB supplies its own packet
	// boundaries. The IP bridge uses this view as well even though TCP is a
	// byte stream; the bridging module expects it.
	FramingPreFramed
)

func (f Framing) String() string {
	switch f {
	case FramingStream:
		return "stream"
	case FramingPreFramed:
		return "pre-framed"
	default:
		return fmt.Sprintf("framing(%d)", int(f))
	}
}

// Encode builds the canonical buffer:
//
//	[len_lo, len_hi, command_type, command_code, payload...]
//
// where len = 2 + len(payload) and never counts the prefix itself.
func Encode(r *Request) ([]byte, error) {
	if len(r.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(r.Payload))
	}
	buf := make([]byte, LengthPrefixSize+2+len(r.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(2+len(r.Payload)))
	buf[2] = byte(r.Type)
	buf[3] = byte(r.Code)
	copy(buf[4:], r.Payload)
	return buf, nil
}

// View returns the transmission view of an already encoded canonical buffer.
func View(canonical []byte, f Framing) []byte {
	if f == FramingPreFramed && len(canonical) >= LengthPrefixSize {
		return canonical[LengthPrefixSize:]
	}
	return canonical
}

// Frame encodes r and returns the view selected by f.
func Frame(r *Request, f Framing) ([]byte, error) {
	buf, err := Encode(r)
	if err != nil {
		return nil, err
	}
	return View(buf, f), nil
}

// DeclaredLength reads the length field of a canonical buffer.
func DeclaredLength(canonical []byte) (int, error) {
	if len(canonical) < LengthPrefixSize {
		return 0, malformed("length prefix", len(canonical), LengthPrefixSize)
	}
	return int(binary.LittleEndian.Uint16(canonical[0:2])), nil
}
