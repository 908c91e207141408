// internal/status/health.go
package status

import (
	"errors"

	"github.com/tamzrod/brickbridge/internal/connection"
	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/transport"
)

// FromState maps a connection lifecycle state to a health code.
func FromState(s connection.State) uint16 {
	switch s {
	case connection.StateOpen:
		return HealthOK
	case connection.StateClosing:
		return HealthStale
	case connection.StateClosed:
		return HealthError
	default:
		return HealthUnknown
	}
}

// Error codes written to SlotLastErrorCode. Brick status bytes pass through
// unchanged (0x01-0xFF); local failures use the 0x01xx range.
const (
	CodeGeneric           uint16 = 0x0001
	CodeOpenFailed        uint16 = 0x0100
	CodeExclusivityDenied uint16 = 0x0101
	CodeIOFailure         uint16 = 0x0102
	CodeReplyTimeout      uint16 = 0x0103
	CodeConnectionClosed  uint16 = 0x0104
	CodeMalformed         uint16 = 0x0105
)

// ErrorCode extracts a best-effort uint16 code from an error.
// If nothing more specific is known, returns CodeGeneric.
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	var se *protocol.StatusError
	if errors.As(err, &se) {
		return uint16(se.Status)
	}

	switch {
	case errors.Is(err, transport.ErrExclusivityDenied):
		return CodeExclusivityDenied
	case errors.Is(err, transport.ErrTransportOpenFailed):
		return CodeOpenFailed
	case errors.Is(err, transport.ErrIOFailure):
		return CodeIOFailure
	case errors.Is(err, protocol.ErrReplyTimeout):
		return CodeReplyTimeout
	case errors.Is(err, connection.ErrConnectionClosed), errors.Is(err, connection.ErrNotOpen):
		return CodeConnectionClosed
	case errors.Is(err, protocol.ErrMalformedPacket):
		return CodeMalformed
	}

	type coder interface{ Code() uint16 }
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeGeneric
}
