// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPacket marks a packet too short or inconsistent to decode.
	// The connection logs and drops these; they are never fatal.
	ErrMalformedPacket = errors.New("protocol: malformed packet")

	// ErrUnknownCommand marks a packet whose opcode has no decoder.
	ErrUnknownCommand = errors.New("protocol: unknown command")

	// ErrReplyTimeout is delivered to a request whose deadline passed without a reply.
	ErrReplyTimeout = errors.New("protocol: reply timeout")

	// ErrPayloadTooLarge is returned by encoders when a payload cannot be framed.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)

// StatusError is a reply whose status byte is not success.
type StatusError struct {
	Code   Command
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("protocol: %s failed: %s (0x%02x)", e.Code, e.Status, byte(e.Status))
}

func malformed(what string, got, want int) error {
	return fmt.Errorf("%w: %s: got %d bytes, want %d", ErrMalformedPacket, what, got, want)
}
