// internal/transport/transport.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/brickbridge/internal/protocol"
)

// Kind names one of the three physical channels.
type Kind string

const (
	KindBluetooth Kind = "bluetooth"
	KindUSB       Kind = "usb"
	KindIP        Kind = "ip"
)

// ParseKind accepts the config spellings of a transport kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bluetooth", "bt", "serial":
		return KindBluetooth, nil
	case "usb":
		return KindUSB, nil
	case "ip", "tcp", "wifi":
		return KindIP, nil
	}
	return "", fmt.Errorf("transport: unknown kind %q", s)
}

// Receiver is what a receive loop delivers to.
// OnReplyBytes gets one complete packet without any length prefix.
// OnTransportError is called once, from the loop, right before it exits on an I/O failure.
type Receiver interface {
	OnReplyBytes(pkt []byte)
	OnTransportError(err error)
}

// Transport is one physical channel to a brick.
// Open starts exactly one receive loop; Close cancels in-flight reads and
// waits for that loop to exit. Close is safe to call more than once.
type Transport interface {
	Kind() Kind
	Endpoint() string
	Framing() protocol.Framing
	Open(ctx context.Context, rx Receiver) error
	Send(ctx context.Context, b []byte) error
	Close() error
}

// Endpoint is a connectable brick found by discovery.
type Endpoint struct {
	Kind    Kind
	Address string
	Name    string
}

func (e Endpoint) String() string {
	if e.Name == "" {
		return fmt.Sprintf("%s %s", e.Kind, e.Address)
	}
	return fmt.Sprintf("%s %s (%s)", e.Kind, e.Address, e.Name)
}

var (
	ErrTransportOpenFailed = errors.New("transport: open failed")
	ErrIOFailure           = errors.New("transport: i/o failure")
	ErrExclusivityDenied   = errors.New("transport: exclusivity denied")
	ErrNotOpen             = errors.New("transport: not open")
	ErrAlreadyOpen         = errors.New("transport: already open")
)

// OpenError is returned by Open. errors.Is(err, ErrTransportOpenFailed) holds.
type OpenError struct {
	Kind     Kind
	Endpoint string
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("transport: open %s %s: %v", e.Kind, e.Endpoint, e.Err)
}

func (e *OpenError) Unwrap() []error { return []error{ErrTransportOpenFailed, e.Err} }

// IOError is handed to Receiver.OnTransportError when a receive loop dies.
type IOError struct {
	Kind     Kind
	Endpoint string
	Op       string
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("transport: %s %s %s: %v", e.Kind, e.Endpoint, e.Op, e.Err)
}

func (e *IOError) Unwrap() []error { return []error{ErrIOFailure, e.Err} }

// ExclusivityDeniedError carries the reason the bridging module refused the lock.
type ExclusivityDeniedError struct {
	Reason string
}

func (e *ExclusivityDeniedError) Error() string {
	return fmt.Sprintf("transport: exclusivity denied: %s", e.Reason)
}

func (e *ExclusivityDeniedError) Unwrap() error { return ErrExclusivityDenied }
