// internal/transport/serial.go
package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/serial"

	"github.com/tamzrod/brickbridge/internal/protocol"
)

// SerialConfig describes a Bluetooth virtual serial port.
type SerialConfig struct {
	Address     string // e.g. /dev/rfcomm0, COM5
	BaudRate    int
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

type portOpener func(*serial.Config) (io.ReadWriteCloser, error)

func openSerialPort(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(c)
}

// Serial is the Bluetooth transport. The port is a plain byte stream, so
// packets carry the 2-byte length prefix and are rebuilt by a StreamReassembler.
type Serial struct {
	cfg  SerialConfig
	log  *slog.Logger
	open portOpener

	mu     sync.Mutex
	port   io.ReadWriteCloser
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
	rsm     protocol.StreamReassembler
}

// NewSerial builds a closed serial transport.
func NewSerial(cfg SerialConfig) *Serial {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Serial{
		cfg:  cfg,
		log:  log.With("component", "transport", "kind", KindBluetooth, "endpoint", cfg.Address),
		open: openSerialPort,
	}
}

func (s *Serial) Kind() Kind                { return KindBluetooth }
func (s *Serial) Endpoint() string          { return s.cfg.Address }
func (s *Serial) Framing() protocol.Framing { return protocol.FramingStream }

// Open opens the port and starts the receive loop.
func (s *Serial) Open(ctx context.Context, rx Receiver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return &OpenError{Kind: KindBluetooth, Endpoint: s.cfg.Address, Err: ErrAlreadyOpen}
	}
	if err := ctx.Err(); err != nil {
		return &OpenError{Kind: KindBluetooth, Endpoint: s.cfg.Address, Err: err}
	}

	port, err := s.open(&serial.Config{
		Address:  s.cfg.Address,
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  s.cfg.ReadTimeout,
	})
	if err != nil {
		return &OpenError{Kind: KindBluetooth, Endpoint: s.cfg.Address, Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.port = port
	s.cancel = cancel
	s.done = make(chan struct{})
	s.rsm.Reset()

	go s.receive(loopCtx, port, rx, s.done)

	s.log.Info("serial port open", "baud", s.cfg.BaudRate)
	return nil
}

func (s *Serial) receive(ctx context.Context, port io.Reader, rx Receiver, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 512)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			for _, pkt := range s.rsm.Feed(buf[:n]) {
				rx.OnReplyBytes(pkt)
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			s.log.Warn("serial read failed", "err", err)
			rx.OnTransportError(&IOError{Kind: KindBluetooth, Endpoint: s.cfg.Address, Op: "read", Err: err})
			return
		}
	}
}

// Send writes a stream-framed packet.
func (s *Serial) Send(ctx context.Context, b []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for len(b) > 0 {
		n, err := port.Write(b)
		if err != nil {
			return &IOError{Kind: KindBluetooth, Endpoint: s.cfg.Address, Op: "write", Err: err}
		}
		b = b[n:]
	}
	return nil
}

// Close stops the receive loop and releases the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	s.cancel()
	err := s.port.Close() // unblocks the pending Read
	<-s.done

	s.port = nil
	s.cancel = nil
	s.done = nil
	s.rsm.Reset()

	s.log.Info("serial port closed")
	return err
}
