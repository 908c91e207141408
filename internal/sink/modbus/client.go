// internal/sink/modbus/client.go
package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// MaxWriteRegisters is the largest quantity one FC16 request may carry.
const MaxWriteRegisters = 123

// EndpointClient is a single TCP connection to one Modbus endpoint.
// It serializes requests because it mutates SlaveId per write.
// A failed write drops the connection; the next write redials.
type EndpointClient struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// NewEndpointClient prepares a client without dialing.
// The handler connects on first use.
func NewEndpointClient(cfg Config) (*EndpointClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("sink modbus: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout

	return &EndpointClient{
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

func (c *EndpointClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// WriteRegisters writes holding registers starting at addr, splitting
// the write into FC16-sized chunks.
func (c *EndpointClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unitID

	for len(regs) > 0 {
		n := len(regs)
		if n > MaxWriteRegisters {
			n = MaxWriteRegisters
		}
		if _, err := c.client.WriteMultipleRegisters(addr, uint16(n), packRegisters(regs[:n])); err != nil {
			_ = c.handler.Close()
			return fmt.Errorf("sink modbus: %s unit=%d addr=%d qty=%d: %w", c.handler.Address, unitID, addr, n, err)
		}
		addr += uint16(n)
		regs = regs[n:]
	}
	return nil
}

// Modbus register memory order (BIG-ENDIAN)
func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
