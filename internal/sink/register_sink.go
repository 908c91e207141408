// internal/sink/register_sink.go
package sink

import (
	"fmt"

	"github.com/tamzrod/brickbridge/internal/telemetry"
)

// SheetWindow is one sheet's destination register window.
type SheetWindow struct {
	Sheet     int
	Endpoint  string
	UnitID    uint8
	Address   uint16
	Registers uint16
}

// RegisterSink writes payload records into per-sheet holding register windows.
// Records for unmapped sheets are ignored. Encoded records longer than the
// window are truncated to it.
type RegisterSink struct {
	windows map[int]SheetWindow
	clients map[string]endpointClient
}

func NewRegisterSink(windows []SheetWindow, clients map[string]endpointClient) *RegisterSink {
	m := make(map[int]SheetWindow, len(windows))
	for _, w := range windows {
		m[w.Sheet] = w
	}
	return &RegisterSink{windows: m, clients: clients}
}

func (s *RegisterSink) WriteRecord(deviceID string, rec telemetry.Record) error {
	if rec.Meta || len(rec.Data) == 0 {
		return nil
	}
	w, ok := s.windows[rec.Sheet]
	if !ok {
		return nil
	}
	cli := s.clients[w.Endpoint]
	if cli == nil {
		return fmt.Errorf("register sink: missing client for endpoint %s", w.Endpoint)
	}

	regs := EncodeRecord(rec)
	if w.Registers > 0 && len(regs) > int(w.Registers) {
		regs = regs[:w.Registers]
	}
	if len(regs) == 0 {
		return nil
	}

	if err := cli.WriteRegisters(w.UnitID, w.Address, regs); err != nil {
		return fmt.Errorf("register sink: device=%s sheet=%d ep=%s unit=%d addr=%d: %w",
			deviceID, rec.Sheet, w.Endpoint, w.UnitID, w.Address, err)
	}
	return nil
}
