// internal/sink/status_writer.go
package sink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/brickbridge/internal/status"
)

// StatusWriter is the delivery-only contract for device status.
// It receives a snapshot and writes it verbatim.
type StatusWriter interface {
	WriteStatus(s status.Snapshot) error
}

// StatusTarget places one device's status block.
type StatusTarget struct {
	Endpoint   string
	UnitID     uint8
	Slot       uint16
	DeviceName string
}

// deviceStatusWriter is not safe for concurrent use.
type deviceStatusWriter struct {
	target StatusTarget
	cli    endpointClient

	needFull bool
	last     status.Snapshot
}

// NewStatusWriter builds a status writer for target using the client for its endpoint.
func NewStatusWriter(target StatusTarget, clients map[string]endpointClient) (StatusWriter, error) {
	cli := clients[target.Endpoint]
	if cli == nil {
		return nil, fmt.Errorf("status writer: missing client for endpoint %s", target.Endpoint)
	}
	if uint32(target.Slot)*status.SlotsPerDevice+status.SlotsPerDevice > 0x10000 {
		return nil, fmt.Errorf("status writer: slot %d out of range", target.Slot)
	}
	return &deviceStatusWriter{
		target:   target,
		cli:      cli,
		needFull: true, // full re-assert on first successful write
		last:     status.Snapshot{Health: status.HealthUnknown},
	}, nil
}

// WriteStatus delivers a device status snapshot into status memory.
// On any write failure, the next successful call will re-assert the full block.
func (sw *deviceStatusWriter) WriteStatus(s status.Snapshot) error {
	baseAddr := sw.baseAddr()
	unitID := sw.target.UnitID

	if sw.needFull {
		regs := status.Encode(s, sw.target.DeviceName)
		if err := sw.cli.WriteRegisters(unitID, baseAddr, regs); err != nil {
			sw.needFull = true
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}
		sw.needFull = false
		sw.last = s
		return nil
	}

	var errs []string
	write := func(name string, slot int, regs ...uint16) bool {
		if err := sw.cli.WriteRegisters(unitID, baseAddr+uint16(slot), regs); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d %s write failed: %v", slot, name, err))
			return false
		}
		return true
	}

	if sw.last.Health != s.Health && write("health", status.SlotHealthCode, s.Health) {
		sw.last.Health = s.Health
	}
	if sw.last.LastErrorCode != s.LastErrorCode && write("last_error", status.SlotLastErrorCode, s.LastErrorCode) {
		sw.last.LastErrorCode = s.LastErrorCode
	}
	if sw.last.SecondsInError != s.SecondsInError && write("seconds", status.SlotSecondsInError, s.SecondsInError) {
		sw.last.SecondsInError = s.SecondsInError
	}
	if sw.last.Records != s.Records &&
		write("records", status.SlotRecordsLow, uint16(s.Records), uint16(s.Records>>16)) {
		sw.last.Records = s.Records
	}

	if len(errs) > 0 {
		// Any partial failure introduces doubt; re-assert on next success.
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}
	return nil
}

func (sw *deviceStatusWriter) baseAddr() uint16 {
	// Each device owns a fixed SlotsPerDevice block.
	return sw.target.Slot * status.SlotsPerDevice
}
