// internal/sink/status_writer_test.go
package sink

import (
	"errors"
	"testing"

	"github.com/tamzrod/brickbridge/internal/status"
)

func newTestStatusWriter(t *testing.T, cli *fakeEndpointClient) StatusWriter {
	t.Helper()
	sw, err := NewStatusWriter(
		StatusTarget{Endpoint: "status-endpoint", UnitID: 1, Slot: 0, DeviceName: "DEV-01"},
		map[string]endpointClient{"status-endpoint": cli},
	)
	if err != nil {
		t.Fatalf("NewStatusWriter: %v", err)
	}
	return sw
}

func TestDeviceNameWrittenOnFullAssertOnly(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw := newTestStatusWriter(t, cli)

	// ---- first write: FULL ASSERT ----
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthOK}); err != nil {
		t.Fatalf("initial full assert failed: %v", err)
	}

	last := cli.writes[len(cli.writes)-1]
	if len(last.regs) != status.SlotsPerDevice {
		t.Fatalf("expected full block write (%d regs), got %d", status.SlotsPerDevice, len(last.regs))
	}

	expectedNameRegs := status.EncodeName("DEV-01")
	for i := 0; i < status.SlotDeviceNameSlots; i++ {
		slot := status.SlotDeviceNameStart + i
		if last.regs[slot] != expectedNameRegs[i] {
			t.Fatalf("device name slot %d mismatch: got=%d want=%d", slot, last.regs[slot], expectedNameRegs[i])
		}
	}

	// ---- second write: INCREMENTAL ONLY ----
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError, LastErrorCode: 7, SecondsInError: 1}); err != nil {
		t.Fatalf("incremental write failed: %v", err)
	}

	for _, w := range cli.writes[1:] {
		if len(w.regs) == status.SlotsPerDevice {
			t.Fatalf("device name should not be rewritten on incremental update")
		}
	}
	if got := len(cli.writes); got != 4 {
		t.Fatalf("expected 3 incremental writes after the full block, got %d", got-1)
	}
}

func TestSecondsInErrorResetOnRecovery(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw, err := NewStatusWriter(
		StatusTarget{Endpoint: "status-endpoint", UnitID: 1, Slot: 3},
		map[string]endpointClient{"status-endpoint": cli},
	)
	if err != nil {
		t.Fatalf("NewStatusWriter: %v", err)
	}

	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError, LastErrorCode: 42, SecondsInError: 3}); err != nil {
		t.Fatalf("error snapshot write failed: %v", err)
	}
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError, LastErrorCode: 42}); err != nil {
		t.Fatalf("recovery snapshot write failed: %v", err)
	}

	last := cli.writes[len(cli.writes)-1]
	expectedAddr := uint16(3*status.SlotsPerDevice + status.SlotSecondsInError)
	if last.addr != expectedAddr {
		t.Fatalf("unexpected write addr: got=%d want=%d", last.addr, expectedAddr)
	}
	if len(last.regs) != 1 || last.regs[0] != 0 {
		t.Fatalf("seconds_in_error not reset: %v", last.regs)
	}
}

func TestRecordCountWrittenAsTwoRegisters(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw := newTestStatusWriter(t, cli)

	_ = sw.WriteStatus(status.Snapshot{Health: status.HealthOK})
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthOK, Records: 0x00010002}); err != nil {
		t.Fatalf("records write failed: %v", err)
	}

	last := cli.writes[len(cli.writes)-1]
	if last.addr != status.SlotRecordsLow || len(last.regs) != 2 || last.regs[0] != 2 || last.regs[1] != 1 {
		t.Fatalf("unexpected records write: %+v", last)
	}
}

func TestFailureForcesFullReassert(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw := newTestStatusWriter(t, cli)

	_ = sw.WriteStatus(status.Snapshot{Health: status.HealthOK})

	cli.fail = errors.New("link down")
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError}); err == nil {
		t.Fatalf("expected write failure")
	}

	cli.fail = nil
	if err := sw.WriteStatus(status.Snapshot{Health: status.HealthError}); err != nil {
		t.Fatalf("write after recovery failed: %v", err)
	}
	last := cli.writes[len(cli.writes)-1]
	if len(last.regs) != status.SlotsPerDevice {
		t.Fatalf("expected full block after failure, got %d regs", len(last.regs))
	}
}

func TestNewStatusWriter_MissingClient(t *testing.T) {
	if _, err := NewStatusWriter(StatusTarget{Endpoint: "x"}, nil); err == nil {
		t.Fatalf("expected error for missing client")
	}
}
