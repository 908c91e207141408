// internal/status/status_test.go
package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tamzrod/brickbridge/internal/connection"
	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/transport"
)

func TestEncode_Layout(t *testing.T) {
	regs := Encode(Snapshot{Health: HealthError, LastErrorCode: 7, SecondsInError: 42, Records: 0x00020003}, "NXT")

	if len(regs) != SlotsPerDevice {
		t.Fatalf("expected %d regs, got %d", SlotsPerDevice, len(regs))
	}
	if regs[SlotHealthCode] != HealthError || regs[SlotLastErrorCode] != 7 || regs[SlotSecondsInError] != 42 {
		t.Fatalf("live slots wrong: %v", regs[:3])
	}
	if regs[SlotRecordsLow] != 3 || regs[SlotRecordsHigh] != 2 {
		t.Fatalf("record count slots wrong: %v", regs[SlotRecordsLow:SlotRecordsHigh+1])
	}
	for i := SlotReservedStart; i <= SlotReservedEnd; i++ {
		if regs[i] != 0 {
			t.Fatalf("reserved slot %d not zero", i)
		}
	}
	if regs[SlotDeviceNameStart] != uint16('N')<<8|uint16('X') || regs[SlotDeviceNameStart+1] != uint16('T')<<8 {
		t.Fatalf("name slots wrong: %v", regs[SlotDeviceNameStart:])
	}
}

func TestEncodeName_TruncatesAndSanitizes(t *testing.T) {
	regs := EncodeName("abcdefghijklmnopQRS")
	if len(regs) != SlotDeviceNameSlots {
		t.Fatalf("expected %d regs, got %d", SlotDeviceNameSlots, len(regs))
	}
	if regs[7] != uint16('o')<<8|uint16('p') {
		t.Fatalf("last name register wrong: %#04x", regs[7])
	}

	regs = EncodeName("a\x01")
	if regs[0] != uint16('a')<<8|uint16('?') {
		t.Fatalf("control byte not sanitized: %#04x", regs[0])
	}
}

func TestFromState(t *testing.T) {
	cases := map[connection.State]uint16{
		connection.StateOpen:    HealthOK,
		connection.StateOpening: HealthUnknown,
		connection.StateClosing: HealthStale,
		connection.StateClosed:  HealthError,
	}
	for s, want := range cases {
		if got := FromState(s); got != want {
			t.Fatalf("%s: got %d want %d", s, got, want)
		}
	}
}

type codedErr struct{}

func (codedErr) Error() string { return "coded" }
func (codedErr) Code() uint16  { return 0x0BAD }

func TestErrorCode(t *testing.T) {
	denied := &transport.OpenError{Kind: transport.KindIP, Endpoint: "x", Err: &transport.ExclusivityDeniedError{Reason: "busy"}}
	cases := []struct {
		err  error
		want uint16
	}{
		{nil, 0},
		{&protocol.StatusError{Code: protocol.CmdStartProgram, Status: 0xEC}, 0xEC},
		{denied, CodeExclusivityDenied},
		{&transport.OpenError{Kind: transport.KindUSB, Endpoint: "x", Err: errors.New("gone")}, CodeOpenFailed},
		{&transport.IOError{Kind: transport.KindUSB, Op: "read", Err: errors.New("gone")}, CodeIOFailure},
		{fmt.Errorf("poll: %w", protocol.ErrReplyTimeout), CodeReplyTimeout},
		{connection.ErrConnectionClosed, CodeConnectionClosed},
		{codedErr{}, 0x0BAD},
		{errors.New("other"), CodeGeneric},
	}
	for _, c := range cases {
		if got := ErrorCode(c.err); got != c.want {
			t.Fatalf("ErrorCode(%v) = %#04x, want %#04x", c.err, got, c.want)
		}
	}
}
