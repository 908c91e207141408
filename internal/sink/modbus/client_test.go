// internal/sink/modbus/client_test.go
package modbus

import "testing"

func TestNewEndpointClient_RequiresEndpoint(t *testing.T) {
	if _, err := NewEndpointClient(Config{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}

func TestPackRegisters_BigEndian(t *testing.T) {
	got := packRegisters([]uint16{0x1234, 0x00FF})
	want := []byte{0x12, 0x34, 0x00, 0xFF}
	if len(got) != len(want) {
		t.Fatalf("len %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#02x want %#02x", i, got[i], want[i])
		}
	}
}
