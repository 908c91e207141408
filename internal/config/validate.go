// internal/config/validate.go
package config

import (
	"errors"
	"fmt"

	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/status"
	"github.com/tamzrod/brickbridge/internal/telemetry"
	"github.com/tamzrod/brickbridge/internal/transport"
)

// MaxMailbox is the highest brick mailbox index.
const MaxMailbox = 9

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	b := cfg.Bridge

	switch b.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", b.Log.Level)
	}
	switch b.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", b.Log.Format)
	}
	if b.ReconnectIntervalMs < 0 {
		return errors.New("reconnect_interval_ms must be >= 0")
	}
	if len(b.Devices) == 0 {
		return errors.New("at least one device is required")
	}

	ids := make(map[string]bool)
	for _, d := range b.Devices {
		if d.ID == "" {
			return errors.New("device id is required")
		}
		if ids[d.ID] {
			return fmt.Errorf("device %q: duplicate id", d.ID)
		}
		ids[d.ID] = true

		if err := validateDevice(d); err != nil {
			return fmt.Errorf("device %q: %w", d.ID, err)
		}
	}

	return validateRegisterSpace(b.Devices)
}

func validateDevice(d DeviceConfig) error {
	kind, err := transport.ParseKind(d.Transport)
	if err != nil {
		return err
	}
	switch kind {
	case transport.KindBluetooth, transport.KindIP:
		if d.Endpoint == "" {
			return fmt.Errorf("%s transport requires an endpoint", kind)
		}
	case transport.KindUSB:
		if _, err := transport.ParseUSBAddress(d.Endpoint); err != nil {
			return err
		}
	}

	for name, v := range map[string]int{
		"baud":             d.Baud,
		"read_timeout_ms":  d.ReadTimeoutMs,
		"reply_timeout_ms": d.ReplyTimeoutMs,
		"throttle_ms":      d.ThrottleMs,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if d.Mailbox < 0 || d.Mailbox > MaxMailbox {
		return fmt.Errorf("mailbox %d out of range 0-%d", d.Mailbox, MaxMailbox)
	}
	if d.IP.TCPPort < 0 || d.IP.TCPPort > 65535 || d.IP.HTTPPort < 0 || d.IP.HTTPPort > 65535 {
		return errors.New("ip ports must be within 0-65535")
	}

	t := d.Telemetry
	if t.Buffer < 0 || t.Buffer > 255 {
		return fmt.Errorf("telemetry.buffer %d out of range 0-255", t.Buffer)
	}
	if t.ReadSize < 0 || t.ReadSize > protocol.MaxPollLength {
		return fmt.Errorf("telemetry.read_size %d out of range 0-%d", t.ReadSize, protocol.MaxPollLength)
	}
	if t.IntervalMs() < 0 {
		return errors.New("telemetry.default_interval_ms must be >= 0")
	}

	s := d.Sinks
	if s.Modbus != nil {
		seen := make(map[int]bool)
		for _, st := range s.Modbus.Sheets {
			if st.Sheet < 0 || st.Sheet > telemetry.MaxSheet {
				return fmt.Errorf("sinks.modbus: sheet %d out of range 0-%d", st.Sheet, telemetry.MaxSheet)
			}
			if seen[st.Sheet] {
				return fmt.Errorf("sinks.modbus: sheet %d mapped twice", st.Sheet)
			}
			seen[st.Sheet] = true
			if st.Endpoint == "" {
				return fmt.Errorf("sinks.modbus: sheet %d has no endpoint", st.Sheet)
			}
			if st.Registers == 0 {
				return fmt.Errorf("sinks.modbus: sheet %d needs registers > 0", st.Sheet)
			}
			if uint32(st.Address)+uint32(st.Registers) > 0x10000 {
				return fmt.Errorf("sinks.modbus: sheet %d window runs past register 65535", st.Sheet)
			}
		}
	}
	if s.NATS != nil {
		if s.NATS.URL == "" || s.NATS.Subject == "" {
			return errors.New("sinks.nats: url and subject are required")
		}
	}
	if s.Status != nil {
		if s.Status.Endpoint == "" {
			return errors.New("sinks.status: endpoint is required")
		}
		if (uint32(s.Status.Slot)+1)*status.SlotsPerDevice > 0x10000 {
			return fmt.Errorf("sinks.status: slot %d runs past register 65535", s.Status.Slot)
		}
		// device_name sanity (ASCII only)
		for i := 0; i < len(s.Status.DeviceName); i++ {
			if s.Status.DeviceName[i] > 0x7F {
				return errors.New("sinks.status: device_name must contain ASCII characters only")
			}
		}
	}
	return nil
}

// validateRegisterSpace rejects two devices writing the same holding registers
// on the same endpoint and unit id, whether as sheet windows or status blocks.
func validateRegisterSpace(devices []DeviceConfig) error {
	type span struct {
		start, end uint32
		owner      string
	}

	// key = endpoint | unit_id
	spans := make(map[string][]span)

	claim := func(endpoint string, unitID uint8, start, n uint32, owner string) error {
		key := fmt.Sprintf("%s|%d", endpoint, unitID)
		end := start + n - 1
		for _, s := range spans[key] {
			// overlap check (inclusive)
			if !(end < s.start || start > s.end) {
				return fmt.Errorf(
					"register overlap: endpoint=%s unit_id=%d range=%d-%d (%s) overlaps %d-%d (%s)",
					endpoint, unitID, start, end, owner, s.start, s.end, s.owner,
				)
			}
		}
		spans[key] = append(spans[key], span{start: start, end: end, owner: owner})
		return nil
	}

	for _, d := range devices {
		if m := d.Sinks.Modbus; m != nil {
			for _, st := range m.Sheets {
				owner := fmt.Sprintf("device %s sheet %d", d.ID, st.Sheet)
				if err := claim(st.Endpoint, st.UnitID, uint32(st.Address), uint32(st.Registers), owner); err != nil {
					return err
				}
			}
		}
		if s := d.Sinks.Status; s != nil {
			owner := fmt.Sprintf("device %s status slot %d", d.ID, s.Slot)
			base := uint32(s.Slot) * status.SlotsPerDevice
			if err := claim(s.Endpoint, s.UnitID, base, status.SlotsPerDevice, owner); err != nil {
				return err
			}
		}
	}
	return nil
}
