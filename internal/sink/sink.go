// internal/sink/sink.go
package sink

import (
	"errors"

	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/telemetry"
)

// RecordSink delivers decoded telemetry records somewhere outside the bridge.
type RecordSink interface {
	WriteRecord(deviceID string, rec telemetry.Record) error
}

// NotificationSink delivers spontaneous brick messages.
type NotificationSink interface {
	WriteNotification(deviceID string, n protocol.Notification) error
}

// endpointClient is the register write contract the sinks use.
type endpointClient interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// Fanout delivers every record to each sink in order.
// One failing sink does not stop the others.
type Fanout []RecordSink

func (f Fanout) WriteRecord(deviceID string, rec telemetry.Record) error {
	var errs []error
	for _, s := range f {
		if err := s.WriteRecord(deviceID, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
