// internal/poller/builder.go
package poller

import (
	"log/slog"
	"time"

	cfg "github.com/tamzrod/brickbridge/internal/config"
	"github.com/tamzrod/brickbridge/internal/telemetry"
)

// Build constructs a Poller for one configured device on top of client.
// It returns nil when telemetry is disabled for the device.
func Build(d cfg.DeviceConfig, client Client, log *slog.Logger) (*Poller, error) {
	if !d.Telemetry.On() {
		return nil, nil
	}
	return New(
		Config{
			DeviceID: d.ID,
			Buffer:   byte(d.Telemetry.Buffer),
			ReadSize: byte(d.Telemetry.ReadSize),
			Polling:  InitialPolling(d),
		},
		client,
		log,
	)
}

// InitialPolling is the polling request a device starts with, before the brick
// asks for its own.
func InitialPolling(d cfg.DeviceConfig) telemetry.Polling {
	return telemetry.Polling{
		Enabled:  true,
		Interval: time.Duration(d.Telemetry.IntervalMs()) * time.Millisecond,
	}
}
