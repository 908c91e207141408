// internal/transport/build.go
package transport

import (
	"fmt"
	"log/slog"
	"time"
)

// Options carries the per-kind knobs Build needs. Zero values take the
// transport defaults.
type Options struct {
	BaudRate     int
	ReadTimeout  time.Duration
	TCPPort      int
	HTTPPort     int
	PasswordFile string
	Logger       *slog.Logger
}

// Build returns a closed transport of the given kind for endpoint.
// Each call yields a fresh instance; callers build one per connection attempt.
func Build(kind Kind, endpoint string, o Options) (Transport, error) {
	switch kind {
	case KindBluetooth:
		if endpoint == "" {
			return nil, fmt.Errorf("transport: bluetooth endpoint required")
		}
		return NewSerial(SerialConfig{
			Address:     endpoint,
			BaudRate:    o.BaudRate,
			ReadTimeout: o.ReadTimeout,
			Logger:      o.Logger,
		}), nil

	case KindUSB:
		addr, err := ParseUSBAddress(endpoint)
		if err != nil {
			return nil, err
		}
		return NewUSB(USBConfig{Address: addr, Timeout: o.ReadTimeout, Logger: o.Logger}), nil

	case KindIP:
		if endpoint == "" {
			return nil, fmt.Errorf("transport: ip endpoint required")
		}
		return NewIP(IPConfig{
			Host:         endpoint,
			TCPPort:      o.TCPPort,
			HTTPPort:     o.HTTPPort,
			PasswordFile: o.PasswordFile,
			Logger:       o.Logger,
		}), nil
	}
	return nil, fmt.Errorf("transport: unknown kind %q", kind)
}
