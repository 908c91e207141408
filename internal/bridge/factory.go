// internal/bridge/factory.go
package bridge

import (
	"log/slog"
	"time"

	cfg "github.com/tamzrod/brickbridge/internal/config"
	"github.com/tamzrod/brickbridge/internal/transport"
)

// TransportFactory builds a fresh, closed transport for one connection attempt.
type TransportFactory func() (transport.Transport, error)

// NewTransportFactory returns a factory for a configured device.
// Assumes config has already passed validation and normalization.
func NewTransportFactory(d cfg.DeviceConfig, log *slog.Logger) TransportFactory {
	return func() (transport.Transport, error) {
		kind, err := transport.ParseKind(d.Transport)
		if err != nil {
			return nil, err
		}
		return transport.Build(kind, d.Endpoint, transport.Options{
			BaudRate:     d.Baud,
			ReadTimeout:  time.Duration(d.ReadTimeoutMs) * time.Millisecond,
			TCPPort:      d.IP.TCPPort,
			HTTPPort:     d.IP.HTTPPort,
			PasswordFile: d.IP.PasswordFile,
			Logger:       log,
		})
	}
}
