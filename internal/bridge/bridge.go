// internal/bridge/bridge.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	cfg "github.com/tamzrod/brickbridge/internal/config"
	"github.com/tamzrod/brickbridge/internal/connection"
	"github.com/tamzrod/brickbridge/internal/sink"
)

// Bridge runs every configured device side by side.
type Bridge struct {
	devices []*Device
	sinks   []*sink.Set
	log     *slog.Logger
}

// New builds a device pipeline per configured device.
// Assumes config has already passed validation and normalization.
// reg may be nil to disable metrics.
func New(c *cfg.Config, reg prometheus.Registerer, log *slog.Logger) (*Bridge, error) {
	if c == nil {
		return nil, errors.New("bridge: nil config")
	}
	if log == nil {
		log = slog.Default()
	}

	metrics, err := connection.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("bridge: metrics: %w", err)
	}

	b := &Bridge{log: log}
	reconnect := time.Duration(c.Bridge.ReconnectIntervalMs) * time.Millisecond

	for _, d := range c.Bridge.Devices {
		set, err := sink.Build(d)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("bridge: sinks (device=%s): %w", d.ID, err)
		}
		b.sinks = append(b.sinks, set)

		dev, err := NewDevice(d, NewTransportFactory(d, log), set, metrics, reconnect, log)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("bridge: device %s: %w", d.ID, err)
		}
		b.devices = append(b.devices, dev)
	}

	return b, nil
}

// Run blocks until ctx ends, then releases every sink.
func (b *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range b.devices {
		g.Go(func() error { return d.Run(gctx) })
	}
	b.log.Info("bridge running", "devices", len(b.devices))

	err := g.Wait()
	if cerr := b.Close(); cerr != nil {
		b.log.Warn("sink close failed", "err", cerr)
	}
	return err
}

// Close releases every sink client. Safe to call more than once.
func (b *Bridge) Close() error {
	var errs []error
	for _, s := range b.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
