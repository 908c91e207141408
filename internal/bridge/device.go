// internal/bridge/device.go
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	cfg "github.com/tamzrod/brickbridge/internal/config"
	"github.com/tamzrod/brickbridge/internal/connection"
	"github.com/tamzrod/brickbridge/internal/poller"
	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/sink"
	"github.com/tamzrod/brickbridge/internal/status"
	"github.com/tamzrod/brickbridge/internal/telemetry"
)

// DefaultReconnectInterval is used when a Device is given none.
const DefaultReconnectInterval = 5 * time.Second

// Device keeps one brick connected: it opens a connection per attempt,
// runs the telemetry poller while open, forwards records and notifications
// to the sinks, and maintains the status block.
type Device struct {
	dev       cfg.DeviceConfig
	reconnect time.Duration
	factory   TransportFactory
	sinks     *sink.Set
	metrics   *connection.Metrics
	root      *slog.Logger
	log       *slog.Logger

	records *atomic.Uint32

	mu   sync.Mutex
	conn *connection.Connection
}

// event is one input to the status loop.
type event struct {
	state connection.State
	err   error
}

// NewDevice wires a device. sinks and metrics may be nil.
func NewDevice(d cfg.DeviceConfig, factory TransportFactory, sinks *sink.Set, metrics *connection.Metrics, reconnect time.Duration, log *slog.Logger) (*Device, error) {
	if d.ID == "" {
		return nil, errors.New("bridge: device id required")
	}
	if factory == nil {
		return nil, errors.New("bridge: transport factory required")
	}
	if reconnect <= 0 {
		reconnect = DefaultReconnectInterval
	}
	if sinks == nil {
		sinks = &sink.Set{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Device{
		dev:       d,
		reconnect: reconnect,
		factory:   factory,
		sinks:     sinks,
		metrics:   metrics,
		root:      log,
		log:       log.With("component", "bridge", "device", d.ID),
		records:   atomic.NewUint32(0),
	}, nil
}

// Records is the number of payload records delivered since start.
func (d *Device) Records() uint32 { return d.records.Load() }

// Run keeps the device connected until ctx ends.
func (d *Device) Run(ctx context.Context) error {
	events := make(chan event, 16)
	results := make(chan poller.PollResult, 16)

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		d.statusLoop(ctx, events, results)
	}()
	defer func() { <-statusDone }()

	if err := d.sinks.SubscribeInbox(d.deliver); err != nil {
		d.log.Warn("mailbox inbox unavailable", "err", err)
	}

	for {
		err := d.session(ctx, events, results)
		if ctx.Err() != nil {
			return nil
		}
		d.emit(ctx, events, event{state: connection.StateClosed, err: err})
		d.log.Warn("connection lost, retrying", "err", err, "in", d.reconnect)

		t := time.NewTimer(d.reconnect)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session runs one connection attempt to completion. A fresh transport is
// built every time.
func (d *Device) session(ctx context.Context, events chan<- event, results chan<- poller.PollResult) error {
	tr, err := d.factory()
	if err != nil {
		return err
	}

	var p *poller.Poller
	initial := poller.InitialPolling(d.dev)
	conn := connection.New(tr,
		connection.Config{
			DeviceID:       d.dev.ID,
			ReplyTimeout:   time.Duration(d.dev.ReplyTimeoutMs) * time.Millisecond,
			ThrottleDelay:  time.Duration(d.dev.ThrottleMs) * time.Millisecond,
			InitialPolling: &initial,
		},
		connection.WithLogger(d.root),
		connection.WithMetrics(d.metrics),
		connection.WithRecordHandler(d.onRecord),
		connection.WithNotificationHandler(d.onNotification),
		connection.WithPollControl(func(pl telemetry.Polling) {
			if p != nil {
				p.SetPolling(pl)
			}
		}),
		connection.WithStateChange(func(s connection.State) {
			d.emit(ctx, events, event{state: s})
		}),
	)

	p, err = poller.Build(d.dev, conn, d.root)
	if err != nil {
		return err
	}

	if err := conn.Open(ctx); err != nil {
		return err
	}
	d.setConn(conn)
	defer d.setConn(nil)

	d.identify(ctx, conn)

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if p != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(sessCtx, results)
		}()
	}

	select {
	case <-ctx.Done():
	case <-conn.Done():
	}
	cancel()
	wg.Wait()

	closeErr := conn.Close()
	if err := conn.Err(); err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	if ctx.Err() == nil {
		return connection.ErrConnectionClosed
	}
	return nil
}

// identify logs what is on the other end. Failures are not fatal.
func (d *Device) identify(ctx context.Context, conn *connection.Connection) {
	rep, err := conn.Do(ctx, protocol.NewGetDeviceInfo())
	if err != nil {
		d.log.Warn("device info failed", "err", err)
		return
	}
	info, err := protocol.DecodeDeviceInfo(rep)
	if err != nil {
		d.log.Warn("device info malformed", "err", err)
		return
	}

	attrs := []any{"name", info.Name, "free_flash", info.FreeFlash}
	if rep, err := conn.Do(ctx, protocol.NewGetFirmwareVersion()); err == nil {
		if fw, err := protocol.DecodeFirmwareVersion(rep); err == nil {
			attrs = append(attrs, "firmware", fw.String())
		}
	}
	d.log.Info("brick identified", attrs...)
}

func (d *Device) onRecord(rec telemetry.Record) {
	d.records.Inc()
	if d.sinks.Records == nil {
		return
	}
	if err := d.sinks.Records.WriteRecord(d.dev.ID, rec); err != nil {
		d.log.Warn("record delivery failed", "sheet", rec.Sheet, "err", err)
	}
}

func (d *Device) onNotification(n protocol.Notification) {
	d.log.Debug("notification", "mailbox", n.Mailbox, "text", n.Text())
	if d.sinks.Notifications == nil {
		return
	}
	if err := d.sinks.Notifications.WriteNotification(d.dev.ID, n); err != nil {
		d.log.Warn("notification delivery failed", "err", err)
	}
}

// deliver writes text into the configured mailbox of the current connection.
func (d *Device) deliver(text string) {
	conn := d.current()
	if conn == nil {
		d.log.Warn("mailbox message dropped: not connected")
		return
	}
	req, err := protocol.NewMessageWrite(byte(d.dev.Mailbox), text)
	if err != nil {
		d.log.Warn("mailbox message rejected", "err", err)
		return
	}
	if err := conn.Enqueue(req); err != nil {
		d.log.Warn("mailbox message dropped", "err", err)
	}
}

func (d *Device) setConn(c *connection.Connection) {
	d.mu.Lock()
	d.conn = c
	d.mu.Unlock()
}

func (d *Device) current() *connection.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

func (d *Device) emit(ctx context.Context, events chan<- event, ev event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// statusLoop owns the snapshot. Seconds in error tick at 1 Hz while the
// connection is not open.
func (d *Device) statusLoop(ctx context.Context, events <-chan event, results <-chan poller.PollResult) {
	sw := d.sinks.Status
	snap := status.Snapshot{Health: status.HealthUnknown}

	write := func() {
		if sw == nil {
			return
		}
		if err := sw.WriteStatus(snap); err != nil {
			d.log.Warn("status write failed", "err", err)
		}
	}

	// Full block write on start (identity re-assert).
	write()

	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-events:
			changed := false
			if h := status.FromState(ev.state); snap.Health != h {
				snap.Health = h
				changed = true
			}
			if ev.state == connection.StateOpen {
				// Reset error info on recovery.
				if snap.LastErrorCode != 0 || snap.SecondsInError != 0 {
					snap.LastErrorCode, snap.SecondsInError = 0, 0
					changed = true
				}
			}
			if ev.err != nil {
				if code := status.ErrorCode(ev.err); snap.LastErrorCode != code {
					snap.LastErrorCode = code
					changed = true
				}
			}
			if changed {
				write()
			}

		case res := <-results:
			if res.Err == nil {
				continue
			}
			d.log.Debug("poll failed", "err", res.Err)
			if code := status.ErrorCode(res.Err); snap.LastErrorCode != code {
				snap.LastErrorCode = code
				write()
			}

		case <-secTicker.C:
			changed := false
			if snap.Health != status.HealthOK && snap.SecondsInError < 65535 {
				snap.SecondsInError++
				changed = true
			}
			if n := d.records.Load(); snap.Records != n {
				snap.Records = n
				changed = true
			}
			if changed {
				write()
			}
		}
	}
}
