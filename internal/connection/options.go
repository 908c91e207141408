// internal/connection/options.go
package connection

import (
	"log/slog"
	"time"

	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/telemetry"
)

const (
	DefaultThrottleDelay     = 10 * time.Millisecond
	DefaultThrottleThreshold = 3
	DefaultRecordQueueSize   = 64
)

// Config is the per-connection tuning.
type Config struct {
	DeviceID string

	// ReplyTimeout applies to requests whose MaxDuration is zero.
	// Zero keeps protocol.DefaultMaxDuration.
	ReplyTimeout time.Duration

	// ThrottleDelay is slept before a send while more than ThrottleThreshold
	// requests are awaiting replies.
	ThrottleDelay     time.Duration
	ThrottleThreshold int

	RecordQueueSize int

	// InitialPolling is the polling request in force before the brick sends
	// one. Nil means enabled at telemetry.DefaultPollInterval.
	InitialPolling *telemetry.Polling
}

func (c *Config) normalize() {
	if c.DeviceID == "" {
		c.DeviceID = "brick"
	}
	if c.ThrottleDelay <= 0 {
		c.ThrottleDelay = DefaultThrottleDelay
	}
	if c.ThrottleThreshold <= 0 {
		c.ThrottleThreshold = DefaultThrottleThreshold
	}
	if c.RecordQueueSize <= 0 {
		c.RecordQueueSize = DefaultRecordQueueSize
	}
}

// Option customizes a Connection.
type Option func(*Connection)

func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Connection) { c.metrics = m }
}

// WithRecordHandler receives every decoded payload record, in arrival order,
// on the telemetry worker.
func WithRecordHandler(fn func(telemetry.Record)) Option {
	return func(c *Connection) { c.onRecord = fn }
}

// WithNotificationHandler receives spontaneous mailbox messages on the
// transport's receive goroutine. It must not block.
func WithNotificationHandler(fn func(protocol.Notification)) Option {
	return func(c *Connection) { c.onNotify = fn }
}

// WithPollControl is called when a meta record changes the polling request.
func WithPollControl(fn func(telemetry.Polling)) Option {
	return func(c *Connection) { c.onPoll = fn }
}

// WithStateChange is called on every lifecycle transition.
func WithStateChange(fn func(State)) Option {
	return func(c *Connection) { c.onState = fn }
}
