// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/telemetry"
)

// Client is the part of a connection the poller needs.
type Client interface {
	Do(ctx context.Context, req *protocol.Request) (*protocol.Reply, error)
}

// Config is the minimal runtime config the poller needs.
type Config struct {
	DeviceID string
	Buffer   byte
	ReadSize byte // bytes asked for per Poll; clamped to protocol.MaxPollLength

	// Initial polling request, until the brick sends its own.
	Polling telemetry.Polling

	// MaxDrain bounds how many back-to-back polls one tick may issue.
	MaxDrain int
}

// Poller asks the brick for telemetry. It only issues requests; the bytes in
// each reply reach the telemetry decoder through the connection.
type Poller struct {
	cfg    Config
	client Client
	log    *slog.Logger

	mu      sync.Mutex
	polling telemetry.Polling
	limiter *rate.Limiter
	changed chan struct{}
}

// New creates a poller. The polling request can change later through SetPolling.
func New(cfg Config, client Client, log *slog.Logger) (*Poller, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("poller: device id required")
	}
	if client == nil {
		return nil, errors.New("poller: client required")
	}
	if cfg.Polling.Interval < 0 {
		return nil, errors.New("poller: interval must be >= 0")
	}
	if cfg.ReadSize == 0 || cfg.ReadSize > protocol.MaxPollLength {
		cfg.ReadSize = protocol.MaxPollLength
	}
	if cfg.MaxDrain <= 0 {
		cfg.MaxDrain = 16
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Poller{
		cfg:     cfg,
		client:  client,
		log:     log.With("component", "poller", "device", cfg.DeviceID),
		polling: cfg.Polling,
		limiter: rate.NewLimiter(limitFor(cfg.Polling.Interval), 1),
		changed: make(chan struct{}, 1),
	}
	return p, nil
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// SetPolling applies a polling request from the brick.
func (p *Poller) SetPolling(pol telemetry.Polling) {
	p.mu.Lock()
	p.polling = pol
	p.limiter.SetLimit(limitFor(pol.Interval))
	p.mu.Unlock()

	select {
	case p.changed <- struct{}{}:
	default:
	}
}

// Polling returns the current polling request.
func (p *Poller) Polling() telemetry.Polling {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polling
}

// PollOnce performs exactly one Poll request.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	res := PollResult{
		DeviceID: p.cfg.DeviceID,
		Buffer:   p.cfg.Buffer,
		At:       time.Now(),
	}

	rep, err := p.client.Do(ctx, protocol.NewPoll(p.cfg.Buffer, p.cfg.ReadSize))
	if err != nil {
		res.Err = err
		return res
	}
	pd, err := protocol.DecodePollData(rep)
	if err != nil {
		res.Err = err
		return res
	}
	res.Length = int(pd.Length)
	return res
}

// drain polls until the brick reports an empty buffer, an error occurs, or
// MaxDrain polls have been issued.
func (p *Poller) drain(ctx context.Context, out chan<- PollResult) {
	for i := 0; i < p.cfg.MaxDrain; i++ {
		res := p.PollOnce(ctx)
		if out != nil {
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
		if res.Err != nil {
			p.log.Debug("poll failed", "err", res.Err)
			return
		}
		if res.Length == 0 {
			return
		}
	}
}
