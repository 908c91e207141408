// internal/connection/connection.go
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/telemetry"
	"github.com/tamzrod/brickbridge/internal/transport"
)

var (
	// ErrConnectionClosed fails requests still queued or pending when the connection closes.
	ErrConnectionClosed = errors.New("connection: closed")
	// ErrNotOpen rejects requests enqueued on a connection that is not open.
	ErrNotOpen = errors.New("connection: not open")
)

// State is the lifecycle position of a Connection.
type State string

const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateOpen    State = "open"
	StateClosing State = "closing"
)

const (
	evOpen   = "open"
	evOpened = "opened"
	evFail   = "fail"
	evClose  = "close"
	evClosed = "closed"
)

func newLifecycle(cb fsm.Callbacks) *fsm.FSM {
	return fsm.NewFSM(
		string(StateClosed),
		fsm.Events{
			{Name: evOpen, Src: []string{string(StateClosed)}, Dst: string(StateOpening)},
			{Name: evOpened, Src: []string{string(StateOpening)}, Dst: string(StateOpen)},
			{Name: evFail, Src: []string{string(StateOpening)}, Dst: string(StateClosed)},
			{Name: evClose, Src: []string{string(StateOpen)}, Dst: string(StateClosing)},
			{Name: evClosed, Src: []string{string(StateClosing)}, Dst: string(StateClosed)},
		},
		cb,
	)
}

// runState is everything that lives only between Open and Close.
type runState struct {
	group *errgroup.Group

	sendCancel context.CancelFunc
	sendDone   chan struct{}

	telCancel context.CancelFunc
	telDone   chan struct{}
	telStop   <-chan struct{}

	closed chan struct{}
}

// Connection drives one transport: it serializes outbound requests through a
// single send worker, correlates replies, and feeds polled bytes to the
// telemetry decoder.
type Connection struct {
	tr      transport.Transport
	cfg     Config
	log     *slog.Logger
	metrics *Metrics

	onRecord func(telemetry.Record)
	onNotify func(protocol.Notification)
	onPoll   func(telemetry.Polling)
	onState  func(State)

	life *fsm.FSM
	// lifeMu serializes Open and Close.
	lifeMu sync.Mutex

	// gate guards accepting and run against Enqueue and the inbound paths.
	gate      sync.RWMutex
	accepting bool
	run       *runState

	out     *outbound
	pending *pendingTable
	tel     telemetry.Reassembler
	frames  chan telemetry.Frame
	poll    *telemetry.PollState

	tearingDown *atomic.Bool
	lastErr     *atomic.Error
}

// New builds a closed connection over tr.
func New(tr transport.Transport, cfg Config, opts ...Option) *Connection {
	cfg.normalize()

	c := &Connection{
		tr:          tr,
		cfg:         cfg,
		out:         newOutbound(),
		pending:     newPendingTable(),
		frames:      make(chan telemetry.Frame, cfg.RecordQueueSize),
		tearingDown: atomic.NewBool(false),
		lastErr:     atomic.NewError(nil),
	}
	if cfg.InitialPolling != nil {
		c.poll = telemetry.NewPollStateAt(*cfg.InitialPolling)
	} else {
		c.poll = telemetry.NewPollState()
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "connection", "device", cfg.DeviceID,
		"kind", tr.Kind(), "endpoint", tr.Endpoint())

	c.life = newLifecycle(fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			c.log.Debug("state change", "from", e.Src, "to", e.Dst)
			if c.onState != nil {
				c.onState(State(e.Dst))
			}
		},
	})
	return c
}

// State reports the lifecycle state.
func (c *Connection) State() State { return State(c.life.Current()) }

// DeviceID is the configured device id.
func (c *Connection) DeviceID() string { return c.cfg.DeviceID }

// Transport returns the owned transport.
func (c *Connection) Transport() transport.Transport { return c.tr }

// Polling reports the polling request last set by the brick.
func (c *Connection) Polling() telemetry.Polling { return c.poll.Get() }

// Err returns the error that tore the connection down, if any.
func (c *Connection) Err() error { return c.lastErr.Load() }

// Done is closed when the current session reaches closed. It is nil before the
// first successful Open.
func (c *Connection) Done() <-chan struct{} {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.run == nil {
		return nil
	}
	return c.run.closed
}

// Open opens the transport and starts the workers.
// A failed open leaves the connection closed and returns the transport error.
func (c *Connection) Open(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if err := c.life.Event(ctx, evOpen); err != nil {
		return fmt.Errorf("connection: open from %s: %w", c.State(), err)
	}

	c.tearingDown.Store(false)
	c.lastErr.Store(nil)
	c.tel.Reset()
	for len(c.frames) > 0 {
		<-c.frames
	}

	// workers must be ready before the receive loop can deliver anything
	rs := &runState{
		group:    &errgroup.Group{},
		sendDone: make(chan struct{}),
		telDone:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
	sendCtx, sendCancel := context.WithCancel(context.Background())
	telCtx, telCancel := context.WithCancel(context.Background())
	rs.sendCancel, rs.telCancel = sendCancel, telCancel
	rs.telStop = telCtx.Done()

	c.gate.Lock()
	c.run = rs
	c.accepting = true
	c.gate.Unlock()

	rs.group.Go(func() error {
		defer close(rs.sendDone)
		return c.sendLoop(sendCtx)
	})
	rs.group.Go(func() error {
		defer close(rs.telDone)
		return c.telemetryLoop(telCtx)
	})

	if err := c.tr.Open(ctx, c); err != nil {
		c.stopWorkers(rs)
		c.failOutstanding()
		_ = c.life.Event(context.Background(), evFail)
		close(rs.closed)
		c.log.Warn("open failed", "err", err)
		return err
	}

	if err := c.life.Event(ctx, evOpened); err != nil {
		return fmt.Errorf("connection: %w", err)
	}
	c.log.Info("connection open", "framing", c.tr.Framing())
	return nil
}

// Close tears the connection down: send worker first, then the telemetry
// worker, then the transport. Queued and pending requests fail with
// ErrConnectionClosed. Calling Close on a closed connection is a no-op.
func (c *Connection) Close() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.closeLocked(nil)
}

// closeLocked closes the session rs, or the current one when rs is nil.
func (c *Connection) closeLocked(rs *runState) error {
	if c.State() != StateOpen {
		return nil
	}
	c.gate.RLock()
	cur := c.run
	c.gate.RUnlock()
	if rs != nil && rs != cur {
		return nil
	}
	rs = cur

	_ = c.life.Event(context.Background(), evClose)

	c.stopWorkers(rs)

	err := c.tr.Close()
	if err != nil {
		c.log.Warn("transport close failed", "err", err)
	}

	c.failOutstanding()
	_ = c.life.Event(context.Background(), evClosed)
	close(rs.closed)
	c.log.Info("connection closed")
	return err
}

func (c *Connection) stopWorkers(rs *runState) {
	c.gate.Lock()
	c.accepting = false
	c.gate.Unlock()

	rs.sendCancel()
	<-rs.sendDone
	rs.telCancel()
	<-rs.telDone

	if err := rs.group.Wait(); err != nil {
		c.log.Warn("worker exited with error", "err", err)
	}
}

func (c *Connection) failOutstanding() {
	n := 0
	for _, r := range c.out.drain() {
		if r.Complete(nil, ErrConnectionClosed) {
			n++
		}
	}
	for _, r := range c.pending.drain() {
		if r.Complete(nil, ErrConnectionClosed) {
			n++
		}
	}
	c.metrics.setPending(c.cfg.DeviceID, 0)
	if n > 0 {
		c.log.Debug("failed outstanding requests", "count", n)
	}
}

// Enqueue appends req to the outbound FIFO. Requests are sent in enqueue order.
func (c *Connection) Enqueue(req *protocol.Request) error {
	if req == nil {
		return errors.New("connection: nil request")
	}
	if c.cfg.ReplyTimeout > 0 && req.MaxDuration == 0 {
		req.MaxDuration = c.cfg.ReplyTimeout
	}

	c.gate.RLock()
	defer c.gate.RUnlock()
	if !c.accepting {
		return ErrNotOpen
	}
	c.out.push(req)
	return nil
}

// Do sends req and waits for its reply, at most req.MaxDuration or until ctx
// ends. A reply with a failure status is returned along with its *StatusError.
// Requests that expect no reply return (nil, nil) once written.
func (c *Connection) Do(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
	if err := c.Enqueue(req); err != nil {
		return nil, err
	}
	rep, err := req.Wait(ctx)
	if err == nil && rep != nil {
		err = rep.Err()
	}
	return rep, err
}

func (c *Connection) sendLoop(ctx context.Context) error {
	for {
		req, ok := c.out.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-c.out.wake:
				continue
			}
		}
		if req.Finished() {
			continue
		}

		if c.pending.live(time.Now()) > c.cfg.ThrottleThreshold {
			t := time.NewTimer(c.cfg.ThrottleDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				req.Complete(nil, ErrConnectionClosed)
				return nil
			case <-t.C:
			}
		}

		c.send(ctx, req)
	}
}

func (c *Connection) send(ctx context.Context, req *protocol.Request) {
	wire, err := protocol.Frame(req, c.tr.Framing())
	if err != nil {
		req.Complete(nil, err)
		return
	}

	// registered before the write so a fast reply always finds it
	needsReply := req.Type.ReplyRequired()
	if needsReply {
		req.MarkSent(time.Now())
		c.pending.add(req)
		c.metrics.setPending(c.cfg.DeviceID, c.pending.len())
	}

	if err := c.tr.Send(ctx, wire); err != nil {
		c.metrics.inc(ctrSendFailed, c.cfg.DeviceID)
		c.log.Warn("send failed", "code", req.Code, "err", err)
		req.Complete(nil, fmt.Errorf("connection: send %s: %w", req.Code, err))
		if errors.Is(err, transport.ErrIOFailure) {
			c.OnTransportError(err)
		}
		return
	}
	c.metrics.inc(ctrSent, c.cfg.DeviceID)

	if !needsReply {
		req.MarkSent(time.Now())
		req.Complete(nil, nil)
	}
}
