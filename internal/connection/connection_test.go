// internal/connection/connection_test.go
package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/telemetry"
	"github.com/tamzrod/brickbridge/internal/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	rx      transport.Receiver
	openErr error
	sendErr error
	closes  int

	sent chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan []byte, 32)}
}

func (f *fakeTransport) Kind() transport.Kind      { return transport.KindUSB }
func (f *fakeTransport) Endpoint() string          { return "fake" }
func (f *fakeTransport) Framing() protocol.Framing { return protocol.FramingPreFramed }

func (f *fakeTransport) receiver() transport.Receiver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rx
}

func (f *fakeTransport) Open(_ context.Context, rx transport.Receiver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return &transport.OpenError{Kind: transport.KindUSB, Endpoint: "fake", Err: f.openErr}
	}
	f.rx = rx
	return nil
}

func (f *fakeTransport) Send(_ context.Context, b []byte) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sent <- append([]byte(nil), b...)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeTransport) nextSent(t *testing.T) []byte {
	t.Helper()
	select {
	case b := <-f.sent:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent")
		return nil
	}
}

func openConn(t *testing.T, f *fakeTransport, cfg Config, opts ...Option) *Connection {
	t.Helper()
	if cfg.DeviceID == "" {
		cfg.DeviceID = "d1"
	}
	c := New(f, cfg, opts...)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitDone(t *testing.T, r *protocol.Request) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("request %s never completed", r)
	}
}

// ---- pending table ----

func TestPendingTable_SameCodeFirstSentFirstMatched(t *testing.T) {
	p := newPendingTable()
	now := time.Now()

	a := protocol.NewKeepAlive()
	a.MarkSent(now)
	b := protocol.NewKeepAlive()
	b.MarkSent(now.Add(time.Millisecond))
	p.add(a)
	p.add(b)

	got, evicted := p.match(protocol.CmdKeepAlive, now.Add(2*time.Millisecond))
	assert.Same(t, a, got)
	assert.Empty(t, evicted)

	got, _ = p.match(protocol.CmdKeepAlive, now.Add(2*time.Millisecond))
	assert.Same(t, b, got)
	assert.Equal(t, 0, p.len())
}

func TestPendingTable_EvictsStaleDuringUnrelatedLookup(t *testing.T) {
	p := newPendingTable()
	now := time.Now()

	stale := protocol.NewPollLength(0) // 250ms
	stale.MarkSent(now.Add(-time.Second))
	fresh := protocol.NewGetDeviceInfo()
	fresh.MarkSent(now)
	p.add(stale)
	p.add(fresh)

	got, evicted := p.match(protocol.CmdGetDeviceInfo, now)
	assert.Same(t, fresh, got)
	require.Len(t, evicted, 1)
	assert.Same(t, stale, evicted[0])

	got, _ = p.match(protocol.CmdPollLength, now)
	assert.Nil(t, got)
}

func TestPendingTable_SkipsFinished(t *testing.T) {
	p := newPendingTable()
	now := time.Now()

	gone := protocol.NewKeepAlive()
	gone.MarkSent(now)
	gone.Complete(nil, protocol.ErrReplyTimeout)
	live := protocol.NewKeepAlive()
	live.MarkSent(now)
	p.add(gone)
	p.add(live)

	assert.Equal(t, 1, p.live(now))
	got, evicted := p.match(protocol.CmdKeepAlive, now)
	assert.Same(t, live, got)
	assert.Empty(t, evicted)
}

// ---- connection ----

func TestConnection_DoDeviceInfo(t *testing.T) {
	f := newFakeTransport()
	c := openConn(t, f, Config{})

	go func() {
		wire := f.nextSent(t)
		if len(wire) != 2 || wire[1] != byte(protocol.CmdGetDeviceInfo) {
			return
		}
		reply := []byte{0x02, 0x9B, 0x00}
		name := make([]byte, 15)
		copy(name, "NXT")
		reply = append(reply, name...)
		f.receiver().OnReplyBytes(reply)
	}()

	rep, err := c.Do(context.Background(), protocol.NewGetDeviceInfo())
	require.NoError(t, err)
	info, err := protocol.DecodeDeviceInfo(rep)
	require.NoError(t, err)
	assert.Equal(t, "NXT", info.Name)
}

func TestConnection_ReplyMatchesOldestOfSameCode(t *testing.T) {
	f := newFakeTransport()
	c := openConn(t, f, Config{})

	a := protocol.NewKeepAlive()
	b := protocol.NewKeepAlive()
	require.NoError(t, c.Enqueue(a))
	require.NoError(t, c.Enqueue(b))
	f.nextSent(t)
	f.nextSent(t)

	f.receiver().OnReplyBytes([]byte{0x02, 0x0D, 0x00, 0x10, 0x27, 0x00, 0x00})
	waitDone(t, a)
	assert.False(t, b.Finished())

	rep, err := a.Result()
	require.NoError(t, err)
	ms, err := protocol.DecodeKeepAlive(rep)
	require.NoError(t, err)
	assert.EqualValues(t, 10000, ms)
}

func TestConnection_StatusFailureReturned(t *testing.T) {
	f := newFakeTransport()
	c := openConn(t, f, Config{})

	go func() {
		f.nextSent(t)
		f.receiver().OnReplyBytes([]byte{0x02, 0x01, 0xEC})
	}()

	rep, err := c.Do(context.Background(), protocol.NewStopProgram())
	require.NotNil(t, rep)
	var se *protocol.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, protocol.CmdStopProgram, se.Code)
}

func TestConnection_NoReplyCompletesOnSend(t *testing.T) {
	f := newFakeTransport()
	c := openConn(t, f, Config{})

	req, err := protocol.NewMessageWrite(1, "go")
	require.NoError(t, err)

	rep, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.False(t, req.SentAt.IsZero())

	assert.Equal(t, []byte{0x80, 0x09, 0x01, 0x03, 'g', 'o', 0x00}, f.nextSent(t))
}

func TestConnection_ReplyTimeout(t *testing.T) {
	f := newFakeTransport()
	c := openConn(t, f, Config{})

	req := protocol.NewGetBatteryLevel()
	req.MaxDuration = 50 * time.Millisecond

	_, err := c.Do(context.Background(), req)
	require.ErrorIs(t, err, protocol.ErrReplyTimeout)

	// the late reply finds nothing
	f.receiver().OnReplyBytes([]byte{0x02, 0x0B, 0x00, 0x10, 0x1F})
	assert.Equal(t, 0, c.pending.len())
}

func TestConnection_ReplyTimeoutOverride(t *testing.T) {
	f := newFakeTransport()
	c := openConn(t, f, Config{ReplyTimeout: 40 * time.Millisecond})

	start := time.Now()
	_, err := c.Do(context.Background(), protocol.NewGetBatteryLevel())
	require.ErrorIs(t, err, protocol.ErrReplyTimeout)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestConnection_ReplyTimeoutKeepsExplicitDuration(t *testing.T) {
	f := newFakeTransport()
	c := openConn(t, f, Config{ReplyTimeout: 40 * time.Millisecond})

	explicit := protocol.NewGetBatteryLevel()
	explicit.MaxDuration = protocol.DefaultMaxDuration
	require.NoError(t, c.Enqueue(explicit))
	assert.Equal(t, protocol.DefaultMaxDuration, explicit.MaxDuration)

	unset := protocol.NewGetBatteryLevel()
	require.NoError(t, c.Enqueue(unset))
	assert.Equal(t, 40*time.Millisecond, unset.MaxDuration)

	poll := protocol.NewPoll(0, 8)
	require.NoError(t, c.Enqueue(poll))
	assert.Equal(t, 250*time.Millisecond, poll.MaxDuration)
}

func TestConnection_Notification(t *testing.T) {
	f := newFakeTransport()
	got := make(chan protocol.Notification, 1)
	openConn(t, f, Config{}, WithNotificationHandler(func(n protocol.Notification) { got <- n }))

	f.receiver().OnReplyBytes([]byte{0x80, 0x09, 0x02, 0x03, 'h', 'i', 0x00})

	select {
	case n := <-got:
		assert.EqualValues(t, 2, n.Mailbox)
		assert.Equal(t, "hi", n.Text())
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
}

func TestConnection_DropsNoise(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	f := newFakeTransport()
	c := openConn(t, f, Config{}, WithMetrics(m))

	f.receiver().OnReplyBytes([]byte{0x02})                   // short
	f.receiver().OnReplyBytes([]byte{0x80, 0x09, 0x01})       // short notification
	f.receiver().OnReplyBytes([]byte{0x02, 0x77, 0x00})       // unknown code
	f.receiver().OnReplyBytes([]byte{0x42, 0x00, 0x00})       // unknown type
	f.receiver().OnReplyBytes([]byte{0x02, 0x9B, 0x00, 'x'})  // nobody asked
	f.receiver().OnReplyBytes([]byte{0x02, 0xA2, 0x00, 0, 9}) // truncated poll data

	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.counters[ctrMalformed].WithLabelValues("d1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.counters[ctrUnknown].WithLabelValues("d1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.counters[ctrUnmatched].WithLabelValues("d1")))
}

func TestConnection_PollReplyFeedsTelemetry(t *testing.T) {
	f := newFakeTransport()
	records := make(chan telemetry.Record, 4)
	polling := make(chan telemetry.Polling, 4)
	c := openConn(t, f, Config{},
		WithRecordHandler(func(r telemetry.Record) { records <- r }),
		WithPollControl(func(p telemetry.Polling) { polling <- p }),
	)

	// meta: enable polling at 100ms, then payload 03 01 02 03
	data := []byte{0x83, 0x00, 0x64, 0x00, 0x03, 0x01, 0x02, 0x03}
	reply := append([]byte{0x02, 0xA2, 0x00, 0x00, byte(len(data))}, data...)
	f.receiver().OnReplyBytes(reply)

	select {
	case p := <-polling:
		assert.Equal(t, telemetry.Polling{Enabled: true, Interval: 100 * time.Millisecond}, p)
	case <-time.After(time.Second):
		t.Fatal("no polling change")
	}
	select {
	case r := <-records:
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, r.Raw)
		require.Len(t, r.Data, 1)
		assert.Equal(t, int64(2), r.Data[0].Int64())
	case <-time.After(time.Second):
		t.Fatal("no record")
	}
	assert.Equal(t, 100*time.Millisecond, c.Polling().Interval)
}

func TestConnection_TelemetrySplitAcrossReplies(t *testing.T) {
	f := newFakeTransport()
	records := make(chan telemetry.Record, 4)
	openConn(t, f, Config{}, WithRecordHandler(func(r telemetry.Record) { records <- r }))

	f.receiver().OnReplyBytes([]byte{0x02, 0xA2, 0x00, 0x00, 0x02, 0x03, 0x01})
	f.receiver().OnReplyBytes([]byte{0x02, 0xA2, 0x00, 0x00, 0x02, 0x02, 0x03})

	select {
	case r := <-records:
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, r.Raw)
	case <-time.After(time.Second):
		t.Fatal("no record")
	}
}

func TestConnection_SendFailure(t *testing.T) {
	f := newFakeTransport()
	f.sendErr = errors.New("pipe stalled")
	c := openConn(t, f, Config{})

	_, err := c.Do(context.Background(), protocol.NewKeepAlive())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe stalled")
}

func TestConnection_SendIOFailureTearsDown(t *testing.T) {
	f := newFakeTransport()
	ioErr := &transport.IOError{Kind: transport.KindUSB, Endpoint: "fake", Op: "write", Err: errors.New("endpoint stalled")}
	f.sendErr = ioErr
	c := openConn(t, f, Config{})
	done := c.Done()

	_, err := c.Do(context.Background(), protocol.NewKeepAlive())
	require.ErrorIs(t, err, transport.ErrIOFailure)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not torn down")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, error(ioErr), c.Err())
	assert.Equal(t, 1, f.closeCount())
}

func TestConnection_InitialPollingSeedsBrickControl(t *testing.T) {
	f := newFakeTransport()
	polling := make(chan telemetry.Polling, 4)
	start := telemetry.Polling{Enabled: true, Interval: time.Second}
	c := openConn(t, f, Config{InitialPolling: &start},
		WithPollControl(func(p telemetry.Polling) { polling <- p }),
	)
	assert.Equal(t, start, c.Polling())

	// meta: enable polling at 30ms, the built-in default
	f.receiver().OnReplyBytes([]byte{0x02, 0xA2, 0x00, 0x00, 0x04, 0x83, 0x00, 0x1E, 0x00})

	select {
	case p := <-polling:
		assert.Equal(t, telemetry.Polling{Enabled: true, Interval: 30 * time.Millisecond}, p)
	case <-time.After(time.Second):
		t.Fatal("no polling change")
	}
}

func TestConnection_ThrottlesWhenBusy(t *testing.T) {
	f := newFakeTransport()
	c := openConn(t, f, Config{ThrottleDelay: 150 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Enqueue(protocol.NewKeepAlive()))
	}
	for i := 0; i < 4; i++ {
		f.nextSent(t)
	}
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	// four replies outstanding: the fifth waits
	f.nextSent(t)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestConnection_CloseFailsOutstanding(t *testing.T) {
	f := newFakeTransport()
	var mu sync.Mutex
	var states []State
	c := New(f, Config{DeviceID: "d1"}, WithStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	require.NoError(t, c.Open(context.Background()))

	req := protocol.NewGetDeviceInfo()
	req.MaxDuration = 5 * time.Second
	errc := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), req)
		errc <- err
	}()
	f.nextSent(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return")
	}

	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Enqueue(protocol.NewKeepAlive()), ErrNotOpen)
	assert.Equal(t, 1, f.closes)

	mu.Lock()
	assert.Equal(t, []State{StateOpening, StateOpen, StateClosing, StateClosed}, states)
	mu.Unlock()
}

func TestConnection_TransportErrorTearsDown(t *testing.T) {
	f := newFakeTransport()
	c := openConn(t, f, Config{})
	done := c.Done()

	ioErr := &transport.IOError{Kind: transport.KindUSB, Endpoint: "fake", Op: "read", Err: errors.New("unplugged")}
	f.receiver().OnTransportError(ioErr)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not torn down")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Err(), transport.ErrIOFailure)

	// reopen works on the same connection
	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, StateOpen, c.State())
	assert.NoError(t, c.Err())
}

func TestConnection_OpenFailure(t *testing.T) {
	f := newFakeTransport()
	f.openErr = errors.New("no device")
	c := New(f, Config{DeviceID: "d1"})

	err := c.Open(context.Background())
	require.ErrorIs(t, err, transport.ErrTransportOpenFailed)
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Enqueue(protocol.NewKeepAlive()), ErrNotOpen)

	f.openErr = nil
	require.NoError(t, c.Open(context.Background()))
	require.NoError(t, c.Close())
}

func TestNewMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewMetrics(reg)
	require.NoError(t, err)
	b, err := NewMetrics(reg)
	require.NoError(t, err)

	a.inc(ctrSent, "x")
	b.inc(ctrSent, "x")
	assert.Equal(t, 2.0, testutil.ToFloat64(a.counters[ctrSent].WithLabelValues("x")))

	nilMetrics, err := NewMetrics(nil)
	require.NoError(t, err)
	nilMetrics.inc(ctrSent, "x")
}
