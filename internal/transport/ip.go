// internal/transport/ip.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tamzrod/brickbridge/internal/protocol"
)

const (
	DefaultTCPPort  = 5000
	DefaultHTTPPort = 80
)

// IPConfig configures the TCP/IP bridge transport.
type IPConfig struct {
	Host         string
	TCPPort      int
	HTTPPort     int
	PasswordFile string
	DialTimeout  time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// IP talks to the brick through the wireless bridging module. The lock must be
// acquired over HTTP before the TCP channel is opened. Each completed socket
// read is treated as one packet, the same shape USB delivers.
type IP struct {
	cfg IPConfig
	log *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	lock   *Exclusivity
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

// NewIP builds a closed IP transport.
func NewIP(cfg IPConfig) *IP {
	if cfg.TCPPort <= 0 {
		cfg.TCPPort = DefaultTCPPort
	}
	if cfg.HTTPPort <= 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.DialTimeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ip := &IP{cfg: cfg}
	ip.log = log.With("component", "transport", "kind", KindIP, "endpoint", ip.Endpoint())
	return ip
}

func (t *IP) Kind() Kind { return KindIP }

func (t *IP) Endpoint() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.TCPPort))
}

// Framing is pre-framed like USB, not stream-framed like serial, although TCP is
// a byte stream. The bridging module expects this.
func (t *IP) Framing() protocol.Framing { return protocol.FramingPreFramed }

// Open acquires the bridge lock, dials TCP and starts the receive loop.
func (t *IP) Open(ctx context.Context, rx Receiver) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fail := func(err error) error {
		return &OpenError{Kind: KindIP, Endpoint: t.Endpoint(), Err: err}
	}
	if t.conn != nil {
		return fail(ErrAlreadyOpen)
	}

	pw, err := LoadOrCreatePassword(t.cfg.PasswordFile)
	if err != nil {
		return fail(err)
	}
	lock := &Exclusivity{
		BaseURL:  "http://" + net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.HTTPPort)),
		Password: pw,
		Client:   t.cfg.HTTPClient,
	}
	if err := lock.Acquire(ctx); err != nil {
		return fail(err)
	}

	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.Endpoint())
	if err != nil {
		t.releaseLock(lock)
		return fail(err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t.conn = conn
	t.lock = lock
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.receive(loopCtx, conn, rx, t.done)

	t.log.Info("bridge connected")
	return nil
}

func (t *IP) releaseLock(lock *Exclusivity) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		t.log.Warn("bridge release failed", "err", err)
	}
}

func (t *IP) receive(ctx context.Context, conn net.Conn, rx Receiver, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			rx.OnReplyBytes(pkt)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			t.log.Warn("bridge read failed", "err", err)
			rx.OnTransportError(&IOError{Kind: KindIP, Endpoint: t.Endpoint(), Op: "read", Err: err})
			return
		}
	}
}

// Send writes one pre-framed packet.
func (t *IP) Send(ctx context.Context, b []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.DialTimeout))
	}
	if _, err := conn.Write(b); err != nil {
		return &IOError{Kind: KindIP, Endpoint: t.Endpoint(), Op: "write", Err: err}
	}
	return nil
}

// Close shuts the socket (cancelling the pending read), joins the loop and
// releases the bridge lock.
func (t *IP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	t.cancel()
	err := t.conn.Close()
	<-t.done

	t.releaseLock(t.lock)

	t.conn, t.lock = nil, nil
	t.cancel, t.done = nil, nil

	t.log.Info("bridge disconnected")
	if err != nil {
		return fmt.Errorf("transport: close %s: %w", t.Endpoint(), err)
	}
	return nil
}
