// internal/transport/ip_test.go
package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	deny     string
	acquired atomic.Int32
	released atomic.Int32
	password atomic.Value
}

func (b *fakeBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	_ = r.ParseForm()
	b.password.Store(r.PostForm.Get("password"))

	switch r.URL.Path {
	case "/acquire":
		if b.deny != "" {
			_, _ = w.Write([]byte(b.deny))
			return
		}
		b.acquired.Add(1)
	case "/release":
		b.released.Add(1)
	default:
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte("OK"))
}

func startBridge(t *testing.T, b *fakeBridge) int {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestIP_OpenSendReceiveClose(t *testing.T) {
	bridge := &fakeBridge{}
	httpPort := startBridge(t, bridge)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	pwFile := filepath.Join(t.TempDir(), "pw")
	tr := NewIP(IPConfig{
		Host:         "127.0.0.1",
		TCPPort:      ln.Addr().(*net.TCPAddr).Port,
		HTTPPort:     httpPort,
		PasswordFile: pwFile,
		DialTimeout:  time.Second,
	})

	rx := newFakeReceiver()
	require.NoError(t, tr.Open(context.Background(), rx))
	assert.EqualValues(t, 1, bridge.acquired.Load())

	stored, err := os.ReadFile(pwFile)
	require.NoError(t, err)
	assert.Contains(t, string(stored), bridge.password.Load().(string))

	var brick net.Conn
	select {
	case brick = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("no tcp connection")
	}
	defer brick.Close()

	// pre-framed: no length prefix on the wire
	require.NoError(t, tr.Send(context.Background(), []byte{0x01, 0x9B}))
	buf := make([]byte, 8)
	n, err := brick.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x9B}, buf[:n])

	_, err = brick.Write([]byte{0x02, 0x9B, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x9B, 0x00}, rx.next(t))

	require.NoError(t, tr.Close())
	assert.EqualValues(t, 1, bridge.released.Load())
	require.NoError(t, tr.Close())
	assert.EqualValues(t, 1, bridge.released.Load())
}

func TestIP_ExclusivityDenied(t *testing.T) {
	bridge := &fakeBridge{deny: "locked by 10.0.0.9"}
	httpPort := startBridge(t, bridge)

	tr := NewIP(IPConfig{Host: "127.0.0.1", TCPPort: 1, HTTPPort: httpPort})
	err := tr.Open(context.Background(), newFakeReceiver())

	require.ErrorIs(t, err, ErrTransportOpenFailed)
	require.ErrorIs(t, err, ErrExclusivityDenied)

	var denied *ExclusivityDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "locked by 10.0.0.9", denied.Reason)
}

func TestIP_DialFailureReleasesLock(t *testing.T) {
	bridge := &fakeBridge{}
	httpPort := startBridge(t, bridge)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tr := NewIP(IPConfig{Host: "127.0.0.1", TCPPort: port, HTTPPort: httpPort, DialTimeout: time.Second})
	err = tr.Open(context.Background(), newFakeReceiver())
	require.ErrorIs(t, err, ErrTransportOpenFailed)

	assert.EqualValues(t, 1, bridge.acquired.Load())
	assert.EqualValues(t, 1, bridge.released.Load())
}

func TestExclusivity_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ex := &Exclusivity{BaseURL: srv.URL, Password: "x"}
	err := ex.Acquire(context.Background())

	var denied *ExclusivityDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "403 Forbidden", denied.Reason)
}

func TestLoadOrCreatePassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "password")

	first, err := LoadOrCreatePassword(path)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreatePassword(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	a, err := LoadOrCreatePassword("")
	require.NoError(t, err)
	b, err := LoadOrCreatePassword("")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDiscoverIP_DedupesByHost(t *testing.T) {
	responder, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer responder.Close()

	go func() {
		buf := make([]byte, 64)
		n, from, err := responder.ReadFromUDP(buf)
		if err != nil || string(buf[:n]) != DiscoveryProbe {
			return
		}
		_, _ = responder.WriteToUDP([]byte("NXT-1\n"), from)
		_, _ = responder.WriteToUDP([]byte("NXT-1\n"), from)
	}()

	eps, err := DiscoverIP(context.Background(), IPDiscoveryConfig{
		Target: responder.LocalAddr().String(),
		Window: 300 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, Endpoint{Kind: KindIP, Address: "127.0.0.1", Name: "NXT-1"}, eps[0])
}
