// internal/transport/handshake.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxReasonBytes = 512

// Exclusivity performs the acquire/release handshake with the bridging module.
// Only the holder of the lock may open the TCP channel.
type Exclusivity struct {
	BaseURL  string // e.g. http://192.168.1.50:80
	Password string
	Client   *http.Client
}

func (e *Exclusivity) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return http.DefaultClient
}

// Acquire takes the lock. A refusal is an *ExclusivityDeniedError carrying the
// module's reason text.
func (e *Exclusivity) Acquire(ctx context.Context) error {
	return e.call(ctx, "/acquire")
}

// Release gives the lock back.
func (e *Exclusivity) Release(ctx context.Context) error {
	return e.call(ctx, "/release")
}

func (e *Exclusivity) call(ctx context.Context, path string) error {
	form := url.Values{"password": {e.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.BaseURL, "/")+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("handshake %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client().Do(req)
	if err != nil {
		return fmt.Errorf("handshake %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReasonBytes))
	if err != nil {
		return fmt.Errorf("handshake %s: read body: %w", path, err)
	}
	text := strings.TrimSpace(string(body))

	if resp.StatusCode == http.StatusOK && strings.EqualFold(text, "OK") {
		return nil
	}
	if text == "" {
		text = resp.Status
	}
	return &ExclusivityDeniedError{Reason: text}
}

// LoadOrCreatePassword returns the password stored at path, generating and
// persisting a new one on first use. An empty path yields a one-off password.
func LoadOrCreatePassword(path string) (string, error) {
	if path == "" {
		return uuid.NewString(), nil
	}
	path, err := expandHome(path)
	if err != nil {
		return "", err
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if pw := strings.TrimSpace(string(b)); pw != "" {
			return pw, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("password file: %w", err)
	}

	pw := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("password file: %w", err)
	}
	if err := os.WriteFile(path, []byte(pw+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("password file: %w", err)
	}
	return pw, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("password file: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
