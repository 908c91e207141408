// internal/telemetry/meta.go
package telemetry

import (
	"encoding/binary"
	"sync"
	"time"
)

// DefaultPollInterval applies until the brick sends a polling-interval meta record.
const DefaultPollInterval = 30 * time.Millisecond

// MetaKind is the sub-command of a meta record.
type MetaKind int

const (
	MetaNone        MetaKind = iota // empty placeholder record
	MetaPolling                     // sub-command 0
	MetaBackchannel                 // sub-command 1, reserved
	MetaZeroData                    // sub-command 2, reserved
	MetaIgnored                     // unknown sub-command or bad length
)

func (k MetaKind) String() string {
	switch k {
	case MetaNone:
		return "none"
	case MetaPolling:
		return "polling"
	case MetaBackchannel:
		return "backchannel"
	case MetaZeroData:
		return "zero-data"
	default:
		return "ignored"
	}
}

const (
	subPolling     = 0
	subBackchannel = 1
	subZeroData    = 2
)

// Polling is the polling state requested by the brick.
// Interval 0 means poll as fast as possible.
type Polling struct {
	Enabled  bool
	Interval time.Duration
}

// Meta is a decoded meta record.
type Meta struct {
	Kind    MetaKind
	Polling Polling // valid when Kind == MetaPolling
}

// DecodeMeta interprets a meta record. It never fails: anything it does not
// understand comes back as MetaIgnored.
func DecodeMeta(raw []byte) Meta {
	if len(raw) == 0 {
		return Meta{Kind: MetaNone}
	}
	switch raw[0] {
	case subPolling:
		switch len(raw) {
		case 1:
			return Meta{Kind: MetaPolling, Polling: Polling{Enabled: false}}
		case 3:
			ms := binary.LittleEndian.Uint16(raw[1:3])
			return Meta{Kind: MetaPolling, Polling: Polling{
				Enabled:  true,
				Interval: time.Duration(ms) * time.Millisecond,
			}}
		}
		return Meta{Kind: MetaIgnored}
	case subBackchannel:
		return Meta{Kind: MetaBackchannel}
	case subZeroData:
		return Meta{Kind: MetaZeroData}
	}
	return Meta{Kind: MetaIgnored}
}

// PollState holds the current polling request. Safe for concurrent use.
type PollState struct {
	mu  sync.Mutex
	cur Polling
}

// NewPollState starts enabled at DefaultPollInterval.
func NewPollState() *PollState {
	return NewPollStateAt(Polling{Enabled: true, Interval: DefaultPollInterval})
}

// NewPollStateAt starts from p.
func NewPollStateAt(p Polling) *PollState {
	return &PollState{cur: p}
}

// Get returns the current polling request.
func (s *PollState) Get() Polling {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Apply updates the state from a meta record and reports whether it changed.
// Only polling records have an effect.
func (s *PollState) Apply(m Meta) bool {
	if m.Kind != MetaPolling {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := m.Polling
	if !next.Enabled {
		// disable keeps the previous interval
		next.Interval = s.cur.Interval
	}
	if next == s.cur {
		return false
	}
	s.cur = next
	return true
}
