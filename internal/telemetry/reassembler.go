// internal/telemetry/reassembler.go
package telemetry

import "sync"

const (
	metaFlag   = 0x80
	lengthMask = 0x7F
)

// Frame is one record cut from the polled stream, before decoding.
type Frame struct {
	Meta bool
	Raw  []byte
}

// Reassembler splits the polled byte stream into frames.
// Each frame starts with a header byte: high bit = meta, low 7 bits = length
// of the bytes that follow.
type Reassembler struct {
	mu  sync.Mutex
	buf []byte
}

// Feed accumulates a chunk and returns all frames now complete, in arrival order.
// The chunk is fully buffered before any frame is cut.
func (r *Reassembler) Feed(chunk []byte) []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, chunk...)

	var out []Frame
	for len(r.buf) >= 1 {
		h := r.buf[0]
		n := int(h & lengthMask)
		if len(r.buf) < 1+n {
			break
		}
		raw := make([]byte, n)
		copy(raw, r.buf[1:1+n])
		out = append(out, Frame{Meta: h&metaFlag != 0, Raw: raw})
		r.buf = r.buf[1+n:]
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return out
}

// Buffered returns the bytes held for an incomplete frame.
func (r *Reassembler) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Reset drops any partial frame.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
}
