// internal/protocol/reassembler.go
package protocol

import (
	"encoding/binary"
	"sync"
)

// StreamReassembler rebuilds packets from a byte stream where each packet
// carries a 2-byte little-endian length prefix. The returned packets have the
// prefix removed, so they look the same as packets from USB or IP.
type StreamReassembler struct {
	mu  sync.Mutex
	buf []byte
}

// Feed appends a chunk and returns every packet now complete.
// The whole chunk is accumulated before anything is emitted.
func (s *StreamReassembler) Feed(chunk []byte) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, chunk...)

	var out [][]byte
	for len(s.buf) >= LengthPrefixSize {
		n := int(binary.LittleEndian.Uint16(s.buf[0:2]))
		if len(s.buf) < LengthPrefixSize+n {
			break
		}
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, s.buf[LengthPrefixSize:LengthPrefixSize+n])
			out = append(out, pkt)
		}
		s.buf = s.buf[LengthPrefixSize+n:]
	}

	// drop the consumed prefix so the backing array does not grow forever
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return out
}

// Buffered returns the number of bytes waiting for the rest of a packet.
func (s *StreamReassembler) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Reset discards any partial packet.
func (s *StreamReassembler) Reset() {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}
