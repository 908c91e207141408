// internal/connection/pending.go
package connection

import (
	"sync"
	"time"

	"github.com/tamzrod/brickbridge/internal/protocol"
)

// pendingTable holds transmitted requests awaiting a reply, bucketed by
// command code in send order.
type pendingTable struct {
	mu     sync.Mutex
	byCode map[protocol.Command][]*protocol.Request
}

func newPendingTable() *pendingTable {
	return &pendingTable{byCode: make(map[protocol.Command][]*protocol.Request)}
}

func (p *pendingTable) add(r *protocol.Request) {
	p.mu.Lock()
	p.byCode[r.Code] = append(p.byCode[r.Code], r)
	p.mu.Unlock()
}

// match drops every expired or already finished entry in every bucket, then
// removes and returns the oldest live entry for code (nil if none).
// Expired entries are returned so the caller can fail them.
func (p *pendingTable) match(code protocol.Command, now time.Time) (*protocol.Request, []*protocol.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []*protocol.Request
	for c, bucket := range p.byCode {
		live := bucket[:0]
		for _, r := range bucket {
			switch {
			case r.Finished():
			case r.Expired(now):
				evicted = append(evicted, r)
			default:
				live = append(live, r)
			}
		}
		for i := len(live); i < len(bucket); i++ {
			bucket[i] = nil
		}
		if len(live) == 0 {
			delete(p.byCode, c)
		} else {
			p.byCode[c] = live
		}
	}

	bucket := p.byCode[code]
	if len(bucket) == 0 {
		return nil, evicted
	}
	head := bucket[0]
	bucket[0] = nil
	if len(bucket) == 1 {
		delete(p.byCode, code)
	} else {
		p.byCode[code] = bucket[1:]
	}
	return head, evicted
}

// live counts entries that are neither finished nor past their deadline.
func (p *pendingTable) live(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, bucket := range p.byCode {
		for _, r := range bucket {
			if !r.Finished() && !r.Expired(now) {
				n++
			}
		}
	}
	return n
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, bucket := range p.byCode {
		n += len(bucket)
	}
	return n
}

// drain empties the table and returns everything it held.
func (p *pendingTable) drain() []*protocol.Request {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*protocol.Request
	for c, bucket := range p.byCode {
		out = append(out, bucket...)
		delete(p.byCode, c)
	}
	return out
}

// outbound is the FIFO of requests waiting for the send worker.
type outbound struct {
	mu    sync.Mutex
	items []*protocol.Request
	wake  chan struct{}
}

func newOutbound() *outbound {
	return &outbound{wake: make(chan struct{}, 1)}
}

func (q *outbound) push(r *protocol.Request) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *outbound) pop() (*protocol.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return r, true
}

func (q *outbound) drain() []*protocol.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}
