// internal/poller/runner.go
package poller

import (
	"context"
	"time"
)

// Run polls at the brick-controlled interval until ctx ends, re-issuing
// immediately while data remains. Results go to out when it is non-nil.
// One goroutine per device. No overlap.
//
// A polling change cuts the current wait short, so a shorter interval or a
// disable takes effect at once.
func (p *Poller) Run(ctx context.Context, out chan<- PollResult) {
	for {
		if ctx.Err() != nil {
			return
		}

		p.mu.Lock()
		enabled := p.polling.Enabled
		lim := p.limiter
		p.mu.Unlock()

		if !enabled {
			select {
			case <-ctx.Done():
				return
			case <-p.changed:
				continue
			}
		}

		r := lim.Reserve()
		if delay := r.Delay(); delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				r.Cancel()
				return
			case <-p.changed:
				t.Stop()
				r.Cancel()
				continue
			case <-t.C:
			}
		}
		p.drain(ctx, out)
	}
}
