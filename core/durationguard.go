package voicesession

import (
	"sync"
	"time"
)

// durationGuard is a coarse 1-second-resolution safeguard against runaway
// sessions, not a billing timer. It fires onExpired at most once per start.
type durationGuard struct {
	maxDuration time.Duration
	tick        time.Duration
	onExpired   func()

	mu      sync.Mutex
	running bool
	stopped bool
	stop    chan struct{}
}

func newDurationGuard(maxDuration time.Duration, onExpired func()) *durationGuard {
	return &durationGuard{
		maxDuration: maxDuration,
		tick:        time.Second,
		onExpired:   onExpired,
	}
}

func (g *durationGuard) Start(startedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running || g.stopped || g.maxDuration <= 0 {
		return
	}

	g.running = true
	stop := make(chan struct{})
	g.stop = stop

	go g.watch(startedAt, stop)
}

// Stop cancels the countdown, permanently: a guard stopped before Start never
// starts. Idempotent and safe to call from the expiry callback itself.
func (g *durationGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	if !g.running {
		return
	}

	g.running = false
	close(g.stop)
}

func (g *durationGuard) watch(startedAt time.Time, stop chan struct{}) {
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if now.Sub(startedAt) >= g.maxDuration {
				g.onExpired()
				return
			}
		}
	}
}
