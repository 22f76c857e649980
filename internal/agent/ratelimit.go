package agent

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ClientHeader carries the host page's client id. The page keeps one id
// per browser tab so reconnects and plain HTTP calls share a budget.
const ClientHeader = "X-Vade-Client"

// clientQueryParam carries the client id on websocket upgrades, where the
// browser cannot set headers.
const clientQueryParam = "client"

const maxClientIDLength = 64

// ClientIdentity returns the key turn starts from r are counted under: the
// remote host, narrowed to the host page's client id when one is sent.
func ClientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	id := strings.TrimSpace(r.Header.Get(ClientHeader))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get(clientQueryParam))
	}
	if id == "" {
		return host
	}
	if len(id) > maxClientIDLength {
		id = id[:maxClientIDLength]
	}
	return host + "/" + id
}

// RateLimiter caps how many turns one client may start per sliding window.
// A background sweeper forgets idle clients until Close is called.
type RateLimiter struct {
	mu     sync.Mutex
	starts map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRateLimiter creates a limiter admitting limit starts per window and
// starts its sweeper.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		starts: make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow records a start for key if the window has room. When it does not,
// it returns false and how long until the oldest start leaves the window.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := within(r.starts[key], now.Add(-r.window))
	if len(recent) >= r.limit {
		r.starts[key] = recent
		return false, recent[0].Add(r.window).Sub(now)
	}
	r.starts[key] = append(recent, now)
	return true, 0
}

// Clients returns how many clients have starts inside the window.
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

// Close stops the sweeper and waits for it to exit. It is safe to call
// more than once.
func (r *RateLimiter) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *RateLimiter) sweepLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *RateLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.window)
	for key, times := range r.starts {
		if fresh := within(times, cutoff); len(fresh) > 0 {
			r.starts[key] = fresh
		} else {
			delete(r.starts, key)
		}
	}
}

// within returns the suffix of times, oldest first, that is after cutoff.
func within(times []time.Time, cutoff time.Time) []time.Time {
	for i, t := range times {
		if t.After(cutoff) {
			return times[i:]
		}
	}
	return nil
}

func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
