// Package ratelimit implements the append pipeline's per-project token
// bucket. Grounded on the
// teacher's internal/api/client.go, which constructs
// rate.NewLimiter(rate.Limit(2), 50) and blocks on limiter.Wait(ctx).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

// Registry holds one bucket per project name, created on first use.
type Registry struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	count    int
	window   time.Duration
}

type bucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	times   []time.Time // rolling window of recent grants, for retry_after
}

// New returns a Registry enforcing at most count appends per rolling
// window seconds, per project.
func New(count int, window time.Duration) *Registry {
	if count <= 0 {
		count = 1
	}
	return &Registry{
		buckets: make(map[string]*bucket),
		count:   count,
		window:  window,
	}
}

func (r *Registry) bucketFor(project string) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[project]
	if !ok {
		// burst == count: at most N in the rolling window.
		b = &bucket{limiter: rate.NewLimiter(rate.Every(r.window/time.Duration(r.count)), r.count)}
		r.buckets[project] = b
	}
	return b
}

// Allow reports whether project may append now. On denial it returns a
// RateLimitExceeded error carrying retry_after_seconds.
func (r *Registry) Allow(project string) error {
	b := r.bucketFor(project)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.trim(now, r.window)
	if len(b.times) < r.count && b.limiter.AllowN(now, 1) {
		b.times = append(b.times, now)
		return nil
	}

	retryAfter := r.window
	if len(b.times) > 0 {
		oldest := b.times[0]
		retryAfter = r.window - now.Sub(oldest)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
	}
	return scribeerr.New(scribeerr.KindRateLimitExceeded, "rate limit exceeded for project "+project).
		WithDetails(map[string]any{"retry_after_seconds": int(retryAfter.Seconds())})
}

func (b *bucket) trim(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(b.times) && b.times[i].Before(cutoff) {
		i++
	}
	b.times = b.times[i:]
}
