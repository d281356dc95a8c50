// Package ratelimit provides a token bucket used to model a host link of
// bounded baud rate (SPEC_FULL.md §4.A), adapted from the teacher's
// transfer-throttling bucket to pace single-byte ring drains instead of
// whole-file chunk sends.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket: tokens accrue at rate per second up to burst,
// and Allow consumes them.
type Bucket struct {
	rate       float64
	burst      int
	available  float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewBucket builds a Bucket starting full.
func NewBucket(rate float64, burst int) *Bucket {
	return &Bucket{rate: rate, burst: burst, available: float64(burst), lastRefill: time.Now()}
}

func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.available += elapsed * b.rate
	if b.available > float64(b.burst) {
		b.available = float64(b.burst)
	}
	b.lastRefill = now
}

// Allow consumes n tokens and reports success, without blocking.
func (b *Bucket) Allow(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	if b.available >= float64(n) {
		b.available -= float64(n)
		return true
	}
	return false
}
