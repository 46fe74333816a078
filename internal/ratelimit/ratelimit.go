// Package ratelimit provides token-bucket admission control for
// outbound model calls. Limiters are shared per canonical model key so
// every review targeting the same model competes for one quota.
package ratelimit

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Limiter is a token-bucket rate limiter. The bucket refills
// continuously at rpm/60 tokens per second up to burst capacity.
// Refill and decrement happen in one critical section so concurrent
// callers never act on a stale count.
type Limiter struct {
	mu         sync.Mutex
	rpm        float64
	burst      float64
	tokens     float64
	lastUpdate time.Time
}

// NewLimiter creates a limiter allowing rpm requests per minute with
// the given burst capacity. A burst of 0 defaults to rpm. The bucket
// starts full.
func NewLimiter(rpm, burst int) *Limiter {
	if burst <= 0 {
		burst = rpm
	}
	return &Limiter{
		rpm:        float64(rpm),
		burst:      float64(burst),
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// refillLocked advances the bucket to now. Caller holds mu.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.tokens = math.Min(l.burst, l.tokens+elapsed*l.rpm/60.0)
	l.lastUpdate = now
}

// Acquire blocks until a token is available or timeout elapses,
// returning false on timeout. A false return means the request was
// not admitted and must not be sent.
func (l *Limiter) Acquire(timeout time.Duration) bool {
	start := time.Now()
	for {
		l.mu.Lock()
		l.refillLocked(time.Now())
		if l.tokens >= 1.0 {
			l.tokens--
			l.mu.Unlock()
			return true
		}
		needed := 1.0 - l.tokens
		wait := time.Duration(needed * 60.0 / l.rpm * float64(time.Second))
		l.mu.Unlock()

		if time.Since(start)+wait > timeout {
			return false
		}
		time.Sleep(wait)
	}
}

// TryAcquire takes a token if one is available, without blocking.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	if l.tokens >= 1.0 {
		l.tokens--
		return true
	}
	return false
}

// Available returns the current token count without consuming one.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	elapsed := time.Since(l.lastUpdate).Seconds()
	return math.Min(l.burst, l.tokens+elapsed*l.rpm/60.0)
}

// Tier-1 requests-per-minute limits by model prefix. Names are
// matched case-insensitively by longest known prefix so versioned
// variants (gemini-2.5-pro-001) share their base model's bucket.
var tier1Limits = map[string]int{
	"gemini-2.5-pro":        150,
	"gemini-2.5-flash":      1000,
	"gemini-2.0-flash":      2000,
	"gemini-2.0-flash-lite": 4000,
}

const (
	// DefaultTier is the only published quota tier.
	DefaultTier = "tier1"

	// DefaultRPM applies to any model with no matching prefix.
	DefaultRPM = 100

	// DefaultCanonicalKey groups every unknown model onto one shared
	// bucket so quota cannot be stretched by cosmetic name variants.
	DefaultCanonicalKey = "default_unknown_model"
)

// ResolveModel returns the rpm limit and canonical key for a model
// name within a tier. Only "tier1" is supported.
func ResolveModel(model, tier string) (int, string, error) {
	if tier != "tier1" {
		return 0, "", fmt.Errorf("unsupported tier: %s", tier)
	}

	lower := strings.ToLower(model)
	if rpm, ok := tier1Limits[lower]; ok {
		return rpm, lower, nil
	}

	// Longest prefix first so gemini-2.0-flash-lite wins over
	// gemini-2.0-flash.
	prefixes := make([]string, 0, len(tier1Limits))
	for p := range tier1Limits {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		return len(prefixes[i]) > len(prefixes[j])
	})
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return tier1Limits[p], p, nil
		}
	}

	return DefaultRPM, DefaultCanonicalKey, nil
}

// Registry hands out one shared limiter per canonical model key.
// Construct with NewRegistry and pass it to whatever owns the review
// pipeline; there is no package-level instance.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// ForModel returns the limiter shared by all callers targeting the
// same canonical model. Limiters are created on first use and live
// for the registry's lifetime; concurrent first access yields exactly
// one instance per key.
func (r *Registry) ForModel(model, tier string) (*Limiter, error) {
	rpm, canonical, err := ResolveModel(model, tier)
	if err != nil {
		return nil, err
	}
	key := tier + ":" + canonical

	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[key]
	if !ok {
		lim = NewLimiter(rpm, 0)
		r.limiters[key] = lim
	}
	return lim, nil
}

// Snapshot reports available tokens per registry key. Used by the
// daemon health endpoint.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.Lock()
	limiters := make(map[string]*Limiter, len(r.limiters))
	for k, l := range r.limiters {
		limiters[k] = l
	}
	r.mu.Unlock()

	// Available takes each limiter's own lock; the registry lock is
	// not held across those calls.
	snap := make(map[string]float64, len(limiters))
	for k, l := range limiters {
		snap[k] = l.Available()
	}
	return snap
}
