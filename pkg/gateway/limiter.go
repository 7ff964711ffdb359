package gateway

import (
	"context"
	"sync"
	"time"
)

// tokenBucket is a simple per-service rate limiter. Tokens refill
// continuously at rate per second up to the burst capacity.
type tokenBucket struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

func newTokenBucket(rate float64) *tokenBucket {
	burst := rate
	if burst < 1 {
		burst = 1
	}
	return &tokenBucket{
		rate:   rate,
		burst:  burst,
		tokens: burst,
		last:   time.Now(),
	}
}

// wait blocks until a token is available or ctx is done.
func (b *tokenBucket) wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.tokens += now.Sub(b.last).Seconds() * b.rate
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.last = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}

		deficit := 1 - b.tokens
		sleep := time.Duration(deficit / b.rate * float64(time.Second))
		b.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// limiterSet holds one bucket per service, created on demand.
type limiterSet struct {
	mu          sync.Mutex
	buckets     map[string]*tokenBucket
	defaultRate float64
	rates       map[string]float64
}

func newLimiterSet(defaultRate float64, rates map[string]float64) *limiterSet {
	return &limiterSet{
		buckets:     make(map[string]*tokenBucket),
		defaultRate: defaultRate,
		rates:       rates,
	}
}

func (s *limiterSet) wait(ctx context.Context, service string) error {
	s.mu.Lock()
	bucket, ok := s.buckets[service]
	if !ok {
		rate := s.defaultRate
		if r, ok := s.rates[service]; ok && r > 0 {
			rate = r
		}
		bucket = newTokenBucket(rate)
		s.buckets[service] = bucket
	}
	s.mu.Unlock()

	return bucket.wait(ctx)
}
