package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const defaultLocalKeys = 10000

// LocalLimiter is a per-process token bucket per key, used when no Redis is
// configured. The least recently seen keys are forgotten once maxKeys is
// reached.
type LocalLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
}

// NewLocalLimiter allows limit requests per window with a burst of limit.
func NewLocalLimiter(limit int, window time.Duration, maxKeys int) (*LocalLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if maxKeys <= 0 {
		maxKeys = defaultLocalKeys
	}
	buckets, err := lru.New[string, *rate.Limiter](maxKeys)
	if err != nil {
		return nil, err
	}
	return &LocalLimiter{
		every:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
		buckets: buckets,
	}, nil
}

func (l *LocalLimiter) Allow(_ context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	l.mu.Lock()
	bucket, ok := l.buckets.Get(key)
	if !ok {
		bucket = rate.NewLimiter(l.every, l.burst)
		l.buckets.Add(key, bucket)
	}
	l.mu.Unlock()
	return bucket.Allow()
}
