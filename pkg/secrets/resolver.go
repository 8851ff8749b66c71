// Package secrets resolves API keys from configuration or the secrets table.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"studybuddy/pkg/domain"
)

// ErrNotFound is returned when neither config nor the store has the secret.
var ErrNotFound = errors.New("secret not found")

// Source reads stored secrets.
type Source interface {
	GetSecret(name string) (domain.Secret, bool, error)
}

// Options tune the store lookup retry.
type Options struct {
	Attempts int
	Delay    time.Duration
	Logger   *slog.Logger
}

// Resolver looks a secret up in configured values first and then in the
// store, retrying store errors with doubling delay.
type Resolver struct {
	configured map[string]string
	source     Source
	attempts   int
	delay      time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewResolver builds a resolver. source may be nil when only configured
// values are available.
func NewResolver(configured map[string]string, source Source, opts Options) *Resolver {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Delay <= 0 {
		opts.Delay = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	values := make(map[string]string, len(configured))
	for k, v := range configured {
		if v = strings.TrimSpace(v); v != "" {
			values[k] = v
		}
	}
	return &Resolver{
		configured: values,
		source:     source,
		attempts:   opts.Attempts,
		delay:      opts.Delay,
		logger:     opts.Logger,
		sleep:      sleepContext,
	}
}

// Lookup returns the value of name.
func (r *Resolver) Lookup(ctx context.Context, name string) (string, error) {
	if v, ok := r.configured[name]; ok {
		return v, nil
	}
	if r.source == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	delay := r.delay
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("lookup %s: %w", name, err)
			}
			delay *= 2
		}
		secret, ok, err := r.source.GetSecret(name)
		if err == nil {
			if !ok || strings.TrimSpace(secret.Value) == "" {
				return "", fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			return strings.TrimSpace(secret.Value), nil
		}
		lastErr = err
		r.logger.Warn("secret lookup failed", "name", name, "attempt", attempt, "max_attempts", r.attempts, "error", err)
	}
	return "", fmt.Errorf("lookup %s after %d attempts: %w", name, r.attempts, lastErr)
}

// Optional returns "" instead of ErrNotFound so callers can disable a feature.
func (r *Resolver) Optional(ctx context.Context, name string) (string, error) {
	v, err := r.Lookup(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
