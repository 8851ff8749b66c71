package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked token ids and per-user revocation cutoffs.
type TokenRevoker interface {
	Revoke(jti string, ttl time.Duration) error
	IsRevoked(jti string) (bool, error)
	// RevokeUser rejects all tokens of userID issued at or before cutoff.
	// The marker is kept for ttl, which must cover the longest token lifetime.
	RevokeUser(userID string, cutoff time.Time, ttl time.Duration) error
	RevokedAfter(userID string) (time.Time, error)
}

type expiringCutoff struct {
	cutoff  time.Time
	expires time.Time
}

// MemoryTokenRevoker keeps revocations in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu      sync.Mutex
	tokens  map[string]time.Time
	cutoffs map[string]expiringCutoff
	now     func() time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:  make(map[string]time.Time),
		cutoffs: make(map[string]expiringCutoff),
		now:     time.Now,
	}
}

func (r *MemoryTokenRevoker) Revoke(jti string, ttl time.Duration) error {
	if ttl <= 0 || jti == "" {
		return nil
	}
	r.mu.Lock()
	r.tokens[jti] = r.now().Add(ttl)
	r.mu.Unlock()
	return nil
}

func (r *MemoryTokenRevoker) IsRevoked(jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[jti]
	if !ok {
		return false, nil
	}
	if r.now().After(expiry) {
		delete(r.tokens, jti)
		return false, nil
	}
	return true, nil
}

func (r *MemoryTokenRevoker) RevokeUser(userID string, cutoff time.Time, ttl time.Duration) error {
	if userID == "" {
		return errors.New("user id required")
	}
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.cutoffs[userID]
	if ok && prev.cutoff.After(cutoff) {
		cutoff = prev.cutoff
	}
	r.cutoffs[userID] = expiringCutoff{cutoff: cutoff.UTC(), expires: r.now().Add(ttl)}
	return nil
}

func (r *MemoryTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cutoffs[userID]
	if !ok {
		return time.Time{}, nil
	}
	if r.now().After(entry.expires) {
		delete(r.cutoffs, userID)
		return time.Time{}, nil
	}
	return entry.cutoff, nil
}

// RedisTokenRevoker stores revocations in Redis with TTL so every instance
// sees them.
type RedisTokenRevoker struct {
	client *redis.Client
}

// NewRedisTokenRevoker builds a Redis-backed revoker.
func NewRedisTokenRevoker(addr, password string) *RedisTokenRevoker {
	return NewRedisTokenRevokerWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}))
}

// NewRedisTokenRevokerWithClient reuses an existing client.
func NewRedisTokenRevokerWithClient(client *redis.Client) *RedisTokenRevoker {
	return &RedisTokenRevoker{client: client}
}

func (r *RedisTokenRevoker) Revoke(jti string, ttl time.Duration) error {
	if ttl <= 0 || jti == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, "revoked:jti:"+jti, "1", ttl).Err()
}

func (r *RedisTokenRevoker) IsRevoked(jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	n, err := r.client.Exists(ctx, "revoked:jti:"+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// userCutoffScript only moves the cutoff forward.
var userCutoffScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

func (r *RedisTokenRevoker) RevokeUser(userID string, cutoff time.Time, ttl time.Duration) error {
	if userID == "" {
		return errors.New("user id required")
	}
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return userCutoffScript.Run(ctx, r.client,
		[]string{"revoked:user:" + userID},
		cutoff.UTC().UnixMilli(), ttl.Milliseconds(),
	).Err()
}

func (r *RedisTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, err := r.client.Get(ctx, "revoked:user:"+userID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
