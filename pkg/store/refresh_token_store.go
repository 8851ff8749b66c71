package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidRefreshToken indicates the token is unknown, revoked or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay indicates an already rotated token was presented again.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshTokenStore persists refresh token families. Every rotation replaces
// the current token of the family; presenting an older one revokes the family.
type RefreshTokenStore interface {
	NewToken(userID string, ttl time.Duration) (string, error)
	RotateToken(token string, ttl time.Duration) (userID string, newToken string, err error)
	DeleteToken(token string) error
	RevokeUserRefreshTokens(userID string) error
}

type family struct {
	userID  string
	current string
	hashes  []string
	expires time.Time
}

// MemoryRefreshTokenStore keeps refresh token families in memory.
type MemoryRefreshTokenStore struct {
	mu       sync.Mutex
	families map[string]*family
	byHash   map[string]string
	byUser   map[string]map[string]struct{}
	now      func() time.Time
}

// NewMemoryRefreshTokenStore constructs an in-memory refresh token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		families: make(map[string]*family),
		byHash:   make(map[string]string),
		byUser:   make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

func (s *MemoryRefreshTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomToken(16)
	if err != nil {
		return "", err
	}
	hash := refreshTokenHash(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.families[familyID] = &family{
		userID:  userID,
		current: hash,
		hashes:  []string{hash},
		expires: s.now().Add(ttl),
	}
	s.byHash[hash] = familyID
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]struct{})
	}
	s.byUser[userID][familyID] = struct{}{}
	return token, nil
}

func (s *MemoryRefreshTokenStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	hash := refreshTokenHash(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	familyID, ok := s.byHash[hash]
	if !ok {
		return "", "", ErrInvalidRefreshToken
	}
	fam := s.families[familyID]
	if fam == nil || s.now().After(fam.expires) {
		s.dropFamilyLocked(familyID)
		return "", "", ErrInvalidRefreshToken
	}
	if fam.current != hash {
		s.dropFamilyLocked(familyID)
		return "", "", ErrRefreshTokenReplay
	}
	next, err := randomToken(32)
	if err != nil {
		return "", "", err
	}
	nextHash := refreshTokenHash(next)
	fam.current = nextHash
	fam.hashes = append(fam.hashes, nextHash)
	fam.expires = s.now().Add(ttl)
	s.byHash[nextHash] = familyID
	return fam.userID, next, nil
}

func (s *MemoryRefreshTokenStore) DeleteToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if familyID, ok := s.byHash[refreshTokenHash(token)]; ok {
		s.dropFamilyLocked(familyID)
	}
	return nil
}

func (s *MemoryRefreshTokenStore) RevokeUserRefreshTokens(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for familyID := range s.byUser[userID] {
		s.dropFamilyLocked(familyID)
	}
	return nil
}

func (s *MemoryRefreshTokenStore) dropFamilyLocked(familyID string) {
	fam, ok := s.families[familyID]
	if !ok {
		return
	}
	for _, h := range fam.hashes {
		delete(s.byHash, h)
	}
	delete(s.families, familyID)
	if fams := s.byUser[fam.userID]; fams != nil {
		delete(fams, familyID)
		if len(fams) == 0 {
			delete(s.byUser, fam.userID)
		}
	}
}

// RedisRefreshTokenStore stores refresh token families in Redis.
//
// Keys:
//
//	refresh:token:{hash}          -> family id
//	refresh:family:{id}           -> hash {userId, currentHash}
//	refresh:family_tokens:{id}    -> set of hashes issued in the family
//	refresh:user_families:{user}  -> set of family ids
type RedisRefreshTokenStore struct {
	client *redis.Client
}

// NewRedisRefreshTokenStore builds a Redis-backed refresh token store.
func NewRedisRefreshTokenStore(addr, password string) *RedisRefreshTokenStore {
	return NewRedisRefreshTokenStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}))
}

// NewRedisRefreshTokenStoreWithClient reuses an existing client.
func NewRedisRefreshTokenStoreWithClient(client *redis.Client) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{client: client}
}

func (s *RedisRefreshTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomToken(16)
	if err != nil {
		return "", err
	}
	hash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKey(hash), familyID, ttl)
	pipe.HSet(ctx, familyKey(familyID), "userId", userID, "currentHash", hash)
	pipe.Expire(ctx, familyKey(familyID), ttl)
	pipe.SAdd(ctx, familyTokensKey(familyID), hash)
	pipe.Expire(ctx, familyTokensKey(familyID), ttl)
	pipe.SAdd(ctx, userFamiliesKey(userID), familyID)
	pipe.Expire(ctx, userFamiliesKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// rotateScript swaps the current hash only if the presented one is current.
// Returns 1 on success, -1 when the family is gone, -2 on replay.
var rotateScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "currentHash")
if not current then
  return -1
end
if current ~= ARGV[1] then
  return -2
end
redis.call("HSET", KEYS[1], "currentHash", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
redis.call("SET", KEYS[2], ARGV[3], "PX", ARGV[4])
redis.call("SADD", KEYS[3], ARGV[2])
redis.call("PEXPIRE", KEYS[3], ARGV[4])
return 1
`)

func (s *RedisRefreshTokenStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	hash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	familyID, err := s.client.Get(ctx, tokenKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", ErrInvalidRefreshToken
	}
	if err != nil {
		return "", "", err
	}
	userID, err := s.client.HGet(ctx, familyKey(familyID), "userId").Result()
	if errors.Is(err, redis.Nil) {
		_ = s.dropFamily(ctx, familyID, "")
		return "", "", ErrInvalidRefreshToken
	}
	if err != nil {
		return "", "", err
	}

	next, err := randomToken(32)
	if err != nil {
		return "", "", err
	}
	nextHash := refreshTokenHash(next)
	code, err := rotateScript.Run(ctx, s.client,
		[]string{familyKey(familyID), tokenKey(nextHash), familyTokensKey(familyID)},
		hash, nextHash, familyID, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return "", "", err
	}
	switch code {
	case 1:
		if err := s.client.Expire(ctx, userFamiliesKey(userID), ttl).Err(); err != nil {
			return "", "", err
		}
		return userID, next, nil
	case -2:
		_ = s.dropFamily(ctx, familyID, userID)
		return "", "", ErrRefreshTokenReplay
	default:
		_ = s.dropFamily(ctx, familyID, userID)
		return "", "", ErrInvalidRefreshToken
	}
}

func (s *RedisRefreshTokenStore) DeleteToken(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	familyID, err := s.client.Get(ctx, tokenKey(refreshTokenHash(token))).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.dropFamily(ctx, familyID, "")
}

func (s *RedisRefreshTokenStore) RevokeUserRefreshTokens(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	familyIDs, err := s.client.SMembers(ctx, userFamiliesKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, familyID := range familyIDs {
		if err := s.dropFamily(ctx, familyID, userID); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, userFamiliesKey(userID)).Err()
}

func (s *RedisRefreshTokenStore) dropFamily(ctx context.Context, familyID, userID string) error {
	if userID == "" {
		v, err := s.client.HGet(ctx, familyKey(familyID), "userId").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		userID = v
	}
	hashes, err := s.client.SMembers(ctx, familyTokensKey(familyID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, h := range hashes {
		pipe.Del(ctx, tokenKey(h))
	}
	pipe.Del(ctx, familyTokensKey(familyID), familyKey(familyID))
	if userID != "" {
		pipe.SRem(ctx, userFamiliesKey(userID), familyID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func randomToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenKey(hash string) string          { return "refresh:token:" + hash }
func familyKey(id string) string           { return "refresh:family:" + id }
func familyTokensKey(id string) string     { return "refresh:family_tokens:" + id }
func userFamiliesKey(userID string) string { return "refresh:user_families:" + userID }
