package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// sessionTTL matches the service default refresh lifetime.
const sessionTTL = 7 * 24 * time.Hour

type refreshBackend struct {
	name    string
	store   RefreshTokenStore
	advance func(time.Duration)
}

// refreshBackends returns a fresh memory store and a fresh miniredis store
// with a way to move each one's clock forward.
func refreshBackends(t *testing.T) []refreshBackend {
	t.Helper()
	mem := NewMemoryRefreshTokenStore()
	now := time.Now()
	mem.now = func() time.Time { return now }

	mr := miniredis.RunT(t)
	rs := NewRedisRefreshTokenStore(mr.Addr(), "")
	t.Cleanup(func() { _ = rs.client.Close() })

	return []refreshBackend{
		{"memory", mem, func(d time.Duration) { now = now.Add(d) }},
		{"redis", rs, mr.FastForward},
	}
}

func TestRefreshTokenStores(t *testing.T) {
	t.Run("rotation slides the session window", func(t *testing.T) {
		for _, b := range refreshBackends(t) {
			t.Run(b.name, func(t *testing.T) {
				tok, err := b.store.NewToken("student", sessionTTL)
				if err != nil {
					t.Fatalf("new token: %v", err)
				}
				// a student who opens the app every few days stays signed in
				for i := 0; i < 3; i++ {
					b.advance(5 * 24 * time.Hour)
					userID, next, err := b.store.RotateToken(tok, sessionTTL)
					if err != nil || userID != "student" || next == tok {
						t.Fatalf("rotation %d: user=%q err=%v", i, userID, err)
					}
					tok = next
				}
				b.advance(sessionTTL + time.Hour)
				if _, _, err := b.store.RotateToken(tok, sessionTTL); !errors.Is(err, ErrInvalidRefreshToken) {
					t.Fatalf("idle session should expire, got %v", err)
				}
			})
		}
	})

	t.Run("logout ends one device only", func(t *testing.T) {
		for _, b := range refreshBackends(t) {
			t.Run(b.name, func(t *testing.T) {
				laptop, err := b.store.NewToken("student", sessionTTL)
				if err != nil {
					t.Fatalf("laptop token: %v", err)
				}
				phone, err := b.store.NewToken("student", sessionTTL)
				if err != nil {
					t.Fatalf("phone token: %v", err)
				}
				if err := b.store.DeleteToken(laptop); err != nil {
					t.Fatalf("logout: %v", err)
				}
				if err := b.store.DeleteToken(laptop); err != nil {
					t.Fatalf("second logout must be a no-op: %v", err)
				}
				if _, _, err := b.store.RotateToken(laptop, sessionTTL); !errors.Is(err, ErrInvalidRefreshToken) {
					t.Fatalf("logged out device should be rejected, got %v", err)
				}
				if _, _, err := b.store.RotateToken(phone, sessionTTL); err != nil {
					t.Fatalf("other device must stay signed in: %v", err)
				}
			})
		}
	})

	t.Run("password change revokes every device of that user", func(t *testing.T) {
		for _, b := range refreshBackends(t) {
			t.Run(b.name, func(t *testing.T) {
				var mine []string
				for i := 0; i < 3; i++ {
					tok, err := b.store.NewToken("student", sessionTTL)
					if err != nil {
						t.Fatalf("new token: %v", err)
					}
					mine = append(mine, tok)
				}
				classmate, err := b.store.NewToken("classmate", sessionTTL)
				if err != nil {
					t.Fatalf("classmate token: %v", err)
				}
				if err := b.store.RevokeUserRefreshTokens("student"); err != nil {
					t.Fatalf("revoke: %v", err)
				}
				for i, tok := range mine {
					if _, _, err := b.store.RotateToken(tok, sessionTTL); !errors.Is(err, ErrInvalidRefreshToken) {
						t.Fatalf("device %d should be revoked, got %v", i, err)
					}
				}
				if userID, _, err := b.store.RotateToken(classmate, sessionTTL); err != nil || userID != "classmate" {
					t.Fatalf("another user's session must survive: %q %v", userID, err)
				}
			})
		}
	})

	t.Run("replayed token revokes the family", func(t *testing.T) {
		for _, b := range refreshBackends(t) {
			t.Run(b.name, func(t *testing.T) {
				stolen, err := b.store.NewToken("student", sessionTTL)
				if err != nil {
					t.Fatalf("new token: %v", err)
				}
				_, current, err := b.store.RotateToken(stolen, sessionTTL)
				if err != nil {
					t.Fatalf("rotate: %v", err)
				}
				if _, _, err := b.store.RotateToken(stolen, sessionTTL); !errors.Is(err, ErrRefreshTokenReplay) {
					t.Fatalf("expected replay, got %v", err)
				}
				if _, _, err := b.store.RotateToken(current, sessionTTL); !errors.Is(err, ErrInvalidRefreshToken) {
					t.Fatalf("legitimate token must die with the family, got %v", err)
				}
			})
		}
	})

	t.Run("racing refreshes leave one winner", func(t *testing.T) {
		for _, b := range refreshBackends(t) {
			t.Run(b.name, func(t *testing.T) {
				tok, err := b.store.NewToken("student", sessionTTL)
				if err != nil {
					t.Fatalf("new token: %v", err)
				}
				// two browser tabs refresh with the same token at once
				const tabs = 2
				var (
					wg     sync.WaitGroup
					mu     sync.Mutex
					issued []string
					errs   []error
				)
				start := make(chan struct{})
				for i := 0; i < tabs; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						_, next, err := b.store.RotateToken(tok, sessionTTL)
						mu.Lock()
						defer mu.Unlock()
						if err == nil {
							issued = append(issued, next)
						}
						errs = append(errs, err)
					}()
				}
				close(start)
				wg.Wait()

				replays := 0
				for _, err := range errs {
					switch {
					case err == nil:
					case errors.Is(err, ErrRefreshTokenReplay):
						replays++
					default:
						t.Fatalf("unexpected rotate error: %v", err)
					}
				}
				if len(issued) != 1 || replays != 1 {
					t.Fatalf("expected one winner and one replay, got %d winners %d replays", len(issued), replays)
				}
				if _, _, err := b.store.RotateToken(issued[0], sessionTTL); !errors.Is(err, ErrInvalidRefreshToken) {
					t.Fatalf("winner's token must be revoked after the replay, got %v", err)
				}
			})
		}
	})
}
