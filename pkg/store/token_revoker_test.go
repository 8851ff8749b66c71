package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryTokenRevokerUserCutoffMonotonic(t *testing.T) {
	r := NewMemoryTokenRevoker()
	first := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	second := time.Now().UTC().Truncate(time.Millisecond)

	if err := r.RevokeUser("user-1", first, time.Hour); err != nil {
		t.Fatalf("revoke user first: %v", err)
	}
	if err := r.RevokeUser("user-1", first.Add(-time.Minute), time.Hour); err != nil {
		t.Fatalf("revoke user older cutoff: %v", err)
	}
	got, err := r.RevokedAfter("user-1")
	if err != nil {
		t.Fatalf("revoked after first: %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("expected first cutoff to be kept, got %v", got)
	}

	if err := r.RevokeUser("user-1", second, time.Hour); err != nil {
		t.Fatalf("revoke user second: %v", err)
	}
	got, _ = r.RevokedAfter("user-1")
	if !got.Equal(second) {
		t.Fatalf("expected newest cutoff, got %v", got)
	}
}

func TestMemoryTokenRevokerExpires(t *testing.T) {
	r := NewMemoryTokenRevoker()
	now := time.Now()
	r.now = func() time.Time { return now }

	_ = r.Revoke("jti-1", time.Minute)
	_ = r.RevokeUser("user-1", now, time.Minute)
	if revoked, _ := r.IsRevoked("jti-1"); !revoked {
		t.Fatalf("expected jti revoked")
	}

	now = now.Add(2 * time.Minute)
	if revoked, _ := r.IsRevoked("jti-1"); revoked {
		t.Fatalf("expected revocation to lapse")
	}
	if cutoff, _ := r.RevokedAfter("user-1"); !cutoff.IsZero() {
		t.Fatalf("expected user cutoff to lapse, got %v", cutoff)
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisTokenRevoker(mr.Addr(), "")

	if err := r.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, err := r.IsRevoked("jti-1"); err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}
	if revoked, _ := r.IsRevoked("jti-2"); revoked {
		t.Fatalf("unexpected revocation of unrelated jti")
	}

	newer := time.Now().UTC().Truncate(time.Millisecond)
	older := newer.Add(-time.Hour)
	if err := r.RevokeUser("user-1", newer, time.Hour); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if err := r.RevokeUser("user-1", older, time.Hour); err != nil {
		t.Fatalf("revoke user older: %v", err)
	}
	got, err := r.RevokedAfter("user-1")
	if err != nil {
		t.Fatalf("revoked after: %v", err)
	}
	if !got.Equal(newer) {
		t.Fatalf("expected cutoff %v, got %v", newer, got)
	}

	mr.FastForward(2 * time.Hour)
	if got, _ := r.RevokedAfter("user-1"); !got.IsZero() {
		t.Fatalf("expected cutoff to expire, got %v", got)
	}
}
