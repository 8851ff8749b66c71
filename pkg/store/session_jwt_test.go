package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestJWTSessionStoreRoundTripAndJWKS(t *testing.T) {
	privatePath, _ := writeRSAKeyPair(t, "active")
	s, err := NewJWTSessionStore(JWTConfig{
		PrivateKeyPath: privatePath,
		KeyID:          "kid-active",
		TTL:            time.Minute,
		Revoker:        NewMemoryTokenRevoker(),
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok || userID != "user-1" {
		t.Fatalf("unexpected verify result: ok=%v userID=%q err=%v", ok, userID, err)
	}
	exp, err := s.ExpiresAt(token)
	if err != nil {
		t.Fatalf("expires at: %v", err)
	}
	if d := time.Until(exp); d <= 0 || d > time.Minute+time.Second {
		t.Fatalf("unexpected expiry distance: %v", d)
	}

	keys := s.JWKS()
	if len(keys) != 1 || keys[0].Kid != "kid-active" {
		t.Fatalf("unexpected jwks: %+v", keys)
	}
	if keys[0].Kty != "RSA" || keys[0].Alg != "RS256" || keys[0].N == "" || keys[0].E == "" {
		t.Fatalf("unexpected jwk fields: %+v", keys[0])
	}
}

func TestJWTSessionStoreEphemeralKey(t *testing.T) {
	s, err := NewJWTSessionStore(JWTConfig{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := s.NewSession("user-eph")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err != nil || !ok {
		t.Fatalf("expected token to verify, ok=%v err=%v", ok, err)
	}
	if s.TTL() != 15*time.Minute {
		t.Fatalf("expected default ttl, got %v", s.TTL())
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	privatePath, _ := writeRSAKeyPair(t, "aud")
	signing := newTestSessionStore(t, JWTConfig{PrivateKeyPath: privatePath, Audience: "aud-a"})
	verify := newTestSessionStore(t, JWTConfig{PrivateKeyPath: privatePath, Audience: "aud-b"})

	token, err := signing.NewSession("user-claim")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected audience mismatch to fail, got %v", err)
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	s := newTestSessionStore(t, JWTConfig{Revoker: NewMemoryTokenRevoker()})
	token, err := s.NewSession("user-revoke")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	s := newTestSessionStore(t, JWTConfig{Revoker: NewMemoryTokenRevoker()})
	token, err := s.NewSession("user-cutoff")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	other, err := s.NewSession("user-other")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions("user-cutoff", time.Now().UTC()); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected user-revoked token to fail, ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.GetUserIDByToken(other); err != nil || !ok {
		t.Fatalf("other user must stay signed in, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreVerifiesPreviousKeyDuringRotation(t *testing.T) {
	oldPrivate, oldPublic := writeRSAKeyPair(t, "old")
	newPrivate, _ := writeRSAKeyPair(t, "new")

	oldStore := newTestSessionStore(t, JWTConfig{PrivateKeyPath: oldPrivate, KeyID: "kid-old"})
	oldToken, err := oldStore.NewSession("user-2")
	if err != nil {
		t.Fatalf("old token: %v", err)
	}

	rotated := newTestSessionStore(t, JWTConfig{
		PrivateKeyPath: newPrivate,
		KeyID:          "kid-new",
		VerifyKeyFiles: map[string]string{"kid-old": oldPublic},
	})
	userID, ok, err := rotated.GetUserIDByToken(oldToken)
	if err != nil || !ok || userID != "user-2" {
		t.Fatalf("unexpected verify result: ok=%v userID=%q err=%v", ok, userID, err)
	}
	if keys := rotated.JWKS(); len(keys) != 2 {
		t.Fatalf("expected 2 jwks entries, got %d", len(keys))
	}

	unrotated := newTestSessionStore(t, JWTConfig{PrivateKeyPath: newPrivate, KeyID: "kid-new"})
	if _, _, err := unrotated.GetUserIDByToken(oldToken); err == nil {
		t.Fatalf("expected error for unknown kid")
	}
}

func TestJWTSessionStoreRejectsIncompleteClaims(t *testing.T) {
	privatePath, _ := writeRSAKeyPair(t, "claims")
	s := newTestSessionStore(t, JWTConfig{PrivateKeyPath: privatePath, KeyID: "kid"})
	key, err := loadRSAPrivateKey(privatePath)
	if err != nil {
		t.Fatalf("load private key: %v", err)
	}
	now := time.Now().UTC()
	base := jwt.RegisteredClaims{
		Subject:   "user-x",
		Issuer:    "studybuddy",
		Audience:  jwt.ClaimStrings{"studybuddy-api"},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		ID:        "jti-1",
	}

	cases := map[string]struct {
		mutate func(*jwt.RegisteredClaims)
		kid    string
	}{
		"missing jti":   {mutate: func(c *jwt.RegisteredClaims) { c.ID = "" }, kid: "kid"},
		"missing kid":   {mutate: func(*jwt.RegisteredClaims) {}, kid: ""},
		"future iat":    {mutate: func(c *jwt.RegisteredClaims) { c.IssuedAt = jwt.NewNumericDate(now.Add(2 * time.Minute)) }, kid: "kid"},
		"wrong issuer":  {mutate: func(c *jwt.RegisteredClaims) { c.Issuer = "someone-else" }, kid: "kid"},
		"missing exp":   {mutate: func(c *jwt.RegisteredClaims) { c.ExpiresAt = nil }, kid: "kid"},
		"empty subject": {mutate: func(c *jwt.RegisteredClaims) { c.Subject = "" }, kid: "kid"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			claims := base
			tc.mutate(&claims)
			token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
			if tc.kid != "" {
				token.Header["kid"] = tc.kid
			}
			signed, err := token.SignedString(key)
			if err != nil {
				t.Fatalf("sign token: %v", err)
			}
			if _, _, err := s.GetUserIDByToken(signed); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}

func writeRSAKeyPair(t *testing.T, prefix string) (string, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	dir := t.TempDir()
	privatePath := filepath.Join(dir, prefix+"-private.pem")
	publicPath := filepath.Join(dir, prefix+"-public.pem")

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}

func newTestSessionStore(t *testing.T, cfg JWTConfig) *JWTSessionStore {
	t.Helper()
	if cfg.TTL == 0 {
		cfg.TTL = time.Minute
	}
	s, err := NewJWTSessionStore(cfg)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s
}
