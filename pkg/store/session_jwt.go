package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenRevoked is returned for tokens revoked by logout or password change.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenMalformed covers empty, unsigned or incomplete tokens.
	ErrTokenMalformed = errors.New("invalid token")
)

// JWTConfig configures the RS256 session store.
type JWTConfig struct {
	// PrivateKeyPath is the PEM signing key. When empty an ephemeral key is
	// generated, which only suits single-instance development setups.
	PrivateKeyPath string
	KeyID          string
	// VerifyKeyFiles maps kid to public key path for keys still accepted
	// after rotation.
	VerifyKeyFiles map[string]string
	TTL            time.Duration
	Issuer         string
	Audience       string
	Leeway         time.Duration
	Revoker        TokenRevoker
}

// JWTSessionStore issues and validates RS256 access tokens with kid/JWKS.
type JWTSessionStore struct {
	ttl       time.Duration
	revoker   TokenRevoker
	signer    *rsa.PrivateKey
	signerKid string
	verifiers map[string]*rsa.PublicKey
	issuer    string
	audience  string
	leeway    time.Duration
}

// NewJWTSessionStore builds the session store from config.
func NewJWTSessionStore(cfg JWTConfig) (*JWTSessionStore, error) {
	var (
		signer *rsa.PrivateKey
		err    error
	)
	if strings.TrimSpace(cfg.PrivateKeyPath) != "" {
		signer, err = loadRSAPrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt private key: %w", err)
		}
	} else {
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate jwt key: %w", err)
		}
	}
	kid := strings.TrimSpace(cfg.KeyID)
	if kid == "" {
		kid = "studybuddy-active"
	}
	verifiers := map[string]*rsa.PublicKey{kid: &signer.PublicKey}
	for k, path := range cfg.VerifyKeyFiles {
		k = strings.TrimSpace(k)
		path = strings.TrimSpace(path)
		if k == "" || path == "" || k == kid {
			continue
		}
		pub, err := loadRSAPublicKey(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", k, err)
		}
		verifiers[k] = pub
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "studybuddy"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "studybuddy-api"
	}
	return &JWTSessionStore{
		ttl:       ttl,
		revoker:   cfg.Revoker,
		signer:    signer,
		signerKid: kid,
		verifiers: verifiers,
		issuer:    issuer,
		audience:  audience,
		leeway:    leeway,
	}, nil
}

// TTL reports the access token lifetime.
func (s *JWTSessionStore) TTL() time.Duration {
	return s.ttl
}

// NewSession signs a token for the user.
func (s *JWTSessionStore) NewSession(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        randomHexID(12),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.signerKid
	return token.SignedString(s.signer)
}

// GetUserIDByToken validates a token and returns its subject.
func (s *JWTSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", false, err
	}
	if err := s.checkRevoked(claims); err != nil {
		return "", false, err
	}
	return claims.Subject, true, nil
}

// ExpiresAt returns the expiry of a valid token.
func (s *JWTSessionStore) ExpiresAt(token string) (time.Time, error) {
	claims, err := s.parse(token)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time.UTC(), nil
}

// DeleteSession revokes the token's jti until it would have expired.
// Invalid tokens are ignored.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time)+s.leeway)
}

// RevokeUserSessions rejects every token for the user issued at or before since.
func (s *JWTSessionStore) RevokeUserSessions(userID string, since time.Time) error {
	if s.revoker == nil {
		return nil
	}
	return s.revoker.RevokeUser(userID, since, s.ttl+s.leeway)
}

// JWKS returns the public keys accepted for verification.
func (s *JWTSessionStore) JWKS() []JWK {
	kids := make([]string, 0, len(s.verifiers))
	for kid := range s.verifiers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	out := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		pub := s.verifiers[kid]
		out = append(out, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: jwt.SigningMethodRS256.Alg(),
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}

func (s *JWTSessionStore) checkRevoked(claims jwt.RegisteredClaims) error {
	if s.revoker == nil {
		return nil
	}
	revoked, err := s.revoker.IsRevoked(claims.ID)
	if err != nil {
		return err
	}
	if revoked {
		return ErrTokenRevoked
	}
	cutoff, err := s.revoker.RevokedAfter(claims.Subject)
	if err != nil {
		return err
	}
	if !cutoff.IsZero() && !claims.IssuedAt.Time.After(cutoff) {
		return ErrTokenRevoked
	}
	return nil
}

func (s *JWTSessionStore) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrTokenMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := s.verifiers[strings.TrimSpace(kid)]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	if err != nil {
		return claims, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !parsed.Valid || claims.ID == "" || claims.Subject == "" || claims.IssuedAt == nil {
		return claims, ErrTokenMalformed
	}
	return claims, nil
}

func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return rsaKey, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if pubAny, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := pubAny.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not rsa")
		}
		return pub, nil
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate public key is not rsa")
		}
		return pub, nil
	}
	return nil, errors.New("failed to parse rsa public key")
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	return block, nil
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
