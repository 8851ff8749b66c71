package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"studybuddy/internal/util"
	"studybuddy/pkg/auth"
	"studybuddy/pkg/domain"
	"studybuddy/pkg/notify"
	"studybuddy/pkg/store"
)

// SessionInfo describes the caller's current session.
type SessionInfo struct {
	User            domain.User `json:"user"`
	ExpiresAt       time.Time   `json:"expiresAt,omitzero"`
	RefreshInterval string      `json:"refreshInterval"`
	RefreshSeconds  int         `json:"refreshIntervalSeconds"`
}

// SignUp registers a user and issues an access and a refresh token. The
// first account becomes admin.
func (a *App) SignUp(email, password string) (domain.User, string, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, "", "", ErrEmailAndPasswordRequired
	}
	if err := validateEmail(email); err != nil {
		return domain.User{}, "", "", err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", "", err
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", "", ErrEmailAlreadyExists
	}
	count, err := a.store.UserCount()
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("count users: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", "", err
	}
	role := domain.RoleUser
	if count == 0 {
		role = domain.RoleAdmin
	}
	now := a.now()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", "", fmt.Errorf("save user: %w", err)
	}
	return a.issueUserTokens(user)
}

// Login validates credentials and issues tokens.
func (a *App) Login(email, password string) (domain.User, string, string, error) {
	user, ok, err := a.store.GetUserByEmail(normalizeEmail(email))
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	if user.Status == domain.StatusDisabled {
		return domain.User{}, "", "", ErrUserDisabled
	}
	return a.issueUserTokens(user)
}

// UserFromToken resolves an active user from an access token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found || user.Status == domain.StatusDisabled {
		return domain.User{}, false
	}
	return user, true
}

// Session reports the current user, token expiry and the interval at which
// clients refresh.
func (a *App) Session(user domain.User, token string) SessionInfo {
	info := SessionInfo{
		User:            user,
		RefreshInterval: a.refreshInterval.String(),
		RefreshSeconds:  int(a.refreshInterval / time.Second),
	}
	if inspector, ok := a.sessions.(store.SessionInspector); ok {
		if exp, err := inspector.ExpiresAt(token); err == nil {
			info.ExpiresAt = exp
		}
	}
	return info
}

// Logout revokes the access token and, when given, the refresh token family.
func (a *App) Logout(user domain.User, accessToken, refreshToken string) error {
	if err := a.sessions.DeleteSession(accessToken); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken != "" {
		if err := a.refreshTokens.DeleteToken(refreshToken); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	a.notifier.Publish(user.ID, notify.Event{Type: notify.EventSignedOut, Message: "signed out"})
	return nil
}

// Refresh rotates the refresh token and issues a new pair.
func (a *App) Refresh(refreshToken string) (domain.User, string, string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.User{}, "", "", ErrRefreshTokenRequired
	}
	userID, next, err := a.refreshTokens.RotateToken(refreshToken, a.refreshTTL)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRefreshToken) || errors.Is(err, store.ErrRefreshTokenReplay) {
			return domain.User{}, "", "", ErrInvalidRefreshToken
		}
		return domain.User{}, "", "", fmt.Errorf("rotate refresh token: %w", err)
	}
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !found || user.Status == domain.StatusDisabled {
		_ = a.refreshTokens.DeleteToken(next)
		return domain.User{}, "", "", ErrInvalidRefreshToken
	}
	access, err := a.sessions.NewSession(user.ID)
	if err != nil {
		_ = a.refreshTokens.DeleteToken(next)
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	return user, access, next, nil
}

// UpdateEmail changes the caller's email address.
func (a *App) UpdateEmail(user domain.User, newEmail string) (domain.User, error) {
	email := normalizeEmail(newEmail)
	if email == "" {
		return domain.User{}, ErrEmailRequired
	}
	if err := validateEmail(email); err != nil {
		return domain.User{}, err
	}
	if email == user.Email {
		return user, nil
	}
	existing, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if ok && existing.ID != user.ID {
		return domain.User{}, ErrEmailAlreadyExists
	}
	user.Email = email
	user.UpdatedAt = a.now()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// ChangePassword verifies the current password, stores the new one and
// signs the user out everywhere.
func (a *App) ChangePassword(userID, currentPassword, newPassword string) error {
	if strings.TrimSpace(currentPassword) == "" {
		return ErrCurrentPasswordRequired
	}
	if strings.TrimSpace(newPassword) == "" {
		return ErrNewPasswordRequired
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	if user.Status == domain.StatusDisabled {
		return ErrUserDisabled
	}
	if !auth.CheckPassword(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if currentPassword == newPassword {
		return ErrPasswordUnchanged
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	revokeSince := a.now()
	user.PasswordHash = hash
	user.UpdatedAt = revokeSince
	if err := a.store.SaveUser(user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := a.revokeAllUserTokens(user.ID, revokeSince); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	a.notifier.Publish(user.ID, notify.Event{Type: notify.EventSignedOut, Message: "password changed"})
	return nil
}

// JWKS returns the public signing keys when the session store publishes any.
func (a *App) JWKS() []store.JWK {
	provider, ok := a.sessions.(store.JWKSProvider)
	if !ok {
		return nil
	}
	return provider.JWKS()
}

// Ping checks the database when the store supports it.
func (a *App) Ping(ctx context.Context) error {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (a *App) issueUserTokens(user domain.User) (domain.User, string, string, error) {
	access, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := a.refreshTokens.NewToken(user.ID, a.refreshTTL)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("issue refresh token: %w", err)
	}
	return user, access, refresh, nil
}

func (a *App) revokeAllUserTokens(userID string, since time.Time) error {
	revoker, ok := a.sessions.(store.UserSessionRevoker)
	if !ok {
		return errors.New("session store does not support user token revocation")
	}
	if err := revoker.RevokeUserSessions(userID, since); err != nil {
		return err
	}
	return a.refreshTokens.RevokeUserRefreshTokens(userID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}
