package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"studybuddy/pkg/domain"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type updateMeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

type authResponse struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	User         domain.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "signup", "too many signup attempts") {
		s.audit(r, "auth.signup", "rate_limited")
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		s.audit(r, "auth.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !validateRequest(w, req) {
		s.audit(r, "auth.signup", "fail", "reason", "invalid_request")
		return
	}
	user, accessToken, refreshToken, err := s.app.SignUp(req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.signup", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "login", "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validateRequest(w, req) {
		s.audit(r, "auth.login", "fail", "reason", "invalid_request")
		return
	}
	user, accessToken, refreshToken, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.refreshLimiter, "refresh", "too many refresh attempts") {
		s.audit(r, "auth.refresh", "rate_limited")
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		s.audit(r, "auth.refresh", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if !validateRequest(w, req) {
		s.audit(r, "auth.refresh", "fail", "reason", "missing_refresh_token")
		return
	}
	user, accessToken, refreshToken, err := s.app.Refresh(req.RefreshToken)
	if err != nil {
		s.audit(r, "auth.refresh", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.refresh", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req logoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.audit(r, "auth.logout", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, _ := bearerToken(r)
	if err := s.app.Logout(user, token, req.RefreshToken); err != nil {
		s.audit(r, "auth.logout", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.logout", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token, _ := bearerToken(r)
	writeJSON(w, http.StatusOK, s.app.Session(user, token))
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.app.JWKS()})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateMeRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if !validateRequest(w, req) {
			return
		}
		updated, err := s.app.UpdateEmail(user, req.Email)
		if err != nil {
			s.audit(r, "user.email.update", "fail", "user_id", user.ID, "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "user.email.update", "success", "user_id", user.ID)
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "password", "too many password change attempts", user.ID) {
		s.audit(r, "user.password.change", "rate_limited", "user_id", user.ID)
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validateRequest(w, req) {
		return
	}
	if err := s.app.ChangePassword(user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.audit(r, "user.password.change", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "user.password.change", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}
