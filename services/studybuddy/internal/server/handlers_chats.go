package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gosimple/slug"

	"studybuddy/pkg/domain"
)

type createChatRequest struct {
	Title      string `json:"title" validate:"max=120"`
	DocumentID string `json:"documentId"`
}

type renameChatRequest struct {
	Title string `json:"title" validate:"required"`
}

type messageRequest struct {
	Content string `json:"content" validate:"required"`
}

type videosRequest struct {
	Query string `json:"query" validate:"max=200"`
}

// /api/chats
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		chats, err := s.app.ListChats(user, limit)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": chats,
			"count": len(chats),
		})
	case http.MethodPost:
		var req createChatRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !validateRequest(w, req) {
			return
		}
		chat, err := s.app.CreateChat(user, req.Title, req.DocumentID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, chat)
	default:
		methodNotAllowed(w)
	}
}

// /api/chats/{id}, /messages, /videos or /export
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/chats/"), "/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "messages":
			s.handleMessages(w, r, user, id)
		case "videos":
			s.handleVideos(w, r, user, id)
		case "export":
			s.handleExport(w, r, user, id)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		chat, err := s.app.GetChat(user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	case http.MethodPatch:
		var req renameChatRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !validateRequest(w, req) {
			return
		}
		chat, err := s.app.RenameChat(user, id, req.Title)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	case http.MethodDelete:
		if err := s.app.DeleteChat(user, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.app.GetTranscript(user, chatID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": msgs,
			"count": len(msgs),
		})
	case http.MethodPost:
		if !s.allowRate(w, r, s.chatLimiter, "chat.messages", "too many messages", user.ID) {
			return
		}
		s.extendDeadlines(w, r)
		var req messageRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req.Content = strings.TrimSpace(req.Content)
		if !validateRequest(w, req) {
			return
		}
		res, err := s.app.SendMessage(r.Context(), user, chatID, req.Content)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListVideoSuggestions(user, chatID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"count": len(items),
		})
	case http.MethodPost:
		if !s.allowRate(w, r, s.chatLimiter, "chat.videos", "too many requests", user.ID) {
			return
		}
		s.extendDeadlines(w, r)
		var req videosRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !validateRequest(w, req) {
			return
		}
		items, err := s.app.SuggestVideos(r.Context(), user, chatID, req.Query)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"count": len(items),
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	format := r.URL.Query().Get("format")
	body, contentType, err := s.app.ExportChat(user, chatID, format)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	ext := "md"
	if strings.HasPrefix(contentType, "text/html") {
		ext = "html"
	}
	name := "chat"
	if chat, err := s.app.GetChat(user, chatID); err == nil {
		if sl := slug.Make(chat.Title); sl != "" {
			name = sl
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"."+ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

