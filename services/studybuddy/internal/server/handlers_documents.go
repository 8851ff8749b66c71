package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"studybuddy/pkg/domain"
	"studybuddy/services/studybuddy/internal/app"
)

const (
	maxFilesPerUpload = 10
	multipartMemory   = 32 << 20
)

type quizRequest struct {
	Count            int    `json:"count" validate:"gte=0,lte=20"`
	Difficulty       string `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	TimeLimitMinutes int    `json:"timeLimitMinutes" validate:"gte=0,lte=60"`
}

type gradeRequest struct {
	Answers []int `json:"answers" validate:"required,min=1,dive,gte=0,lte=3"`
}

type profileRequest struct {
	Username *string `json:"username" validate:"omitempty,max=50"`
	FullName *string `json:"fullName" validate:"omitempty,max=100"`
	Bio      *string `json:"bio" validate:"omitempty,max=500"`
}

// /api/documents
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		docs, err := s.app.ListDocuments(user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": docs,
			"count": len(docs),
		})
	case http.MethodPost:
		s.handleUpload(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

// handleUpload accepts one or more "file" parts and an optional chatId.
// A single file answers with its result; several files answer with a
// per-file list.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.uploadLimiter, "documents.upload", "too many uploads", user.ID) {
		s.audit(r, "document.upload", "rate_limited", "user_id", user.ID)
		return
	}
	s.extendDeadlines(w, r)
	maxFile := s.app.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxFile*maxFilesPerUpload+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, app.ErrFileTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeAppError(w, r, app.ErrNoFiles)
		return
	}
	if len(headers) > maxFilesPerUpload {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", maxFilesPerUpload))
		return
	}
	files := make([]app.Upload, 0, len(headers))
	for _, fh := range headers {
		up, err := readUpload(fh, maxFile)
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read "+fh.Filename)
			return
		}
		files = append(files, up)
	}
	chatID := strings.TrimSpace(r.FormValue("chatId"))

	if len(files) == 1 {
		res, err := s.app.UploadDocument(r.Context(), user, files[0], chatID)
		if err != nil {
			s.audit(r, "document.upload", "fail", "user_id", user.ID, "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "document.upload", "success", "user_id", user.ID, "document_id", res.Document.ID)
		writeJSON(w, uploadStatus(res), res)
		return
	}

	outcomes, err := s.app.UploadDocuments(r.Context(), user, files, chatID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	succeeded := 0
	for _, o := range outcomes {
		if o.Err == nil {
			succeeded++
		}
	}
	s.audit(r, "document.upload", "success", "user_id", user.ID, "files", len(outcomes), "succeeded", succeeded)
	status := http.StatusCreated
	if succeeded == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{
		"items": outcomes,
		"count": len(outcomes),
	})
}

// uploadStatus is 202 while analysis is still queued.
func uploadStatus(res app.UploadResult) int {
	if res.JobID != "" {
		return http.StatusAccepted
	}
	return http.StatusCreated
}

// readUpload reads at most limit+1 bytes so oversized files are rejected by
// the size check rather than buffered whole.
func readUpload(fh *multipart.FileHeader, limit int64) (app.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return app.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return app.Upload{}, err
	}
	return app.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// /api/documents/{id}, /url, /quiz or /quiz/grade
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch rest := strings.Join(parts[1:], "/"); rest {
	case "":
	case "url":
		s.handleDocumentURL(w, r, user, id)
		return
	case "quiz":
		s.handleQuiz(w, r, user, id)
		return
	case "quiz/grade":
		s.handleGradeQuiz(w, r, user, id)
		return
	default:
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.GetDocument(user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), user, id); err != nil {
			s.audit(r, "document.delete", "fail", "user_id", user.ID, "document_id", id, "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "document.delete", "success", "user_id", user.ID, "document_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDocumentURL(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	u, err := s.app.DocumentURL(r.Context(), user, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		quiz, err := s.app.GetQuiz(user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, quiz)
	case http.MethodPost:
		s.extendDeadlines(w, r)
		var req quizRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !validateRequest(w, req) {
			return
		}
		quiz, err := s.app.GenerateQuiz(r.Context(), user, id, app.QuizOptions{
			Count:            req.Count,
			Difficulty:       domain.QuizDifficulty(req.Difficulty),
			TimeLimitMinutes: req.TimeLimitMinutes,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, quiz)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleGradeQuiz(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req gradeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validateRequest(w, req) {
		return
	}
	grade, err := s.app.GradeQuiz(user, id, req.Answers)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grade)
}

// /api/profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		p, err := s.app.GetProfile(user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPatch:
		var req profileRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !validateRequest(w, req) {
			return
		}
		p, err := s.app.UpdateProfile(user, app.ProfileUpdate{
			Username: req.Username,
			FullName: req.FullName,
			Bio:      req.Bio,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.uploadLimiter, "profile.avatar", "too many uploads", user.ID) {
		return
	}
	s.extendDeadlines(w, r)
	maxFile := s.app.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxFile+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	f, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	_ = f.Close()
	up, err := readUpload(fh, maxFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read "+fh.Filename)
		return
	}
	p, err := s.app.UploadAvatar(r.Context(), user, up)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
