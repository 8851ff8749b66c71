package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"studybuddy/pkg/ai"
	"studybuddy/pkg/auth"
	"studybuddy/pkg/domain"
	"studybuddy/pkg/notify"
	"studybuddy/pkg/storage"
	"studybuddy/pkg/store"
	"studybuddy/services/studybuddy/internal/app"
)

const testPassword = "Str0ng!Password"

type testServer struct {
	url string
	hub *notify.Hub
	app *app.App
}

type testSetup struct {
	mutate       func(*Config)
	generator    ai.TextGenerator
	writeTimeout time.Duration
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	return newTestServerWith(t, testSetup{mutate: mutate})
}

func newTestServerWith(t *testing.T, setup testSetup) *testServer {
	t.Helper()
	gen := setup.generator
	if gen == nil {
		gen = ai.GeneratorFunc(func(context.Context, string, string) (string, error) {
			return "Photosynthesis converts light to chemical energy", nil
		})
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", strings.ReplaceAll(t.Name(), "/", "_"))
	st, err := store.OpenGormStore(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sqlDB, err := st.DB().DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	sessions, err := store.NewJWTSessionStore(store.JWTConfig{TTL: time.Hour, Revoker: store.NewMemoryTokenRevoker()})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	hub := notify.NewHub(nil, nil)
	a, err := app.New(app.Config{
		Store:         st,
		Sessions:      sessions,
		RefreshTokens: store.NewMemoryRefreshTokenStore(),
		Objects:       storage.NewMemoryStore("http://objects.test"),
		Generator:     gen,
		OCR:           unusedOCR{},
		Notifier:      hub,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{App: a, Hub: hub}
	if setup.mutate != nil {
		setup.mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewUnstartedServer(srv.Router())
	ts.Config.WriteTimeout = setup.writeTimeout
	ts.Start()
	t.Cleanup(ts.Close)
	return &testServer{url: ts.URL, hub: hub, app: a}
}

type unusedOCR struct{}

func (unusedOCR) ExtractText(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("ocr not expected")
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.url+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) signUp(t *testing.T, email string) string {
	t.Helper()
	var resp authResponse
	status := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    email,
		"password": testPassword,
	}, &resp)
	if status != http.StatusCreated || resp.Token == "" {
		t.Fatalf("signup: status %d", status)
	}
	return resp.Token
}

type testFile struct {
	name string
	data string
}

func (ts *testServer) upload(t *testing.T, token, chatID string, files ...testFile) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := mw.CreateFormFile("file", f.name)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write([]byte(f.data))
	}
	if chatID != "" {
		_ = mw.WriteField("chatId", chatID)
	}
	_ = mw.Close()
	req, _ := http.NewRequest(http.MethodPost, ts.url+"/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	var body map[string]string
	if status := ts.do(t, http.MethodGet, "/healthz", "", nil, &body); status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health %d %v", status, body)
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ts := newTestServer(t, func(c *Config) {
		c.Redis = rdb
		c.LoginRateLimitPerMinute = 1
	})

	creds := map[string]string{"email": "nobody@example.com", "password": "wrong"}
	if status := ts.do(t, http.MethodPost, "/api/auth/login", "", creds, nil); status != http.StatusUnauthorized {
		t.Fatalf("first request expected 401, got %d", status)
	}
	req, _ := http.NewRequest(http.MethodPost, ts.url+"/api/auth/login", strings.NewReader(`{"email":"nobody@example.com","password":"wrong"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After header")
	}

	counted := false
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "studybuddy:alerts:auth.login:fail:") {
			counted = true
		}
	}
	if !counted {
		t.Fatalf("failed login should be counted for alerting, keys: %v", mr.Keys())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/api/documents", "/api/chats", "/api/profile", "/api/users/me", "/api/auth/session"} {
		if status := ts.do(t, http.MethodGet, path, "", nil, nil); status != http.StatusUnauthorized {
			t.Fatalf("%s without token: expected 401, got %d", path, status)
		}
		if status := ts.do(t, http.MethodGet, path, "not-a-token", nil, nil); status != http.StatusUnauthorized {
			t.Fatalf("%s with bad token: expected 401, got %d", path, status)
		}
	}
}

func TestSignupValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	var body map[string]string
	status := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "not-an-email", "password": testPassword}, &body)
	if status != http.StatusBadRequest || body["error"] != "email must be a valid email address" {
		t.Fatalf("unexpected response %d %v", status, body)
	}
	status = ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "a@example.com", "password": "short"}, &body)
	if status != http.StatusBadRequest {
		t.Fatalf("weak password: expected 400, got %d", status)
	}

	ts.signUp(t, "dup@example.com")
	status = ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "dup@example.com", "password": testPassword}, &body)
	if status != http.StatusConflict {
		t.Fatalf("duplicate email: expected 409, got %d", status)
	}
}

func TestSessionAndLogout(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.signUp(t, "session@example.com")

	var info app.SessionInfo
	if status := ts.do(t, http.MethodGet, "/api/auth/session", token, nil, &info); status != http.StatusOK {
		t.Fatalf("session: %d", status)
	}
	if info.User.Email != "session@example.com" || info.RefreshSeconds <= 0 {
		t.Fatalf("unexpected session %+v", info)
	}

	var jwks map[string]json.RawMessage
	if status := ts.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil, &jwks); status != http.StatusOK {
		t.Fatalf("jwks: %d", status)
	}
	if len(jwks["keys"]) == 0 {
		t.Fatalf("expected keys in jwks")
	}

	if status := ts.do(t, http.MethodPost, "/api/auth/logout", token, nil, nil); status != http.StatusNoContent {
		t.Fatalf("logout: %d", status)
	}
	if status := ts.do(t, http.MethodGet, "/api/auth/session", token, nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("revoked token must be rejected, got %d", status)
	}
}

func TestUploadAndChatFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.signUp(t, "student@example.com")

	resp := ts.upload(t, token, "", testFile{"biology notes.txt", "Chlorophyll absorbs light."})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d", resp.StatusCode)
	}
	var res app.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if res.Chat == nil || res.Document.Status != "complete" || res.Document.Filename != "biology notes.txt" {
		t.Fatalf("unexpected upload result %+v", res)
	}
	chatID := res.Chat.ID

	var turn app.TurnResult
	status := ts.do(t, http.MethodPost, "/api/chats/"+chatID+"/messages", token, map[string]string{"content": "What is photosynthesis?"}, &turn)
	if status != http.StatusCreated || turn.Reply.Role != "assistant" {
		t.Fatalf("turn: %d %+v", status, turn)
	}

	var transcript struct {
		Count int `json:"count"`
	}
	ts.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages", token, nil, &transcript)
	if transcript.Count != 3 {
		t.Fatalf("expected summary plus one turn, got %d messages", transcript.Count)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.url+"/api/chats/"+chatID+"/export?format=html", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	exp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	page, _ := io.ReadAll(exp.Body)
	exp.Body.Close()
	if exp.StatusCode != http.StatusOK || !strings.HasPrefix(exp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("export: %d %s", exp.StatusCode, exp.Header.Get("Content-Type"))
	}
	if !strings.Contains(exp.Header.Get("Content-Disposition"), `filename="biology-notes-txt.html"`) {
		t.Fatalf("unexpected disposition %q", exp.Header.Get("Content-Disposition"))
	}
	if !strings.Contains(string(page), "What is photosynthesis?") {
		t.Fatalf("export is missing the question")
	}

	if status := ts.do(t, http.MethodGet, "/api/chats/"+chatID+"/export?format=pdf", token, nil, nil); status != http.StatusBadRequest {
		t.Fatalf("unknown export format: expected 400, got %d", status)
	}

	if status := ts.do(t, http.MethodDelete, "/api/chats/"+chatID, token, nil, nil); status != http.StatusOK {
		t.Fatalf("delete chat: %d", status)
	}
	ts.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages", token, nil, &transcript)
	if transcript.Count != 0 {
		t.Fatalf("deleted chat must have an empty transcript, got %d", transcript.Count)
	}
}

func TestMultiFileUpload(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.signUp(t, "multi@example.com")

	resp := ts.upload(t, token, "", testFile{"a.txt", "first notes"}, testFile{"b.txt", ""})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 when one file succeeds, got %d", resp.StatusCode)
	}
	var body struct {
		Items []app.UploadOutcome `json:"items"`
		Count int                 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Items[0].Result == nil || body.Items[1].Error != app.ErrEmptyFile.Error() {
		t.Fatalf("unexpected outcomes %+v", body)
	}

	resp = ts.upload(t, token, "", testFile{"c.txt", ""}, testFile{"d.txt", ""})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 when every file fails, got %d", resp.StatusCode)
	}
}

func TestDocumentsAreScopedToOwner(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.signUp(t, "owner@example.com")
	other := ts.signUp(t, "other@example.com")

	resp := ts.upload(t, owner, "", testFile{"notes.txt", "cells divide"})
	var res app.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	docPath := "/api/documents/" + res.Document.ID

	if status := ts.do(t, http.MethodGet, docPath, other, nil, nil); status != http.StatusForbidden {
		t.Fatalf("foreign document: expected 403, got %d", status)
	}
	var u map[string]string
	if status := ts.do(t, http.MethodGet, docPath+"/url", owner, nil, &u); status != http.StatusOK || !strings.HasPrefix(u["url"], "http://objects.test/") {
		t.Fatalf("document url: %d %v", status, u)
	}
	if status := ts.do(t, http.MethodGet, docPath+"/quiz", owner, nil, nil); status != http.StatusNotFound {
		t.Fatalf("missing quiz: expected 404, got %d", status)
	}
	if status := ts.do(t, http.MethodPost, docPath+"/quiz", owner, map[string]any{"difficulty": "impossible"}, nil); status != http.StatusBadRequest {
		t.Fatalf("bad difficulty: expected 400, got %d", status)
	}
	if status := ts.do(t, http.MethodDelete, docPath, owner, nil, nil); status != http.StatusOK {
		t.Fatalf("delete: %d", status)
	}
	if status := ts.do(t, http.MethodGet, docPath, owner, nil, nil); status != http.StatusNotFound {
		t.Fatalf("deleted document: expected 404, got %d", status)
	}
}

func TestProfileRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.signUp(t, "profile@example.com")

	var p map[string]any
	if status := ts.do(t, http.MethodPatch, "/api/profile", token, map[string]string{"username": "ada", "bio": "likes biology"}, &p); status != http.StatusOK {
		t.Fatalf("update profile: %d", status)
	}
	if p["username"] != "ada" {
		t.Fatalf("unexpected profile %v", p)
	}
	var body map[string]string
	status := ts.do(t, http.MethodPatch, "/api/profile", token, map[string]string{"username": strings.Repeat("x", 51)}, &body)
	if status != http.StatusBadRequest || body["error"] != "username must be at most 50 characters" {
		t.Fatalf("long username: %d %v", status, body)
	}
}

func TestVideosUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.signUp(t, "videos@example.com")
	var chat map[string]any
	if status := ts.do(t, http.MethodPost, "/api/chats", token, map[string]string{"title": "Cells"}, &chat); status != http.StatusCreated {
		t.Fatalf("create chat: %d", status)
	}
	status := ts.do(t, http.MethodPost, "/api/chats/"+chat["id"].(string)+"/videos", token, map[string]string{"query": "mitosis"}, nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a video searcher, got %d", status)
	}
}

func TestEventsWebsocket(t *testing.T) {
	ts := newTestServer(t, nil)
	if status := ts.do(t, http.MethodGet, "/api/events", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("events without token: expected 401, got %d", status)
	}
	token := ts.signUp(t, "ws@example.com")
	user, ok := ts.app.UserFromToken(token)
	if !ok {
		t.Fatalf("token should resolve")
	}

	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/api/events?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.Subscribers(user.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	ts.hub.Publish(user.ID, notify.Event{Type: notify.EventUploadFailed, Filename: "scan.png"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != notify.EventUploadFailed || ev.Filename != "scan.png" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{app.ErrInvalidCredentials, http.StatusUnauthorized, app.ErrInvalidCredentials.Error()},
		{app.ErrUserDisabled, http.StatusUnauthorized, app.ErrInvalidCredentials.Error()},
		{app.ErrForbidden, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("load: %w", app.ErrChatNotFound), http.StatusNotFound, app.ErrChatNotFound.Error()},
		{app.ErrDocumentNotAnalyzed, http.StatusConflict, app.ErrDocumentNotAnalyzed.Error()},
		{fmt.Errorf("%w: count must be between 1 and 20", app.ErrInvalidQuizOptions), http.StatusBadRequest, "invalid quiz options: count must be between 1 and 20"},
		{auth.ErrPasswordWeak, http.StatusBadRequest, auth.ErrPasswordWeak.Error()},
		{app.ErrFileTooLarge, http.StatusRequestEntityTooLarge, app.ErrFileTooLarge.Error()},
		{fmt.Errorf("%w: pdf has no pages", app.ErrExtractionFailed), http.StatusUnprocessableEntity, "could not extract text from file: pdf has no pages"},
		{fmt.Errorf("%w: quota exceeded for key abc", app.ErrAnalysisFailed), http.StatusBadGateway, app.ErrAnalysisFailed.Error()},
		{app.ErrVideosUnavailable, http.StatusServiceUnavailable, app.ErrVideosUnavailable.Error()},
		{errors.New("database is locked"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		status, msg := errorStatus(tc.err)
		if status != tc.status || msg != tc.msg {
			t.Errorf("%v: got %d %q, want %d %q", tc.err, status, msg, tc.status, tc.msg)
		}
	}
}

func TestNewRequiresApp(t *testing.T) {
	if _, err := New(Config{Hub: notify.NewHub(nil, nil)}); err == nil {
		t.Fatalf("expected error without app")
	}
}

func TestSlowGenerationOutlivesWriteTimeout(t *testing.T) {
	ts := newTestServerWith(t, testSetup{
		writeTimeout: time.Second,
		generator: ai.GeneratorFunc(func(ctx context.Context, _, _ string) (string, error) {
			select {
			case <-time.After(1500 * time.Millisecond):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			return "Photosynthesis converts light to chemical energy", nil
		}),
	})
	token := ts.signUp(t, "patient@example.com")

	resp := ts.upload(t, token, "", testFile{"notes.txt", "Chlorophyll absorbs light."})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d", resp.StatusCode)
	}
	var res app.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("upload response cut off: %v", err)
	}
	if res.Chat == nil {
		t.Fatalf("expected a chat from the upload")
	}

	var turn app.TurnResult
	status := ts.do(t, http.MethodPost, "/api/chats/"+res.Chat.ID+"/messages", token, map[string]string{"content": "What is photosynthesis?"}, &turn)
	if status != http.StatusCreated || turn.Reply.Content != "Photosynthesis converts light to chemical energy" {
		t.Fatalf("turn: %d %+v", status, turn)
	}
}

func TestChatRateLimitIsPerUserAcrossChats(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.ChatRateLimitPerMinute = 1
	})
	token := ts.signUp(t, "chatty@example.com")

	var first, second domain.Chat
	if status := ts.do(t, http.MethodPost, "/api/chats", token, map[string]string{"title": "one"}, &first); status != http.StatusCreated {
		t.Fatalf("create chat: %d", status)
	}
	if status := ts.do(t, http.MethodPost, "/api/chats", token, map[string]string{"title": "two"}, &second); status != http.StatusCreated {
		t.Fatalf("create chat: %d", status)
	}

	msg := map[string]string{"content": "hello"}
	if status := ts.do(t, http.MethodPost, "/api/chats/"+first.ID+"/messages", token, msg, nil); status != http.StatusCreated {
		t.Fatalf("first message: %d", status)
	}
	if status := ts.do(t, http.MethodPost, "/api/chats/"+second.ID+"/messages", token, msg, nil); status != http.StatusTooManyRequests {
		t.Fatalf("message in another chat must share the limit, got %d", status)
	}

	other := ts.signUp(t, "quiet@example.com")
	var theirs domain.Chat
	ts.do(t, http.MethodPost, "/api/chats", other, map[string]string{"title": "mine"}, &theirs)
	if status := ts.do(t, http.MethodPost, "/api/chats/"+theirs.ID+"/messages", other, msg, nil); status != http.StatusCreated {
		t.Fatalf("another user has its own budget, got %d", status)
	}
}
