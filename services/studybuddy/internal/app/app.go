// Package app implements the study assistant workflows: identity, document
// ingestion and analysis, chat turns, quizzes, profiles and video
// suggestions. Every external collaborator is injected through Config.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"studybuddy/internal/util"
	"studybuddy/pkg/ai"
	"studybuddy/pkg/notify"
	"studybuddy/pkg/ocr"
	"studybuddy/pkg/queue"
	"studybuddy/pkg/storage"
	"studybuddy/pkg/store"
	"studybuddy/pkg/transcript"
	"studybuddy/pkg/video"
)

const (
	defaultRefreshTTL      = 7 * 24 * time.Hour
	defaultRefreshInterval = 10 * time.Minute
	defaultMaxImageBytes   = 10 << 20
	defaultMaxUploadBytes  = 50 << 20
	defaultHistoryLimit    = 20
	defaultChatListLimit   = 50
	defaultVideoResults    = 3
	defaultStaleAfter      = 30 * time.Minute
	defaultMaxPromptChars  = 30000
)

// AnalysisQueue hands document analysis to background workers.
type AnalysisQueue interface {
	Enqueue(ctx context.Context, documentID, userID, chatID string) (queue.Job, error)
}

// backlogReporter is implemented by queues that can tell whether jobs are
// still waiting.
type backlogReporter interface {
	Backlog(ctx context.Context) (int64, error)
}

// Config holds the collaborators and knobs of the application.
type Config struct {
	Store         store.Store
	Sessions      store.SessionStore
	RefreshTokens store.RefreshTokenStore
	Objects       storage.ObjectStore
	Generator     ai.TextGenerator
	OCR           ocr.Extractor

	// Optional collaborators.
	Videos      video.Searcher
	Notifier    notify.Notifier
	Transcripts *transcript.Cache
	Queue       AnalysisQueue
	Logger      *slog.Logger

	RefreshTTL time.Duration
	// SessionRefreshInterval is how often clients should refresh their
	// session; it is reported by Session.
	SessionRefreshInterval time.Duration

	MaxImageBytes  int64
	MaxUploadBytes int64
	MaxPromptChars int

	QuizOnUpload     bool
	VideosOnTurn     bool
	VideoResults     int
	HistoryLimit     int
	ChatListLimit    int
	StaleAnalysisAge time.Duration
}

// App wires storage, sessions and external clients into the workflows.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	refreshTokens store.RefreshTokenStore
	objects       storage.ObjectStore
	generator     ai.TextGenerator
	ocr           ocr.Extractor
	videos        video.Searcher
	notifier      notify.Notifier
	transcripts   *transcript.Cache
	queue         AnalysisQueue
	logger        *slog.Logger

	refreshTTL      time.Duration
	refreshInterval time.Duration
	maxImageBytes   int64
	maxUploadBytes  int64
	maxPromptChars  int
	quizOnUpload    bool
	videosOnTurn    bool
	videoResults    int
	historyLimit    int
	chatListLimit   int
	staleAfter      time.Duration

	now func() time.Time
}

// New validates the configuration and builds the App.
func New(cfg Config) (*App, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store required")
	case cfg.Sessions == nil:
		return nil, errors.New("session store required")
	case cfg.RefreshTokens == nil:
		return nil, errors.New("refresh token store required")
	case cfg.Objects == nil:
		return nil, errors.New("object store required")
	case cfg.Generator == nil:
		return nil, errors.New("text generator required")
	case cfg.OCR == nil:
		return nil, errors.New("ocr extractor required")
	}
	a := &App{
		store:           cfg.Store,
		sessions:        cfg.Sessions,
		refreshTokens:   cfg.RefreshTokens,
		objects:         cfg.Objects,
		generator:       cfg.Generator,
		ocr:             cfg.OCR,
		videos:          cfg.Videos,
		notifier:        cfg.Notifier,
		transcripts:     cfg.Transcripts,
		queue:           cfg.Queue,
		logger:          cfg.Logger,
		refreshTTL:      orDuration(cfg.RefreshTTL, defaultRefreshTTL),
		refreshInterval: orDuration(cfg.SessionRefreshInterval, defaultRefreshInterval),
		maxImageBytes:   cfg.MaxImageBytes,
		maxUploadBytes:  cfg.MaxUploadBytes,
		maxPromptChars:  cfg.MaxPromptChars,
		quizOnUpload:    cfg.QuizOnUpload,
		videosOnTurn:    cfg.VideosOnTurn,
		videoResults:    cfg.VideoResults,
		historyLimit:    cfg.HistoryLimit,
		chatListLimit:   cfg.ChatListLimit,
		staleAfter:      orDuration(cfg.StaleAnalysisAge, defaultStaleAfter),
		now:             func() time.Time { return time.Now().UTC() },
	}
	if a.notifier == nil {
		a.notifier = notify.Discard{}
	}
	if a.transcripts == nil {
		a.transcripts = transcript.New(0)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.maxImageBytes <= 0 {
		a.maxImageBytes = defaultMaxImageBytes
	}
	if a.maxUploadBytes <= 0 {
		a.maxUploadBytes = defaultMaxUploadBytes
	}
	if a.maxPromptChars <= 0 {
		a.maxPromptChars = defaultMaxPromptChars
	}
	if a.videoResults <= 0 {
		a.videoResults = defaultVideoResults
	}
	if a.historyLimit <= 0 {
		a.historyLimit = defaultHistoryLimit
	}
	if a.chatListLimit <= 0 {
		a.chatListLimit = defaultChatListLimit
	}
	return a, nil
}

// MaxUploadBytes is the largest single file accepted.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

// VideosEnabled reports whether a video searcher is configured.
func (a *App) VideosEnabled() bool { return a.videos != nil }

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// log returns the request-scoped logger when ctx carries one.
func (a *App) log(ctx context.Context) *slog.Logger {
	if util.RequestIDFromContext(ctx) != "" {
		return util.LoggerFromContext(ctx)
	}
	return a.logger
}
