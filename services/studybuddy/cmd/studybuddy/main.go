package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"studybuddy/internal/util"
	"studybuddy/pkg/notify"
	"studybuddy/pkg/queue"
	"studybuddy/pkg/store"
	"studybuddy/pkg/transcript"
	"studybuddy/services/studybuddy/internal/app"
	"studybuddy/services/studybuddy/internal/config"
	"studybuddy/services/studybuddy/internal/server"
)

const shutdownTimeout = 20 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "failed to open database", err)
	}
	rdb := newRedisClient(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	sessions, refreshTokens, err := newSessionStores(cfg, rdb)
	if err != nil {
		fatal(logger, "failed to init sessions", err)
	}
	keys, err := resolveKeys(ctx, cfg, st, logger)
	if err != nil {
		fatal(logger, "failed to resolve api keys", err)
	}
	objects, err := newObjectStore(cfg, keys)
	if err != nil {
		fatal(logger, "failed to init object storage", err)
	}
	providers, err := newProviders(ctx, cfg, keys)
	if err != nil {
		fatal(logger, "failed to init model providers", err)
	}
	defer providers.Close()
	videos, err := newVideoSearcher(ctx, cfg, keys)
	if err != nil {
		fatal(logger, "failed to init video search", err)
	}
	if videos == nil {
		logger.Info("video suggestions disabled", "reason", "no youtube api key")
	}

	hub := notify.NewHub(logger, cfg.AllowedOrigins)
	var analysisQueue *queue.AnalysisQueue
	if cfg.AnalysisQueueEnabled {
		analysisQueue, err = queue.NewAnalysisQueue(rdb, queue.Config{
			MaxRetries: cfg.AnalysisMaxRetries,
			Logger:     logger,
		})
		if err != nil {
			fatal(logger, "failed to init analysis queue", err)
		}
	}

	refreshTTL, _ := config.ParseDuration("refreshTTL", cfg.RefreshTTL)
	refreshInterval, _ := config.ParseDuration("sessionRefreshInterval", cfg.SessionRefreshInterval)
	staleAge, _ := config.ParseDuration("staleAnalysisAge", cfg.StaleAnalysisAge)
	appCfg := app.Config{
		Store:                  st,
		Sessions:               sessions,
		RefreshTokens:          refreshTokens,
		Objects:                objects,
		Generator:              providers.generator,
		OCR:                    providers.ocr,
		Notifier:               hub,
		Transcripts:            transcript.New(cfg.TranscriptCacheSize),
		Logger:                 logger,
		RefreshTTL:             refreshTTL,
		SessionRefreshInterval: refreshInterval,
		MaxImageBytes:          cfg.MaxImageBytes,
		MaxUploadBytes:         cfg.MaxUploadBytes,
		MaxPromptChars:         cfg.MaxPromptChars,
		QuizOnUpload:           cfg.QuizOnUpload,
		VideosOnTurn:           cfg.VideosOnTurn,
		VideoResults:           cfg.VideoResults,
		HistoryLimit:           cfg.HistoryLimit,
		ChatListLimit:          cfg.ChatListLimit,
		StaleAnalysisAge:       staleAge,
	}
	if videos != nil {
		appCfg.Videos = videos
	}
	if analysisQueue != nil {
		appCfg.Queue = analysisQueue
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		fatal(logger, "failed to init app", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		fatal(logger, "invalid trusted proxy list", err)
	}
	serverCfg := server.Config{
		App:                        appCore,
		Hub:                        hub,
		AllowedOrigins:             cfg.AllowedOrigins,
		TrustedProxies:             trusted,
		SignupRateLimitPerMinute:   cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RefreshRateLimitPerMinute:  cfg.RefreshRateLimitPerMinute,
		PasswordRateLimitPerMinute: cfg.PasswordRateLimitPerMinute,
		UploadRateLimitPerMinute:   cfg.UploadRateLimitPerMinute,
		ChatRateLimitPerMinute:     cfg.ChatRateLimitPerMinute,
	}
	if rdb != nil {
		serverCfg.Redis = rdb
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		fatal(logger, "failed to init server", err)
	}

	reconciler, err := app.NewReconciler(appCore, cfg.ReconcileSchedule)
	if err != nil {
		fatal(logger, "failed to init reconciler", err)
	}
	reconciler.Start()
	defer reconciler.Stop()

	if analysisQueue != nil {
		if err := analysisQueue.Start(ctx, cfg.AnalysisWorkers, appCore.ProcessAnalysisJob, appCore.AnalysisJobExhausted); err != nil {
			fatal(logger, "failed to start analysis workers", err)
		}
		defer analysisQueue.Wait()
	}

	addr := ":" + cfg.Port
	// upload, chat turn, quiz and video routes extend both deadlines per
	// request
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("studybuddy server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	stop()
	logger.Info("server stopped")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
