package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"studybuddy/pkg/ai"
	"studybuddy/pkg/ocr"
	"studybuddy/pkg/secrets"
	"studybuddy/pkg/storage"
	"studybuddy/pkg/store"
	"studybuddy/pkg/video"
	"studybuddy/services/studybuddy/internal/config"
)

const keyLookupTimeout = 30 * time.Second

func newRedisClient(cfg config.FileConfig) *redis.Client {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

// newSessionStores keeps revocations and refresh tokens in Redis when it is
// configured, otherwise in process memory.
func newSessionStores(cfg config.FileConfig, rdb *redis.Client) (*store.JWTSessionStore, store.RefreshTokenStore, error) {
	ttl, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		return nil, nil, err
	}
	leeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		return nil, nil, err
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		return nil, nil, err
	}
	var (
		revoker       store.TokenRevoker
		refreshTokens store.RefreshTokenStore
	)
	if rdb != nil {
		revoker = store.NewRedisTokenRevokerWithClient(rdb)
		refreshTokens = store.NewRedisRefreshTokenStoreWithClient(rdb)
	} else {
		slog.Warn("redis not configured; sessions are revoked per instance only")
		revoker = store.NewMemoryTokenRevoker()
		refreshTokens = store.NewMemoryRefreshTokenStore()
	}
	if strings.TrimSpace(cfg.JWTPrivateKeyPath) == "" {
		slog.Warn("jwtPrivateKeyPath not set; signing with an ephemeral key")
	}
	sessions, err := store.NewJWTSessionStore(store.JWTConfig{
		PrivateKeyPath: cfg.JWTPrivateKeyPath,
		KeyID:          cfg.JWTKeyID,
		VerifyKeyFiles: verifyKeys,
		TTL:            ttl,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		Leeway:         leeway,
		Revoker:        revoker,
	})
	if err != nil {
		return nil, nil, err
	}
	return sessions, refreshTokens, nil
}

// apiKeys holds the provider keys resolved at startup.
type apiKeys map[string]string

// resolveKeys reads every provider key the configuration needs, falling back
// to the secrets table for keys not set in config or the environment.
func resolveKeys(ctx context.Context, cfg config.FileConfig, st *store.GormStore, logger *slog.Logger) (apiKeys, error) {
	delay, err := config.ParseDuration("secretLookupDelay", cfg.SecretLookupDelay)
	if err != nil {
		return nil, err
	}
	resolver := secrets.NewResolver(cfg.ConfiguredSecrets(), st, secrets.Options{
		Attempts: cfg.SecretLookupAttempts,
		Delay:    delay,
		Logger:   logger,
	})
	ctx, cancel := context.WithTimeout(ctx, keyLookupTimeout)
	defer cancel()

	required := map[string]bool{}
	switch cfg.GenerationProvider {
	case "gemini":
		required["GEMINI_API_KEY"] = true
	case "openai":
		required["OPENAI_API_KEY"] = strings.TrimSpace(cfg.OpenAIBaseURL) == ""
	}
	switch cfg.OCRProvider {
	case "gemini":
		required["GEMINI_API_KEY"] = true
	case "ocrspace":
		required["OCR_SPACE_API_KEY"] = true
	}
	switch cfg.StorageProvider {
	case "minio":
		required["MINIO_SECRET_KEY"] = true
	case "supabase":
		required["SUPABASE_SERVICE_KEY"] = true
	}
	required["YOUTUBE_API_KEY"] = false

	keys := apiKeys{}
	for name, must := range required {
		var (
			v   string
			err error
		)
		if must {
			v, err = resolver.Lookup(ctx, name)
		} else {
			v, err = resolver.Optional(ctx, name)
		}
		if err != nil {
			if errors.Is(err, secrets.ErrNotFound) {
				return nil, fmt.Errorf("%s is not configured and not in the secrets table", name)
			}
			return nil, fmt.Errorf("resolve %s: %w", name, err)
		}
		keys[name] = v
	}
	return keys, nil
}

func newObjectStore(cfg config.FileConfig, keys apiKeys) (storage.ObjectStore, error) {
	switch cfg.StorageProvider {
	case "minio":
		return storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     keys["MINIO_SECRET_KEY"],
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
		})
	case "supabase":
		return storage.NewSupabaseStore(cfg.SupabaseURL, keys["SUPABASE_SERVICE_KEY"], cfg.SupabaseBucket)
	case "memory":
		slog.Warn("memory storage selected; uploads are lost on restart")
		base := cfg.MemoryStorageBaseURL
		if base == "" {
			base = "http://localhost:" + cfg.Port + "/files"
		}
		return storage.NewMemoryStore(base), nil
	}
	return nil, fmt.Errorf("unknown storage provider %q", cfg.StorageProvider)
}

type providers struct {
	generator ai.TextGenerator
	ocr       ocr.Extractor
	gemini    *ai.GeminiClient
}

func (p *providers) Close() {
	if p.gemini != nil {
		_ = p.gemini.Close()
	}
}

// newProviders builds the text generator and the OCR extractor. A single
// Gemini client serves both when both use Gemini.
func newProviders(ctx context.Context, cfg config.FileConfig, keys apiKeys) (*providers, error) {
	p := &providers{}
	geminiClient := func() (*ai.GeminiClient, error) {
		if p.gemini != nil {
			return p.gemini, nil
		}
		c, err := ai.NewGeminiClient(ctx, keys["GEMINI_API_KEY"], cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		p.gemini = c
		return c, nil
	}

	switch cfg.GenerationProvider {
	case "gemini":
		c, err := geminiClient()
		if err != nil {
			return nil, err
		}
		p.generator = c
	case "openai":
		g, err := ai.NewOpenAIGenerator(cfg.OpenAIBaseURL, keys["OPENAI_API_KEY"], cfg.OpenAIModel)
		if err != nil {
			return nil, err
		}
		p.generator = g
	case "ollama":
		p.generator = ai.NewOllamaGenerator(cfg.OllamaBaseURL, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.GenerationProvider)
	}

	switch cfg.OCRProvider {
	case "gemini":
		c, err := geminiClient()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.ocr = c
	case "ocrspace":
		var opts []ocr.Option
		if cfg.OCREndpoint != "" {
			opts = append(opts, ocr.WithEndpoint(cfg.OCREndpoint))
		}
		if cfg.OCRLanguage != "" {
			opts = append(opts, ocr.WithLanguage(cfg.OCRLanguage))
		}
		c, err := ocr.NewSpaceClient(keys["OCR_SPACE_API_KEY"], opts...)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.ocr = c
	default:
		p.Close()
		return nil, fmt.Errorf("unknown ocr provider %q", cfg.OCRProvider)
	}
	return p, nil
}

// newVideoSearcher returns nil when no YouTube key is available.
func newVideoSearcher(ctx context.Context, cfg config.FileConfig, keys apiKeys) (video.Searcher, error) {
	key := strings.TrimSpace(keys["YOUTUBE_API_KEY"])
	if key == "" {
		return nil, nil
	}
	c, err := video.NewYouTubeClient(ctx, video.Config{
		APIKey:            key,
		RequestsPerSecond: cfg.YouTubeRequestsSec,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
