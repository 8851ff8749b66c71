package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location. STUDYBUDDY_CONFIG
// overrides it.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	LogFormat         string   `yaml:"logFormat"`
	DatabaseURL       string   `yaml:"databaseURL"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	SessionTTL             string `yaml:"sessionTTL"`
	RefreshTTL             string `yaml:"refreshTTL"`
	SessionRefreshInterval string `yaml:"sessionRefreshInterval"`
	JWTPrivateKeyPath      string `yaml:"jwtPrivateKeyPath"`
	JWTKeyID               string `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys    string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer              string `yaml:"jwtIssuer"`
	JWTAudience            string `yaml:"jwtAudience"`
	JWTLeeway              string `yaml:"jwtLeeway"`

	SignupRateLimitPerMinute   int `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute    int `yaml:"loginRateLimitPerMinute"`
	RefreshRateLimitPerMinute  int `yaml:"refreshRateLimitPerMinute"`
	PasswordRateLimitPerMinute int `yaml:"passwordRateLimitPerMinute"`
	UploadRateLimitPerMinute   int `yaml:"uploadRateLimitPerMinute"`
	ChatRateLimitPerMinute     int `yaml:"chatRateLimitPerMinute"`

	StorageProvider      string `yaml:"storageProvider"`
	MinioEndpoint        string `yaml:"minioEndpoint"`
	MinioAccessKey       string `yaml:"minioAccessKey"`
	MinioSecretKey       string `yaml:"minioSecretKey"`
	MinioBucket          string `yaml:"minioBucket"`
	MinioUseSSL          bool   `yaml:"minioUseSSL"`
	MinioPublicBaseURL   string `yaml:"minioPublicBaseURL"`
	SupabaseURL          string `yaml:"supabaseURL"`
	SupabaseServiceKey   string `yaml:"supabaseServiceKey"`
	SupabaseBucket       string `yaml:"supabaseBucket"`
	MemoryStorageBaseURL string `yaml:"memoryStorageBaseURL"`

	GenerationProvider string `yaml:"generationProvider"`
	GeminiAPIKey       string `yaml:"geminiApiKey"`
	GeminiModel        string `yaml:"geminiModel"`
	OpenAIBaseURL      string `yaml:"openaiBaseURL"`
	OpenAIAPIKey       string `yaml:"openaiApiKey"`
	OpenAIModel        string `yaml:"openaiModel"`
	OllamaBaseURL      string `yaml:"ollamaBaseURL"`
	OllamaModel        string `yaml:"ollamaModel"`

	OCRProvider    string `yaml:"ocrProvider"`
	OCRSpaceAPIKey string `yaml:"ocrSpaceApiKey"`
	OCREndpoint    string `yaml:"ocrEndpoint"`
	OCRLanguage    string `yaml:"ocrLanguage"`

	YouTubeAPIKey      string  `yaml:"youtubeApiKey"`
	YouTubeRequestsSec float64 `yaml:"youtubeRequestsPerSecond"`
	VideoResults       int     `yaml:"videoResults"`
	VideosOnTurn       bool    `yaml:"videosOnTurn"`

	MaxUploadBytes      int64 `yaml:"maxUploadBytes"`
	MaxImageBytes       int64 `yaml:"maxImageBytes"`
	MaxPromptChars      int   `yaml:"maxPromptChars"`
	QuizOnUpload        bool  `yaml:"quizOnUpload"`
	HistoryLimit        int   `yaml:"historyLimit"`
	ChatListLimit       int   `yaml:"chatListLimit"`
	TranscriptCacheSize int   `yaml:"transcriptCacheSize"`

	AnalysisQueueEnabled bool   `yaml:"analysisQueueEnabled"`
	AnalysisWorkers      int    `yaml:"analysisWorkers"`
	AnalysisMaxRetries   int    `yaml:"analysisMaxRetries"`
	ReconcileSchedule    string `yaml:"reconcileSchedule"`
	StaleAnalysisAge     string `yaml:"staleAnalysisAge"`

	SecretLookupAttempts int    `yaml:"secretLookupAttempts"`
	SecretLookupDelay    string `yaml:"secretLookupDelay"`
}

// Path returns the config file to read.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("STUDYBUDDY_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// LoadDotEnv loads a .env file into the process environment when present.
// Variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT", "STUDYBUDDY_PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL", "STUDYBUDDY_LOG_LEVEL")
	setString(&cfg.LogFormat, "STUDYBUDDY_LOG_FORMAT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	if v := os.Getenv("STUDYBUDDY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("STUDYBUDDY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}

	setString(&cfg.SessionTTL, "STUDYBUDDY_SESSION_TTL")
	setString(&cfg.RefreshTTL, "STUDYBUDDY_REFRESH_TTL")
	setString(&cfg.SessionRefreshInterval, "STUDYBUDDY_SESSION_REFRESH_INTERVAL")
	setString(&cfg.JWTPrivateKeyPath, "JWT_PRIVATE_KEY_PATH")
	setString(&cfg.JWTKeyID, "JWT_KEY_ID")
	setString(&cfg.JWTVerifyPublicKeys, "JWT_VERIFY_PUBLIC_KEYS")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.JWTLeeway, "JWT_LEEWAY")

	setInt(&cfg.SignupRateLimitPerMinute, "STUDYBUDDY_SIGNUP_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.LoginRateLimitPerMinute, "STUDYBUDDY_LOGIN_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.RefreshRateLimitPerMinute, "STUDYBUDDY_REFRESH_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.PasswordRateLimitPerMinute, "STUDYBUDDY_PASSWORD_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.UploadRateLimitPerMinute, "STUDYBUDDY_UPLOAD_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.ChatRateLimitPerMinute, "STUDYBUDDY_CHAT_RATE_LIMIT_PER_MINUTE")

	setString(&cfg.StorageProvider, "STUDYBUDDY_STORAGE_PROVIDER")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")
	setString(&cfg.MinioPublicBaseURL, "MINIO_PUBLIC_BASE_URL")
	setString(&cfg.SupabaseURL, "SUPABASE_URL")
	setString(&cfg.SupabaseServiceKey, "SUPABASE_SERVICE_KEY")
	setString(&cfg.SupabaseBucket, "SUPABASE_BUCKET")

	setString(&cfg.GenerationProvider, "STUDYBUDDY_GENERATION_PROVIDER")
	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.GeminiModel, "GEMINI_MODEL")
	setString(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAIModel, "OPENAI_MODEL")
	setString(&cfg.OllamaBaseURL, "OLLAMA_BASE_URL")
	setString(&cfg.OllamaModel, "OLLAMA_MODEL")

	setString(&cfg.OCRProvider, "STUDYBUDDY_OCR_PROVIDER")
	setString(&cfg.OCRSpaceAPIKey, "OCR_SPACE_API_KEY")
	setString(&cfg.OCREndpoint, "OCR_SPACE_ENDPOINT")
	setString(&cfg.OCRLanguage, "OCR_LANGUAGE")

	setString(&cfg.YouTubeAPIKey, "YOUTUBE_API_KEY")
	setInt(&cfg.VideoResults, "STUDYBUDDY_VIDEO_RESULTS")
	setBool(&cfg.VideosOnTurn, "STUDYBUDDY_VIDEOS_ON_TURN")

	if v := os.Getenv("STUDYBUDDY_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("STUDYBUDDY_MAX_IMAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxImageBytes = n
		}
	}
	setBool(&cfg.QuizOnUpload, "STUDYBUDDY_QUIZ_ON_UPLOAD")
	setBool(&cfg.AnalysisQueueEnabled, "STUDYBUDDY_ANALYSIS_QUEUE_ENABLED")
	setInt(&cfg.AnalysisWorkers, "STUDYBUDDY_ANALYSIS_WORKERS")
	setString(&cfg.ReconcileSchedule, "STUDYBUDDY_RECONCILE_SCHEDULE")
	setString(&cfg.StaleAnalysisAge, "STUDYBUDDY_STALE_ANALYSIS_AGE")
}

func applyDefaults(cfg *FileConfig) {
	cfg.StorageProvider = strings.ToLower(strings.TrimSpace(cfg.StorageProvider))
	if cfg.StorageProvider == "" {
		cfg.StorageProvider = "minio"
	}
	cfg.GenerationProvider = strings.ToLower(strings.TrimSpace(cfg.GenerationProvider))
	if cfg.GenerationProvider == "" {
		cfg.GenerationProvider = "gemini"
	}
	cfg.OCRProvider = strings.ToLower(strings.TrimSpace(cfg.OCRProvider))
	if cfg.OCRProvider == "" {
		cfg.OCRProvider = "ocrspace"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.AnalysisWorkers <= 0 {
		cfg.AnalysisWorkers = 2
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.StorageProvider {
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for the minio storage provider")
		}
	case "supabase":
		if cfg.SupabaseURL == "" || cfg.SupabaseBucket == "" {
			return errors.New("config: supabaseURL and supabaseBucket are required for the supabase storage provider")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storageProvider %q (minio, supabase or memory)", cfg.StorageProvider)
	}
	switch cfg.GenerationProvider {
	case "gemini", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown generationProvider %q (gemini, openai or ollama)", cfg.GenerationProvider)
	}
	if cfg.GenerationProvider == "openai" && strings.TrimSpace(cfg.OpenAIModel) == "" {
		return errors.New("config: openaiModel is required for the openai generation provider")
	}
	if cfg.GenerationProvider == "ollama" && strings.TrimSpace(cfg.OllamaModel) == "" {
		return errors.New("config: ollamaModel is required for the ollama generation provider")
	}
	switch cfg.OCRProvider {
	case "ocrspace", "gemini":
	default:
		return fmt.Errorf("config: unknown ocrProvider %q (ocrspace or gemini)", cfg.OCRProvider)
	}
	if cfg.AnalysisQueueEnabled && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when analysisQueueEnabled is set")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.RefreshRateLimitPerMinute < 0 ||
		cfg.PasswordRateLimitPerMinute < 0 || cfg.UploadRateLimitPerMinute < 0 || cfg.ChatRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 || cfg.MaxImageBytes < 0 {
		return errors.New("config: upload limits must be >= 0")
	}
	if cfg.VideoResults < 0 || cfg.VideoResults > 25 {
		return errors.New("config: videoResults must be between 0 and 25")
	}
	for name, v := range map[string]string{
		"sessionTTL":             cfg.SessionTTL,
		"refreshTTL":             cfg.RefreshTTL,
		"sessionRefreshInterval": cfg.SessionRefreshInterval,
		"jwtLeeway":              cfg.JWTLeeway,
		"staleAnalysisAge":       cfg.StaleAnalysisAge,
		"secretLookupDelay":      cfg.SecretLookupDelay,
	} {
		if _, err := ParseDuration(name, v); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseDuration parses an optional duration field; empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	pairs := strings.Split(raw, ",")
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, path, ok := strings.Cut(pair, "=")
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// ConfiguredSecrets maps secret names to the values given in config. Empty
// values fall through to the secrets table.
func (c FileConfig) ConfiguredSecrets() map[string]string {
	return map[string]string{
		"GEMINI_API_KEY":       c.GeminiAPIKey,
		"OPENAI_API_KEY":       c.OpenAIAPIKey,
		"OCR_SPACE_API_KEY":    c.OCRSpaceAPIKey,
		"YOUTUBE_API_KEY":      c.YouTubeAPIKey,
		"SUPABASE_SERVICE_KEY": c.SupabaseServiceKey,
		"MINIO_SECRET_KEY":     c.MinioSecretKey,
	}
}

// setString assigns the non-empty variables among keys; later keys win.
func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
