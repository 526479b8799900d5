package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backend selectors
const (
	BackendStore  = "store"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	// Secrets (resolved from the vault when empty)
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	GeminiModel      string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	ProjectID        string `envconfig:"GOOGLE_CLOUD_PROJECT" default:"project-id-placeholder"`

	// Object storage
	BucketPDFs       string `envconfig:"BUCKET_PDFS" default:"pdfs-bucket-placeholder"`
	BucketThumbnails string `envconfig:"BUCKET_THUMBNAILS" default:"thumbnails-bucket-placeholder"`
	StorageEndpoint  string `envconfig:"STORAGE_ENDPOINT" default:"storage.googleapis.com"`
	StorageAccessKey string `envconfig:"STORAGE_ACCESS_KEY"`
	StorageSecretKey string `envconfig:"STORAGE_SECRET_KEY"`
	StorageRegion    string `envconfig:"STORAGE_REGION" default:"auto"`
	StorageUseSSL    bool   `envconfig:"STORAGE_USE_SSL" default:"true"`
	// Host public thumbnail links point at; empty means STORAGE_ENDPOINT
	StoragePublicHost string `envconfig:"STORAGE_PUBLIC_HOST"`

	// Seed users
	AdminUserID          string `envconfig:"ADMIN_USER_ID"`
	ContentManagerUserID string `envconfig:"CONTENT_MANAGER_USER_ID"`

	// Durable store / offline fallback
	UseLocalStore    bool   `envconfig:"USE_LOCAL_STORE" default:"false"`
	LocalStoreDir    string `envconfig:"LOCAL_STORE_DIR"`
	PostgresDSN      string `envconfig:"POSTGRES_DSN"`
	LocalSigningKey  string `envconfig:"LOCAL_SIGNING_KEY"`
	PIIEncryptionKey string `envconfig:"PII_ENCRYPTION_KEY"`

	// Rate limiting
	RateLimitBackend    string `envconfig:"RATE_LIMIT_BACKEND" default:"store"`
	RateLimitFailClosed bool   `envconfig:"RATE_LIMIT_FAIL_CLOSED" default:"false"`
	PDFRateLimit        int    `envconfig:"PDF_RATE_LIMIT" default:"5"`
	ThumbnailRateLimit  int    `envconfig:"THUMBNAIL_RATE_LIMIT" default:"10"`
	RedisAddr           string `envconfig:"REDIS_ADDR"`
	RedisPassword       string `envconfig:"REDIS_PASSWORD"`

	// Conversation state
	ConversationStore string `envconfig:"CONVERSATION_STORE" default:"memory"`

	// Public site boundary
	PublicBaseURL      string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	ThumbnailDir       string `envconfig:"THUMBNAIL_DIR" default:"public/thumbnails"`
	RecaptchaSecretKey string `envconfig:"RECAPTCHA_SECRET_KEY"`

	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"LOG_DIR" default:"logs"`
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks combinations that cannot be fixed by defaults.
func (c *Config) Validate() error {
	required := map[string]string{
		"BUCKET_PDFS":       c.BucketPDFs,
		"BUCKET_THUMBNAILS": c.BucketThumbnails,
		"PORT":              c.Port,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("required environment variable %s is not set", key)
		}
	}

	if c.BucketPDFs == c.BucketThumbnails {
		return fmt.Errorf("BUCKET_PDFS and BUCKET_THUMBNAILS must differ")
	}

	if !c.UseLocalStore && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required unless USE_LOCAL_STORE=1")
	}

	switch c.RateLimitBackend {
	case BackendStore:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND: %s", c.RateLimitBackend)
	}

	switch c.ConversationStore {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when CONVERSATION_STORE=redis")
		}
	default:
		return fmt.Errorf("unsupported CONVERSATION_STORE: %s", c.ConversationStore)
	}

	if c.PDFRateLimit <= 0 || c.ThumbnailRateLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}

	return nil
}

func (c *Config) HasAIConfig() bool {
	return c.GeminiAPIKey != "" && c.GeminiModel != ""
}

func (c *Config) HasDatabaseConfig() bool {
	return c.PostgresDSN != ""
}

func (c *Config) HasStorageCredentials() bool {
	return c.StorageAccessKey != "" && c.StorageSecretKey != ""
}

func (c *Config) HasRecaptcha() bool {
	return c.RecaptchaSecretKey != ""
}

// SeedUsers returns the statically configured role table.
func (c *Config) SeedUsers() map[string]string {
	seeds := make(map[string]string)
	if c.ContentManagerUserID != "" {
		seeds[c.ContentManagerUserID] = "content_manager"
	}
	// Admin wins when both variables name the same id
	if c.AdminUserID != "" {
		seeds[c.AdminUserID] = "admin"
	}
	return seeds
}
