package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"

	"github.com/harryneopotter/teacher-website-public/internal/applications"
	"github.com/harryneopotter/teacher-website-public/internal/assist"
	"github.com/harryneopotter/teacher-website-public/internal/auth"
	"github.com/harryneopotter/teacher-website-public/internal/config"
	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/conversation"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/harryneopotter/teacher-website-public/internal/file"
	"github.com/harryneopotter/teacher-website-public/internal/keylock"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
	"github.com/harryneopotter/teacher-website-public/internal/metrics"
	"github.com/harryneopotter/teacher-website-public/internal/ratelimit"
	"github.com/harryneopotter/teacher-website-public/internal/secrets"
	"github.com/harryneopotter/teacher-website-public/internal/server"
	"github.com/harryneopotter/teacher-website-public/internal/storage"
	"github.com/harryneopotter/teacher-website-public/internal/telegram"
)

const (
	downloadTimeout   = 90 * time.Second
	conversationTTL   = 24 * time.Hour
	redisProbeTimeout = 3 * time.Second
	startupTimeout    = 30 * time.Second
)

// App is the assembled service.
type App struct {
	cfg       *config.Config
	store     database.Store
	storage   *storage.Orchestrator
	redis     redis.UniversalClient
	bot       *telegram.Bot
	botAPI    *tgbotapi.BotAPI
	server    *server.Server
	collector *metrics.Collector
}

// OpenStore opens Postgres, or the JSON-file store when USE_LOCAL_STORE is
// set.
func OpenStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	cipher, err := database.NewFieldCipher(cfg.PIIEncryptionKey)
	if err != nil {
		return nil, err
	}
	if cfg.UseLocalStore {
		return database.NewLocalStore(cfg.LocalStoreDir, cipher)
	}
	return database.NewPostgresStore(ctx, cfg.PostgresDSN, cipher)
}

// OpenStorage builds the object store. Without storage credentials, or in
// offline mode, objects live on disk and are served by /files. The returned
// LocalStore is nil for the S3 backend.
func OpenStorage(cfg *config.Config) (*storage.Orchestrator, *storage.LocalStore, error) {
	if cfg.UseLocalStore || !cfg.HasStorageCredentials() {
		key := cfg.LocalSigningKey
		if key == "" {
			key = randomKey()
			logger.WarnMsg("LOCAL_SIGNING_KEY not set, signed links will not survive a restart")
		}
		base := cfg.LocalStoreDir
		if base == "" {
			base = filepath.Join(os.TempDir(), "showcase-store")
		}
		files, err := storage.NewLocalStore(filepath.Join(base, "objects"), cfg.PublicBaseURL, key)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Local object store enabled", map[string]interface{}{
			"dir": filepath.Join(base, "objects"),
		})
		return storage.NewOrchestrator(files, cfg.BucketPDFs, cfg.BucketThumbnails), files, nil
	}

	s3, err := storage.NewS3Store(storage.S3Options{
		Endpoint:   cfg.StorageEndpoint,
		AccessKey:  cfg.StorageAccessKey,
		SecretKey:  cfg.StorageSecretKey,
		Region:     cfg.StorageRegion,
		UseSSL:     cfg.StorageUseSSL,
		PublicHost: cfg.StoragePublicHost,
	})
	if err != nil {
		return nil, nil, err
	}
	return storage.NewOrchestrator(s3, cfg.BucketPDFs, cfg.BucketThumbnails), nil, nil
}

func randomKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func needsRedis(cfg *config.Config) bool {
	return cfg.RateLimitBackend == config.BackendRedis || cfg.ConversationStore == config.BackendRedis
}

// New wires every component from cfg. Only a missing bot token or an
// unreachable store is fatal.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	resolver := secrets.NewResolver(cfg.ProjectID)
	token, err := resolver.Resolve(startCtx, consts.SecretTelegramBotToken, cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bot token: %w", err)
	}
	geminiKey, err := resolver.Resolve(startCtx, consts.SecretGeminiAPIKey, cfg.GeminiAPIKey)
	if err != nil {
		logger.Warn("Gemini API key unavailable, description suggestions disabled", map[string]interface{}{
			"error": err.Error(),
		})
		geminiKey = ""
	}

	a := &App{cfg: cfg}
	if a.store, err = OpenStore(startCtx, cfg); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	orch, files, err := OpenStorage(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open object storage: %w", err)
	}
	a.storage = orch

	if needsRedis(cfg) {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		probeCtx, probeCancel := context.WithTimeout(startCtx, redisProbeTimeout)
		if err := a.redis.Ping(probeCtx).Err(); err != nil {
			logger.Warn("Redis not reachable at startup", map[string]interface{}{
				"addr":  cfg.RedisAddr,
				"error": err.Error(),
			})
		}
		probeCancel()
	}

	a.collector = metrics.NewCollector()
	recorder := metrics.NewRecorder(a.store, a.collector)

	docLimiter, thumbLimiter, appLimiter, err := a.limiters()
	if err != nil {
		a.Close()
		return nil, err
	}

	roles := auth.NewRoleTable(a.store, cfg.SeedUsers())
	if err := roles.Load(startCtx); err != nil {
		logger.Warn("Continuing with seed users only", map[string]interface{}{
			"error": err.Error(),
		})
	}

	convStore, err := a.conversationStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	machine := conversation.NewMachine(convStore, a.store, keylock.NewManager())

	messenger, botAPI, err := telegram.NewAPIMessenger(token)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create Telegram client: %w", err)
	}
	a.botAPI = botAPI

	deps := telegram.Deps{
		Messenger:    messenger,
		Downloader:   telegram.NewDownloader(downloadTimeout),
		Roles:        roles,
		Machine:      machine,
		Storage:      orch,
		Showcases:    a.store,
		DocLimiter:   docLimiter,
		ThumbLimiter: thumbLimiter,
		Recorder:     recorder,
		Collector:    a.collector,
		Namer:        file.NewNamer(),
		Status: telegram.StatusInfo{
			StoreKind:       a.store.Kind(),
			PDFBucket:       cfg.BucketPDFs,
			ThumbnailBucket: cfg.BucketThumbnails,
		},
	}
	if geminiKey != "" {
		assistant, err := assist.NewGeminiAssistant(startCtx, geminiKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("Gemini assistant disabled", map[string]interface{}{"error": err.Error()})
		} else {
			deps.Assistant = assistant
			deps.Status.AIAssist = true
		}
	}

	if a.bot, err = telegram.NewBot(deps); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	recorder.SetAlertFunc(a.bot.AlertAdmins)

	apps, err := applications.NewService(a.store, applications.NewRecaptchaVerifier(cfg.RecaptchaSecretKey), appLimiter, recorder, a.bot)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.server, err = server.New(server.Deps{
		Updates:      a.bot,
		Store:        a.store,
		Storage:      orch,
		Files:        files,
		Applications: apps,
		Recorder:     recorder,
		Collector:    a.collector,
		ThumbnailDir: cfg.ThumbnailDir,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("Service assembled", map[string]interface{}{
		"bot":          botAPI.Self.UserName,
		"store":        a.store.Kind(),
		"users":        roles.Count(),
		"ai_assist":    deps.Status.AIAssist,
		"rate_backend": cfg.RateLimitBackend,
		"conversation": cfg.ConversationStore,
	})
	return a, nil
}

func (a *App) limiters() (doc, thumb, application *ratelimit.Limiter, err error) {
	var backend ratelimit.Backend
	switch a.cfg.RateLimitBackend {
	case config.BackendRedis:
		if backend, err = ratelimit.NewRedisBackend(a.redis, ""); err != nil {
			return nil, nil, nil, err
		}
	default:
		backend = ratelimit.NewStoreBackend(a.store)
	}

	policy := ratelimit.FailOpen
	if a.cfg.RateLimitFailClosed {
		policy = ratelimit.FailClosed
	}
	opts := []ratelimit.Option{ratelimit.WithPolicy(policy), ratelimit.WithRecorder(a.collector)}

	if doc, err = ratelimit.New(ratelimit.NameDocument, backend, a.cfg.PDFRateLimit, consts.DefaultRateLimitWindow, opts...); err != nil {
		return nil, nil, nil, err
	}
	if thumb, err = ratelimit.New(ratelimit.NameThumbnail, backend, a.cfg.ThumbnailRateLimit, consts.DefaultRateLimitWindow, opts...); err != nil {
		return nil, nil, nil, err
	}
	if application, err = ratelimit.New(ratelimit.NameApplication, backend, consts.DefaultApplicationRateLimit, consts.DefaultRateLimitWindow, opts...); err != nil {
		return nil, nil, nil, err
	}
	return doc, thumb, application, nil
}

func (a *App) conversationStore() (conversation.Store, error) {
	if a.cfg.ConversationStore == config.BackendRedis {
		return conversation.NewRedisStore(a.redis, "", conversationTTL)
	}
	return conversation.NewMemoryStore(), nil
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return server.Serve(ctx, server.NewHTTPServer(ctx, a.cfg.Port, a.server.Handler()))
}

func (a *App) Close() {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("Error during shutdown", map[string]interface{}{"error": err.Error()})
	}
}
