package consts

import "time"

// Bot commands
const (
	CommandStart   = "/start"
	CommandHelp    = "/help"
	CommandList    = "/list"
	CommandStatus  = "/status"
	CommandUserID  = "/userid"
	CommandAddUser = "/adduser"
	CommandCancel  = "/cancel"
	CommandDone    = "/done"

	// Bare form accepted by the admin flow: "adduser <id> <role>"
	AddUserPrefix = "adduser "
)

// Parse modes understood by Telegram
const (
	ParseModeNone       = ""
	ParseModeMarkdown   = "Markdown"
	ParseModeMarkdownV2 = "MarkdownV2"
	ParseModeHTML       = "HTML"
)

// Roles as stored in authorized_users records
const (
	RoleNameContentManager = "content_manager"
	RoleNameAdmin          = "admin"
)

// Showcase record statuses
const (
	StatusNew       = "new"
	StatusPublished = "published"
)

// Metric names
const (
	MetricPDFUploads         = "pdf_uploads"
	MetricThumbnailUploads   = "thumbnail_uploads"
	MetricRateLimitHits      = "rate_limit_hits"
	MetricErrors             = "errors"
	MetricShowcasesPublished = "showcases_published"
	MetricUsersAdded         = "users_added"
	MetricApplications       = "applications"
)

// Content types
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeJPEG = "image/jpeg"
	ContentTypeText = "text/plain"
)

// Storage and listing defaults
const (
	PlaceholderThumbnailURL = "/thumbnails/test.jpg"
	DefaultPDFName          = "document.pdf"
	ThumbnailNameSuffix     = "thumbnail.jpg"
	ListCommandLimit        = 10

	SignedURLTTL     = 24 * time.Hour
	AssetRedirectTTL = 1 * time.Hour
	ThumbnailMaxAge  = "public, max-age=31536000, immutable"
)

// Rate limiter defaults
const (
	DefaultPDFRateLimit         = 5
	DefaultThumbnailRateLimit   = 10
	DefaultApplicationRateLimit = 5
	DefaultRateLimitWindow      = time.Hour

	ThumbnailKeySuffix   = "_photo"
	ApplicationKeyPrefix = "ip:"
)

// Error spike detection
const (
	ErrorSpikeWindow    = 5 * time.Minute
	ErrorSpikeThreshold = 5
)

// Store kinds reported by /health
const (
	StoreKindLocal    = "local"
	StoreKindPostgres = "postgres"
)

// Secret names in the vault
const (
	SecretTelegramBotToken = "telegram-bot-token"
	SecretGeminiAPIKey     = "gemini-api-key"
)
