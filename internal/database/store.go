package database

import (
	"context"
	"time"
)

// ShowcaseRepository persists showcase records.
type ShowcaseRepository interface {
	// CreateShowcase assigns an id and timestamps, then stores the item.
	CreateShowcase(ctx context.Context, item *ShowcaseItem) (string, error)
	// UpdateShowcaseThumbnail patches only thumbnailUrl and updatedAt.
	UpdateShowcaseThumbnail(ctx context.Context, id, thumbnailURL string) error
	// ListPublishedShowcases returns published items, newest first. A limit
	// of zero or less returns all of them.
	ListPublishedShowcases(ctx context.Context, limit int) ([]*ShowcaseItem, error)
}

// UserRepository persists role grants.
type UserRepository interface {
	ListAuthorizedUsers(ctx context.Context) ([]*AuthorizedUser, error)
	SaveAuthorizedUser(ctx context.Context, user *AuthorizedUser) error
}

// RateLimitUpdateFunc receives the current record (nil when absent) and
// returns the record to write back.
type RateLimitUpdateFunc func(current *RateLimitRecord) (*RateLimitRecord, error)

// RateLimitRepository runs atomic read-modify-write cycles on limiter keys.
type RateLimitRepository interface {
	UpdateRateLimit(ctx context.Context, key string, fn RateLimitUpdateFunc) (*RateLimitRecord, error)
}

// MetricRepository persists event counters and the error-spike list.
type MetricRepository interface {
	IncrementMetric(ctx context.Context, name string, at time.Time) error
	// UpdateErrorSpike rewrites the timestamp list atomically.
	UpdateErrorSpike(ctx context.Context, fn func(timestamps []int64) []int64) ([]int64, error)
}

// ApplicationRepository persists enrolment requests.
type ApplicationRepository interface {
	CreateApplication(ctx context.Context, app *Application) (string, error)
}

// Store is the complete persistence surface used by the service.
type Store interface {
	ShowcaseRepository
	UserRepository
	RateLimitRepository
	MetricRepository
	ApplicationRepository

	Kind() string
	Ping(ctx context.Context) error
	Close() error
}
