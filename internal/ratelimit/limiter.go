package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

// Limiter names
const (
	NameDocument    = "document"
	NameThumbnail   = "thumbnail"
	NameApplication = "application"
)

// CheckRecorder observes every check.
type CheckRecorder interface {
	RecordRateLimitCheck(limiter string, outcome string)
}

// Limiter is one named fixed-window quota over a backend.
type Limiter struct {
	name     string
	backend  Backend
	limit    int
	window   time.Duration
	policy   FailurePolicy
	recorder CheckRecorder
	now      func() time.Time
}

type Option func(*Limiter)

func WithPolicy(policy FailurePolicy) Option {
	return func(l *Limiter) { l.policy = policy }
}

func WithRecorder(recorder CheckRecorder) Option {
	return func(l *Limiter) { l.recorder = recorder }
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(name string, backend Backend, limit int, window time.Duration, opts ...Option) (*Limiter, error) {
	if backend == nil {
		return nil, errors.New("rate limiter backend is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}

	l := &Limiter{
		name:    name,
		backend: backend,
		limit:   limit,
		window:  window,
		policy:  FailOpen,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Limiter) Name() string {
	return l.name
}

func (l *Limiter) Limit() int {
	return l.limit
}

// CheckAndIncrement never returns an error; backend faults come back as an
// Unknown result carrying the cause.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string) Result {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}

	result, err := l.backend.CheckAndIncrement(ctx, key, l.limit, l.window, l.now())
	if err != nil {
		logger.Error("Rate limiter backend failed", map[string]interface{}{
			"limiter": l.name,
			"key":     key,
			"error":   err.Error(),
		})
		result = Result{Outcome: Unknown, Cause: err}
	}

	if l.recorder != nil {
		l.recorder.RecordRateLimitCheck(l.name, result.Outcome.String())
	}
	return result
}

// Permit applies this limiter's failure policy.
func (l *Limiter) Permit(r Result) bool {
	return r.Permit(l.policy)
}

// Allow is CheckAndIncrement followed by Permit.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, Result) {
	r := l.CheckAndIncrement(ctx, key)
	return l.Permit(r), r
}

func DocumentKey(userID string) string {
	return userID
}

func ThumbnailKey(userID string) string {
	return userID + consts.ThumbnailKeySuffix
}

func ApplicationKey(ip string) string {
	return consts.ApplicationKeyPrefix + ip
}
