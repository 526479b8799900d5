package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidRecord is returned when a record fails validation at the
	// storage boundary, in either direction.
	ErrInvalidRecord = errors.New("invalid record")
)

// ShowcaseItem is one published (or pending) piece of student work.
type ShowcaseItem struct {
	ID            string    `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	Author        string    `db:"author" json:"author"`
	Description   string    `db:"description" json:"description"`
	PDFObjectName string    `db:"pdf_object_name" json:"pdfObjectName"`
	ThumbnailURL  string    `db:"thumbnail_url" json:"thumbnailUrl"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

func (s *ShowcaseItem) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil showcase item", ErrInvalidRecord)
	}
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("%w: showcase title is empty", ErrInvalidRecord)
	}
	if strings.TrimSpace(s.PDFObjectName) == "" {
		return fmt.Errorf("%w: showcase has no pdf object", ErrInvalidRecord)
	}
	switch s.Status {
	case consts.StatusNew, consts.StatusPublished:
	default:
		return fmt.Errorf("%w: unknown showcase status %q", ErrInvalidRecord, s.Status)
	}
	return nil
}

// IsPublished reports whether the item is visible on the public site.
func (s *ShowcaseItem) IsPublished() bool {
	return s.Status == consts.StatusPublished
}

// AuthorizedUser is a persisted role grant.
type AuthorizedUser struct {
	UserID  string    `db:"user_id" json:"userId"`
	Role    string    `db:"role" json:"role"`
	AddedBy string    `db:"added_by" json:"addedBy"`
	AddedAt time.Time `db:"added_at" json:"addedAt"`
}

func (u *AuthorizedUser) Validate() error {
	if u == nil {
		return fmt.Errorf("%w: nil authorized user", ErrInvalidRecord)
	}
	if strings.TrimSpace(u.UserID) == "" {
		return fmt.Errorf("%w: authorized user has no id", ErrInvalidRecord)
	}
	switch u.Role {
	case consts.RoleNameContentManager, consts.RoleNameAdmin:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRecord, u.Role)
	}
	return nil
}

// RateLimitRecord is the fixed-window counter for one limiter key.
type RateLimitRecord struct {
	Key         string    `db:"key" json:"key"`
	Count       int       `db:"count" json:"count"`
	WindowStart time.Time `db:"window_start" json:"windowStart"`
}

func (r *RateLimitRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil rate limit record", ErrInvalidRecord)
	}
	if r.Key == "" {
		return fmt.Errorf("%w: rate limit record has no key", ErrInvalidRecord)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: negative rate limit count", ErrInvalidRecord)
	}
	if r.WindowStart.IsZero() {
		return fmt.Errorf("%w: rate limit record has no window start", ErrInvalidRecord)
	}
	return nil
}

// MetricCounter is a durable monotonic event counter.
type MetricCounter struct {
	Name        string    `db:"name" json:"name"`
	Count       int64     `db:"count" json:"count"`
	LastUpdated time.Time `db:"last_updated" json:"lastUpdated"`
}

// ErrorSpike holds the unix-millisecond timestamps of recent errors.
type ErrorSpike struct {
	Timestamps  []int64   `db:"timestamps" json:"timestamps"`
	LastUpdated time.Time `db:"last_updated" json:"lastUpdated"`
}

// Application is an enrolment request submitted from the public site.
type Application struct {
	ID              string    `db:"id" json:"id"`
	StudentName     string    `db:"student_name" json:"studentName"`
	Grade           string    `db:"grade" json:"grade"`
	PhoneNumber     string    `db:"phone_number" json:"phoneNumber"`
	Program         string    `db:"program" json:"program"`
	Comments        string    `db:"comments" json:"comments,omitempty"`
	IPAddress       string    `db:"ip_address" json:"ipAddress"`
	CaptchaVerified bool      `db:"captcha_verified" json:"captchaVerified"`
	Status          string    `db:"status" json:"status"`
	SubmittedAt     time.Time `db:"submitted_at" json:"submittedAt"`
}

func (a *Application) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil application", ErrInvalidRecord)
	}
	missing := []string{}
	if strings.TrimSpace(a.StudentName) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(a.Grade) == "" {
		missing = append(missing, "grade")
	}
	if strings.TrimSpace(a.PhoneNumber) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(a.Program) == "" {
		missing = append(missing, "program")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: application missing %s", ErrInvalidRecord, strings.Join(missing, ", "))
	}
	return nil
}
