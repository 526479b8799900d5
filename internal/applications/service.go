package applications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
	"github.com/harryneopotter/teacher-website-public/internal/metrics"
	"github.com/harryneopotter/teacher-website-public/internal/ratelimit"
	"github.com/harryneopotter/teacher-website-public/internal/telegram"
)

// UnknownIP is recorded when the client address cannot be determined.
const UnknownIP = "unknown"

var (
	ErrCaptchaRequired    = errors.New("CAPTCHA verification is required")
	ErrCaptchaFailed      = errors.New("CAPTCHA verification failed")
	ErrRateLimited        = errors.New("too many requests")
	ErrLimiterUnavailable = errors.New("rate limiter unavailable")
)

// Form is the JSON body posted by the enrolment form.
type Form struct {
	Name         string `json:"name"`
	Grade        string `json:"grade"`
	Phone        string `json:"phone"`
	Program      string `json:"program"`
	Comments     string `json:"comments,omitempty"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

// Announcer delivers staff notifications.
type Announcer interface {
	NotifyAdmins(ctx context.Context, text, parseMode string)
	NotifyContentManagers(ctx context.Context, text, parseMode string)
}

// Service accepts enrolment applications. Announcer and Recorder may be nil.
type Service struct {
	repo      database.ApplicationRepository
	verifier  Verifier
	limiter   *ratelimit.Limiter
	recorder  *metrics.Recorder
	announcer Announcer
	now       func() time.Time
}

func NewService(repo database.ApplicationRepository, verifier Verifier, limiter *ratelimit.Limiter, recorder *metrics.Recorder, announcer Announcer) (*Service, error) {
	if repo == nil || verifier == nil || limiter == nil {
		return nil, errors.New("applications service requires a repository, verifier and limiter")
	}
	return &Service{
		repo:      repo,
		verifier:  verifier,
		limiter:   limiter,
		recorder:  recorder,
		announcer: announcer,
		now:       time.Now,
	}, nil
}

// Submit validates, verifies, rate limits and stores one application. It
// returns the new application id.
func (s *Service) Submit(ctx context.Context, form Form, clientIP string) (string, error) {
	if clientIP == "" {
		clientIP = UnknownIP
	}

	app := &database.Application{
		StudentName: strings.TrimSpace(form.Name),
		Grade:       strings.TrimSpace(form.Grade),
		PhoneNumber: strings.TrimSpace(form.Phone),
		Program:     strings.TrimSpace(form.Program),
		Comments:    strings.TrimSpace(form.Comments),
		IPAddress:   clientIP,
		Status:      consts.StatusNew,
	}
	if err := app.Validate(); err != nil {
		return "", err
	}

	if strings.TrimSpace(form.CaptchaToken) == "" {
		return "", ErrCaptchaRequired
	}
	ok, err := s.verifier.Verify(ctx, form.CaptchaToken, clientIP)
	if err != nil {
		logger.Error("Error verifying CAPTCHA", map[string]interface{}{
			"error": err.Error(),
			"ip":    clientIP,
		})
		return "", ErrCaptchaFailed
	}
	if !ok {
		return "", ErrCaptchaFailed
	}
	app.CaptchaVerified = true

	if allowed, result := s.limiter.Allow(ctx, ratelimit.ApplicationKey(clientIP)); !allowed {
		if result.Outcome == ratelimit.Refused {
			s.recorder.IncrementMetric(ctx, consts.MetricRateLimitHits)
			return "", ErrRateLimited
		}
		return "", ErrLimiterUnavailable
	}

	app.SubmittedAt = s.now().UTC()
	id, err := s.repo.CreateApplication(ctx, app)
	if err != nil {
		s.recorder.IncrementMetric(ctx, consts.MetricErrors)
		return "", fmt.Errorf("failed to save application: %w", err)
	}

	logger.Info("Application submitted", map[string]interface{}{
		"application_id": id,
		"program":        app.Program,
		"ip":             clientIP,
	})
	s.recorder.IncrementMetric(ctx, consts.MetricApplications)
	s.announce(ctx, app, id)
	return id, nil
}

func (s *Service) announce(ctx context.Context, app *database.Application, id string) {
	if s.announcer == nil {
		logger.WarnMsg("No announcer configured, skipping application notification")
		return
	}
	s.announcer.NotifyContentManagers(ctx, teacherMessage(app), consts.ParseModeMarkdownV2)
	s.announcer.NotifyAdmins(ctx, adminMessage(app, id), consts.ParseModeMarkdownV2)
}

func teacherMessage(app *database.Application) string {
	return fmt.Sprintf("📞 New application: %s \\- %s",
		telegram.EscapeMarkdownV2(app.StudentName),
		telegram.EscapeMarkdownV2(app.PhoneNumber))
}

func adminMessage(app *database.Application, id string) string {
	comments := app.Comments
	if comments == "" {
		comments = "None"
	}
	captcha := "Not verified"
	if app.CaptchaVerified {
		captcha = "Verified"
	}

	esc := telegram.EscapeMarkdownV2
	lines := []string{
		"📋 " + telegram.Bold("New Application Received\\!"),
		"",
		"👤 " + telegram.Bold("Student:") + " " + esc(app.StudentName),
		"📚 " + telegram.Bold("Grade:") + " " + esc(app.Grade),
		"📞 " + telegram.Bold("Phone:") + " " + esc(app.PhoneNumber),
		"🎓 " + telegram.Bold("Program:") + " " + esc(app.Program),
		"💬 " + telegram.Bold("Comments:") + " " + esc(comments),
		"",
		"📅 " + telegram.Bold("Submitted:") + " " + esc(app.SubmittedAt.Format(time.RFC1123)),
		"🆔 " + telegram.Bold("Application ID:") + " " + esc(id),
		"🌐 " + telegram.Bold("IP:") + " " + esc(app.IPAddress),
		"✅ " + telegram.Bold("CAPTCHA:") + " " + captcha,
		"📊 " + telegram.Bold("Status:") + " " + esc(app.Status),
	}
	return strings.Join(lines, "\n")
}
