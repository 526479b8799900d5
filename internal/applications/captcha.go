package applications

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

const (
	DefaultRecaptchaURL = "https://www.google.com/recaptcha/api/siteverify"
	MinRecaptchaScore   = 0.5
)

// Verifier checks a CAPTCHA token produced by the public form.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// RecaptchaVerifier calls the reCAPTCHA siteverify endpoint.
type RecaptchaVerifier struct {
	client   *resty.Client
	endpoint string
	secret   string
	minScore float64
}

func NewRecaptchaVerifier(secret string) *RecaptchaVerifier {
	return NewRecaptchaVerifierWithURL(secret, DefaultRecaptchaURL)
}

func NewRecaptchaVerifierWithURL(secret, endpoint string) *RecaptchaVerifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")
	return &RecaptchaVerifier{
		client:   client,
		endpoint: endpoint,
		secret:   secret,
		minScore: MinRecaptchaScore,
	}
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	Action     string   `json:"action,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// Verify reports whether token is valid. Without a secret every token passes
// so local setups work.
func (v *RecaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if v.secret == "" {
		logger.WarnMsg("RECAPTCHA_SECRET_KEY not set, skipping CAPTCHA verification")
		return true, nil
	}

	form := map[string]string{
		"secret":   v.secret,
		"response": token,
	}
	if remoteIP != "" && remoteIP != UnknownIP {
		form["remoteip"] = remoteIP
	}

	var body siteVerifyResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&body).
		Post(v.endpoint)
	if err != nil {
		return false, fmt.Errorf("captcha request: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("captcha status %d", resp.StatusCode())
	}

	if !body.Success {
		logger.Warn("CAPTCHA verification failed", map[string]interface{}{
			"error_codes": body.ErrorCodes,
		})
		return false, nil
	}
	if body.Score != nil && *body.Score < v.minScore {
		logger.Warn("CAPTCHA score too low", map[string]interface{}{
			"score": *body.Score,
		})
		return false, nil
	}
	return true, nil
}
