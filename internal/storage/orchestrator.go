package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

const locatorScheme = "gs://"

// Orchestrator knows the two buckets and decides how an uploaded object is
// addressed afterwards.
type Orchestrator struct {
	store       ObjectStore
	pdfBucket   string
	thumbBucket string
}

func NewOrchestrator(store ObjectStore, pdfBucket, thumbBucket string) *Orchestrator {
	return &Orchestrator{
		store:       store,
		pdfBucket:   pdfBucket,
		thumbBucket: thumbBucket,
	}
}

func (o *Orchestrator) PDFBucket() string       { return o.pdfBucket }
func (o *Orchestrator) ThumbnailBucket() string { return o.thumbBucket }
func (o *Orchestrator) Store() ObjectStore      { return o.store }

// UploadFile writes data under name in bucket. Thumbnails are made public and
// addressed by their HTTPS URL; anything else gets an internal locator.
func (o *Orchestrator) UploadFile(ctx context.Context, data []byte, name, bucket, contentType string) (string, error) {
	if err := o.store.Save(ctx, bucket, name, data, contentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}

	if bucket != o.thumbBucket {
		logger.Debug("Stored private object", map[string]interface{}{
			"bucket": bucket,
			"object": name,
			"bytes":  len(data),
		})
		return Locator(bucket, name), nil
	}

	if err := o.store.MakePublic(ctx, bucket, name); err != nil {
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	publicURL := o.store.PublicURL(bucket, name)
	logger.Debug("Stored public object", map[string]interface{}{
		"bucket": bucket,
		"object": name,
		"url":    publicURL,
	})
	return publicURL, nil
}

// GenerateSignedURL issues a fresh 24-hour read URL for a private document.
// ref may be a bare object name or a gs:// locator.
func (o *Orchestrator) GenerateSignedURL(ctx context.Context, ref string) (string, error) {
	return o.SignedURLWithTTL(ctx, ref, consts.SignedURLTTL)
}

func (o *Orchestrator) SignedURLWithTTL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	bucket, name := o.pdfBucket, ref
	if b, n, ok := ParseLocator(ref); ok {
		bucket, name = b, n
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return o.store.SignedURL(ctx, bucket, name, ttl)
}

// NormalizeThumbnailURL turns a gs:// locator into its public HTTPS form.
// Other values pass through untouched.
func (o *Orchestrator) NormalizeThumbnailURL(raw string) string {
	bucket, name, ok := ParseLocator(raw)
	if !ok {
		return raw
	}
	return o.store.PublicURL(bucket, name)
}

// Ping checks both buckets.
func (o *Orchestrator) Ping(ctx context.Context) error {
	for _, bucket := range []string{o.pdfBucket, o.thumbBucket} {
		if err := o.store.Ping(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}

func Locator(bucket, name string) string {
	return locatorScheme + bucket + "/" + name
}

// ParseLocator splits gs://bucket/name.
func ParseLocator(ref string) (bucket, name string, ok bool) {
	if !strings.HasPrefix(ref, locatorScheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, locatorScheme)
	bucket, name, found := strings.Cut(rest, "/")
	if !found || bucket == "" || name == "" {
		return "", "", false
	}
	return bucket, name, true
}
