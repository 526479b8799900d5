package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrObjectNotFound is returned by Read for a missing object.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidToken is returned when a local signed URL fails verification.
	ErrInvalidToken = errors.New("invalid or expired download token")
	// ErrInvalidName is returned for object names that would escape a bucket.
	ErrInvalidName = errors.New("invalid object name")
)

// ObjectStore is the object storage surface the service depends on.
type ObjectStore interface {
	Save(ctx context.Context, bucket, name string, data []byte, contentType string) error
	Read(ctx context.Context, bucket, name string) ([]byte, string, error)
	MakePublic(ctx context.Context, bucket, name string) error
	// SignedURL issues a read-only URL valid for ttl.
	SignedURL(ctx context.Context, bucket, name string, ttl time.Duration) (string, error)
	// PublicURL is the stable address of an object made public.
	PublicURL(bucket, name string) string
	Ping(ctx context.Context, bucket string) error
}

// ValidateName rejects empty names and path traversal.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, "\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
