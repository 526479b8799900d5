package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	secretmanager "google.golang.org/api/secretmanager/v1"
	"google.golang.org/api/option"

	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

// ErrNoProject is returned when a secret must be fetched but no project is set.
var ErrNoProject = errors.New("no cloud project configured for secret lookup")

// Resolver reads secrets from Secret Manager unless a local override is given.
// The API client is created on first use, so a fully overridden setup never
// needs cloud credentials.
type Resolver struct {
	project string
	opts    []option.ClientOption

	mu  sync.Mutex
	svc *secretmanager.Service
}

func NewResolver(project string, opts ...option.ClientOption) *Resolver {
	return &Resolver{project: project, opts: opts}
}

func (r *Resolver) service(ctx context.Context) (*secretmanager.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.svc != nil {
		return r.svc, nil
	}
	svc, err := secretmanager.NewService(ctx, r.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}
	r.svc = svc
	return svc, nil
}

// VersionName is the resource name of the latest version of secret.
func VersionName(project, secret string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, secret)
}

// Resolve returns override when it is non-empty, otherwise the latest value
// of the named secret.
func (r *Resolver) Resolve(ctx context.Context, name, override string) (string, error) {
	if v := strings.TrimSpace(override); v != "" {
		return v, nil
	}
	if r == nil || r.project == "" {
		return "", ErrNoProject
	}

	svc, err := r.service(ctx)
	if err != nil {
		return "", err
	}

	resp, err := svc.Projects.Secrets.Versions.Access(VersionName(r.project, name)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	if resp.Payload == nil {
		return "", fmt.Errorf("secret %s has no payload", name)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode secret %s: %w", name, err)
	}

	logger.Debug("Secret resolved from vault", map[string]interface{}{
		"secret": name,
	})
	return strings.TrimSpace(string(data)), nil
}
