package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const metaSuffix = ".meta.json"

type objectMeta struct {
	ContentType string    `json:"contentType"`
	Public      bool      `json:"public"`
	SavedAt     time.Time `json:"savedAt"`
}

// LocalStore keeps objects on disk for offline runs. Signed URLs point at
// the /files route and carry an HS256 token bound to bucket and name.
type LocalStore struct {
	root    string
	baseURL string
	key     []byte
	now     func() time.Time
}

func NewLocalStore(root, baseURL, signingKey string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local object store root is required")
	}
	if signingKey == "" {
		return nil, fmt.Errorf("local object store signing key is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     []byte(signingKey),
		now:     time.Now,
	}, nil
}

func (s *LocalStore) path(bucket, name string) (string, error) {
	if err := ValidateName(bucket); err != nil || strings.Contains(bucket, "/") {
		return "", fmt.Errorf("%w: bucket %q", ErrInvalidName, bucket)
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	p := filepath.Join(s.root, bucket, filepath.FromSlash(name))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return p, nil
}

func (s *LocalStore) readMeta(p string) (*objectMeta, error) {
	raw, err := os.ReadFile(p + metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return &objectMeta{}, nil
	}
	if err != nil {
		return nil, err
	}
	meta := &objectMeta{}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("decode object metadata: %w", err)
	}
	return meta, nil
}

func (s *LocalStore) writeMeta(p string, meta *objectMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(p+metaSuffix, raw, 0644)
}

func (s *LocalStore) Save(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	p, err := s.path(bucket, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create bucket directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("write object %s/%s: %w", bucket, name, err)
	}
	return s.writeMeta(p, &objectMeta{ContentType: contentType, SavedAt: s.now().UTC()})
}

func (s *LocalStore) Read(ctx context.Context, bucket, name string) ([]byte, string, error) {
	p, err := s.path(bucket, name)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%s/%s: %w", bucket, name, ErrObjectNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read object %s/%s: %w", bucket, name, err)
	}
	meta, err := s.readMeta(p)
	if err != nil {
		return nil, "", err
	}
	return data, meta.ContentType, nil
}

// IsPublic reports whether MakePublic has been applied to the object.
func (s *LocalStore) IsPublic(bucket, name string) bool {
	p, err := s.path(bucket, name)
	if err != nil {
		return false
	}
	meta, err := s.readMeta(p)
	return err == nil && meta.Public
}

func (s *LocalStore) MakePublic(ctx context.Context, bucket, name string) error {
	p, err := s.path(bucket, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("%s/%s: %w", bucket, name, ErrObjectNotFound)
	}
	meta, err := s.readMeta(p)
	if err != nil {
		return err
	}
	meta.Public = true
	return s.writeMeta(p, meta)
}

type downloadClaims struct {
	Bucket string `json:"bkt"`
	Object string `json:"obj"`
	jwt.RegisteredClaims
}

func (s *LocalStore) SignedURL(ctx context.Context, bucket, name string, ttl time.Duration) (string, error) {
	if _, err := s.path(bucket, name); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("signed url ttl must be positive")
	}

	now := s.now().UTC()
	claims := downloadClaims{
		Bucket: bucket,
		Object: name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}

	return fmt.Sprintf("%s/files/%s/%s?token=%s", s.baseURL, bucket, url.PathEscape(name), url.QueryEscape(token)), nil
}

// VerifyToken checks that token grants read access to bucket/name.
func (s *LocalStore) VerifyToken(token, bucket, name string) error {
	claims := &downloadClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	if claims.Bucket != bucket || claims.Object != name {
		return ErrInvalidToken
	}
	return nil
}

func (s *LocalStore) PublicURL(bucket, name string) string {
	return fmt.Sprintf("%s/files/%s/%s", s.baseURL, bucket, url.PathEscape(name))
}

func (s *LocalStore) Ping(ctx context.Context, bucket string) error {
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("object store root unavailable: %w", err)
	}
	dir := filepath.Join(s.root, bucket)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("bucket %s unavailable: %w", bucket, err)
	}
	return nil
}
