package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/policy"
	"github.com/minio/minio-go/v7/pkg/set"

	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

const gcsHostSuffix = "googleapis.com"

// S3Options configures an S3-compatible endpoint: the GCS XML interop
// endpoint with HMAC keys, or a MinIO server.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	// PublicHost is the host (optionally with scheme) public links point at.
	// Empty means the endpoint itself.
	PublicHost string
}

// S3Store implements ObjectStore with minio-go.
//
// GCS honours per-object canned ACLs; other S3 servers (MinIO) ignore them,
// so there the thumbnail bucket gets an anonymous read policy instead.
type S3Store struct {
	client     *minio.Client
	publicBase string
	useACL     bool

	mu           sync.Mutex
	policyBucket map[string]bool
}

func NewS3Store(opts S3Options) (*S3Store, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		// A fixed region avoids a bucket-location lookup before signing
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object storage client: %w", err)
	}

	return &S3Store{
		client:       client,
		publicBase:   publicBase(opts.PublicHost, endpoint, opts.UseSSL),
		useACL:       isGCSHost(endpoint),
		policyBucket: make(map[string]bool),
	}, nil
}

func publicBase(host, endpoint string, useSSL bool) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = endpoint
	}
	if strings.Contains(host, "://") {
		return host
	}
	if useSSL {
		return "https://" + host
	}
	return "http://" + host
}

func isGCSHost(endpoint string) bool {
	host := strings.ToLower(endpoint)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host == gcsHostSuffix || strings.HasSuffix(host, "."+gcsHostSuffix)
}

// publicReadPolicy allows anonymous GetObject on every object in bucket and
// nothing else; listing stays private.
func publicReadPolicy(bucket string) (string, error) {
	doc := policy.BucketAccessPolicy{
		Version: "2012-10-17",
		Statements: []policy.Statement{{
			Sid:       "PublicReadObjects",
			Effect:    "Allow",
			Principal: policy.User{AWS: set.CreateStringSet("*")},
			Actions:   set.CreateStringSet("s3:GetObject"),
			Resources: set.CreateStringSet("arn:aws:s3:::" + bucket + "/*"),
		}},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode bucket policy: %w", err)
	}
	return string(raw), nil
}

func (s *S3Store) Save(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, name, err)
	}
	return nil
}

func (s *S3Store) Read(ctx context.Context, bucket, name string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get object %s/%s: %w", bucket, name, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, "", fmt.Errorf("%s/%s: %w", bucket, name, ErrObjectNotFound)
		}
		return nil, "", fmt.Errorf("stat object %s/%s: %w", bucket, name, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s/%s: %w", bucket, name, err)
	}
	return data, info.ContentType, nil
}

// MakePublic publishes one object. On GCS the object is rewritten onto itself
// with a public-read canned ACL, keeping its content type. Elsewhere the
// bucket policy is applied once per bucket.
func (s *S3Store) MakePublic(ctx context.Context, bucket, name string) error {
	if !s.useACL {
		return s.ensurePublicBucket(ctx, bucket)
	}

	info, err := s.client.StatObject(ctx, bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return fmt.Errorf("stat object %s/%s: %w", bucket, name, err)
	}

	meta := map[string]string{
		"x-amz-acl":    "public-read",
		"Content-Type": info.ContentType,
	}
	_, err = s.client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          bucket,
			Object:          name,
			ReplaceMetadata: true,
			UserMetadata:    meta,
		},
		minio.CopySrcOptions{
			Bucket: bucket,
			Object: name,
		},
	)
	if err != nil {
		return fmt.Errorf("make object public %s/%s: %w", bucket, name, err)
	}
	return nil
}

func (s *S3Store) ensurePublicBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policyBucket[bucket] {
		return nil
	}

	doc, err := publicReadPolicy(bucket)
	if err != nil {
		return err
	}
	if err := s.client.SetBucketPolicy(ctx, bucket, doc); err != nil {
		return fmt.Errorf("set public policy on %s: %w", bucket, err)
	}
	s.policyBucket[bucket] = true
	logger.Info("Applied public-read policy", map[string]interface{}{
		"bucket": bucket,
	})
	return nil
}

func (s *S3Store) SignedURL(ctx context.Context, bucket, name string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, name, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign get %s/%s: %w", bucket, name, err)
	}
	return u.String(), nil
}

func (s *S3Store) PublicURL(bucket, name string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBase, bucket, url.PathEscape(name))
}

func (s *S3Store) Ping(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	return nil
}
