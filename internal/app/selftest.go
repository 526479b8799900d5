package app

import (
	"context"
	"fmt"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/harryneopotter/teacher-website-public/internal/storage"
)

// CheckResult is one line of a self test report.
type CheckResult struct {
	Name string
	Err  error
}

func (c CheckResult) OK() bool { return c.Err == nil }

// SelfTest pings the store and both buckets, then writes a small canary
// object to the document bucket and signs it.
func SelfTest(ctx context.Context, store database.Store, orch *storage.Orchestrator) []CheckResult {
	var results []CheckResult
	add := func(name string, err error) {
		results = append(results, CheckResult{Name: name, Err: err})
	}

	add(fmt.Sprintf("store (%s) ping", store.Kind()), store.Ping(ctx))
	for _, bucket := range []string{orch.PDFBucket(), orch.ThumbnailBucket()} {
		add("bucket "+bucket, orch.Store().Ping(ctx, bucket))
	}

	canary := fmt.Sprintf("selftest-%d.txt", time.Now().UnixMilli())
	_, err := orch.UploadFile(ctx, []byte("showcase selftest\n"), canary, orch.PDFBucket(), consts.ContentTypeText)
	add("canary upload "+canary, err)
	if err == nil {
		_, err = orch.GenerateSignedURL(ctx, canary)
		add("canary signed url", err)
	}
	return results
}
