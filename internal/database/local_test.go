package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func publishedItem(title string) *ShowcaseItem {
	return &ShowcaseItem{
		Title:         title,
		Author:        "Author",
		Description:   "Desc",
		PDFObjectName: "1700000000000-" + title + ".pdf",
		ThumbnailURL:  consts.PlaceholderThumbnailURL,
		Status:        consts.StatusPublished,
	}
}

func TestLocalStore_KindAndPing(t *testing.T) {
	s := newTestLocalStore(t)
	assert.Equal(t, consts.StoreKindLocal, s.Kind())
	assert.NoError(t, s.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(s.Dir()))
	assert.Error(t, s.Ping(context.Background()))
}

func TestLocalStore_ShowcaseLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	firstID, err := s.CreateShowcase(ctx, publishedItem("first"))
	require.NoError(t, err)
	require.NotEmpty(t, firstID)

	pending := publishedItem("pending")
	pending.Status = consts.StatusNew
	_, err = s.CreateShowcase(ctx, pending)
	require.NoError(t, err)

	secondID, err := s.CreateShowcase(ctx, publishedItem("second"))
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	items, err := s.ListPublishedShowcases(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "second", items[0].Title, "newest first")
	assert.Equal(t, "first", items[1].Title)

	limited, err := s.ListPublishedShowcases(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, secondID, limited[0].ID)

	require.NoError(t, s.UpdateShowcaseThumbnail(ctx, firstID, "https://storage.googleapis.com/thumbs/x.jpg"))
	items, err = s.ListPublishedShowcases(ctx, 0)
	require.NoError(t, err)
	for _, item := range items {
		if item.ID == firstID {
			assert.Equal(t, "https://storage.googleapis.com/thumbs/x.jpg", item.ThumbnailURL)
			assert.Equal(t, consts.StatusPublished, item.Status, "thumbnail patch keeps status")
			assert.True(t, item.UpdatedAt.After(item.CreatedAt))
		}
	}

	err = s.UpdateShowcaseThumbnail(ctx, "missing", "x")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStore_RejectsInvalidShowcase(t *testing.T) {
	s := newTestLocalStore(t)
	_, err := s.CreateShowcase(context.Background(), &ShowcaseItem{Title: "no pdf", Status: consts.StatusPublished})
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestLocalStore_SkipsMalformedShowcaseRows(t *testing.T) {
	s := newTestLocalStore(t)
	raw := `[{"id":"a","title":"","status":"published"},{"id":"b","title":"ok","pdfObjectName":"b.pdf","status":"published"}]`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), showcaseFile), []byte(raw), 0644))

	items, err := s.ListPublishedShowcases(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ID)
}

func TestLocalStore_CorruptFileIsInvalidRecord(t *testing.T) {
	s := newTestLocalStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), showcaseFile), []byte("{not json"), 0644))

	_, err := s.ListPublishedShowcases(context.Background(), 0)
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestLocalStore_AuthorizedUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t)

	require.NoError(t, s.SaveAuthorizedUser(ctx, &AuthorizedUser{UserID: "123", Role: consts.RoleNameContentManager, AddedBy: "1"}))
	require.NoError(t, s.SaveAuthorizedUser(ctx, &AuthorizedUser{UserID: "456", Role: consts.RoleNameAdmin, AddedBy: "1"}))
	require.NoError(t, s.SaveAuthorizedUser(ctx, &AuthorizedUser{UserID: "123", Role: consts.RoleNameAdmin, AddedBy: "456"}))

	users, err := s.ListAuthorizedUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "123", users[0].UserID)
	assert.Equal(t, consts.RoleNameAdmin, users[0].Role)
	assert.Equal(t, "456", users[0].AddedBy)
	assert.False(t, users[0].AddedAt.IsZero())

	err = s.SaveAuthorizedUser(ctx, &AuthorizedUser{UserID: "789", Role: "superuser"})
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestLocalStore_UpdateRateLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	var seen []*RateLimitRecord
	bump := func(cur *RateLimitRecord) (*RateLimitRecord, error) {
		seen = append(seen, cur)
		if cur == nil {
			return &RateLimitRecord{Count: 1, WindowStart: now}, nil
		}
		return &RateLimitRecord{Count: cur.Count + 1, WindowStart: cur.WindowStart}, nil
	}

	rec, err := s.UpdateRateLimit(ctx, "42", bump)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)

	rec, err = s.UpdateRateLimit(ctx, "42", bump)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Count)
	assert.Equal(t, "42", rec.Key)

	require.Len(t, seen, 2)
	assert.Nil(t, seen[0])
	assert.Equal(t, 1, seen[1].Count)

	// Independent keys
	rec, err = s.UpdateRateLimit(ctx, "42_photo", bump)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)

	// A nil result writes nothing
	rec, err = s.UpdateRateLimit(ctx, "42", func(cur *RateLimitRecord) (*RateLimitRecord, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Count)

	// Callback errors propagate and write nothing
	boom := errors.New("boom")
	_, err = s.UpdateRateLimit(ctx, "42", func(cur *RateLimitRecord) (*RateLimitRecord, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestLocalStore_UpdateRateLimitIsSerialized(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateRateLimit(ctx, "k", func(cur *RateLimitRecord) (*RateLimitRecord, error) {
				if cur == nil {
					return &RateLimitRecord{Count: 1, WindowStart: now}, nil
				}
				return &RateLimitRecord{Count: cur.Count + 1, WindowStart: cur.WindowStart}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.UpdateRateLimit(ctx, "k", func(cur *RateLimitRecord) (*RateLimitRecord, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, 20, rec.Count)
}

func TestLocalStore_MalformedRateLimitTreatedAsAbsent(t *testing.T) {
	s := newTestLocalStore(t)
	raw := `{"k":{"key":"k","count":-3,"windowStart":"2024-05-01T10:00:00Z"}}`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), rateLimitsFile), []byte(raw), 0644))

	var got *RateLimitRecord
	_, err := s.UpdateRateLimit(context.Background(), "k", func(cur *RateLimitRecord) (*RateLimitRecord, error) {
		got = cur
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocalStore_Metrics(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.IncrementMetric(ctx, consts.MetricPDFUploads, at))
	require.NoError(t, s.IncrementMetric(ctx, consts.MetricPDFUploads, at.Add(time.Minute)))

	counter, err := s.Metric(ctx, consts.MetricPDFUploads)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counter.Count)
	assert.True(t, counter.LastUpdated.Equal(at.Add(time.Minute)))

	_, err = s.Metric(ctx, consts.MetricErrors)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStore_UpdateErrorSpike(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t)

	next, err := s.UpdateErrorSpike(ctx, func(ts []int64) []int64 { return append(ts, 1, 2) })
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, next)

	next, err = s.UpdateErrorSpike(ctx, func(ts []int64) []int64 {
		assert.Equal(t, []int64{1, 2}, ts)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, next)

	// Counters survive spike rewrites
	require.NoError(t, s.IncrementMetric(ctx, consts.MetricErrors, time.Now()))
	_, err = s.UpdateErrorSpike(ctx, func(ts []int64) []int64 { return []int64{9} })
	require.NoError(t, err)
	counter, err := s.Metric(ctx, consts.MetricErrors)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.Count)
}

func TestLocalStore_Applications(t *testing.T) {
	ctx := context.Background()
	cipher, err := NewFieldCipher("pii-key")
	require.NoError(t, err)
	s, err := NewLocalStore(t.TempDir(), cipher)
	require.NoError(t, err)

	id, err := s.CreateApplication(ctx, &Application{
		StudentName: "Asha",
		Grade:       "7",
		PhoneNumber: "9876543210",
		Program:     "Creative Writing",
		IPAddress:   "10.0.0.1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	raw, err := os.ReadFile(filepath.Join(s.Dir(), applicationFile))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "9876543210"), "phone stored sealed")

	apps, err := s.ListApplications(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "9876543210", apps[0].PhoneNumber)
	assert.Equal(t, consts.StatusNew, apps[0].Status)
	assert.False(t, apps[0].SubmittedAt.IsZero())

	_, err = s.CreateApplication(ctx, &Application{StudentName: "x"})
	assert.True(t, errors.Is(err, ErrInvalidRecord))
	assert.Contains(t, err.Error(), "grade")
}
