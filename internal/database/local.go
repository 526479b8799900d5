package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

const (
	showcaseFile    = "showcase.json"
	usersFile       = "authorized_users.json"
	rateLimitsFile  = "rate_limits.json"
	metricsFile     = "metrics.json"
	applicationFile = "applications.json"
)

type localMetrics struct {
	Counters   map[string]*MetricCounter `json:"counters"`
	ErrorSpike *ErrorSpike               `json:"error_spike"`
}

// LocalStore keeps every collection in a JSON file under one directory. A
// single mutex serializes all reads and rewrites, so atomicity holds within
// one process only.
type LocalStore struct {
	dir    string
	mu     sync.Mutex
	cipher *FieldCipher
	now    func() time.Time
}

func NewLocalStore(dir string, cipher *FieldCipher) (*LocalStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "showcase-store")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local store directory: %w", err)
	}

	logger.Info("Local store enabled", map[string]interface{}{
		"dir": dir,
	})

	return &LocalStore{
		dir:    dir,
		cipher: cipher,
		now:    time.Now,
	}, nil
}

func (s *LocalStore) Kind() string {
	return consts.StoreKindLocal
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("local store unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local store path %s is not a directory", s.dir)
	}
	return nil
}

func (s *LocalStore) Close() error {
	return nil
}

// readJSON decodes name into v. A missing file leaves v untouched.
func (s *LocalStore) readJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s is not valid JSON: %v", ErrInvalidRecord, name, err)
	}
	return nil
}

// writeJSON replaces name atomically via a temp file and rename.
func (s *LocalStore) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (s *LocalStore) CreateShowcase(ctx context.Context, item *ShowcaseItem) (string, error) {
	if err := item.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*ShowcaseItem
	if err := s.readJSON(showcaseFile, &items); err != nil {
		return "", err
	}

	now := s.now().UTC()
	stored := *item
	stored.ID = uuid.NewString()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	items = append(items, &stored)

	if err := s.writeJSON(showcaseFile, items); err != nil {
		return "", err
	}
	return stored.ID, nil
}

func (s *LocalStore) UpdateShowcaseThumbnail(ctx context.Context, id, thumbnailURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*ShowcaseItem
	if err := s.readJSON(showcaseFile, &items); err != nil {
		return err
	}

	for _, item := range items {
		if item != nil && item.ID == id {
			item.ThumbnailURL = thumbnailURL
			item.UpdatedAt = s.now().UTC()
			return s.writeJSON(showcaseFile, items)
		}
	}
	return fmt.Errorf("showcase %s: %w", id, ErrNotFound)
}

func (s *LocalStore) ListPublishedShowcases(ctx context.Context, limit int) ([]*ShowcaseItem, error) {
	s.mu.Lock()
	var items []*ShowcaseItem
	err := s.readJSON(showcaseFile, &items)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	published := make([]*ShowcaseItem, 0, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			logger.Warn("Skipping malformed showcase record", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if item.IsPublished() {
			published = append(published, item)
		}
	}

	sort.SliceStable(published, func(i, j int) bool {
		return published[i].CreatedAt.After(published[j].CreatedAt)
	})

	if limit > 0 && len(published) > limit {
		published = published[:limit]
	}
	return published, nil
}

func (s *LocalStore) ListAuthorizedUsers(ctx context.Context) ([]*AuthorizedUser, error) {
	s.mu.Lock()
	users := map[string]*AuthorizedUser{}
	err := s.readJSON(usersFile, &users)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	result := make([]*AuthorizedUser, 0, len(users))
	for id, user := range users {
		if user != nil && user.UserID == "" {
			user.UserID = id
		}
		if err := user.Validate(); err != nil {
			logger.Warn("Skipping malformed authorized user record", map[string]interface{}{
				"user_id": id,
				"error":   err.Error(),
			})
			continue
		}
		result = append(result, user)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (s *LocalStore) SaveAuthorizedUser(ctx context.Context, user *AuthorizedUser) error {
	if err := user.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users := map[string]*AuthorizedUser{}
	if err := s.readJSON(usersFile, &users); err != nil {
		return err
	}

	stored := *user
	if stored.AddedAt.IsZero() {
		stored.AddedAt = s.now().UTC()
	}
	users[stored.UserID] = &stored
	return s.writeJSON(usersFile, users)
}

func (s *LocalStore) UpdateRateLimit(ctx context.Context, key string, fn RateLimitUpdateFunc) (*RateLimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := map[string]*RateLimitRecord{}
	if err := s.readJSON(rateLimitsFile, &records); err != nil {
		return nil, err
	}

	current := records[key]
	if current != nil {
		current.Key = key
		if err := current.Validate(); err != nil {
			logger.Warn("Discarding malformed rate limit record", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			current = nil
		}
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}

	next.Key = key
	if err := next.Validate(); err != nil {
		return nil, err
	}
	records[key] = next
	if err := s.writeJSON(rateLimitsFile, records); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *LocalStore) loadMetrics() (*localMetrics, error) {
	m := &localMetrics{}
	if err := s.readJSON(metricsFile, m); err != nil {
		return nil, err
	}
	if m.Counters == nil {
		m.Counters = map[string]*MetricCounter{}
	}
	if m.ErrorSpike == nil {
		m.ErrorSpike = &ErrorSpike{}
	}
	return m, nil
}

func (s *LocalStore) IncrementMetric(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadMetrics()
	if err != nil {
		return err
	}

	counter := m.Counters[name]
	if counter == nil {
		counter = &MetricCounter{Name: name}
		m.Counters[name] = counter
	}
	counter.Count++
	counter.LastUpdated = at.UTC()

	return s.writeJSON(metricsFile, m)
}

// Metric returns the stored counter for name.
func (s *LocalStore) Metric(ctx context.Context, name string) (*MetricCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadMetrics()
	if err != nil {
		return nil, err
	}
	counter, ok := m.Counters[name]
	if !ok {
		return nil, fmt.Errorf("metric %s: %w", name, ErrNotFound)
	}
	return counter, nil
}

func (s *LocalStore) UpdateErrorSpike(ctx context.Context, fn func(timestamps []int64) []int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadMetrics()
	if err != nil {
		return nil, err
	}

	next := fn(append([]int64(nil), m.ErrorSpike.Timestamps...))
	if next == nil {
		next = []int64{}
	}
	m.ErrorSpike.Timestamps = next
	m.ErrorSpike.LastUpdated = s.now().UTC()

	if err := s.writeJSON(metricsFile, m); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *LocalStore) CreateApplication(ctx context.Context, app *Application) (string, error) {
	if err := app.Validate(); err != nil {
		return "", err
	}

	phone, err := s.cipher.Seal(app.PhoneNumber)
	if err != nil {
		return "", fmt.Errorf("failed to seal phone number: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var apps []*Application
	if err := s.readJSON(applicationFile, &apps); err != nil {
		return "", err
	}

	stored := *app
	stored.ID = uuid.NewString()
	stored.PhoneNumber = phone
	if stored.Status == "" {
		stored.Status = consts.StatusNew
	}
	if stored.SubmittedAt.IsZero() {
		stored.SubmittedAt = s.now().UTC()
	}
	apps = append(apps, &stored)

	if err := s.writeJSON(applicationFile, apps); err != nil {
		return "", err
	}
	return stored.ID, nil
}

// ListApplications returns stored applications with personal fields opened.
func (s *LocalStore) ListApplications(ctx context.Context) ([]*Application, error) {
	s.mu.Lock()
	var apps []*Application
	err := s.readJSON(applicationFile, &apps)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, app := range apps {
		phone, err := s.cipher.Open(app.PhoneNumber)
		if err != nil {
			return nil, fmt.Errorf("application %s: %w", app.ID, err)
		}
		app.PhoneNumber = phone
	}
	return apps, nil
}
