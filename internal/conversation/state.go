package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Step string

const (
	StepIdle                      Step = "idle"
	StepWaitingForTitle           Step = "waiting_for_title"
	StepWaitingForAuthor          Step = "waiting_for_author"
	StepWaitingForDescription     Step = "waiting_for_description"
	StepWaitingForThumbnailOrDone Step = "waiting_for_thumbnail_or_done"
)

func (s Step) Valid() bool {
	switch s {
	case StepWaitingForTitle, StepWaitingForAuthor, StepWaitingForDescription, StepWaitingForThumbnailOrDone:
		return true
	}
	return false
}

// Data is the partially collected showcase record.
type Data struct {
	Title       string `json:"title,omitempty"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
}

// State is one user's progress through the intake dialog.
type State struct {
	UserID        string    `json:"userId"`
	Step          Step      `json:"step"`
	PDFObjectName string    `json:"pdfObjectName"`
	Data          Data      `json:"data"`
	ShowcaseID    string    `json:"showcaseId,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (s *State) clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Store holds at most one State per user. Get returns nil, nil when the
// user has no conversation.
type Store interface {
	Get(ctx context.Context, userID string) (*State, error)
	Put(ctx context.Context, state *State) error
	Delete(ctx context.Context, userID string) error
}

// MemoryStore keeps state in process memory; a restart drops every
// in-flight conversation.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[userID].clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, state *State) error {
	if state == nil || state.UserID == "" {
		return errors.New("conversation state needs a user id")
	}
	m.mu.Lock()
	m.states[state.UserID] = state.clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	delete(m.states, userID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// RedisStore keeps JSON-encoded state under a TTL so abandoned dialogs
// expire on their own.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("conversation redis client is required")
	}
	if prefix == "" {
		prefix = "showcase:conversation"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *RedisStore) key(userID string) string {
	return r.prefix + ":" + userID
}

func (r *RedisStore) Get(ctx context.Context, userID string) (*State, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation state: %w", err)
	}

	state := &State{}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("failed to decode conversation state: %w", err)
	}
	if !state.Step.Valid() {
		return nil, fmt.Errorf("conversation state has unknown step %q", state.Step)
	}
	return state, nil
}

func (r *RedisStore) Put(ctx context.Context, state *State) error {
	if state == nil || state.UserID == "" {
		return errors.New("conversation state needs a user id")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode conversation state: %w", err)
	}
	if err := r.client.Set(ctx, r.key(state.UserID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	return nil
}
