package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

// Manager hands out one exclusive lock per key. Entries are reference
// counted and removed as soon as the last holder or waiter leaves, so no
// cleanup goroutine is needed.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem      chan struct{}
	refCount int
}

func NewManager() *Manager {
	return &Manager{locks: make(map[string]*keyLock)}
}

func (m *Manager) acquireRef(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[key]
	if !ok {
		lock = &keyLock{sem: make(chan struct{}, 1)}
		m.locks[key] = lock
	}
	lock.refCount++
	return lock
}

func (m *Manager) releaseRef(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[key]
	if !ok {
		return
	}
	lock.refCount--
	if lock.refCount <= 0 {
		delete(m.locks, key)
	}
}

// Handle is an acquired lock. Release is idempotent.
type Handle struct {
	m        *Manager
	key      string
	lock     *keyLock
	once     sync.Once
	acquired time.Time
}

// Acquire blocks until the key is free or ctx is done.
func (m *Manager) Acquire(ctx context.Context, key string) (*Handle, error) {
	lock := m.acquireRef(key)

	select {
	case lock.sem <- struct{}{}:
		return &Handle{m: m, key: key, lock: lock, acquired: time.Now()}, nil
	case <-ctx.Done():
		m.releaseRef(key)
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", key, ctx.Err())
	}
}

func (h *Handle) Release() {
	h.once.Do(func() {
		<-h.lock.sem
		h.m.releaseRef(h.key)

		logger.Debug("Key lock released", map[string]interface{}{
			"key":     h.key,
			"held_ms": time.Since(h.acquired).Milliseconds(),
		})
	})
}

// WithLock runs fn while holding the lock for key.
func (m *Manager) WithLock(ctx context.Context, key string, fn func() error) error {
	handle, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer handle.Release()

	return fn()
}

// active reports how many keys currently have holders or waiters.
func (m *Manager) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
