package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

// ErrInvalidRole is returned for role names outside the hierarchy.
var ErrInvalidRole = errors.New("invalid role")

// Role levels are totally ordered; a higher role includes every lower one.
type Role int

const (
	RoleNone Role = iota
	RoleContentManager
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleContentManager:
		return consts.RoleNameContentManager
	case RoleAdmin:
		return consts.RoleNameAdmin
	default:
		return "none"
	}
}

// ParseRole accepts only the exact stored names.
func ParseRole(s string) (Role, error) {
	switch s {
	case consts.RoleNameContentManager:
		return RoleContentManager, nil
	case consts.RoleNameAdmin:
		return RoleAdmin, nil
	default:
		return RoleNone, fmt.Errorf("%w: %q (use %s or %s)", ErrInvalidRole, s, consts.RoleNameContentManager, consts.RoleNameAdmin)
	}
}

// RoleTable maps sender ids to roles. It is seeded from configuration,
// extended from the durable store on Load, and written through on AddUser.
type RoleTable struct {
	mu    sync.RWMutex
	roles map[string]Role
	repo  database.UserRepository
	now   func() time.Time
}

// NewRoleTable builds a table from seed names; invalid seeds are logged and
// skipped.
func NewRoleTable(repo database.UserRepository, seeds map[string]string) *RoleTable {
	t := &RoleTable{
		roles: make(map[string]Role, len(seeds)),
		repo:  repo,
		now:   time.Now,
	}
	for id, name := range seeds {
		role, err := ParseRole(name)
		if err != nil || id == "" {
			logger.Warn("Ignoring invalid seed user", map[string]interface{}{
				"user_id": id,
				"role":    name,
			})
			continue
		}
		t.roles[id] = role
	}
	return t
}

// Load merges persisted grants into memory. Seed entries keep the higher of
// their seeded and persisted role.
func (t *RoleTable) Load(ctx context.Context) error {
	if t.repo == nil {
		return nil
	}

	users, err := t.repo.ListAuthorizedUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load authorized users: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range users {
		role, err := ParseRole(u.Role)
		if err != nil {
			continue
		}
		if role > t.roles[u.UserID] {
			t.roles[u.UserID] = role
		}
	}

	logger.Info("Authorized users loaded", map[string]interface{}{
		"persisted": len(users),
		"total":     len(t.roles),
	})
	return nil
}

// AddUser persists the grant first and only then updates memory, so a
// persistence failure leaves the table unchanged.
func (t *RoleTable) AddUser(ctx context.Context, userID string, role Role, addedBy string) error {
	if userID == "" {
		return fmt.Errorf("user id is empty")
	}
	if role <= RoleNone || role > RoleAdmin {
		return fmt.Errorf("%w: %d", ErrInvalidRole, role)
	}

	if t.repo != nil {
		if err := t.repo.SaveAuthorizedUser(ctx, &database.AuthorizedUser{
			UserID:  userID,
			Role:    role.String(),
			AddedBy: addedBy,
			AddedAt: t.now().UTC(),
		}); err != nil {
			return fmt.Errorf("failed to persist authorized user: %w", err)
		}
	}

	t.mu.Lock()
	t.roles[userID] = role
	t.mu.Unlock()
	return nil
}

func (t *RoleTable) IsAuthorized(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.roles[userID]
	return ok
}

// GetUserRole returns RoleNone for unknown ids.
func (t *RoleTable) GetUserRole(userID string) Role {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roles[userID]
}

func (t *RoleTable) HasPermission(userID string, required Role) bool {
	if required <= RoleNone {
		return false
	}
	role := t.GetUserRole(userID)
	return role != RoleNone && role >= required
}

func (t *RoleTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.roles)
}

// Admins returns admin ids in sorted order.
func (t *RoleTable) Admins() []string {
	return t.UsersWithRole(RoleAdmin)
}

// UsersWithRole returns ids holding exactly role, sorted.
func (t *RoleTable) UsersWithRole(role Role) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []string
	for id, r := range t.roles {
		if r == role {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
