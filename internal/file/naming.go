package file

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
)

// Namer derives collision-resistant object names from the upload time.
// Stamps are strictly increasing per Namer: a call in the same millisecond
// as the previous one gets the next millisecond.
type Namer struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewNamer() *Namer {
	return &Namer{now: time.Now}
}

// NewNamerWithClock is used by tests that need stable names.
func NewNamerWithClock(now func() time.Time) *Namer {
	return &Namer{now: now}
}

// DocumentName prefixes the sanitized original name with a millisecond
// timestamp.
func (n *Namer) DocumentName(original string) string {
	return fmt.Sprintf("%d-%s", n.stamp(), sanitizeBase(original, consts.DefaultPDFName))
}

// ThumbnailName is <ms>-thumbnail.jpg.
func (n *Namer) ThumbnailName() string {
	return fmt.Sprintf("%d-%s", n.stamp(), consts.ThumbnailNameSuffix)
}

func (n *Namer) stamp() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	ms := n.now().UnixMilli()
	if ms <= n.last {
		ms = n.last + 1
	}
	n.last = ms
	return ms
}

func sanitizeBase(name, fallback string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallback
	}
	return name
}
