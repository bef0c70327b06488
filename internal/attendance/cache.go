package attendance

import (
	"context"
	"sync"
)

// CachedStatus is one decided student status, tagged with the log it was
// decided for. A tag mismatch means the entry is stale and must be ignored.
type CachedStatus struct {
	Status Status `json:"status"`
	LogID  string `json:"log_id"`
}

// InstructorMark tracks whether the assigned instructor has been sighted
// during the tagged log's session.
type InstructorMark struct {
	LogID    string `json:"log_id"`
	Detected bool   `json:"detected"`
}

// SessionCache is the per-class, session-scoped memory consulted by the
// reconciler. It is a performance optimization, never a source of truth: a
// miss falls back to the persisted log. Implementations must be safe for
// concurrent use.
type SessionCache interface {
	// Student returns the cached status for a recognized user, or nil on a
	// miss.
	Student(ctx context.Context, classID, userID string) (*CachedStatus, error)
	PutStudent(ctx context.Context, classID, userID string, cs CachedStatus) error

	// Instructor returns the current presence marker; the zero value on a
	// miss.
	Instructor(ctx context.Context, classID string) (InstructorMark, error)
	SetInstructor(ctx context.Context, classID string, m InstructorMark) error

	// Reset drops all cached state for a class.
	Reset(ctx context.Context, classID string) error
}

// MemoryCache is the per-instance SessionCache. In a multi-instance
// deployment each instance warms its own copy; correctness is preserved by
// the persisted-duplicate fallback.
type MemoryCache struct {
	mu          sync.RWMutex
	students    map[string]map[string]CachedStatus
	instructors map[string]InstructorMark
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		students:    make(map[string]map[string]CachedStatus),
		instructors: make(map[string]InstructorMark),
	}
}

// Student returns the cached status for a user, or nil.
func (c *MemoryCache) Student(ctx context.Context, classID, userID string) (*CachedStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if byUser, ok := c.students[classID]; ok {
		if cs, ok := byUser[userID]; ok {
			return &cs, nil
		}
	}
	return nil, nil
}

// PutStudent records a decided status.
func (c *MemoryCache) PutStudent(ctx context.Context, classID, userID string, cs CachedStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	byUser, ok := c.students[classID]
	if !ok {
		byUser = make(map[string]CachedStatus)
		c.students[classID] = byUser
	}
	byUser[userID] = cs
	return nil
}

// Instructor returns the presence marker for a class.
func (c *MemoryCache) Instructor(ctx context.Context, classID string) (InstructorMark, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructors[classID], nil
}

// SetInstructor replaces the presence marker.
func (c *MemoryCache) SetInstructor(ctx context.Context, classID string, m InstructorMark) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instructors[classID] = m
	return nil
}

// Reset drops all cached state for a class.
func (c *MemoryCache) Reset(ctx context.Context, classID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.students, classID)
	delete(c.instructors, classID)
	return nil
}
