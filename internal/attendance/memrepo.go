package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a map-backed log store for dev mode and tests. It
// keeps the same append semantics as the Mongo repository, including the
// conditional append.
type MemoryRepository struct {
	mu   sync.Mutex
	logs map[string]*Log
}

// NewMemoryRepository creates an empty in-memory log store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{logs: make(map[string]*Log)}
}

// Create inserts the log under a generated id.
func (r *MemoryRepository) Create(ctx context.Context, lg *Log) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lg.ID == "" {
		lg.ID = uuid.NewString()
	}
	if lg.Students == nil {
		lg.Students = []Entry{}
	}
	cp := *lg
	cp.Students = append([]Entry(nil), lg.Students...)
	r.logs[lg.ID] = &cp
	return lg.ID, nil
}

// Get loads a copy of one log.
func (r *MemoryRepository) Get(ctx context.Context, logID string) (*Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lg, ok := r.logs[logID]
	if !ok {
		return nil, fmt.Errorf("log %s: %w", logID, ErrLogNotFound)
	}
	cp := *lg
	cp.Students = append([]Entry(nil), lg.Students...)
	return &cp, nil
}

// SetEndTime stamps the log's end time-of-day.
func (r *MemoryRepository) SetEndTime(ctx context.Context, logID, clock string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lg, ok := r.logs[logID]
	if !ok {
		return fmt.Errorf("log %s: %w", logID, ErrLogNotFound)
	}
	lg.EndTime = clock
	return nil
}

// Entry returns the log's entry for a student, or nil.
func (r *MemoryRepository) Entry(ctx context.Context, logID, studentID string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lg, ok := r.logs[logID]
	if !ok {
		return nil, nil
	}
	for i := range lg.Students {
		if lg.Students[i].StudentID == studentID {
			cp := lg.Students[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// AppendIfAbsent appends the entry unless the student is already logged.
func (r *MemoryRepository) AppendIfAbsent(ctx context.Context, logID string, e Entry, endClock string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lg, ok := r.logs[logID]
	if !ok {
		return false, fmt.Errorf("log %s: %w", logID, ErrLogNotFound)
	}
	for i := range lg.Students {
		if lg.Students[i].StudentID == e.StudentID {
			return false, nil
		}
	}
	lg.Students = append(lg.Students, e)
	if endClock != "" {
		lg.EndTime = endClock
	}
	return true, nil
}

// MarkExcused amends the first matching entry across the class's logs for
// the date.
func (r *MemoryRepository) MarkExcused(ctx context.Context, classID, studentID, date, reason, actor string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lg := range r.logs {
		if lg.ClassID != classID || lg.Date != date {
			continue
		}
		for i := range lg.Students {
			if lg.Students[i].StudentID == studentID {
				lg.Students[i].Status = StatusExcused
				lg.Students[i].ExcuseReason = reason
				lg.Students[i].UpdatedBy = actor
				t := at
				lg.Students[i].UpdatedAt = &t
				return true, nil
			}
		}
	}
	return false, nil
}

// HasLogged reports whether the student appears in any log for the class and
// date.
func (r *MemoryRepository) HasLogged(ctx context.Context, classID, studentID, date string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lg := range r.logs {
		if lg.ClassID != classID || lg.Date != date {
			continue
		}
		for i := range lg.Students {
			if lg.Students[i].StudentID == studentID {
				return true, nil
			}
		}
	}
	return false, nil
}

// FindByClassDate returns the newest log for the class on the date, or nil.
func (r *MemoryRepository) FindByClassDate(ctx context.Context, classID, date string) (*Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Log
	for _, lg := range r.logs {
		if lg.ClassID != classID || lg.Date != date {
			continue
		}
		if best == nil || lg.StartTime > best.StartTime {
			best = lg
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	cp.Students = append([]Entry(nil), best.Students...)
	return &cp, nil
}

// ListByClass returns all logs for a class, newest first.
func (r *MemoryRepository) ListByClass(ctx context.Context, classID string) ([]Log, error) {
	return r.list(func(lg *Log) bool { return lg.ClassID == classID }), nil
}

// ListTagged returns logs carrying semester and school-year metadata.
func (r *MemoryRepository) ListTagged(ctx context.Context) ([]Log, error) {
	return r.list(func(lg *Log) bool { return lg.Semester != "" && lg.SchoolYear != "" }), nil
}

func (r *MemoryRepository) list(keep func(*Log) bool) []Log {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Log{}
	for _, lg := range r.logs {
		if !keep(lg) {
			continue
		}
		cp := *lg
		cp.Students = append([]Entry(nil), lg.Students...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].StartTime > out[j].StartTime
	})
	return out
}
