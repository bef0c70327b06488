package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"campustrack/internal/faceclient"
)

// MemoryRepository is a map-backed directory for dev mode and tests. It
// mirrors the Mongo repository's contract, including (nil, nil) from
// ActiveClass when nothing is active.
type MemoryRepository struct {
	mu          sync.RWMutex
	classes     map[string]*Class
	students    map[string]*Student
	instructors map[string]*Instructor
}

// NewMemoryRepository creates an empty in-memory directory.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		classes:     make(map[string]*Class),
		students:    make(map[string]*Student),
		instructors: make(map[string]*Instructor),
	}
}

// PutClass seeds a class document.
func (r *MemoryRepository) PutClass(cls *Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cls
	r.classes[cls.ClassID] = &cp
}

// PutStudent seeds a student document.
func (r *MemoryRepository) PutStudent(s *Student) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.students[s.StudentID] = &cp
}

// PutInstructor seeds an instructor document.
func (r *MemoryRepository) PutInstructor(i *Instructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *i
	r.instructors[i.InstructorID] = &cp
}

// Class returns a copy of the stored class.
func (r *MemoryRepository) Class(ctx context.Context, classID string) (*Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cls, ok := r.classes[classID]
	if !ok {
		return nil, fmt.Errorf("class %s: %w", classID, ErrNotFound)
	}
	cp := *cls
	return &cp, nil
}

// ActiveClass scans for an active class, optionally scoped to an instructor.
func (r *MemoryRepository) ActiveClass(ctx context.Context, instructorID string) (*Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cls := range r.classes {
		if !cls.IsAttendanceActive {
			continue
		}
		if instructorID != "" && cls.InstructorID != instructorID {
			continue
		}
		cp := *cls
		return &cp, nil
	}
	return nil, nil
}

// Student returns a copy of the stored student.
func (r *MemoryRepository) Student(ctx context.Context, studentID string) (*Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.students[studentID]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

// Instructor returns a copy of the stored instructor.
func (r *MemoryRepository) Instructor(ctx context.Context, instructorID string) (*Instructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.instructors[instructorID]
	if !ok {
		return nil, fmt.Errorf("instructor %s: %w", instructorID, ErrNotFound)
	}
	cp := *i
	return &cp, nil
}

func (r *MemoryRepository) mutateClass(classID string, fn func(*Class)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cls, ok := r.classes[classID]
	if !ok {
		return fmt.Errorf("class %s: %w", classID, ErrNotFound)
	}
	fn(cls)
	return nil
}

// ResetSession clears stale session state.
func (r *MemoryRepository) ResetSession(ctx context.Context, classID string) error {
	return r.mutateClass(classID, func(cls *Class) {
		cls.IsAttendanceActive = false
		cls.AttendanceStart = nil
		cls.AttendanceEnd = nil
		cls.ActiveLogID = ""
	})
}

// ActivateSession arms the session window.
func (r *MemoryRepository) ActivateSession(ctx context.Context, classID, instructorID string, start, end time.Time, logID string) error {
	return r.mutateClass(classID, func(cls *Class) {
		cls.IsAttendanceActive = true
		s, e := start, end
		cls.AttendanceStart = &s
		cls.AttendanceEnd = &e
		cls.ActiveLogID = logID
		cls.InstructorID = instructorID
	})
}

// CloseSession deactivates the session and clears the log pointer.
func (r *MemoryRepository) CloseSession(ctx context.Context, classID string, end time.Time) error {
	return r.mutateClass(classID, func(cls *Class) {
		cls.IsAttendanceActive = false
		e := end
		cls.AttendanceEnd = &e
		cls.ActiveLogID = ""
	})
}

// SetActiveLog repoints the class at a lazily created log.
func (r *MemoryRepository) SetActiveLog(ctx context.Context, classID, logID string) error {
	return r.mutateClass(classID, func(cls *Class) {
		cls.ActiveLogID = logID
	})
}

// RegisteredFaces assembles the recognition roster for a class.
func (r *MemoryRepository) RegisteredFaces(ctx context.Context, cls *Class) ([]faceclient.RegisteredFace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var roster []faceclient.RegisteredFace
	for _, enr := range cls.Students {
		stu, ok := r.students[enr.StudentID]
		if !ok {
			continue
		}
		for angle, vec := range stu.Embeddings {
			roster = append(roster, faceclient.RegisteredFace{
				UserID:    stu.StudentID,
				Embedding: vec,
				Angle:     angle,
			})
		}
	}
	if instr, ok := r.instructors[cls.InstructorID]; ok {
		for angle, vec := range instr.Embeddings {
			roster = append(roster, faceclient.RegisteredFace{
				UserID:       instr.InstructorID,
				Embedding:    vec,
				Angle:        angle,
				IsInstructor: true,
			})
		}
	}
	return roster, nil
}

// SaveStudentFace upserts a student's identity fields and embeddings.
func (r *MemoryRepository) SaveStudentFace(ctx context.Context, studentID string, data FaceData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[studentID]
	if !ok {
		s = &Student{StudentID: studentID}
		r.students[studentID] = s
	}
	if data.FirstName != "" {
		s.FirstName = data.FirstName
	}
	if data.MiddleName != "" {
		s.MiddleName = data.MiddleName
	}
	if data.LastName != "" {
		s.LastName = data.LastName
	}
	if data.Suffix != "" {
		s.Suffix = data.Suffix
	}
	if data.Course != "" {
		s.Course = data.Course
	}
	s.Registered = true
	if s.Embeddings == nil {
		s.Embeddings = make(map[string][]float64)
	}
	for angle, vec := range data.Embeddings {
		s.Embeddings[angle] = vec
	}
	return nil
}

// SaveInstructorFace upserts an instructor's registration flag and embeddings.
func (r *MemoryRepository) SaveInstructorFace(ctx context.Context, instructorID string, data FaceData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.instructors[instructorID]
	if !ok {
		i = &Instructor{InstructorID: instructorID}
		r.instructors[instructorID] = i
	}
	i.Registered = true
	if i.Embeddings == nil {
		i.Embeddings = make(map[string][]float64)
	}
	for angle, vec := range data.Embeddings {
		i.Embeddings[angle] = vec
	}
	return nil
}
