package directory

import (
	"context"
	"time"

	"campustrack/internal/faceclient"
)

// Student is the normalized student record. Historical documents mix field
// casings (First_Name vs first_name, Course vs course); the repository maps
// both into this struct at the read boundary.
type Student struct {
	StudentID  string
	FirstName  string
	MiddleName string
	LastName   string
	Suffix     string
	Course     string
	Registered bool
	Embeddings map[string][]float64
}

// Instructor is the normalized instructor record.
type Instructor struct {
	InstructorID string
	FirstName    string
	LastName     string
	Registered   bool
	Embeddings   map[string][]float64
}

// Enrollee is a student as listed on a class roster.
type Enrollee struct {
	StudentID string `bson:"student_id" json:"student_id"`
	FirstName string `bson:"first_name" json:"first_name"`
	LastName  string `bson:"last_name" json:"last_name"`
	Course    string `bson:"course,omitempty" json:"course,omitempty"`
	Section   string `bson:"section,omitempty" json:"section,omitempty"`
}

// Class is the normalized course-section document. ActiveLogID is the sole
// source of truth for which attendance log is currently open; empty means no
// open log.
type Class struct {
	ClassID             string     `json:"class_id"`
	SubjectCode         string     `json:"subject_code"`
	SubjectTitle        string     `json:"subject_title"`
	InstructorID        string     `json:"instructor_id"`
	InstructorFirstName string     `json:"instructor_first_name"`
	InstructorLastName  string     `json:"instructor_last_name"`
	Course              string     `json:"course"`
	Section             string     `json:"section"`
	Semester            string     `json:"semester"`
	SchoolYear          string     `json:"school_year"`
	YearLevel           string     `json:"year_level"`
	IsAttendanceActive  bool       `json:"is_attendance_active"`
	AttendanceStart     *time.Time `json:"attendance_start_time"`
	AttendanceEnd       *time.Time `json:"attendance_end_time"`
	ActiveLogID         string     `json:"active_session_log_id,omitempty"`
	Students            []Enrollee `json:"students"`
}

// FaceData is a person's persisted enrollment payload, written by the worker
// after the recognition service returns embeddings.
type FaceData struct {
	FirstName  string               `json:"first_name"`
	MiddleName string               `json:"middle_name"`
	LastName   string               `json:"last_name"`
	Suffix     string               `json:"suffix"`
	Course     string               `json:"course"`
	Embeddings map[string][]float64 `json:"embeddings"`
}

// Repository provides lookups over the campus directory plus the session
// state mutations on class documents. Full CRUD over these collections is
// owned elsewhere; this is the surface the attendance core needs.
type Repository interface {
	Class(ctx context.Context, classID string) (*Class, error)
	// ActiveClass returns the class with an open session for the given
	// instructor, or any active class when instructorID is empty. Returns
	// nil with no error when none is active.
	ActiveClass(ctx context.Context, instructorID string) (*Class, error)
	Student(ctx context.Context, studentID string) (*Student, error)
	Instructor(ctx context.Context, instructorID string) (*Instructor, error)

	// ResetSession clears any stale session flags and pointers on the class.
	ResetSession(ctx context.Context, classID string) error
	// ActivateSession arms the session window and points the class at logID.
	ActivateSession(ctx context.Context, classID, instructorID string, start, end time.Time, logID string) error
	// CloseSession flips the class inactive, stamps the end time and clears
	// the active log pointer.
	CloseSession(ctx context.Context, classID string, end time.Time) error
	// SetActiveLog repoints the class at a lazily created log without
	// touching the session window fields.
	SetActiveLog(ctx context.Context, classID, logID string) error

	// RegisteredFaces assembles the recognition roster for a class: one
	// record per stored angle for every enrolled student with embeddings,
	// plus the assigned instructor's embeddings.
	RegisteredFaces(ctx context.Context, cls *Class) ([]faceclient.RegisteredFace, error)

	SaveStudentFace(ctx context.Context, studentID string, data FaceData) error
	SaveInstructorFace(ctx context.Context, instructorID string, data FaceData) error
}
