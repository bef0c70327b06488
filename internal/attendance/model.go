package attendance

import "time"

// Status of one student in one attendance log.
type Status string

const (
	StatusPresent Status = "Present"
	StatusLate    Status = "Late"
	StatusAbsent  Status = "Absent"
	StatusExcused Status = "Excused"
)

// Document time layouts. Dates and times-of-day are stored as strings, the
// shape the historical documents use.
const (
	dateLayout     = "2006-01-02"
	clockLayout    = "15:04:05"
	readableLayout = "03:04 PM"
)

// Entry is one student's line in a log. Immutable once written except for
// the excused amendment, which rewrites status and adds audit fields.
type Entry struct {
	StudentID    string     `bson:"student_id" json:"student_id"`
	FirstName    string     `bson:"first_name" json:"first_name"`
	LastName     string     `bson:"last_name" json:"last_name"`
	Status       Status     `bson:"status" json:"status"`
	Time         string     `bson:"time" json:"time"`
	ExcuseReason string     `bson:"excuse_reason,omitempty" json:"excuse_reason,omitempty"`
	UpdatedBy    string     `bson:"updated_by,omitempty" json:"updated_by,omitempty"`
	UpdatedAt    *time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Log is one class's attendance document for one session. Class, subject and
// instructor metadata are denormalized at creation for reporting. A student
// id appears at most once in Students; the repository's conditional append
// enforces this.
type Log struct {
	ID                  string  `bson:"_id,omitempty" json:"_id"`
	ClassID             string  `bson:"class_id" json:"class_id"`
	Date                string  `bson:"date" json:"date"`
	StartTime           string  `bson:"start_time" json:"start_time"`
	EndTime             string  `bson:"end_time" json:"end_time"`
	Students            []Entry `bson:"students" json:"students"`
	Course              string  `bson:"course,omitempty" json:"course,omitempty"`
	Section             string  `bson:"section,omitempty" json:"section,omitempty"`
	Semester            string  `bson:"semester,omitempty" json:"semester,omitempty"`
	SchoolYear          string  `bson:"school_year,omitempty" json:"school_year,omitempty"`
	YearLevel           string  `bson:"year_level,omitempty" json:"year_level,omitempty"`
	SubjectCode         string  `bson:"subject_code,omitempty" json:"subject_code,omitempty"`
	SubjectTitle        string  `bson:"subject_title,omitempty" json:"subject_title,omitempty"`
	InstructorID        string  `bson:"instructor_id,omitempty" json:"instructor_id,omitempty"`
	InstructorFirstName string  `bson:"instructor_first_name,omitempty" json:"instructor_first_name,omitempty"`
	InstructorLastName  string  `bson:"instructor_last_name,omitempty" json:"instructor_last_name,omitempty"`
}

// HasStudent reports whether the log already carries an entry for the id.
func (l *Log) HasStudent(studentID string) bool {
	for i := range l.Students {
		if l.Students[i].StudentID == studentID {
			return true
		}
	}
	return false
}
