package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNormalizeStudentLegacyCasing(t *testing.T) {
	doc := bson.M{
		"Student_ID":  "S-100",
		"First_Name":  "Juan",
		"Middle_Name": "D",
		"Last_Name":   "Reyes",
		"Course":      "bscs",
		"registered":  true,
	}
	s := normalizeStudent(doc)
	assert.Equal(t, "S-100", s.StudentID)
	assert.Equal(t, "Juan", s.FirstName)
	assert.Equal(t, "D", s.MiddleName)
	assert.Equal(t, "Reyes", s.LastName)
	assert.Equal(t, "BSCS", s.Course, "course is uppercased")
	assert.True(t, s.Registered)
}

func TestNormalizeStudentPrefersLowercase(t *testing.T) {
	doc := bson.M{
		"first_name": "Maria",
		"First_Name": "Stale",
		"student_id": "S-200",
	}
	s := normalizeStudent(doc)
	assert.Equal(t, "Maria", s.FirstName)
	assert.Equal(t, "S-200", s.StudentID)
}

func TestNormalizeStudentEmbeddings(t *testing.T) {
	doc := bson.M{
		"student_id": "S-300",
		"embeddings": bson.M{
			"front": primitive.A{0.1, 0.2, 0.3},
			"left":  primitive.A{int32(1), int64(2)},
			"junk":  primitive.A{"not a number"},
			"empty": primitive.A{},
		},
	}
	s := normalizeStudent(doc)
	require.NotNil(t, s.Embeddings)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, s.Embeddings["front"])
	assert.Equal(t, []float64{1, 2}, s.Embeddings["left"], "integer elements are widened")
	assert.NotContains(t, s.Embeddings, "junk")
	assert.NotContains(t, s.Embeddings, "empty")
}

func TestNormalizeInstructor(t *testing.T) {
	doc := bson.M{
		"Instructor_ID": "INS-9",
		"first_name":    "Ada",
		"Last_Name":     "Cruz",
		"registered":    true,
	}
	i := normalizeInstructor(doc)
	assert.Equal(t, "INS-9", i.InstructorID)
	assert.Equal(t, "Ada", i.FirstName)
	assert.Equal(t, "Cruz", i.LastName)
	assert.True(t, i.Registered)
}

func TestNormalizeClass(t *testing.T) {
	oid := primitive.NewObjectID()
	start := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)
	doc := bson.M{
		"_id":                   oid,
		"subject_code":          "CS101",
		"subject_title":         "Intro to Computing",
		"instructor_id":         "INS-9",
		"section":               "A",
		"semester":              "1st",
		"school_year":           "2024-2025",
		"is_attendance_active":  true,
		"attendance_start_time": primitive.NewDateTimeFromTime(start),
		"attendance_end_time":   start.Add(30 * time.Minute).Format(time.RFC3339),
		"active_session_log_id": "log-1",
		"students": primitive.A{
			bson.M{"Student_ID": "S1", "First_Name": "Juan", "Last_Name": "Reyes"},
			bson.M{"student_id": "S2", "first_name": "Maria", "last_name": "Santos"},
			bson.M{"first_name": "no id, dropped"},
		},
	}
	cls := normalizeClass(doc)
	assert.Equal(t, oid.Hex(), cls.ClassID)
	assert.Equal(t, "CS101", cls.SubjectCode)
	assert.True(t, cls.IsAttendanceActive)
	assert.Equal(t, "log-1", cls.ActiveLogID)
	require.NotNil(t, cls.AttendanceStart)
	assert.True(t, cls.AttendanceStart.Equal(start))
	require.NotNil(t, cls.AttendanceEnd)
	assert.True(t, cls.AttendanceEnd.Equal(start.Add(30*time.Minute)), "string timestamps parse too")

	require.Len(t, cls.Students, 2, "enrollee without an id is dropped")
	assert.Equal(t, "S1", cls.Students[0].StudentID)
	assert.Equal(t, "Juan", cls.Students[0].FirstName)
	assert.Equal(t, "S2", cls.Students[1].StudentID)
}

func TestNormalizeClassMissingFields(t *testing.T) {
	cls := normalizeClass(bson.M{"_id": "plain-string-id"})
	assert.Equal(t, "plain-string-id", cls.ClassID)
	assert.False(t, cls.IsAttendanceActive)
	assert.Nil(t, cls.AttendanceStart)
	assert.Empty(t, cls.Students)
}
