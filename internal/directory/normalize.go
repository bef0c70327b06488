package directory

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The historical documents were written by several generations of tooling and
// carry inconsistent field casing. Each entity has exactly one normalization
// function; everything above the repository operates on the typed structs.

func strField(doc bson.M, keys ...string) string {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func boolField(doc bson.M, keys ...string) bool {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return false
}

func timeField(doc bson.M, keys ...string) *time.Time {
	for _, k := range keys {
		switch v := doc[k].(type) {
		case primitive.DateTime:
			t := v.Time()
			return &t
		case time.Time:
			t := v
			return &t
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return &t
			}
		}
	}
	return nil
}

func idField(doc bson.M, keys ...string) string {
	for _, k := range keys {
		switch v := doc[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case primitive.ObjectID:
			return v.Hex()
		}
	}
	return ""
}

// embeddingsField tolerates vectors stored as []float64, []float32 or
// []interface{} of numbers, dropping anything unusable.
func embeddingsField(doc bson.M) map[string][]float64 {
	raw, ok := doc["embeddings"]
	if !ok {
		return nil
	}
	m, ok := raw.(bson.M)
	if !ok {
		return nil
	}
	out := make(map[string][]float64, len(m))
	for angle, v := range m {
		vec := floatSlice(v)
		if len(vec) > 0 {
			out[angle] = vec
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func floatSlice(v any) []float64 {
	switch vv := v.(type) {
	case []float64:
		return vv
	case primitive.A:
		out := make([]float64, 0, len(vv))
		for _, e := range vv {
			switch n := e.(type) {
			case float64:
				out = append(out, n)
			case float32:
				out = append(out, float64(n))
			case int32:
				out = append(out, float64(n))
			case int64:
				out = append(out, float64(n))
			default:
				return nil
			}
		}
		return out
	}
	return nil
}

func normalizeStudent(doc bson.M) *Student {
	return &Student{
		StudentID:  strField(doc, "student_id", "Student_ID"),
		FirstName:  strField(doc, "first_name", "First_Name"),
		MiddleName: strField(doc, "middle_name", "Middle_Name"),
		LastName:   strField(doc, "last_name", "Last_Name"),
		Suffix:     strField(doc, "suffix", "Suffix"),
		Course:     strings.ToUpper(strField(doc, "course", "Course")),
		Registered: boolField(doc, "registered"),
		Embeddings: embeddingsField(doc),
	}
}

func normalizeInstructor(doc bson.M) *Instructor {
	return &Instructor{
		InstructorID: strField(doc, "instructor_id", "Instructor_ID"),
		FirstName:    strField(doc, "first_name", "First_Name"),
		LastName:     strField(doc, "last_name", "Last_Name"),
		Registered:   boolField(doc, "registered"),
		Embeddings:   embeddingsField(doc),
	}
}

func normalizeClass(doc bson.M) *Class {
	cls := &Class{
		ClassID:             idField(doc, "_id"),
		SubjectCode:         strField(doc, "subject_code"),
		SubjectTitle:        strField(doc, "subject_title"),
		InstructorID:        strField(doc, "instructor_id"),
		InstructorFirstName: strField(doc, "instructor_first_name"),
		InstructorLastName:  strField(doc, "instructor_last_name"),
		Course:              strField(doc, "course", "Course"),
		Section:             strField(doc, "section"),
		Semester:            strField(doc, "semester"),
		SchoolYear:          strField(doc, "school_year"),
		YearLevel:           strField(doc, "year_level"),
		IsAttendanceActive:  boolField(doc, "is_attendance_active"),
		AttendanceStart:     timeField(doc, "attendance_start_time"),
		AttendanceEnd:       timeField(doc, "attendance_end_time"),
		ActiveLogID:         strField(doc, "active_session_log_id"),
	}
	if raw, ok := doc["students"].(primitive.A); ok {
		for _, e := range raw {
			m, ok := e.(bson.M)
			if !ok {
				continue
			}
			enr := Enrollee{
				StudentID: strField(m, "student_id", "Student_ID"),
				FirstName: strField(m, "first_name", "First_Name"),
				LastName:  strField(m, "last_name", "Last_Name"),
				Course:    strField(m, "course", "Course"),
				Section:   strField(m, "section", "Section"),
			}
			if enr.StudentID != "" {
				cls.Students = append(cls.Students, enr)
			}
		}
	}
	return cls
}
