package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campustrack/internal/faceclient"
)

// ErrNotFound is returned when a directory record does not exist.
var ErrNotFound = errors.New("directory: not found")

// ErrInvalidID is returned for malformed class ids.
var ErrInvalidID = errors.New("directory: invalid id")

// MongoRepository reads and mutates the classes/students/instructors
// collections.
type MongoRepository struct {
	classes     *mongo.Collection
	students    *mongo.Collection
	instructors *mongo.Collection
}

// NewMongoRepository wires the repository to the given database.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		classes:     db.Collection("classes"),
		students:    db.Collection("students"),
		instructors: db.Collection("instructors"),
	}
}

func classFilter(classID string) (bson.M, error) {
	oid, err := primitive.ObjectIDFromHex(classID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, classID)
	}
	return bson.M{"_id": oid}, nil
}

// Class loads and normalizes one class document.
func (r *MongoRepository) Class(ctx context.Context, classID string) (*Class, error) {
	filter, err := classFilter(classID)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := r.classes.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("class %s: %w", classID, ErrNotFound)
		}
		return nil, err
	}
	return normalizeClass(doc), nil
}

// ActiveClass finds the class with an open session, optionally scoped to an
// instructor. Returns (nil, nil) when nothing is active.
func (r *MongoRepository) ActiveClass(ctx context.Context, instructorID string) (*Class, error) {
	filter := bson.M{"is_attendance_active": true}
	if instructorID != "" {
		filter["instructor_id"] = instructorID
	}
	var doc bson.M
	if err := r.classes.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return normalizeClass(doc), nil
}

// Student loads and normalizes one student document.
func (r *MongoRepository) Student(ctx context.Context, studentID string) (*Student, error) {
	var doc bson.M
	if err := r.students.FindOne(ctx, bson.M{"student_id": studentID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("student %s: %w", studentID, ErrNotFound)
		}
		return nil, err
	}
	return normalizeStudent(doc), nil
}

// Instructor loads and normalizes one instructor document.
func (r *MongoRepository) Instructor(ctx context.Context, instructorID string) (*Instructor, error) {
	var doc bson.M
	if err := r.instructors.FindOne(ctx, bson.M{"instructor_id": instructorID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("instructor %s: %w", instructorID, ErrNotFound)
		}
		return nil, err
	}
	return normalizeInstructor(doc), nil
}

// ResetSession clears any stale session state on the class.
func (r *MongoRepository) ResetSession(ctx context.Context, classID string) error {
	filter, err := classFilter(classID)
	if err != nil {
		return err
	}
	_, err = r.classes.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"is_attendance_active":  false,
		"attendance_start_time": nil,
		"attendance_end_time":   nil,
		"active_session_log_id": nil,
	}})
	return err
}

// ActivateSession arms the session window and records the open log pointer.
func (r *MongoRepository) ActivateSession(ctx context.Context, classID, instructorID string, start, end time.Time, logID string) error {
	filter, err := classFilter(classID)
	if err != nil {
		return err
	}
	_, err = r.classes.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"is_attendance_active":  true,
		"attendance_start_time": start.Format(time.RFC3339),
		"attendance_end_time":   end.Format(time.RFC3339),
		"active_session_log_id": logID,
		"instructor_id":         instructorID,
	}})
	return err
}

// CloseSession deactivates the session and clears the log pointer.
func (r *MongoRepository) CloseSession(ctx context.Context, classID string, end time.Time) error {
	filter, err := classFilter(classID)
	if err != nil {
		return err
	}
	_, err = r.classes.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"is_attendance_active":  false,
		"attendance_end_time":   end.Format(time.RFC3339),
		"active_session_log_id": nil,
	}})
	return err
}

// SetActiveLog repoints the class at a lazily created log.
func (r *MongoRepository) SetActiveLog(ctx context.Context, classID, logID string) error {
	filter, err := classFilter(classID)
	if err != nil {
		return err
	}
	_, err = r.classes.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"active_session_log_id": logID,
	}})
	return err
}

// RegisteredFaces assembles the recognition roster for a class.
func (r *MongoRepository) RegisteredFaces(ctx context.Context, cls *Class) ([]faceclient.RegisteredFace, error) {
	var roster []faceclient.RegisteredFace

	ids := make([]string, 0, len(cls.Students))
	for _, s := range cls.Students {
		ids = append(ids, s.StudentID)
	}
	if len(ids) > 0 {
		cur, err := r.students.Find(ctx, bson.M{
			"student_id": bson.M{"$in": ids},
			"embeddings": bson.M{"$exists": true},
		}, options.Find())
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var doc bson.M
			if err := cur.Decode(&doc); err != nil {
				return nil, err
			}
			stu := normalizeStudent(doc)
			for angle, vec := range stu.Embeddings {
				roster = append(roster, faceclient.RegisteredFace{
					UserID:    stu.StudentID,
					Embedding: vec,
					Angle:     angle,
				})
			}
		}
		if err := cur.Err(); err != nil {
			return nil, err
		}
	}

	if cls.InstructorID != "" {
		instr, err := r.Instructor(ctx, cls.InstructorID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if instr != nil {
			for angle, vec := range instr.Embeddings {
				roster = append(roster, faceclient.RegisteredFace{
					UserID:       instr.InstructorID,
					Embedding:    vec,
					Angle:        angle,
					IsInstructor: true,
				})
			}
		}
	}
	return roster, nil
}

// SaveStudentFace upserts a student's identity fields and per-angle
// embeddings. Angles are merged individually so a later capture of one angle
// does not clobber the others.
func (r *MongoRepository) SaveStudentFace(ctx context.Context, studentID string, data FaceData) error {
	set := bson.M{
		"student_id": studentID,
		"first_name": data.FirstName,
		"last_name":  data.LastName,
		"registered": true,
	}
	if data.MiddleName != "" {
		set["middle_name"] = data.MiddleName
	}
	if data.Suffix != "" {
		set["suffix"] = data.Suffix
	}
	if data.Course != "" {
		set["course"] = data.Course
	}
	for angle, vec := range data.Embeddings {
		set["embeddings."+angle] = vec
	}
	_, err := r.students.UpdateOne(ctx,
		bson.M{"student_id": studentID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"created_at": time.Now().UTC()},
		},
		options.Update().SetUpsert(true))
	return err
}

// SaveInstructorFace upserts an instructor's registration flag and
// embeddings. Identity fields are owned by the admin tooling and left alone.
func (r *MongoRepository) SaveInstructorFace(ctx context.Context, instructorID string, data FaceData) error {
	set := bson.M{"registered": true}
	for angle, vec := range data.Embeddings {
		set["embeddings."+angle] = vec
	}
	_, err := r.instructors.UpdateOne(ctx,
		bson.M{"instructor_id": instructorID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"created_at": time.Now().UTC()},
		},
		options.Update().SetUpsert(true))
	return err
}
