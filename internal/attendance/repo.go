package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository persists attendance logs. Log ids are opaque strings assigned
// by the backend on Create.
type Repository interface {
	Create(ctx context.Context, lg *Log) (string, error)
	Get(ctx context.Context, logID string) (*Log, error)
	SetEndTime(ctx context.Context, logID, clock string) error

	// Entry returns the log's entry for a student, or nil when absent.
	Entry(ctx context.Context, logID, studentID string) (*Entry, error)

	// AppendIfAbsent atomically appends the entry unless the log already
	// holds one for the same student id. Returns whether the append
	// happened; a missing log is ErrLogNotFound, never a silent no-op.
	// When endClock is non-empty the log's end_time is advanced in the
	// same update.
	AppendIfAbsent(ctx context.Context, logID string, e Entry, endClock string) (bool, error)

	// MarkExcused rewrites the matching entry's status to Excused with
	// reason and audit fields. Returns whether an entry was amended.
	MarkExcused(ctx context.Context, classID, studentID, date, reason, actor string, at time.Time) (bool, error)

	HasLogged(ctx context.Context, classID, studentID, date string) (bool, error)

	// FindByClassDate returns the most recent log for the class on the
	// given date, or nil when none exists.
	FindByClassDate(ctx context.Context, classID, date string) (*Log, error)

	ListByClass(ctx context.Context, classID string) ([]Log, error)
	// ListTagged returns logs carrying semester and school-year metadata.
	ListTagged(ctx context.Context) ([]Log, error)
}

// MongoRepository stores logs in the attendance_logs collection.
type MongoRepository struct {
	logs *mongo.Collection
}

// NewMongoRepository wires the repository to the given database.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{logs: db.Collection("attendance_logs")}
}

// Create inserts the log and returns its generated id.
func (r *MongoRepository) Create(ctx context.Context, lg *Log) (string, error) {
	if lg.ID == "" {
		lg.ID = primitive.NewObjectID().Hex()
	}
	if lg.Students == nil {
		lg.Students = []Entry{}
	}
	if _, err := r.logs.InsertOne(ctx, lg); err != nil {
		return "", err
	}
	return lg.ID, nil
}

// Get loads one log by id.
func (r *MongoRepository) Get(ctx context.Context, logID string) (*Log, error) {
	var lg Log
	if err := r.logs.FindOne(ctx, bson.M{"_id": logID}).Decode(&lg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("log %s: %w", logID, ErrLogNotFound)
		}
		return nil, err
	}
	return &lg, nil
}

// SetEndTime stamps the log's end time-of-day.
func (r *MongoRepository) SetEndTime(ctx context.Context, logID, clock string) error {
	_, err := r.logs.UpdateOne(ctx, bson.M{"_id": logID},
		bson.M{"$set": bson.M{"end_time": clock}})
	return err
}

// Entry fetches the log's entry for one student via a positional projection.
func (r *MongoRepository) Entry(ctx context.Context, logID, studentID string) (*Entry, error) {
	var doc struct {
		Students []Entry `bson:"students"`
	}
	err := r.logs.FindOne(ctx,
		bson.M{"_id": logID, "students.student_id": studentID},
		options.FindOne().SetProjection(bson.M{"students.$": 1}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	if len(doc.Students) == 0 {
		return nil, nil
	}
	return &doc.Students[0], nil
}

// AppendIfAbsent pushes the entry only when no entry with the same student
// id exists, in a single conditional update. This is what makes concurrent
// batches unable to double-log a student.
func (r *MongoRepository) AppendIfAbsent(ctx context.Context, logID string, e Entry, endClock string) (bool, error) {
	update := bson.M{"$push": bson.M{"students": e}}
	if endClock != "" {
		update["$set"] = bson.M{"end_time": endClock}
	}
	res, err := r.logs.UpdateOne(ctx,
		bson.M{"_id": logID, "students.student_id": bson.M{"$ne": e.StudentID}},
		update)
	if err != nil {
		return false, err
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	// The filter matches nothing both for a duplicate and for a vanished
	// log; only the former is a clean no-op.
	count, err := r.logs.CountDocuments(ctx, bson.M{"_id": logID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, fmt.Errorf("log %s: %w", logID, ErrLogNotFound)
	}
	return false, nil
}

// MarkExcused amends the matching entry in place.
func (r *MongoRepository) MarkExcused(ctx context.Context, classID, studentID, date, reason, actor string, at time.Time) (bool, error) {
	res, err := r.logs.UpdateOne(ctx,
		bson.M{
			"class_id":            classID,
			"date":                date,
			"students.student_id": studentID,
		},
		bson.M{"$set": bson.M{
			"students.$.status":        StatusExcused,
			"students.$.excuse_reason": reason,
			"students.$.updated_by":    actor,
			"students.$.updated_at":    at,
		}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// HasLogged reports whether any log for the class and date carries the
// student.
func (r *MongoRepository) HasLogged(ctx context.Context, classID, studentID, date string) (bool, error) {
	count, err := r.logs.CountDocuments(ctx, bson.M{
		"class_id":            classID,
		"date":                date,
		"students.student_id": studentID,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindByClassDate returns the newest log for the class on the date, or nil.
func (r *MongoRepository) FindByClassDate(ctx context.Context, classID, date string) (*Log, error) {
	var lg Log
	err := r.logs.FindOne(ctx,
		bson.M{"class_id": classID, "date": date},
		options.FindOne().SetSort(bson.M{"start_time": -1}),
	).Decode(&lg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &lg, nil
}

// ListByClass returns all logs for a class, newest date first.
func (r *MongoRepository) ListByClass(ctx context.Context, classID string) ([]Log, error) {
	return r.list(ctx, bson.M{"class_id": classID})
}

// ListTagged returns logs carrying semester and school-year metadata.
func (r *MongoRepository) ListTagged(ctx context.Context) ([]Log, error) {
	return r.list(ctx, bson.M{
		"semester":    bson.M{"$exists": true, "$ne": ""},
		"school_year": bson.M{"$exists": true, "$ne": ""},
	})
}

func (r *MongoRepository) list(ctx context.Context, filter bson.M) ([]Log, error) {
	cur, err := r.logs.Find(ctx, filter, options.Find().SetSort(bson.D{
		{Key: "date", Value: -1},
		{Key: "start_time", Value: -1},
	}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	logs := []Log{}
	for cur.Next(ctx) {
		var lg Log
		if err := cur.Decode(&lg); err != nil {
			return nil, err
		}
		logs = append(logs, lg)
	}
	return logs, cur.Err()
}
