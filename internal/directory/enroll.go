package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"campustrack/internal/faceclient"
	"campustrack/internal/queue"
)

// FaceSaveType is the queue message type for deferred enrollment writes.
const FaceSaveType = "face.save"

// FaceSaveMessage is the queue payload consumed by the worker.
type FaceSaveMessage struct {
	Kind string   `json:"kind"` // "student" or "instructor"
	ID   string   `json:"id"`
	Data FaceData `json:"data"`
}

// ErrNoEmbeddings is returned when the recognition service could not extract
// a usable face from the capture.
var ErrNoEmbeddings = errors.New("directory: no embeddings returned")

// EnrollRequest carries one enrollment capture. Image is the raw capture
// payload forwarded to the recognition service untouched.
type EnrollRequest struct {
	ID         string
	FirstName  string
	MiddleName string
	LastName   string
	Suffix     string
	Course     string
	Image      json.RawMessage
}

// EnrollOutcome reports what the recognition service captured.
type EnrollOutcome struct {
	ID     string
	Angle  string
	Angles []string
}

// Enroller runs face enrollment: it proxies the capture to the recognition
// service, L2-normalizes the returned per-angle embeddings and defers the
// store write to the worker via the queue.
type Enroller struct {
	fc  *faceclient.Client
	q   queue.Queue
	log *slog.Logger
}

// NewEnroller wires an enroller.
func NewEnroller(fc *faceclient.Client, q queue.Queue, log *slog.Logger) *Enroller {
	return &Enroller{fc: fc, q: q, log: log}
}

// EnrollStudent registers a student's face.
func (e *Enroller) EnrollStudent(ctx context.Context, req EnrollRequest) (*EnrollOutcome, error) {
	req.Course = strings.ToUpper(strings.TrimSpace(req.Course))
	if req.Course == "" {
		req.Course = "UNKNOWN"
	}
	return e.enroll(ctx, "student", req)
}

// EnrollInstructor registers an instructor's face.
func (e *Enroller) EnrollInstructor(ctx context.Context, req EnrollRequest) (*EnrollOutcome, error) {
	return e.enroll(ctx, "instructor", req)
}

func (e *Enroller) enroll(ctx context.Context, kind string, req EnrollRequest) (*EnrollOutcome, error) {
	payload := map[string]any{
		"image":       req.Image,
		"First_Name":  req.FirstName,
		"Middle_Name": req.MiddleName,
		"Last_Name":   req.LastName,
		"Suffix":      req.Suffix,
	}

	var (
		res *faceclient.EnrollResult
		err error
	)
	if kind == "student" {
		payload["student_id"] = req.ID
		payload["course"] = req.Course
		res, err = e.fc.RegisterStudent(ctx, payload)
	} else {
		payload["instructor_id"] = req.ID
		res, err = e.fc.RegisterInstructor(ctx, payload)
	}
	if err != nil {
		return nil, err
	}
	if !res.Success || len(res.Embeddings) == 0 {
		if res.Warning != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoEmbeddings, res.Warning)
		}
		return nil, ErrNoEmbeddings
	}

	normalized := normalizeEmbeddings(res.Embeddings)
	if len(normalized) == 0 {
		return nil, ErrNoEmbeddings
	}

	msg := FaceSaveMessage{
		Kind: kind,
		ID:   req.ID,
		Data: FaceData{
			FirstName:  req.FirstName,
			MiddleName: req.MiddleName,
			LastName:   req.LastName,
			Suffix:     req.Suffix,
			Course:     req.Course,
			Embeddings: normalized,
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := e.q.Publish(ctx, queue.Message{Type: FaceSaveType, Body: body}); err != nil {
		return nil, fmt.Errorf("enqueue face save: %w", err)
	}

	outcome := &EnrollOutcome{ID: req.ID, Angle: res.Angle}
	for angle := range normalized {
		outcome.Angles = append(outcome.Angles, angle)
	}
	e.log.Info("face enrolled", "kind", kind, "id", req.ID, "angles", len(outcome.Angles))
	return outcome, nil
}

// normalizeEmbeddings scales each vector to unit length, dropping zero or
// empty vectors.
func normalizeEmbeddings(in map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(in))
	for angle, vec := range in {
		if len(vec) == 0 {
			continue
		}
		var sum float64
		for _, v := range vec {
			sum += v * v
		}
		norm := math.Sqrt(sum)
		if norm == 0 {
			continue
		}
		scaled := make([]float64, len(vec))
		for i, v := range vec {
			scaled[i] = v / norm
		}
		out[angle] = scaled
	}
	return out
}
