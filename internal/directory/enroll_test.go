package directory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campustrack/internal/faceclient"
	"campustrack/internal/queue"
)

// fakeQueue captures published messages without a consumer.
type fakeQueue struct {
	published []queue.Message
}

func (q *fakeQueue) Publish(ctx context.Context, msg queue.Message) error {
	q.published = append(q.published, msg)
	return nil
}

func (q *fakeQueue) Consume(ctx context.Context) (<-chan queue.Message, error) {
	panic("not used in tests")
}

func newEnrollServer(t *testing.T, result faceclient.EnrollResult) (*httptest.Server, *map[string]any) {
	t.Helper()
	var captured map[string]any
	mux := http.NewServeMux()
	record := func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(result)
	}
	mux.HandleFunc("/register-auto", record)
	mux.HandleFunc("/register-instructor", record)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &captured
}

func newEnroller(t *testing.T, srv *httptest.Server, q queue.Queue) *Enroller {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := faceclient.New(srv.URL, 5*time.Second, false)
	return NewEnroller(fc, q, logger)
}

func TestEnrollStudentNormalizesAndQueues(t *testing.T) {
	srv, captured := newEnrollServer(t, faceclient.EnrollResult{
		Success: true,
		Angle:   "front",
		Embeddings: map[string][]float64{
			"front": {3, 4},  // norm 5
			"zero":  {0, 0},  // dropped
			"empty": nil,     // dropped
			"left":  {0, -2}, // norm 2
		},
	})
	q := &fakeQueue{}
	e := newEnroller(t, srv, q)

	out, err := e.EnrollStudent(context.Background(), EnrollRequest{
		ID:        "S-100",
		FirstName: "Juan",
		LastName:  "Reyes",
		Course:    " bscs ",
		Image:     json.RawMessage(`"img"`),
	})
	require.NoError(t, err)
	assert.Equal(t, "S-100", out.ID)
	assert.Equal(t, "front", out.Angle)
	assert.Len(t, out.Angles, 2)

	require.NotNil(t, *captured)
	assert.Equal(t, "S-100", (*captured)["student_id"])
	assert.Equal(t, "BSCS", (*captured)["course"], "course trimmed and uppercased")

	require.Len(t, q.published, 1)
	msg := q.published[0]
	assert.Equal(t, FaceSaveType, msg.Type)

	var save FaceSaveMessage
	require.NoError(t, json.Unmarshal(msg.Body, &save))
	assert.Equal(t, "student", save.Kind)
	assert.Equal(t, "S-100", save.ID)
	assert.Equal(t, "BSCS", save.Data.Course)
	require.Contains(t, save.Data.Embeddings, "front")
	assert.InDelta(t, 0.6, save.Data.Embeddings["front"][0], 1e-9)
	assert.InDelta(t, 0.8, save.Data.Embeddings["front"][1], 1e-9)
	assert.NotContains(t, save.Data.Embeddings, "zero")
	assert.NotContains(t, save.Data.Embeddings, "empty")

	var norm float64
	for _, v := range save.Data.Embeddings["left"] {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9, "vectors are unit length")
}

func TestEnrollStudentDefaultCourse(t *testing.T) {
	srv, captured := newEnrollServer(t, faceclient.EnrollResult{
		Success:    true,
		Embeddings: map[string][]float64{"front": {1}},
	})
	e := newEnroller(t, srv, &fakeQueue{})

	_, err := e.EnrollStudent(context.Background(), EnrollRequest{ID: "S-1"})
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", (*captured)["course"])
}

func TestEnrollInstructor(t *testing.T) {
	srv, captured := newEnrollServer(t, faceclient.EnrollResult{
		Success:    true,
		Embeddings: map[string][]float64{"front": {1, 0}},
	})
	q := &fakeQueue{}
	e := newEnroller(t, srv, q)

	out, err := e.EnrollInstructor(context.Background(), EnrollRequest{ID: "INS-9", FirstName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "INS-9", out.ID)
	assert.Equal(t, "INS-9", (*captured)["instructor_id"])

	require.Len(t, q.published, 1)
	var save FaceSaveMessage
	require.NoError(t, json.Unmarshal(q.published[0].Body, &save))
	assert.Equal(t, "instructor", save.Kind)
}

func TestEnrollNoFaceCaptured(t *testing.T) {
	srv, _ := newEnrollServer(t, faceclient.EnrollResult{
		Success: false,
		Warning: "no face detected in frame",
	})
	q := &fakeQueue{}
	e := newEnroller(t, srv, q)

	_, err := e.EnrollStudent(context.Background(), EnrollRequest{ID: "S-1"})
	assert.ErrorIs(t, err, ErrNoEmbeddings)
	assert.Contains(t, err.Error(), "no face detected")
	assert.Empty(t, q.published, "nothing queued on failure")
}

func TestEnrollAllVectorsUnusable(t *testing.T) {
	srv, _ := newEnrollServer(t, faceclient.EnrollResult{
		Success:    true,
		Embeddings: map[string][]float64{"front": {0, 0, 0}},
	})
	e := newEnroller(t, srv, &fakeQueue{})

	_, err := e.EnrollStudent(context.Background(), EnrollRequest{ID: "S-1"})
	assert.ErrorIs(t, err, ErrNoEmbeddings)
}

func TestApplyFaceSaveRoundTrip(t *testing.T) {
	srv, _ := newEnrollServer(t, faceclient.EnrollResult{
		Success:    true,
		Embeddings: map[string][]float64{"front": {3, 4}},
	})
	q := &fakeQueue{}
	e := newEnroller(t, srv, q)
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := e.EnrollStudent(ctx, EnrollRequest{
		ID: "S-100", FirstName: "Juan", LastName: "Reyes", Course: "bscs",
	})
	require.NoError(t, err)
	require.Len(t, q.published, 1)
	require.NoError(t, ApplyFaceSave(ctx, repo, q.published[0]))

	stu, err := repo.Student(ctx, "S-100")
	require.NoError(t, err)
	assert.Equal(t, "Juan", stu.FirstName)
	assert.Equal(t, "BSCS", stu.Course)
	assert.True(t, stu.Registered)
	require.Contains(t, stu.Embeddings, "front")
}

func TestApplyFaceSaveIgnoresOtherTypes(t *testing.T) {
	repo := NewMemoryRepository()
	err := ApplyFaceSave(context.Background(), repo, queue.Message{Type: "something.else"})
	assert.NoError(t, err)
}

func TestApplyFaceSaveRejectsBadPayload(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	err := ApplyFaceSave(ctx, repo, queue.Message{Type: FaceSaveType, Body: json.RawMessage(`{"kind":"student"}`)})
	assert.Error(t, err, "missing id")

	err = ApplyFaceSave(ctx, repo, queue.Message{Type: FaceSaveType, Body: json.RawMessage(`{"kind":"alien","id":"x"}`)})
	assert.Error(t, err, "unknown kind")
}
