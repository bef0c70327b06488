package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campustrack/internal/directory"
	"campustrack/internal/faceclient"
)

func studentFace(userID string) faceclient.RecognizedFace {
	score := 0.92
	conf := 0.95
	return faceclient.RecognizedFace{
		UserID:          userID,
		BBox:            []float64{10, 20, 110, 140},
		MatchScore:      &score,
		SpoofStatus:     "Real",
		SpoofConfidence: &conf,
	}
}

func instructorFace(conf float64, spoofStatus string) faceclient.RecognizedFace {
	score := 0.9
	c := conf
	return faceclient.RecognizedFace{
		UserID:          instructorID,
		IsInstructor:    true,
		MatchScore:      &score,
		SpoofStatus:     spoofStatus,
		SpoofConfidence: &c,
	}
}

func TestRecognizeNewStudentPresent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.setTime(time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC))
	f.rec.set(studentFace("S1"))

	batch, err := f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	require.Len(t, batch.Logged, 1)
	assert.Equal(t, StatusPresent, batch.Logged[0].Status)
	assert.Equal(t, "Juan", batch.Logged[0].FirstName)
	assert.Equal(t, "09:05 AM", batch.Logged[0].Time)
	assert.Equal(t, 1, batch.Count)

	lg, err := f.repo.Get(ctx, session.LogID)
	require.NoError(t, err)
	require.Len(t, lg.Students, 1)
	assert.Equal(t, "S1", lg.Students[0].StudentID)
	assert.Equal(t, "09:05:00", lg.Students[0].Time)
	assert.Equal(t, "09:05:00", lg.EndTime, "end time advances with each new entry")
}

func TestRecognizeLateThreshold(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want Status
	}{
		{"five minutes in", time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC), StatusPresent},
		{"exactly at boundary", time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC), StatusPresent},
		{"one second past", time.Date(2025, 3, 10, 9, 15, 1, 0, time.UTC), StatusLate},
		{"sixteen minutes in", time.Date(2025, 3, 10, 9, 16, 0, 0, time.UTC), StatusLate},
		{"twenty-five minutes in", time.Date(2025, 3, 10, 9, 25, 0, 0, time.UTC), StatusLate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.svc.StartSession(ctx, classID, instructorID)
			require.NoError(t, err)

			f.setTime(tc.at)
			f.rec.set(studentFace("S1"))
			batch, err := f.svc.Recognize(ctx, classID, frames())
			require.NoError(t, err)
			require.Len(t, batch.Logged, 1)
			assert.Equal(t, tc.want, batch.Logged[0].Status)
		})
	}
}

func TestRecognizeCacheCoherence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.setTime(time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC))
	f.rec.set(studentFace("S1"))
	batch, err := f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	require.Equal(t, StatusPresent, batch.Logged[0].Status)

	// Re-sighted past the late threshold: the decided status sticks and no
	// second entry is written.
	f.setTime(time.Date(2025, 3, 10, 9, 20, 0, 0, time.UTC))
	batch, err = f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	require.Len(t, batch.Logged, 1)
	assert.Equal(t, StatusPresent, batch.Logged[0].Status)

	lg, err := f.repo.Get(ctx, session.LogID)
	require.NoError(t, err)
	assert.Len(t, lg.Students, 1)
	assert.Equal(t, "09:05:00", lg.Students[0].Time, "entry is immutable after the first sighting")
}

func TestRecognizePersistedDuplicateRepairsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.setTime(time.Date(2025, 3, 10, 9, 20, 0, 0, time.UTC))
	f.rec.set(studentFace("S1"))
	_, err = f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)

	// Simulate a process restart: the cache is gone but the entry persists.
	require.NoError(t, f.cache.Reset(ctx, classID))
	require.NoError(t, f.cache.SetInstructor(ctx, classID, InstructorMark{LogID: session.LogID}))

	batch, err := f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	require.Len(t, batch.Logged, 1)
	assert.Equal(t, StatusLate, batch.Logged[0].Status, "persisted status adopted")

	lg, err := f.repo.Get(ctx, session.LogID)
	require.NoError(t, err)
	assert.Len(t, lg.Students, 1, "no duplicate entry written")

	cached, err := f.cache.Student(ctx, classID, "S1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, StatusLate, cached.Status)
	assert.Equal(t, session.LogID, cached.LogID)
}

func TestRecognizeAtMostOneEntryPerStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.rec.set(studentFace("S1"), studentFace("S1"), studentFace("S2"))
	for i := 0; i < 5; i++ {
		_, err = f.svc.Recognize(ctx, classID, frames())
		require.NoError(t, err)
	}

	lg, err := f.repo.Get(ctx, session.LogID)
	require.NoError(t, err)
	assert.Len(t, lg.Students, 2)
}

func TestRecognizeInstructorDetection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.rec.set(instructorFace(0.95, "Real"))
	batch, err := f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	assert.True(t, batch.InstructorDetected)
	assert.Empty(t, batch.Logged, "instructors never get an attendance entry")

	lg, err := f.repo.Get(ctx, session.LogID)
	require.NoError(t, err)
	assert.Empty(t, lg.Students)

	// The flag persists across batches for the same log.
	f.rec.set()
	batch, err = f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	assert.True(t, batch.InstructorDetected)
}

func TestRecognizeInstructorSpoofGating(t *testing.T) {
	cases := []struct {
		name string
		face faceclient.RecognizedFace
	}{
		{"spoof status", instructorFace(0.95, "Spoof")},
		{"low confidence", instructorFace(0.50, "Real")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.svc.StartSession(ctx, classID, instructorID)
			require.NoError(t, err)

			f.rec.set(tc.face)
			batch, err := f.svc.Recognize(ctx, classID, frames())
			require.NoError(t, err)
			assert.False(t, batch.InstructorDetected, "spoofed sighting must not flip the marker")
			assert.Empty(t, batch.Logged)

			mark, err := f.cache.Instructor(ctx, classID)
			require.NoError(t, err)
			assert.False(t, mark.Detected)
		})
	}
}

func TestRecognizeUnknownIdentitySkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.rec.set(studentFace("ghost"), studentFace("S1"))
	batch, err := f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	require.Len(t, batch.Logged, 1)
	assert.Equal(t, "S1", batch.Logged[0].StudentID)

	lg, err := f.repo.Get(ctx, session.LogID)
	require.NoError(t, err)
	assert.Len(t, lg.Students, 1)
}

func TestRecognizeSessionResetReevaluates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.setTime(time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC))
	f.rec.set(studentFace("S1"))
	_, err = f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)

	_, _, err = f.svc.StopSession(ctx, classID)
	require.NoError(t, err)

	// New session at 10:00; the same student must be re-evaluated against
	// the new log, not served from the old session's cache.
	f.setTime(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	second, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.setTime(time.Date(2025, 3, 10, 10, 20, 0, 0, time.UTC))
	batch, err := f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	require.Len(t, batch.Logged, 1)
	assert.Equal(t, StatusLate, batch.Logged[0].Status)

	lg, err := f.repo.Get(ctx, second.LogID)
	require.NoError(t, err)
	require.Len(t, lg.Students, 1)
	assert.Equal(t, "10:20:00", lg.Students[0].Time)
}

func TestRecognizeLazyLogCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No explicit start; recognition arrives first.
	f.rec.set(studentFace("S1"))
	batch, err := f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	require.Len(t, batch.Logged, 1)
	assert.Equal(t, StatusPresent, batch.Logged[0].Status)

	cls, err := f.dir.Class(ctx, classID)
	require.NoError(t, err)
	require.NotEmpty(t, cls.ActiveLogID)
	assert.False(t, cls.IsAttendanceActive, "lazy open must not arm the session window")

	lg, err := f.repo.Get(ctx, cls.ActiveLogID)
	require.NoError(t, err)
	assert.Len(t, lg.Students, 1)
}

func TestRecognizeEmptyRosterShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dir.PutClass(&directory.Class{ClassID: "empty-class", InstructorID: "nobody"})
	batch, err := f.svc.Recognize(ctx, "empty-class", frames())
	require.NoError(t, err)
	assert.Equal(t, "No registered faces for this class", batch.Message)
	assert.Empty(t, batch.Logged)
	assert.Zero(t, f.rec.callCount(), "recognition service must not be called")
}

func TestRecognizeEmptyBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.rec.set()
	batch, err := f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	assert.Empty(t, batch.Logged)
	assert.Zero(t, batch.Count)
	assert.Equal(t, "CS101", batch.SubjectCode)

	lg, err := f.repo.Get(ctx, session.LogID)
	require.NoError(t, err)
	assert.Empty(t, lg.Students)
}

func TestRecognizeFaceServiceFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.rec.fail = true
	_, err = f.svc.Recognize(ctx, classID, frames())
	assert.ErrorIs(t, err, ErrFaceService)

	// Batch aborted before any store mutation.
	lg, err := f.repo.Get(ctx, session.LogID)
	require.NoError(t, err)
	assert.Empty(t, lg.Students)
}

// Full scenario from the design review: S1 sighted twice, S2 never, no
// instructor sighting.
func TestRecognizeFullSessionScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, classID, instructorID)
	require.NoError(t, err)

	f.setTime(time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC))
	f.rec.set(studentFace("S1"))
	batch, err := f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, batch.Logged[0].Status)
	assert.False(t, batch.InstructorDetected)

	f.setTime(time.Date(2025, 3, 10, 9, 6, 0, 0, time.UTC))
	batch, err = f.svc.Recognize(ctx, classID, frames())
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, batch.Logged[0].Status)

	f.setTime(time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC))
	logID, absent, err := f.svc.StopSession(ctx, classID)
	require.NoError(t, err)
	assert.Equal(t, session.LogID, logID)
	assert.Equal(t, 1, absent)

	lg, err := f.repo.Get(ctx, logID)
	require.NoError(t, err)
	require.Len(t, lg.Students, 2)

	byID := map[string]Entry{}
	for _, e := range lg.Students {
		byID[e.StudentID] = e
	}
	assert.Equal(t, StatusPresent, byID["S1"].Status)
	assert.Equal(t, "09:05:00", byID["S1"].Time)
	assert.Equal(t, StatusAbsent, byID["S2"].Status)
	assert.Equal(t, "09:30:00", byID["S2"].Time)
}
