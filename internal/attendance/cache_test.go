package attendance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheStudent(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	got, err := c.Student(ctx, "c1", "S1")
	require.NoError(t, err)
	assert.Nil(t, got, "miss returns nil")

	require.NoError(t, c.PutStudent(ctx, "c1", "S1", CachedStatus{Status: StatusLate, LogID: "log-1"}))

	got, err = c.Student(ctx, "c1", "S1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusLate, got.Status)
	assert.Equal(t, "log-1", got.LogID)

	// Classes are isolated.
	got, err = c.Student(ctx, "c2", "S1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCacheInstructorMark(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	mark, err := c.Instructor(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, InstructorMark{}, mark, "miss returns the zero value")

	require.NoError(t, c.SetInstructor(ctx, "c1", InstructorMark{LogID: "log-1", Detected: true}))
	mark, err = c.Instructor(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, mark.Detected)
	assert.Equal(t, "log-1", mark.LogID)
}

func TestMemoryCacheReset(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.PutStudent(ctx, "c1", "S1", CachedStatus{Status: StatusPresent, LogID: "log-1"}))
	require.NoError(t, c.PutStudent(ctx, "c2", "S1", CachedStatus{Status: StatusPresent, LogID: "log-2"}))
	require.NoError(t, c.SetInstructor(ctx, "c1", InstructorMark{LogID: "log-1", Detected: true}))

	require.NoError(t, c.Reset(ctx, "c1"))

	got, err := c.Student(ctx, "c1", "S1")
	require.NoError(t, err)
	assert.Nil(t, got)
	mark, err := c.Instructor(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, mark.Detected)

	// Other classes untouched.
	got, err = c.Student(ctx, "c2", "S1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "log-2", got.LogID)
}
