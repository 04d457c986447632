// Package queue_test tests the durable segment queue store.
package queue_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/crypto-fm/segment-service/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*queue.Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "queue.json")

	testLogger, err := logger.New(t.TempDir(), "queue-test.log")
	require.NoError(t, err)

	store, err := queue.New(path, testLogger)
	require.NoError(t, err)

	return store, path
}

func newSegment(id, text string) *core.Segment {
	return &core.Segment{
		ID:            id,
		Text:          text,
		CreatedAt:     time.Now().UTC(),
		Status:        core.StatusPending,
		AudioLocation: "",
		SpokenAt:      nil,
	}
}

func TestNextToSpeakOnEmptyStore(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	next, err := store.NextToSpeak()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestAppendAndNextToSpeakIsFIFO(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	require.NoError(t, store.Append(newSegment("001", "first")))
	require.NoError(t, store.Append(newSegment("002", "second")))
	require.NoError(t, store.Append(newSegment("003", "third")))

	next, err := store.NextToSpeak()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "001", next.ID)

	// A later segment becoming ready must not let it jump the queue.
	second, err := store.Find("002")
	require.NoError(t, err)

	second.Status = core.StatusReady
	second.AudioLocation = "current/002.mp3"
	require.NoError(t, store.Update(second))

	next, err = store.NextToSpeak()
	require.NoError(t, err)
	assert.Equal(t, "001", next.ID)
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	require.NoError(t, store.Append(newSegment("001", "first")))

	err := store.Append(newSegment("001", "again"))
	require.ErrorIs(t, err, core.ErrDuplicateID)
}

func TestUpdateUnknownIDFails(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	err := store.Update(newSegment("missing", "nope"))
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestFindReturnsCopy(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	require.NoError(t, store.Append(newSegment("001", "first")))

	found, err := store.Find("001")
	require.NoError(t, err)

	found.Status = core.StatusSpoken

	again, err := store.Find("001")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, again.Status)
}

func TestEnqueueAdvancesCursorWithSegment(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)

	require.NoError(t, store.Enqueue(newSegment("001", "first"), 34))

	cursor, err := store.Cursor()
	require.NoError(t, err)
	assert.Equal(t, 34, cursor)

	// Both the segment and the cursor survive a reopen.
	testLogger, err := logger.New(t.TempDir(), "queue-test.log")
	require.NoError(t, err)

	reopened, err := queue.New(path, testLogger)
	require.NoError(t, err)

	cursor, err = reopened.Cursor()
	require.NoError(t, err)
	assert.Equal(t, 34, cursor)

	next, err := reopened.NextToSpeak()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "001", next.ID)
	assert.Equal(t, "first", next.Text)
}

func TestCursorCannotRegress(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	require.NoError(t, store.SetCursor(100))

	err := store.SetCursor(50)
	require.ErrorIs(t, err, queue.ErrCursorRegression)

	err = store.Enqueue(newSegment("001", "x"), 50)
	require.ErrorIs(t, err, queue.ErrCursorRegression)

	cursor, err := store.Cursor()
	require.NoError(t, err)
	assert.Equal(t, 100, cursor)
}

func TestPurgeRemovesMatching(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	require.NoError(t, store.Append(newSegment("001", "keep")))
	require.NoError(t, store.Append(newSegment("002", "drop")))

	removed, err := store.Purge(func(segment *core.Segment) bool {
		return segment.ID == "002"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Find("002")
	require.ErrorIs(t, err, core.ErrNotFound)

	segments, err := store.List()
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "001", segments[0].ID)
}
