package synth_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/crypto-fm/segment-service/internal/queue"
	"github.com/crypto-fm/segment-service/internal/retry"
	"github.com/crypto-fm/segment-service/internal/script"
	"github.com/crypto-fm/segment-service/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockSynthesize = errors.New("mock synthesize error")

// mockSpeechClient records calls and returns per-chunk audio.
type mockSpeechClient struct {
	mu          sync.Mutex
	calls       []string
	failOnCall  int
	shouldFail  bool
	callCounter int
}

func (m *mockSpeechClient) Synthesize(_ context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCounter++
	if m.shouldFail || (m.failOnCall > 0 && m.callCounter == m.failOnCall) {
		return nil, errMockSynthesize
	}

	m.calls = append(m.calls, text)

	return []byte(fmt.Sprintf("<%d>", len(text))), nil
}

// mockAudioStore keeps saved artifacts in memory.
type mockAudioStore struct {
	mu         sync.Mutex
	saved      map[string][]byte
	shouldFail bool
}

func newMockAudioStore() *mockAudioStore {
	return &mockAudioStore{
		mu:         sync.Mutex{},
		saved:      map[string][]byte{},
		shouldFail: false,
	}
}

func (m *mockAudioStore) SaveCurrent(
	_ context.Context,
	segmentID string,
	data []byte,
) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFail {
		return "", errMockSynthesize
	}

	location := "current/" + segmentID + ".mp3"
	m.saved[location] = data

	return location, nil
}

func (m *mockAudioStore) Open(
	_ context.Context,
	location string,
) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, exists := m.saved[location]
	if !exists {
		return nil, core.ErrNotFound
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockAudioStore) Archive(_ context.Context, location string) (string, error) {
	return strings.Replace(location, "current/", "archive/", 1), nil
}

func (m *mockAudioStore) Delete(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.saved, location)

	return nil
}

func (m *mockAudioStore) URL(location string) string {
	return "/audio/" + location
}

func setupSynthesizer(
	t *testing.T,
	client *mockSpeechClient,
	maxChunkChars int,
) (*synth.Synthesizer, *queue.Store, *mockAudioStore) {
	t.Helper()

	dir := t.TempDir()

	testLogger, err := logger.New(dir, "synth-test.log")
	require.NoError(t, err)

	store, err := queue.New(filepath.Join(dir, "queue.json"), testLogger)
	require.NoError(t, err)

	audio := newMockAudioStore()

	synthesizer := synth.New(
		client,
		store,
		audio,
		core.NopNotifier{},
		retry.New(1, time.Millisecond, time.Millisecond),
		maxChunkChars,
		2,
		testLogger,
	)

	return synthesizer, store, audio
}

func pendingSegment(t *testing.T, store *queue.Store, id, text string) *core.Segment {
	t.Helper()

	segment := &core.Segment{
		ID:            id,
		Text:          text,
		CreatedAt:     time.Now().UTC(),
		Status:        core.StatusPending,
		AudioLocation: "",
		SpokenAt:      nil,
	}
	require.NoError(t, store.Append(segment))

	return segment
}

func TestEnsureAudioTransitionsToReady(t *testing.T) {
	t.Parallel()

	client := &mockSpeechClient{}
	synthesizer, store, audio := setupSynthesizer(t, client, 4500)

	segment := pendingSegment(t, store, "001", "Bitcoin rallied today.")

	ready, err := synthesizer.EnsureAudio(context.Background(), segment)
	require.NoError(t, err)

	assert.Equal(t, core.StatusReady, ready.Status)
	assert.Equal(t, "current/001.mp3", ready.AudioLocation)

	stored, err := store.Find("001")
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, stored.Status)
	assert.Equal(t, "current/001.mp3", stored.AudioLocation)

	assert.Contains(t, audio.saved, "current/001.mp3")
}

func TestEnsureAudioIsIdempotentForReadySegments(t *testing.T) {
	t.Parallel()

	client := &mockSpeechClient{}
	synthesizer, store, _ := setupSynthesizer(t, client, 4500)

	segment := pendingSegment(t, store, "001", "One sentence.")

	_, err := synthesizer.EnsureAudio(context.Background(), segment)
	require.NoError(t, err)

	callsAfterFirst := client.callCounter

	_, err = synthesizer.EnsureAudio(context.Background(), segment)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, client.callCounter,
		"a ready segment must not be synthesized again")
}

func TestEnsureAudioFailureLeavesSegmentPending(t *testing.T) {
	t.Parallel()

	client := &mockSpeechClient{shouldFail: true}
	synthesizer, store, audio := setupSynthesizer(t, client, 4500)

	segment := pendingSegment(t, store, "001", "This will fail.")

	_, err := synthesizer.EnsureAudio(context.Background(), segment)
	require.ErrorIs(t, err, core.ErrSynthesis)

	stored, findErr := store.Find("001")
	require.NoError(t, findErr)
	assert.Equal(t, core.StatusPending, stored.Status)
	assert.Empty(t, stored.AudioLocation)
	assert.Empty(t, audio.saved)
}

func TestSynthesizeChunksConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	client := &mockSpeechClient{}
	synthesizer, store, audio := setupSynthesizer(t, client, 40)

	// Three sentences, each over the 40-char window on its own.
	text := strings.Repeat("a", 30) + ". " +
		strings.Repeat("b", 30) + ". " +
		strings.Repeat("c", 20) + "."
	segment := pendingSegment(t, store, "001", text)

	ready, err := synthesizer.EnsureAudio(context.Background(), segment)
	require.NoError(t, err)

	data := audio.saved[ready.AudioLocation]
	require.NotEmpty(t, data)

	// Mock audio is "<len>" per chunk. Chunks run in parallel, but the
	// concatenation must follow chunk order, not completion order.
	expected := ""
	for _, chunk := range script.SplitChunks(text, 40) {
		expected += fmt.Sprintf("<%d>", len(chunk))
	}

	assert.Len(t, client.calls, len(script.SplitChunks(text, 40)))
	assert.Equal(t, expected, string(data))
}

func TestPartialChunkFailureAbortsSynthesis(t *testing.T) {
	t.Parallel()

	client := &mockSpeechClient{failOnCall: 2}
	synthesizer, store, audio := setupSynthesizer(t, client, 40)

	text := strings.Repeat("a", 30) + ". " +
		strings.Repeat("b", 30) + ". " +
		strings.Repeat("c", 20) + "."
	segment := pendingSegment(t, store, "001", text)

	_, err := synthesizer.EnsureAudio(context.Background(), segment)
	require.ErrorIs(t, err, core.ErrSynthesis)

	assert.Empty(t, audio.saved, "no partial artifact may be persisted")

	stored, findErr := store.Find("001")
	require.NoError(t, findErr)
	assert.Equal(t, core.StatusPending, stored.Status)
}

func TestRegenerateUnknownIDFails(t *testing.T) {
	t.Parallel()

	client := &mockSpeechClient{}
	synthesizer, _, _ := setupSynthesizer(t, client, 4500)

	_, err := synthesizer.Regenerate(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegenerateReplacesAudio(t *testing.T) {
	t.Parallel()

	client := &mockSpeechClient{}
	synthesizer, store, _ := setupSynthesizer(t, client, 4500)

	segment := pendingSegment(t, store, "001", "Regenerate me.")

	_, err := synthesizer.EnsureAudio(context.Background(), segment)
	require.NoError(t, err)

	callsAfterFirst := client.callCounter

	regenerated, err := synthesizer.Regenerate(context.Background(), "001")
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, regenerated.Status)
	assert.Greater(t, client.callCounter, callsAfterFirst)
}

func TestConcurrentEnsureAudioSynthesizesOnce(t *testing.T) {
	t.Parallel()

	client := &mockSpeechClient{}
	synthesizer, store, _ := setupSynthesizer(t, client, 4500)

	segment := pendingSegment(t, store, "001", "Only once, please.")

	var waitGroup sync.WaitGroup

	for range 4 {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			_, err := synthesizer.EnsureAudio(context.Background(), segment)
			assert.NoError(t, err)
		}()
	}

	waitGroup.Wait()

	assert.Equal(t, 1, client.callCounter,
		"concurrent callers must not duplicate provider work")
}
