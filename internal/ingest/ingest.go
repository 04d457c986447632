// Package ingest detects newly appended transcript text and enqueues it as a
// pending segment.
package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/crypto-fm/segment-service/internal/script"
)

// FileSource reads the full transcript from a local file. A missing file means
// the upstream script generator has not produced anything yet.
type FileSource struct {
	path string
}

// NewFileSource creates a transcript source backed by the file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Read returns the whole transcript.
func (f *FileSource) Read(_ context.Context) (string, error) {
	data, readErr := os.ReadFile(f.path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return "", nil
		}

		return "", fmt.Errorf("%w: failed to read transcript %s: %w",
			core.ErrIngest, f.path, readErr)
	}

	return string(data), nil
}

// Ingestor diffs the transcript against the stored cursor and enqueues the
// unread suffix as one cleaned pending segment.
type Ingestor struct {
	mu       sync.Mutex
	source   core.TranscriptSource
	store    core.SegmentStore
	cleaner  *script.Cleaner
	notifier core.Notifier
	log      *logger.Logger
}

// New creates an ingestor over the given transcript source and segment store.
func New(
	source core.TranscriptSource,
	store core.SegmentStore,
	notifier core.Notifier,
	log *logger.Logger,
) *Ingestor {
	return &Ingestor{
		mu:       sync.Mutex{},
		source:   source,
		store:    store,
		cleaner:  script.NewCleaner(),
		notifier: notifier,
		log:      log,
	}
}

// Ingest runs one poll cycle. It returns the new pending segment, or nil when
// there is nothing to enqueue yet. The cursor and the new segment are written
// in one durable transaction, so a crash cannot re-ingest the same text or
// advance the cursor past an unrecorded segment.
//
// The whole read-diff-enqueue cycle is serialized: the check-new handler and
// the script-updated worker share one ingestor, and two callers diffing
// against the same cursor snapshot would enqueue the same text twice.
func (i *Ingestor) Ingest(ctx context.Context) (*core.Segment, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	transcript, readErr := i.source.Read(ctx)
	if readErr != nil {
		return nil, readErr
	}

	cursor, cursorErr := i.store.Cursor()
	if cursorErr != nil {
		return nil, fmt.Errorf("%w: failed to read cursor: %w", core.ErrIngest, cursorErr)
	}

	if cursor >= len(transcript) {
		return nil, nil
	}

	newText := transcript[cursor:]
	if strings.TrimSpace(newText) == "" {
		return nil, nil
	}

	// Guard against ingesting a fragment of a sentence still being written.
	if !script.HasSentenceEnd(newText) {
		return nil, nil
	}

	cleaned := i.cleaner.Clean(newText)
	if cleaned == "" {
		// The suffix was nothing but stage directions. Consume it so the
		// next cycle does not re-examine it.
		setErr := i.store.SetCursor(len(transcript))
		if setErr != nil {
			return nil, fmt.Errorf("%w: failed to advance cursor: %w",
				core.ErrIngest, setErr)
		}

		return nil, nil
	}

	now := time.Now().UTC()
	segment := &core.Segment{
		ID:            core.NewSegmentID(now),
		Text:          cleaned,
		CreatedAt:     now,
		Status:        core.StatusPending,
		AudioLocation: "",
		SpokenAt:      nil,
	}

	enqueueErr := i.store.Enqueue(segment, len(transcript))
	if enqueueErr != nil {
		return nil, fmt.Errorf("%w: failed to enqueue segment: %w",
			core.ErrIngest, enqueueErr)
	}

	i.log.Info("Ingested segment %s: %d chars, cursor %d -> %d",
		segment.ID, len(cleaned), cursor, len(transcript))

	i.notifier.SegmentCreated(ctx, segment)

	return segment, nil
}
