// Package queue provides the durable segment queue store: an ordered list of
// segments plus the transcript cursor, persisted as a single JSON record.
//
// Every mutation is a load-mutate-persist cycle under one mutex, which is the
// single-writer guarantee the pipeline relies on. At the expected segment rate
// (one every 30-120 seconds) this is not a bottleneck.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/core"
)

// File and directory permissions.
const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// ErrCursorRegression indicates an attempt to move the transcript cursor
// backwards. The cursor only increases.
var ErrCursorRegression = errors.New("cursor cannot move backwards")

// record is the on-disk shape of the whole store.
type record struct {
	Cursor   int             `json:"cursor"`
	Segments []*core.Segment `json:"segments"`
}

// Store is a file-backed core.SegmentStore.
type Store struct {
	mu   sync.Mutex
	path string
	rec  record
	log  *logger.Logger
}

// New opens the store at path, creating an empty record if none exists. The
// parent directory is created as needed.
func New(path string, log *logger.Logger) (*Store, error) {
	store := &Store{
		mu:   sync.Mutex{},
		path: path,
		rec:  record{Cursor: 0, Segments: nil},
		log:  log,
	}

	loadErr := store.load()
	if loadErr != nil {
		return nil, loadErr
	}

	return store, nil
}

// Append adds a segment to the end of the queue.
func (s *Store) Append(segment *core.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(segment, s.rec.Cursor)
}

// Enqueue appends a segment and advances the cursor in the same durable write,
// so a crash cannot separate the cursor advance from the new segment.
func (s *Store) Enqueue(segment *core.Segment, cursor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor < s.rec.Cursor {
		return fmt.Errorf("%w: %d -> %d", ErrCursorRegression, s.rec.Cursor, cursor)
	}

	return s.appendLocked(segment, cursor)
}

// Find returns a copy of the segment with the given id.
func (s *Store) Find(id string) (*core.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, segment := range s.rec.Segments {
		if segment.ID == id {
			return copySegment(segment), nil
		}
	}

	return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
}

// NextToSpeak returns the earliest-appended segment that is pending or ready,
// or nil when every segment has been spoken. FIFO, never reorders, never skips.
func (s *Store) NextToSpeak() (*core.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, segment := range s.rec.Segments {
		if segment.Status == core.StatusPending || segment.Status == core.StatusReady {
			return copySegment(segment), nil
		}
	}

	return nil, nil
}

// Update replaces the stored segment with the same id.
func (s *Store) Update(segment *core.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.rec.Segments {
		if existing.ID == segment.ID {
			previous := s.rec.Segments[i]
			s.rec.Segments[i] = copySegment(segment)

			persistErr := s.persistLocked()
			if persistErr != nil {
				s.rec.Segments[i] = previous

				return persistErr
			}

			return nil
		}
	}

	return fmt.Errorf("%w: %s", core.ErrNotFound, segment.ID)
}

// Purge removes every segment matching the predicate.
func (s *Store) Purge(predicate func(*core.Segment) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*core.Segment

	removed := 0

	for _, segment := range s.rec.Segments {
		if predicate(segment) {
			removed++

			continue
		}

		kept = append(kept, segment)
	}

	if removed == 0 {
		return 0, nil
	}

	previous := s.rec.Segments
	s.rec.Segments = kept

	persistErr := s.persistLocked()
	if persistErr != nil {
		s.rec.Segments = previous

		return 0, persistErr
	}

	return removed, nil
}

// List returns a copy of all segments in insertion order.
func (s *Store) List() ([]*core.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	segments := make([]*core.Segment, 0, len(s.rec.Segments))
	for _, segment := range s.rec.Segments {
		segments = append(segments, copySegment(segment))
	}

	return segments, nil
}

// Cursor returns the transcript offset consumed so far.
func (s *Store) Cursor() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rec.Cursor, nil
}

// SetCursor durably advances the cursor without enqueuing a segment.
func (s *Store) SetCursor(cursor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor < s.rec.Cursor {
		return fmt.Errorf("%w: %d -> %d", ErrCursorRegression, s.rec.Cursor, cursor)
	}

	previous := s.rec.Cursor
	s.rec.Cursor = cursor

	persistErr := s.persistLocked()
	if persistErr != nil {
		s.rec.Cursor = previous

		return persistErr
	}

	return nil
}

func (s *Store) appendLocked(segment *core.Segment, cursor int) error {
	for _, existing := range s.rec.Segments {
		if existing.ID == segment.ID {
			return fmt.Errorf("%w: %s", core.ErrDuplicateID, segment.ID)
		}
	}

	previousSegments := s.rec.Segments
	previousCursor := s.rec.Cursor

	s.rec.Segments = append(s.rec.Segments, copySegment(segment))
	s.rec.Cursor = cursor

	persistErr := s.persistLocked()
	if persistErr != nil {
		s.rec.Segments = previousSegments
		s.rec.Cursor = previousCursor

		return persistErr
	}

	return nil
}

// load reads the record from disk. A missing file is an empty store.
func (s *Store) load() error {
	data, readErr := os.ReadFile(s.path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil
		}

		return fmt.Errorf("%w: failed to read queue record %s: %w",
			core.ErrStorage, s.path, readErr)
	}

	unmarshalErr := json.Unmarshal(data, &s.rec)
	if unmarshalErr != nil {
		return fmt.Errorf("%w: failed to parse queue record %s: %w",
			core.ErrStorage, s.path, unmarshalErr)
	}

	s.log.Info("Loaded segment queue: %d segments, cursor %d",
		len(s.rec.Segments), s.rec.Cursor)

	return nil
}

// persistLocked writes the whole record to a temp file and renames it over the
// store path, so a crash mid-write cannot leave a partial record behind.
// Callers must hold the mutex.
func (s *Store) persistLocked() error {
	dirErr := os.MkdirAll(filepath.Dir(s.path), dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("%w: failed to create queue directory: %w",
			core.ErrStorage, dirErr)
	}

	data, marshalErr := json.MarshalIndent(&s.rec, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("%w: failed to encode queue record: %w",
			core.ErrStorage, marshalErr)
	}

	tempPath := s.path + ".tmp"

	writeErr := os.WriteFile(tempPath, data, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("%w: failed to write queue record: %w",
			core.ErrStorage, writeErr)
	}

	renameErr := os.Rename(tempPath, s.path)
	if renameErr != nil {
		return fmt.Errorf("%w: failed to replace queue record: %w",
			core.ErrStorage, renameErr)
	}

	return nil
}

func copySegment(segment *core.Segment) *core.Segment {
	segmentCopy := *segment
	if segment.SpokenAt != nil {
		spokenAt := *segment.SpokenAt
		segmentCopy.SpokenAt = &spokenAt
	}

	return &segmentCopy
}
