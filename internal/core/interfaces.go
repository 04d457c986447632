// Package core defines the segment model, the pipeline error taxonomy, and the
// interfaces the segment pipeline components implement.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Segment status values form a strict forward-only state machine:
// pending -> ready -> spoken -> (purged).
const (
	// StatusPending marks a segment whose text is enqueued but has no audio yet.
	StatusPending = "pending"
	// StatusReady marks a segment whose audio exists in current storage and is
	// awaiting a playback acknowledgement.
	StatusReady = "ready"
	// StatusSpoken marks an acknowledged segment; terminal until retention purge.
	StatusSpoken = "spoken"
)

// Error taxonomy shared across the pipeline. Components wrap these sentinels so the
// delivery endpoint can classify failures with errors.Is.
var (
	// ErrNotFound indicates an operation referenced a segment id absent from the store.
	ErrNotFound = errors.New("segment not found")
	// ErrDuplicateID indicates an append with an id already present in the store.
	ErrDuplicateID = errors.New("duplicate segment id")
	// ErrIngest indicates the transcript source could not be read this cycle.
	ErrIngest = errors.New("ingest failed")
	// ErrSynthesis indicates the speech provider call failed.
	ErrSynthesis = errors.New("synthesis failed")
	// ErrStorage indicates a durable write failed; the store stays consistent.
	ErrStorage = errors.New("storage failed")
)

// Segment is one unit of spoken text and its derived audio artifact.
type Segment struct {
	ID            string     `json:"id"`
	Text          string     `json:"text"`
	CreatedAt     time.Time  `json:"createdAt"`
	Status        string     `json:"status"`
	AudioLocation string     `json:"audioLocation,omitempty"`
	SpokenAt      *time.Time `json:"spokenAt,omitempty"`
}

// NewSegmentID derives a sortable, unique segment id from the creation time.
// Insertion order and id order coincide, which keeps the FIFO contract checkable.
func NewSegmentID(now time.Time) string {
	return fmt.Sprintf("%020d", now.UnixNano())
}

// HasAudio reports whether the audio-presence invariant allows serving this segment
// directly: status ready or spoken implies a non-empty audio location.
func (s *Segment) HasAudio() bool {
	return s.AudioLocation != "" &&
		(s.Status == StatusReady || s.Status == StatusSpoken)
}

// SegmentStore is the single source of truth for the pipeline: an ordered,
// durable collection of segments plus the transcript cursor. Every mutation is
// serialized relative to every other mutation.
type SegmentStore interface {
	// Append adds a segment to the end of the queue. Fails with ErrDuplicateID
	// if the id is already present.
	Append(segment *Segment) error
	// Enqueue appends a segment and advances the transcript cursor in the same
	// durable write. The cursor only increases.
	Enqueue(segment *Segment, cursor int) error
	// Find returns the segment with the given id, or ErrNotFound.
	Find(id string) (*Segment, error)
	// NextToSpeak returns the earliest-appended segment whose status is pending
	// or ready, or nil when no such segment exists.
	NextToSpeak() (*Segment, error)
	// Update replaces the stored segment with the same id. Fails with
	// ErrNotFound if the id is absent.
	Update(segment *Segment) error
	// Purge removes every segment matching the predicate and reports how many
	// were removed.
	Purge(predicate func(*Segment) bool) (int, error)
	// List returns a copy of all segments in insertion order.
	List() ([]*Segment, error)
	// Cursor returns the transcript offset consumed so far.
	Cursor() (int, error)
	// SetCursor durably advances the cursor without enqueuing.
	SetCursor(cursor int) error
}

// AudioStore owns the audio artifacts derived from segments. Locations are
// opaque keys of the form "current/<id>.mp3" or "archive/<id>.mp3"; only the
// lifecycle stage distinguishes the two areas.
type AudioStore interface {
	// SaveCurrent persists audio for a segment into current storage and
	// returns its location.
	SaveCurrent(ctx context.Context, segmentID string, data []byte) (string, error)
	// Open streams the artifact bytes at a location, or ErrNotFound.
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	// Archive moves an artifact from current into archive storage and returns
	// the new location. On failure the artifact stays at its original location.
	Archive(ctx context.Context, location string) (string, error)
	// Delete removes an artifact permanently.
	Delete(ctx context.Context, location string) error
	// URL returns the consumer-facing URL for an artifact location.
	URL(location string) string
}

// Synthesizer converts a segment's text into audio, updating the segment store
// so a concurrent reader never observes ready with a missing audio location.
type Synthesizer interface {
	// EnsureAudio synthesizes audio for a pending segment and transitions it to
	// ready. Already-ready segments are returned unchanged.
	EnsureAudio(ctx context.Context, segment *Segment) (*Segment, error)
}

// TranscriptSource yields the full append-only transcript produced by the
// upstream script generator.
type TranscriptSource interface {
	Read(ctx context.Context) (string, error)
}

// Notifier publishes segment lifecycle transitions for collaborators that
// prefer subscribing over polling. Publishing is best effort: a notifier error
// never fails the store mutation that triggered it.
type Notifier interface {
	SegmentCreated(ctx context.Context, segment *Segment)
	SegmentReady(ctx context.Context, segment *Segment)
	SegmentSpoken(ctx context.Context, segment *Segment)
	SegmentPurged(ctx context.Context, segment *Segment)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

// SegmentCreated implements Notifier.
func (NopNotifier) SegmentCreated(_ context.Context, _ *Segment) {}

// SegmentReady implements Notifier.
func (NopNotifier) SegmentReady(_ context.Context, _ *Segment) {}

// SegmentSpoken implements Notifier.
func (NopNotifier) SegmentSpoken(_ context.Context, _ *Segment) {}

// SegmentPurged implements Notifier.
func (NopNotifier) SegmentPurged(_ context.Context, _ *Segment) {}
