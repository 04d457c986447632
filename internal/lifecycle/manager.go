// Package lifecycle drives segment state transitions after synthesis: playback
// acknowledgement, the current-to-archive artifact move, and time-based
// retention cleanup. No state ever transitions backward.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/core"
)

// ErrNoAudioToAcknowledge indicates a mark-spoken call for a segment that is
// still pending. A segment without audio cannot have been played, and marking
// it spoken would violate the audio-presence invariant.
var ErrNoAudioToAcknowledge = errors.New("segment has no audio to acknowledge")

const currentPrefix = "current/"

// Manager implements the segment state machine on top of the queue store and
// the audio artifact store.
type Manager struct {
	store     core.SegmentStore
	audio     core.AudioStore
	notifier  core.Notifier
	log       *logger.Logger
	retention time.Duration
	now       func() time.Time
}

// New creates a lifecycle manager with the given retention window.
func New(
	store core.SegmentStore,
	audio core.AudioStore,
	notifier core.Notifier,
	retention time.Duration,
	log *logger.Logger,
) *Manager {
	return &Manager{
		store:     store,
		audio:     audio,
		notifier:  notifier,
		log:       log,
		retention: retention,
		now:       time.Now,
	}
}

// MarkSpoken acknowledges playback of a segment: status becomes spoken,
// spokenAt is set, and the artifact moves from current to archive storage.
// Calling it again on a spoken segment is a no-op. Unknown ids fail with
// core.ErrNotFound; the delivery endpoint decides how to present that.
func (m *Manager) MarkSpoken(ctx context.Context, id string) error {
	segment, findErr := m.store.Find(id)
	if findErr != nil {
		return findErr
	}

	if segment.Status == core.StatusSpoken {
		return nil
	}

	if !segment.HasAudio() {
		return fmt.Errorf("%w: %s", ErrNoAudioToAcknowledge, id)
	}

	if strings.HasPrefix(segment.AudioLocation, currentPrefix) {
		archived, archiveErr := m.audio.Archive(ctx, segment.AudioLocation)
		if archiveErr != nil {
			// The artifact stays at its original location; the segment
			// still transitions, referencing where the audio really is.
			m.log.Warn("Failed to archive audio for segment %s: %v",
				id, archiveErr)
		} else {
			segment.AudioLocation = archived
		}
	}

	spokenAt := m.now().UTC()
	segment.Status = core.StatusSpoken
	segment.SpokenAt = &spokenAt

	updateErr := m.store.Update(segment)
	if updateErr != nil {
		return fmt.Errorf("failed to mark segment %s spoken: %w", id, updateErr)
	}

	m.notifier.SegmentSpoken(ctx, segment)

	return nil
}

// Sweep removes every spoken segment whose spokenAt is older than the
// retention window, deleting the archived audio artifact first. If the
// artifact deletion fails the record is kept, logged, and retried on the next
// sweep; a record must never outlive-reference a deleted artifact or vice
// versa.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	segments, listErr := m.store.List()
	if listErr != nil {
		return 0, fmt.Errorf("failed to list segments for sweep: %w", listErr)
	}

	cutoff := m.now().UTC().Add(-m.retention)
	removed := 0

	for _, segment := range segments {
		if !m.expired(segment, cutoff) {
			continue
		}

		if segment.AudioLocation != "" {
			deleteErr := m.audio.Delete(ctx, segment.AudioLocation)
			if deleteErr != nil {
				m.log.Warn(
					"Retention sweep: keeping segment %s, audio deletion failed: %v",
					segment.ID, deleteErr)

				continue
			}
		}

		purged, purgeErr := m.store.Purge(func(s *core.Segment) bool {
			return s.ID == segment.ID
		})
		if purgeErr != nil {
			m.log.Error("Retention sweep: failed to purge segment %s: %v",
				segment.ID, purgeErr)

			continue
		}

		removed += purged

		m.notifier.SegmentPurged(ctx, segment)
	}

	if removed > 0 {
		m.log.Info("Retention sweep removed %d segment(s)", removed)
	}

	return removed, nil
}

func (m *Manager) expired(segment *core.Segment, cutoff time.Time) bool {
	return segment.Status == core.StatusSpoken &&
		segment.SpokenAt != nil &&
		segment.SpokenAt.Before(cutoff)
}

// SetClock replaces the manager's time source. Tests use it to age segments
// past the retention window without sleeping.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}
