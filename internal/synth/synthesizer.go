package synth

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/crypto-fm/segment-service/internal/retry"
	"github.com/crypto-fm/segment-service/internal/script"
	"github.com/panjf2000/ants/v2"
)

// SpeechClient is the outbound provider call the synthesizer depends on.
type SpeechClient interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Synthesizer implements core.Synthesizer: it chunks segment text, synthesizes
// the chunks through the provider, concatenates the audio, persists the
// artifact, and transitions the segment to ready.
//
// A per-segment-id lock prevents two concurrent delivery requests from
// synthesizing the same segment twice. The segment store's own lock is never
// held across a provider call.
type Synthesizer struct {
	client   SpeechClient
	store    core.SegmentStore
	audio    core.AudioStore
	notifier core.Notifier
	policy   retry.Policy
	log      *logger.Logger

	maxChunkChars int
	workers       int
	cleaner       *script.Cleaner

	mu       sync.Mutex
	inflight map[string]*inflightLock
}

// inflightLock is a ref-counted per-segment-id lock. The map entry is removed
// when the last holder releases, so purged segment ids do not accumulate.
type inflightLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a synthesizer. The retry policy is applied per provider call,
// with the provider's Retry-After delays honored; a failed synthesis leaves
// the segment pending and is retried on the next delivery request, not in a
// loop here.
func New(
	client SpeechClient,
	store core.SegmentStore,
	audio core.AudioStore,
	notifier core.Notifier,
	policy retry.Policy,
	maxChunkChars int,
	workers int,
	log *logger.Logger,
) *Synthesizer {
	policy.RetryAfter = RetryAfterFromError
	policy.Retryable = IsRetryable

	return &Synthesizer{
		client:        client,
		store:         store,
		audio:         audio,
		notifier:      notifier,
		policy:        policy,
		log:           log,
		maxChunkChars: maxChunkChars,
		workers:       workers,
		cleaner:       script.NewCleaner(),
		mu:            sync.Mutex{},
		inflight:      map[string]*inflightLock{},
	}
}

// EnsureAudio synthesizes audio for a pending segment and marks it ready.
// Segments that already have audio are returned as stored. Concurrent calls
// for the same id serialize on a per-id lock; the loser observes the winner's
// result instead of duplicating the provider work.
func (s *Synthesizer) EnsureAudio(
	ctx context.Context,
	segment *core.Segment,
) (*core.Segment, error) {
	idLock := s.acquire(segment.ID)
	defer s.release(segment.ID, idLock)

	// Re-read under the id lock: a concurrent caller may have finished.
	stored, findErr := s.store.Find(segment.ID)
	if findErr != nil {
		return nil, findErr
	}

	if stored.HasAudio() {
		return stored, nil
	}

	location, synthErr := s.synthesize(ctx, stored.Text, stored.ID)
	if synthErr != nil {
		return nil, synthErr
	}

	stored.Status = core.StatusReady
	stored.AudioLocation = location

	updateErr := s.store.Update(stored)
	if updateErr != nil {
		return nil, fmt.Errorf("failed to mark segment %s ready: %w",
			stored.ID, updateErr)
	}

	s.notifier.SegmentReady(ctx, stored)

	return stored, nil
}

// Regenerate forces re-synthesis for a known segment id, replacing its audio
// location. Unknown ids fail with core.ErrNotFound.
func (s *Synthesizer) Regenerate(ctx context.Context, id string) (*core.Segment, error) {
	idLock := s.acquire(id)
	defer s.release(id, idLock)

	stored, findErr := s.store.Find(id)
	if findErr != nil {
		return nil, findErr
	}

	location, synthErr := s.synthesize(ctx, stored.Text, stored.ID)
	if synthErr != nil {
		return nil, synthErr
	}

	stored.AudioLocation = location
	if stored.Status == core.StatusPending {
		stored.Status = core.StatusReady
	}

	updateErr := s.store.Update(stored)
	if updateErr != nil {
		return nil, fmt.Errorf("failed to update segment %s: %w", id, updateErr)
	}

	return stored, nil
}

// synthesize produces one playable audio artifact for the text and returns its
// location. Any chunk failure aborts the whole synthesis; no partial artifact
// is persisted.
func (s *Synthesizer) synthesize(
	ctx context.Context,
	text, segmentID string,
) (string, error) {
	// Defense in depth: upstream should have cleaned already.
	cleaned := s.cleaner.Clean(text)
	if cleaned == "" {
		return "", fmt.Errorf("%w: segment %s: %w",
			core.ErrSynthesis, segmentID, ErrTextEmpty)
	}

	chunks := script.SplitChunks(cleaned, s.maxChunkChars)

	s.log.Info("Synthesizing segment %s: %d chars in %d chunk(s)",
		segmentID, len(cleaned), len(chunks))

	audioData, chunksErr := s.synthesizeChunks(ctx, chunks)
	if chunksErr != nil {
		return "", fmt.Errorf("%w: segment %s: %w",
			core.ErrSynthesis, segmentID, chunksErr)
	}

	location, saveErr := s.audio.SaveCurrent(ctx, segmentID, audioData)
	if saveErr != nil {
		return "", fmt.Errorf("%w: failed to persist audio for segment %s: %w",
			core.ErrSynthesis, segmentID, saveErr)
	}

	s.log.Info("Generated audio for segment %s: %s (%d bytes)",
		segmentID, location, len(audioData))

	return location, nil
}

// synthesizeChunks synthesizes every chunk with a constant voice and
// concatenates the audio byte streams in chunk order. MP3 frames tolerate
// byte-level concatenation; no crossfade is attempted.
func (s *Synthesizer) synthesizeChunks(
	ctx context.Context,
	chunks []string,
) ([]byte, error) {
	if len(chunks) == 1 {
		return s.synthesizeOne(ctx, chunks[0])
	}

	pool, poolErr := ants.NewPool(s.workers)
	if poolErr != nil {
		return nil, fmt.Errorf("failed to create synthesis pool: %w", poolErr)
	}
	defer pool.Release()

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		firstErr  error
	)

	results := make([][]byte, len(chunks))

	for chunkIndex, chunk := range chunks {
		waitGroup.Add(1)

		submitErr := pool.Submit(func() {
			defer waitGroup.Done()

			data, chunkErr := s.synthesizeOne(ctx, chunk)
			if chunkErr != nil {
				mutex.Lock()

				if firstErr == nil {
					firstErr = fmt.Errorf("chunk %d failed: %w",
						chunkIndex+1, chunkErr)
				}

				mutex.Unlock()

				return
			}

			results[chunkIndex] = data
		})
		if submitErr != nil {
			waitGroup.Done()

			mutex.Lock()

			if firstErr == nil {
				firstErr = fmt.Errorf("failed to submit chunk %d: %w",
					chunkIndex+1, submitErr)
			}

			mutex.Unlock()
		}
	}

	waitGroup.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	return bytes.Join(results, nil), nil
}

func (s *Synthesizer) synthesizeOne(ctx context.Context, chunk string) ([]byte, error) {
	var audioData []byte

	callErr := s.policy.Do(ctx, func() error {
		data, synthErr := s.client.Synthesize(ctx, chunk)
		if synthErr != nil {
			return synthErr
		}

		audioData = data

		return nil
	})
	if callErr != nil {
		return nil, callErr
	}

	return audioData, nil
}

// acquire blocks until the caller holds the per-id lock.
func (s *Synthesizer) acquire(id string) *inflightLock {
	s.mu.Lock()

	idLock, exists := s.inflight[id]
	if !exists {
		idLock = &inflightLock{mu: sync.Mutex{}, refs: 0}
		s.inflight[id] = idLock
	}

	idLock.refs++

	s.mu.Unlock()

	idLock.mu.Lock()

	return idLock
}

// release unlocks the per-id lock and drops the map entry once no caller holds
// or waits on it.
func (s *Synthesizer) release(id string, idLock *inflightLock) {
	idLock.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	idLock.refs--
	if idLock.refs == 0 {
		delete(s.inflight, id)
	}
}
