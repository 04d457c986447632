// Package server exposes the segment pipeline over HTTP: the delivery contract
// the external player polls, the ingest trigger, and the lifecycle operations.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/crypto-fm/segment-service/internal/lifecycle"
	"github.com/gin-gonic/gin"
)

// SpeechPipeline is the synthesis surface the delivery endpoint drives.
type SpeechPipeline interface {
	EnsureAudio(ctx context.Context, segment *core.Segment) (*core.Segment, error)
	Regenerate(ctx context.Context, id string) (*core.Segment, error)
}

// LifecycleManager is the acknowledgement and retention surface.
type LifecycleManager interface {
	MarkSpoken(ctx context.Context, id string) error
	Sweep(ctx context.Context) (int, error)
}

// TranscriptIngestor runs one ingest cycle against the transcript source.
type TranscriptIngestor interface {
	Ingest(ctx context.Context) (*core.Segment, error)
}

// SegmentController wires the pipeline components to their HTTP routes.
type SegmentController struct {
	store     core.SegmentStore
	pipeline  SpeechPipeline
	lifecycle LifecycleManager
	ingestor  TranscriptIngestor
	audio     core.AudioStore
	log       *logger.Logger
}

// NewSegmentController creates the controller for the segment routes.
func NewSegmentController(
	store core.SegmentStore,
	pipeline SpeechPipeline,
	lifecycleManager LifecycleManager,
	ingestor TranscriptIngestor,
	audio core.AudioStore,
	log *logger.Logger,
) *SegmentController {
	return &SegmentController{
		store:     store,
		pipeline:  pipeline,
		lifecycle: lifecycleManager,
		ingestor:  ingestor,
		audio:     audio,
		log:       log,
	}
}

// RegisterRoutes attaches every segment route to the engine.
func (s *SegmentController) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", s.Health)
	engine.GET("/segments/check-new", s.CheckNew)
	engine.GET("/segments/next", s.Next)
	engine.POST("/segments/:id/mark-spoken", s.MarkSpoken)
	engine.POST("/segments/:id/regenerate-audio", s.RegenerateAudio)
	engine.POST("/segments/cleanup", s.Cleanup)
	engine.GET("/segments/status", s.Status)
	engine.GET("/audio/*location", s.Audio)
}

type segmentView struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	AudioURL *string `json:"audioUrl"`
	Status   string  `json:"status"`
}

func (s *SegmentController) segmentView(segment *core.Segment) segmentView {
	view := segmentView{
		ID:       segment.ID,
		Text:     segment.Text,
		AudioURL: nil,
		Status:   segment.Status,
	}

	if segment.HasAudio() {
		audioURL := s.audio.URL(segment.AudioLocation)
		view.AudioURL = &audioURL
	}

	return view
}

// Health reports liveness.
func (s *SegmentController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CheckNew runs the ingestor once and reports whether it produced a segment.
func (s *SegmentController) CheckNew(c *gin.Context) {
	segment, ingestErr := s.ingestor.Ingest(c.Request.Context())
	if ingestErr != nil {
		s.log.Error("Ingest failed: %v", ingestErr)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":       false,
			"hasNewSegment": false,
			"error":         ingestErr.Error(),
		})

		return
	}

	if segment == nil {
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"hasNewSegment": false,
		})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"hasNewSegment": true,
		"segment":       s.segmentView(segment),
	})
}

// Next returns the earliest unspoken segment, synthesizing its audio inline
// when it is still pending. A synthesis failure still returns the segment text
// with a null audio URL so the caller can poll again instead of stalling.
func (s *SegmentController) Next(c *gin.Context) {
	segment, nextErr := s.store.NextToSpeak()
	if nextErr != nil {
		s.log.Error("Failed to read next segment: %v", nextErr)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   nextErr.Error(),
		})

		return
	}

	if segment == nil {
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"hasSegment": false,
		})

		return
	}

	if !segment.HasAudio() {
		ready, synthErr := s.pipeline.EnsureAudio(c.Request.Context(), segment)
		if synthErr != nil {
			s.log.Warn("Synthesis for segment %s failed, serving text only: %v",
				segment.ID, synthErr)
			c.JSON(http.StatusOK, gin.H{
				"success":    false,
				"hasSegment": true,
				"segment":    s.segmentView(segment),
				"error":      synthErr.Error(),
			})

			return
		}

		segment = ready
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"hasSegment": true,
		"segment":    s.segmentView(segment),
	})
}

// MarkSpoken acknowledges playback of a segment. A missing id is treated as
// success: the consumer cannot usefully react to it either way.
func (s *SegmentController) MarkSpoken(c *gin.Context) {
	segmentID := c.Param("id")

	markErr := s.lifecycle.MarkSpoken(c.Request.Context(), segmentID)
	if markErr != nil {
		if errors.Is(markErr, core.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"message": "segment already removed",
			})

			return
		}

		if errors.Is(markErr, lifecycle.ErrNoAudioToAcknowledge) {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error":   markErr.Error(),
			})

			return
		}

		s.log.Error("Failed to mark segment %s spoken: %v", segmentID, markErr)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   markErr.Error(),
		})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "segment marked as spoken",
	})
}

// RegenerateAudio forces re-synthesis for a known segment id.
func (s *SegmentController) RegenerateAudio(c *gin.Context) {
	segmentID := c.Param("id")

	segment, regenErr := s.pipeline.Regenerate(c.Request.Context(), segmentID)
	if regenErr != nil {
		if errors.Is(regenErr, core.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "segment not found",
			})

			return
		}

		s.log.Error("Failed to regenerate audio for segment %s: %v",
			segmentID, regenErr)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   regenErr.Error(),
		})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"audioUrl": s.audio.URL(segment.AudioLocation),
	})
}

// Cleanup triggers one retention sweep.
func (s *SegmentController) Cleanup(c *gin.Context) {
	purged, sweepErr := s.lifecycle.Sweep(c.Request.Context())
	if sweepErr != nil {
		s.log.Error("Retention sweep failed: %v", sweepErr)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   sweepErr.Error(),
		})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("purged %d segments", purged),
	})
}

// Status reports diagnostic counts per state plus the transcript cursor.
func (s *SegmentController) Status(c *gin.Context) {
	segments, listErr := s.store.List()
	if listErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   listErr.Error(),
		})

		return
	}

	cursor, cursorErr := s.store.Cursor()
	if cursorErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   cursorErr.Error(),
		})

		return
	}

	counts := map[string]int{
		core.StatusPending: 0,
		core.StatusReady:   0,
		core.StatusSpoken:  0,
	}

	queueLength := 0

	var oldestUnspoken *core.Segment

	for _, segment := range segments {
		counts[segment.Status]++

		if segment.Status == core.StatusSpoken {
			continue
		}

		queueLength++

		if oldestUnspoken == nil {
			oldestUnspoken = segment
		}
	}

	payload := gin.H{
		"success":     true,
		"counts":      counts,
		"cursor":      cursor,
		"queueLength": queueLength,
	}

	if oldestUnspoken != nil {
		age := time.Since(oldestUnspoken.CreatedAt)
		payload["oldestUnspokenSeconds"] = int(age.Seconds())
	}

	c.JSON(http.StatusOK, payload)
}

// Audio streams artifact bytes from whichever store backend is configured, so
// consumers use the same URLs for local files, NATS objects, and S3 objects.
func (s *SegmentController) Audio(c *gin.Context) {
	location := strings.TrimPrefix(c.Param("location"), "/")

	reader, openErr := s.audio.Open(c.Request.Context(), location)
	if openErr != nil {
		if errors.Is(openErr, core.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "audio not found",
			})

			return
		}

		s.log.Error("Failed to open audio %s: %v", location, openErr)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   openErr.Error(),
		})

		return
	}

	defer func() {
		closeErr := reader.Close()
		if closeErr != nil {
			s.log.Warn("Failed to close audio %s: %v", location, closeErr)
		}
	}()

	c.Header("Content-Type", "audio/mpeg")
	c.Status(http.StatusOK)

	_, copyErr := io.Copy(c.Writer, reader)
	if copyErr != nil {
		s.log.Warn("Failed to stream audio %s: %v", location, copyErr)
	}
}
