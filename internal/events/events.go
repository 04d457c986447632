// Package events publishes segment lifecycle transitions over NATS so
// collaborators can subscribe instead of polling the delivery endpoint.
// Publishing is best effort: a publish failure is logged and never fails the
// store mutation that triggered it.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event kinds, appended to the configured subject prefix
// (e.g. "segment.created").
const (
	KindCreated = "created"
	KindReady   = "ready"
	KindSpoken  = "spoken"
	KindPurged  = "purged"
)

// SegmentEvent is the wire payload for one lifecycle transition.
type SegmentEvent struct {
	EventID       string    `json:"eventId"`
	Timestamp     time.Time `json:"timestamp"`
	SegmentID     string    `json:"segmentId"`
	Status        string    `json:"status"`
	AudioLocation string    `json:"audioLocation,omitempty"`
	TextChars     int       `json:"textChars"`
}

// Publisher implements core.Notifier over a NATS connection.
type Publisher struct {
	natsConnection *nats.Conn
	subjectPrefix  string
	log            *logger.Logger
}

// NewPublisher creates a lifecycle event publisher.
func NewPublisher(
	natsConnection *nats.Conn,
	subjectPrefix string,
	log *logger.Logger,
) *Publisher {
	return &Publisher{
		natsConnection: natsConnection,
		subjectPrefix:  subjectPrefix,
		log:            log,
	}
}

// SegmentCreated implements core.Notifier.
func (p *Publisher) SegmentCreated(_ context.Context, segment *core.Segment) {
	p.publish(KindCreated, segment)
}

// SegmentReady implements core.Notifier.
func (p *Publisher) SegmentReady(_ context.Context, segment *core.Segment) {
	p.publish(KindReady, segment)
}

// SegmentSpoken implements core.Notifier.
func (p *Publisher) SegmentSpoken(_ context.Context, segment *core.Segment) {
	p.publish(KindSpoken, segment)
}

// SegmentPurged implements core.Notifier.
func (p *Publisher) SegmentPurged(_ context.Context, segment *core.Segment) {
	p.publish(KindPurged, segment)
}

func (p *Publisher) publish(kind string, segment *core.Segment) {
	event := SegmentEvent{
		EventID:       uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		SegmentID:     segment.ID,
		Status:        segment.Status,
		AudioLocation: segment.AudioLocation,
		TextChars:     len(segment.Text),
	}

	data, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		p.log.Error("Failed to marshal %s event for segment %s: %v",
			kind, segment.ID, marshalErr)

		return
	}

	subject := p.subjectPrefix + "." + kind

	publishErr := p.natsConnection.Publish(subject, data)
	if publishErr != nil {
		p.log.Error("Failed to publish %s event for segment %s: %v",
			kind, segment.ID, publishErr)
	}
}
