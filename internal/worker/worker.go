// Package worker provides a NATS worker that runs the transcript ingestor
// whenever the upstream script generator announces new content. The delivery
// endpoint's check-new operation covers polling consumers; this worker covers
// push-style collaborators.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 30 * time.Second

// Ingestor is the single operation the worker triggers.
type Ingestor interface {
	Ingest(ctx context.Context) (*core.Segment, error)
}

// NatsWorker listens for script-updated notifications on a NATS subject and
// runs one ingest cycle per message.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	ingestor       Ingestor
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	ingestor Ingestor,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		ingestor:       ingestor,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(_ *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	segment, ingestErr := w.ingestor.Ingest(ctx)
	if ingestErr != nil {
		w.log.Error("Ingest triggered by %s failed: %v", w.subject, ingestErr)

		return
	}

	if segment == nil {
		w.log.Info("Script update on %s produced no new segment", w.subject)

		return
	}

	w.log.Info("Script update on %s produced segment %s", w.subject, segment.ID)
}
