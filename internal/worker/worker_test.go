package worker_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/crypto-fm/segment-service/internal/worker"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

const testSubject = "radio.script.updated"

type recordingIngestor struct {
	mu      sync.Mutex
	calls   int
	segment *core.Segment
	err     error
	done    chan struct{}
}

func (r *recordingIngestor) Ingest(_ context.Context) (*core.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++

	select {
	case r.done <- struct{}{}:
	default:
	}

	return r.segment, r.err
}

func (r *recordingIngestor) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		closeErr := log.Close()
		require.NoError(t, closeErr)
	})

	return log
}

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port

	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	return nc
}

func TestWorkerTriggersIngestOnMessage(t *testing.T) {
	t.Parallel()

	nc := startNATS(t)
	log := newTestLogger(t)

	ingestor := &recordingIngestor{
		mu:    sync.Mutex{},
		calls: 0,
		segment: &core.Segment{
			ID:            "00000000000000000001",
			Text:          "Bitcoin is up today.",
			CreatedAt:     time.Now().UTC(),
			Status:        core.StatusPending,
			AudioLocation: "",
			SpokenAt:      nil,
		},
		err:  nil,
		done: make(chan struct{}, 4),
	}

	natsWorker, err := worker.NewNatsWorker(nc, testSubject, ingestor, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)

	go func() {
		runErr <- natsWorker.Run(ctx)
	}()

	// Give the subscription a moment to register before publishing.
	require.Eventually(t, func() bool {
		publishErr := nc.Publish(testSubject, []byte("updated"))

		return publishErr == nil && ingestor.callCount() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-runErr)
}

func TestWorkerSurvivesIngestFailure(t *testing.T) {
	t.Parallel()

	nc := startNATS(t)
	log := newTestLogger(t)

	ingestor := &recordingIngestor{
		mu:      sync.Mutex{},
		calls:   0,
		segment: nil,
		err:     os.ErrPermission,
		done:    make(chan struct{}, 4),
	}

	natsWorker, err := worker.NewNatsWorker(nc, testSubject, ingestor, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)

	go func() {
		runErr <- natsWorker.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		publishErr := nc.Publish(testSubject, []byte("updated"))

		return publishErr == nil && ingestor.callCount() >= 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-runErr)
}
