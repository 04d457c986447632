// main package for the segment-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/book-expert/logger"
	"github.com/crypto-fm/segment-service/internal/audiostore"
	"github.com/crypto-fm/segment-service/internal/config"
	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/crypto-fm/segment-service/internal/events"
	"github.com/crypto-fm/segment-service/internal/ingest"
	"github.com/crypto-fm/segment-service/internal/lifecycle"
	"github.com/crypto-fm/segment-service/internal/queue"
	"github.com/crypto-fm/segment-service/internal/retry"
	"github.com/crypto-fm/segment-service/internal/server"
	"github.com/crypto-fm/segment-service/internal/synth"
	"github.com/crypto-fm/segment-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

const shutdownTimeout = 10 * time.Second

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "segment-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func connectNATS(cfg *config.Config, log *logger.Logger) (*nats.Conn, error) {
	if cfg.NATS.URL == "" {
		log.Warn("NATS url not configured, lifecycle events disabled.")

		return nil, nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return natsConnection, nil
}

func buildAudioStore(
	cfg *config.Config,
	natsConnection *nats.Conn,
) (core.AudioStore, error) {
	switch cfg.Audio.Backend {
	case "fs":
		store, err := audiostore.NewFSStore(
			cfg.Audio.CurrentDir,
			cfg.Audio.ArchiveDir,
			cfg.HTTP.BaseURL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create fs audio store: %w", err)
		}

		return store, nil
	case "nats":
		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		store, storeErr := audiostore.NewNATSStore(
			jetstreamContext,
			cfg.NATS.CurrentBucket,
			cfg.NATS.ArchiveBucket,
			cfg.HTTP.BaseURL,
		)
		if storeErr != nil {
			return nil, fmt.Errorf("failed to create nats audio store: %w", storeErr)
		}

		return store, nil
	case "s3":
		awsSession, err := session.NewSession(&aws.Config{
			Region: aws.String(cfg.S3.Region),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create aws session: %w", err)
		}

		return audiostore.NewS3Store(s3.New(awsSession), cfg.S3.Bucket), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownAudioBackend, cfg.Audio.Backend)
	}
}

func buildNotifier(
	cfg *config.Config,
	natsConnection *nats.Conn,
	log *logger.Logger,
) core.Notifier {
	if natsConnection == nil {
		return core.NopNotifier{}
	}

	return events.NewPublisher(natsConnection, cfg.NATS.EventsSubjectPrefix, log)
}

func runSweepLoop(
	ctx context.Context,
	manager *lifecycle.Manager,
	interval time.Duration,
	log *logger.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, sweepErr := manager.Sweep(ctx)
			if sweepErr != nil {
				log.Error("Retention sweep failed: %v", sweepErr)

				continue
			}

			if purged > 0 {
				log.Info("Retention sweep purged %d segments.", purged)
			}
		}
	}
}

func run() error {
	// A missing .env file is fine; real deployments configure the
	// environment directly.
	_ = godotenv.Load()

	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	return runService(ctx, cfg, finalLog)
}

func runService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, natsErr := connectNATS(cfg, log)
	if natsErr != nil {
		return natsErr
	}

	if natsConnection != nil {
		defer natsConnection.Close()
	}

	store, storeErr := queue.New(cfg.Queue.Path, log)
	if storeErr != nil {
		return fmt.Errorf("failed to open segment queue: %w", storeErr)
	}

	audio, audioErr := buildAudioStore(cfg, natsConnection)
	if audioErr != nil {
		return audioErr
	}

	notifier := buildNotifier(cfg, natsConnection, log)

	client := synth.NewClient(
		cfg.Provider.URL,
		cfg.Provider.APIKey,
		synth.VoiceConfig{
			Language: cfg.Provider.VoiceLanguage,
			Name:     cfg.Provider.VoiceName,
			Gender:   cfg.Provider.VoiceGender,
			Encoding: cfg.Provider.AudioEncoding,
		},
		time.Duration(cfg.Provider.TimeoutSeconds)*time.Second,
	)

	policy := retry.New(
		cfg.Retry.MaxAttempts,
		time.Duration(cfg.Retry.BaseDelayMS)*time.Millisecond,
		time.Duration(cfg.Retry.MaxDelayMS)*time.Millisecond,
	)

	synthesizer := synth.New(
		client,
		store,
		audio,
		notifier,
		policy,
		cfg.Provider.MaxChunkChars,
		cfg.Provider.Workers,
		log,
	)

	ingestor := ingest.New(
		ingest.NewFileSource(cfg.Transcript.Path), store, notifier, log,
	)

	manager := lifecycle.New(
		store,
		audio,
		notifier,
		time.Duration(cfg.Lifecycle.RetentionDays)*24*time.Hour,
		log,
	)

	go runSweepLoop(
		ctx,
		manager,
		time.Duration(cfg.Lifecycle.SweepIntervalHours)*time.Hour,
		log,
	)

	if natsConnection != nil && cfg.NATS.ScriptUpdatedSubject != "" {
		ingestWorker, workerErr := worker.NewNatsWorker(
			natsConnection, cfg.NATS.ScriptUpdatedSubject, ingestor, log,
		)
		if workerErr != nil {
			return fmt.Errorf("failed to create ingest worker: %w", workerErr)
		}

		go func() {
			runErr := ingestWorker.Run(ctx)
			if runErr != nil {
				log.Error("Ingest worker stopped: %v", runErr)
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	controller := server.NewSegmentController(
		store, synthesizer, manager, ingestor, audio, log,
	)
	controller.RegisterRoutes(engine)

	return serveHTTP(ctx, cfg.HTTP.Port, engine, log)
}

func serveHTTP(
	ctx context.Context,
	port int,
	engine *gin.Engine,
	log *logger.Logger,
) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	log.System("Segment service listening on port %d.", port)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("http server shutdown failed: %w", shutdownErr)
	}

	err := <-serveErr
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
