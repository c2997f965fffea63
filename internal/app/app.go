// Package app assembles the narration service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/history"
	"github.com/book-expert/narration-service/internal/metrics"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/pipeline"
	"github.com/book-expert/narration-service/internal/provider/direct"
	"github.com/book-expert/narration-service/internal/provider/job"
	"github.com/book-expert/narration-service/internal/storage"
	"github.com/book-expert/narration-service/internal/text"
	"github.com/book-expert/narration-service/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service holds the assembled components of a running narration service.
type Service struct {
	Worker       *worker.NatsWorker
	Orchestrator *pipeline.Orchestrator
	History      *history.Store
	Registry     *prometheus.Registry
}

// Build wires providers, stitching, storage tiers, metrics, history and the worker.
func Build(
	ctx context.Context,
	cfg *config.Config,
	secrets *config.Secrets,
	natsConnection *nats.Conn,
	log *logger.Logger,
) (*Service, error) {
	providers, err := NewProviders(cfg, secrets)
	if err != nil {
		return nil, err
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	audioStore, err := objectstore.New(
		jetstreamContext,
		cfg.NATS.AudioObjectStoreBucket,
		objectstore.WithPublicBaseURL(cfg.NATS.PublicBaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bind audio object store: %w", err)
	}

	textStore := audioStore
	if cfg.NATS.TextObjectStoreBucket != cfg.NATS.AudioObjectStoreBucket {
		textStore, err = objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind text object store: %w", err)
		}
	}

	tiers := []storage.Tier{audioStore}

	driveTier, err := newDriveTier(ctx, cfg.Storage.Drive, secrets, log)
	if err != nil {
		log.Warn("Drive tier disabled: %v", err)
	} else if driveTier != nil {
		tiers = append(tiers, driveTier)
	}

	tiers = append(tiers, storage.NewInlineTier())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pipelineOpts := []pipeline.Option{
		pipeline.WithMetrics(metrics.New(registry)),
		pipeline.WithTransportFallback(cfg.Pipeline.FallbackOnTransportError),
	}

	if cfg.Pipeline.CleanText {
		pipelineOpts = append(pipelineOpts, pipeline.WithTextCleaner(text.NewCleaner()))
	}

	orchestrator := pipeline.New(
		providers,
		newStitcher(cfg.Stitcher, log),
		storage.NewUploader(log, tiers...),
		log,
		pipelineOpts...,
	)

	ledger, err := history.Open(cfg.History.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	natsWorker := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.SynthesisRequestSubject,
		textStore,
		orchestrator,
		log,
		worker.WithHistory(ledger),
		worker.WithRequestTimeout(cfg.Pipeline.RequestTimeout()),
	)

	return &Service{
		Worker:       natsWorker,
		Orchestrator: orchestrator,
		History:      ledger,
		Registry:     registry,
	}, nil
}

// MetricsHandler serves the service registry in the Prometheus exposition format.
func (s *Service) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
}

// Close releases the history database.
func (s *Service) Close() error {
	if s.History == nil {
		return nil
	}

	return s.History.Close()
}

// NewProviders builds the synthesis providers in fallback order: direct first, then job.
func NewProviders(cfg *config.Config, secrets *config.Secrets) ([]core.SynthesisProvider, error) {
	directFormat, err := audio.ParseFormat(cfg.DirectProvider.Format)
	if err != nil {
		return nil, fmt.Errorf("direct provider: %w", err)
	}

	jobFormat, err := audio.ParseFormat(cfg.JobProvider.Format)
	if err != nil {
		return nil, fmt.Errorf("job provider: %w", err)
	}

	directClient := direct.NewClient(
		cfg.DirectProvider.BaseURL,
		secrets.DirectAPIKey,
		direct.WithHTTPClient(&http.Client{Timeout: cfg.DirectProvider.Timeout()}),
		direct.WithModel(cfg.DirectProvider.Model),
		direct.WithDefaultVoice(cfg.DirectProvider.DefaultVoice),
		direct.WithFormat(directFormat),
		direct.WithMaxChunkLength(cfg.DirectProvider.MaxChunkLength),
		direct.WithChunkDelay(cfg.DirectProvider.ChunkDelay()),
	)

	jobClient := job.NewClient(
		cfg.JobProvider.BaseURL,
		secrets.JobAPIKey,
		job.WithHTTPClient(&http.Client{Timeout: cfg.JobProvider.Timeout()}),
		job.WithDefaultVoice(cfg.JobProvider.DefaultVoice),
		job.WithFormat(jobFormat),
		job.WithPollInterval(cfg.JobProvider.PollInterval()),
		job.WithMaxAttempts(cfg.JobProvider.MaxAttempts),
		job.WithMaxChunkLength(cfg.JobProvider.MaxChunkLength),
		job.WithChunkDelay(cfg.JobProvider.ChunkDelay()),
	)

	return []core.SynthesisProvider{directClient, jobClient}, nil
}

// errDriveRootMissing is returned when the Drive tier is enabled without a root folder.
var errDriveRootMissing = errors.New("storage.drive.root_folder_id is required when drive is enabled")

// newDriveTier returns nil without error when the tier is switched off.
func newDriveTier(
	ctx context.Context,
	cfg config.DriveConfig,
	secrets *config.Secrets,
	log *logger.Logger,
) (*storage.DriveTier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.RootFolderID == "" {
		return nil, errDriveRootMissing
	}

	// ctx outlives the call: the Drive HTTP client refreshes tokens with it.
	service, err := storage.NewGoogleDriveFromCredentials(ctx, secrets.GoogleCredentialsFile)
	if err != nil {
		return nil, err
	}

	return storage.NewDriveTier(
		service,
		storage.NewFolderCache(),
		cfg.RootFolderID,
		log,
		storage.WithPublicSharing(cfg.MakePublic),
	), nil
}

func newStitcher(cfg config.StitcherConfig, log *logger.Logger) *audio.Stitcher {
	return audio.NewStitcher(audio.NewFFmpegConcatenator(
		log,
		audio.WithBinary(cfg.FFmpegPath),
		audio.WithWorkDir(cfg.WorkDir),
		audio.WithReencode(cfg.Reencode),
	))
}
