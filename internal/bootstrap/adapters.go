package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/docchat/docchat-go/config"
	"github.com/docchat/docchat-go/internal/adapters/jobrunner"
	"github.com/docchat/docchat-go/internal/observability/statsd"
	"github.com/docchat/docchat-go/internal/service"
)

// WorkerRuntimeConfig contains configuration for the job worker.
type WorkerRuntimeConfig struct {
	Services ServiceContainer
	Logger   *slog.Logger
	Config   config.WorkerConfig
	Metrics  statsd.Sink
}

// RunWorker starts the job worker pool.
func RunWorker(ctx context.Context, cfg WorkerRuntimeConfig) error {
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Jobs:         cfg.Services.Jobs,
		Documents:    cfg.Services.Documents,
		Dispatcher:   cfg.Services.Dispatcher,
		Delivery:     cfg.Services.Delivery,
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
		Lease:        cfg.Config.JobLease,
		PollInterval: cfg.Config.PollInterval,
		Concurrency:  cfg.Config.Concurrency,
	})
	if err != nil {
		return fmt.Errorf("create job runner: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run job runner: %w", runErr)
	}
	return nil
}

// ReaperRuntimeConfig contains configuration for the reaper.
type ReaperRuntimeConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the cleanup reaper.
func RunReaper(ctx context.Context, cfg ReaperRuntimeConfig) error {
	repos := buildRepositories(cfg.DB, nil, nil)
	reaperSvc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repos.JobRepo,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper: %w", err)
	}

	return reaperSvc.Run(ctx)
}
