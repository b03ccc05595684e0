package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docchat/docchat-go/config"
	"github.com/docchat/docchat-go/internal/adapters/docpipeline"
	"github.com/docchat/docchat-go/internal/data"
	"github.com/docchat/docchat-go/internal/observability/statsd"
	"github.com/docchat/docchat-go/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Events        *service.EventService
	Documents     *service.DocumentService
	Dispatcher    *service.DispatcherService
	Delivery      *service.DeliveryService
	Webhooks      *service.WebhookService
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB               *sql.DB
	Redis            redis.UniversalClient
	JobRepo          *data.JobRepo
	EventRepo        *data.EventRepo
	SubscriptionRepo *data.WebhookSubscriptionRepo
	DeliveryRepo     *data.WebhookDeliveryRepo
	DocumentRepo     *data.DocumentRepo
	CacheRepo        *data.RedisCacheRepo
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "docchat",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient, cfg *config.AppConfig) *serviceRepositories {
	repoCfg := data.RepoConfig{}
	if cfg != nil {
		repoCfg.RetryDelaySeconds = int(cfg.Worker.RetryDelay / time.Second)
		repoCfg.MaxAttempts = cfg.Worker.MaxAttempts
	}

	var cacheRepo *data.RedisCacheRepo
	if redisClient != nil {
		cacheRepo = data.NewRedisCacheRepo(redisClient)
	}

	clock := data.SystemClock{}
	return &serviceRepositories{
		DB:               db,
		Redis:            redisClient,
		JobRepo:          data.NewJobRepo(db, repoCfg),
		EventRepo:        data.NewEventRepo(db),
		SubscriptionRepo: data.NewWebhookSubscriptionRepo(db),
		DeliveryRepo:     data.NewWebhookDeliveryRepo(db, clock),
		DocumentRepo:     data.NewDocumentRepo(db, clock),
		CacheRepo:        cacheRepo,
	}
}

func newJobService(repos *serviceRepositories, cfg *config.AppConfig) *service.JobService {
	lease := 30 * time.Second
	if cfg != nil && cfg.Worker.JobLease > 0 {
		lease = cfg.Worker.JobLease
	}
	return service.MustNewJobService(service.JobServiceOptions{
		Repo:         repos.JobRepo,
		DefaultLease: lease,
	})
}

func newEventService(repos *serviceRepositories, logger *slog.Logger) (*service.EventService, error) {
	return service.NewEventService(service.EventServiceOptions{
		DB:        repos.DB,
		EventRepo: repos.EventRepo,
		JobRepo:   repos.JobRepo,
		Logger:    logger,
	})
}

func newDocumentService(repos *serviceRepositories, events *service.EventService, cfg *config.AppConfig, logger *slog.Logger) (*service.DocumentService, error) {
	pipelineCfg := docpipeline.Config{}
	var maxPDFBytes int64
	if cfg != nil {
		pipelineCfg.BaseURL = cfg.Pipeline.BaseURL
		pipelineCfg.Timeout = cfg.Pipeline.Timeout
		maxPDFBytes = int64(cfg.Pipeline.MaxPDFMegabytes) << 20
	}
	pipeline, err := docpipeline.NewClient(pipelineCfg)
	if err != nil {
		return nil, fmt.Errorf("create pipeline client: %w", err)
	}

	return service.NewDocumentService(service.DocumentServiceOptions{
		DocumentRepo: repos.DocumentRepo,
		Pipeline:     pipeline,
		Events:       events,
		MaxPDFBytes:  maxPDFBytes,
		Logger:       logger,
	})
}

func newDispatcherService(repos *serviceRepositories, cfg *config.AppConfig, logger *slog.Logger) (*service.DispatcherService, error) {
	opts := service.DispatcherServiceOptions{
		DB:               repos.DB,
		EventRepo:        repos.EventRepo,
		SubscriptionRepo: repos.SubscriptionRepo,
		DeliveryRepo:     repos.DeliveryRepo,
		JobRepo:          repos.JobRepo,
		Logger:           logger,
	}
	if repos.CacheRepo != nil {
		opts.Cache = repos.CacheRepo
	}
	if cfg != nil {
		opts.SubscriptionTTL = cfg.Cache.SubscriptionTTL
		opts.DeliveryMaxAttempts = cfg.Webhook.MaxAttempts
	}
	return service.NewDispatcherService(opts)
}

func newDeliveryService(repos *serviceRepositories, observability ObservabilityContainer, cfg *config.AppConfig, logger *slog.Logger) (*service.DeliveryService, error) {
	opts := service.DeliveryServiceOptions{
		DeliveryRepo: repos.DeliveryRepo,
		JobRepo:      repos.JobRepo,
		Logger:       logger,
	}
	if cfg != nil && cfg.Webhook.Timeout > 0 {
		opts.HTTPClient = &http.Client{Timeout: cfg.Webhook.Timeout}
	}
	if observability.MetricsSink != nil {
		opts.Metrics = observability.MetricsSink
	}
	return service.NewDeliveryService(opts)
}

func newWebhookService(repos *serviceRepositories, dispatcher *service.DispatcherService, cfg *config.AppConfig, logger *slog.Logger) (*service.WebhookService, error) {
	opts := service.WebhookServiceOptions{
		DB:               repos.DB,
		SubscriptionRepo: repos.SubscriptionRepo,
		DeliveryRepo:     repos.DeliveryRepo,
		EventRepo:        repos.EventRepo,
		JobRepo:          repos.JobRepo,
		Jobs:             repos.JobRepo,
		Dispatcher:       dispatcher,
		Logger:           logger,
	}
	if cfg != nil {
		opts.DeliveryMaxAttempts = cfg.Webhook.MaxAttempts
	}
	return service.NewWebhookService(opts)
}

// NewServices wires repositories, observability, and business services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var obsCfg config.ObservabilityConfig
	if deps.Config != nil {
		obsCfg = deps.Config.Observability
	}
	observability := buildObservability(logger, obsCfg)
	repos := buildRepositories(deps.DB, deps.RedisClient, deps.Config)

	jobService := newJobService(repos, deps.Config)
	eventService, err := newEventService(repos, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	documentService, err := newDocumentService(repos, eventService, deps.Config, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	dispatcherService, err := newDispatcherService(repos, deps.Config, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	deliveryService, err := newDeliveryService(repos, observability, deps.Config, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	webhookService, err := newWebhookService(repos, dispatcherService, deps.Config, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	return ServiceContainer{
		Jobs:          jobService,
		Events:        eventService,
		Documents:     documentService,
		Dispatcher:    dispatcherService,
		Delivery:      deliveryService,
		Webhooks:      webhookService,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg,
				)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "worker",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var workerCfg config.WorkerConfig
			if deps.cfg.Config != nil {
				workerCfg = deps.cfg.Config.Worker
			}
			return RunWorker(ctx, WorkerRuntimeConfig{
				Services: deps.cfg.Services,
				Logger:   deps.logger,
				Config:   workerCfg,
				Metrics:  deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var reaperCfg config.ReaperConfig
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
			}
			return RunReaper(ctx, ReaperRuntimeConfig{
				DB:      deps.cfg.DB,
				Logger:  deps.logger,
				Config:  reaperCfg,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	handles := startBackgroundServices(deps, buildBackgroundServices(deps))

	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       errCh,
		logger:      logger,
		backgrounds: handles,
	})
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range []config.ServiceMode{config.ServiceModeWorker, config.ServiceModeReaper} {
		if enabled[mode] {
			count++
		}
	}
	if count < 1 {
		return 1
	}
	return count + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for background services to finish.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
