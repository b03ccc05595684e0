package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the job worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the job reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains job worker service configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// PollInterval is how long a worker sleeps after finding no claimable job.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`

	// JobLease is the duration a claimed job is leased before it can be reclaimed.
	JobLease time.Duration `env:"WORKER_JOB_LEASE" envDefault:"30s"`

	// RetryDelay is the delay applied before a failed job becomes claimable again.
	RetryDelay time.Duration `env:"WORKER_RETRY_DELAY" envDefault:"1m"`

	// MaxAttempts is the default attempt budget for jobs created without one.
	MaxAttempts int `env:"WORKER_MAX_ATTEMPTS" envDefault:"3"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.PollInterval < 100*time.Millisecond {
		w.PollInterval = 100 * time.Millisecond
	}
	if w.JobLease < 5*time.Second {
		w.JobLease = 5 * time.Second
	}
	if w.RetryDelay < time.Second {
		w.RetryDelay = time.Second
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
}

// WebhookConfig contains webhook delivery configuration.
type WebhookConfig struct {
	// Timeout is the per-attempt HTTP timeout for webhook POSTs.
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`

	// MaxAttempts is the attempt budget per delivery.
	MaxAttempts int `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"5"`

	// SweepBatchSize is the maximum number of pending deliveries re-enqueued
	// per redelivery sweep.
	SweepBatchSize int `env:"WEBHOOK_SWEEP_BATCH_SIZE" envDefault:"50"`
}

// Sanitize applies guardrails to webhook configuration values.
func (w *WebhookConfig) Sanitize() {
	if w.Timeout < time.Second {
		w.Timeout = time.Second
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	if w.SweepBatchSize < 1 {
		w.SweepBatchSize = 1
	}
}

// PipelineConfig contains document pipeline (extraction + index) configuration.
type PipelineConfig struct {
	// BaseURL is the document pipeline service endpoint.
	BaseURL string `env:"PIPELINE_BASE_URL" envDefault:"http://localhost:8090"`

	// Timeout is the per-request HTTP timeout for pipeline calls.
	Timeout time.Duration `env:"PIPELINE_TIMEOUT" envDefault:"60s"`

	// MaxPDFMegabytes is the largest PDF the extraction stage will accept.
	// Oversized PDFs fail their document without consuming retries.
	MaxPDFMegabytes int `env:"PIPELINE_MAX_PDF_MB" envDefault:"4"`
}

// Sanitize applies guardrails to pipeline configuration values.
func (p *PipelineConfig) Sanitize() {
	p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if p.Timeout < time.Second {
		p.Timeout = time.Second
	}
	if p.MaxPDFMegabytes < 1 {
		p.MaxPDFMegabytes = 1
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending jobs before they are marked as failed.
	// Jobs stuck in pending status longer than this will be failed.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"24h"`

	// DoneMaxAge is the maximum age for done jobs before deletion.
	DoneMaxAge time.Duration `env:"REAPER_DONE_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// DeliveriesMaxAge is the maximum age for terminal webhook deliveries before deletion.
	// Delivery rows keep the audit trail after their carrier jobs are reaped.
	DeliveriesMaxAge time.Duration `env:"REAPER_DELIVERIES_MAX_AGE" envDefault:"2160h"` // 90 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.DoneMaxAge < 1*time.Hour {
		r.DoneMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}
	if r.DeliveriesMaxAge < 24*time.Hour {
		r.DeliveriesMaxAge = 24 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
