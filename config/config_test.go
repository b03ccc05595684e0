package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - worker",
			input: "worker",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
			},
			expectError: false,
		},
		{
			name:  "single service - reaper",
			input: "reaper",
			expected: map[ServiceMode]bool{
				ServiceModeReaper: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "worker,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " worker , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "worker,worker,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "worker,invalid-service",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name           string
		services       string
		expectedWorker bool
		expectedReaper bool
	}{
		{
			name:           "default - worker only",
			services:       "worker",
			expectedWorker: true,
			expectedReaper: false,
		},
		{
			name:           "worker and reaper",
			services:       "worker,reaper",
			expectedWorker: true,
			expectedReaper: true,
		},
		{
			name:           "reaper only",
			services:       "reaper",
			expectedWorker: false,
			expectedReaper: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsWorkerEnabled() != tt.expectedWorker {
				t.Errorf("IsWorkerEnabled(): expected %v, got %v", tt.expectedWorker, cfg.IsWorkerEnabled())
			}

			if cfg.IsReaperEnabled() != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v, got %v", tt.expectedReaper, cfg.IsReaperEnabled())
			}
		})
	}
}

func TestConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := AppConfig{Services: "invalid-service"}

	// All methods should return false when configuration is invalid
	if cfg.IsWorkerEnabled() {
		t.Errorf("IsWorkerEnabled() with invalid config: expected false, got true")
	}

	if cfg.IsReaperEnabled() {
		t.Errorf("IsReaperEnabled() with invalid config: expected false, got true")
	}
}

func TestAppConfig_ParseEnv(t *testing.T) {
	t.Setenv("SERVICES", "worker,reaper")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("WORKER_JOB_LEASE", "45s")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "7")
	t.Setenv("PIPELINE_BASE_URL", "http://pipeline.internal:8090/")
	t.Setenv("DB_NAME", "docchat_test")
	t.Setenv("CACHE_SUBSCRIPTION_TTL", "90s")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Worker.Concurrency != 8 {
		t.Errorf("expected worker concurrency 8, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.JobLease != 45*time.Second {
		t.Errorf("expected job lease 45s, got %v", cfg.Worker.JobLease)
	}
	if cfg.Webhook.MaxAttempts != 7 {
		t.Errorf("expected webhook max attempts 7, got %d", cfg.Webhook.MaxAttempts)
	}
	if cfg.Pipeline.BaseURL != "http://pipeline.internal:8090" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Pipeline.BaseURL)
	}
	if cfg.Postgres.Name != "docchat_test" {
		t.Errorf("expected db name docchat_test, got %q", cfg.Postgres.Name)
	}
	if cfg.Cache.SubscriptionTTL != 90*time.Second {
		t.Errorf("expected subscription TTL 90s, got %v", cfg.Cache.SubscriptionTTL)
	}
	if !cfg.IsWorkerEnabled() || !cfg.IsReaperEnabled() {
		t.Errorf("expected both worker and reaper enabled")
	}
}

func TestWorkerConfig_Sanitize(t *testing.T) {
	cfg := WorkerConfig{
		Concurrency:  0,
		PollInterval: 0,
		JobLease:     time.Second,
		RetryDelay:   0,
		MaxAttempts:  -1,
	}

	cfg.Sanitize()

	if cfg.Concurrency < 1 {
		t.Errorf("expected concurrency to be clamped to >= 1, got %d", cfg.Concurrency)
	}
	if cfg.PollInterval < 100*time.Millisecond {
		t.Errorf("expected poll interval to be clamped, got %v", cfg.PollInterval)
	}
	if cfg.JobLease < 5*time.Second {
		t.Errorf("expected job lease to be clamped, got %v", cfg.JobLease)
	}
	if cfg.RetryDelay < time.Second {
		t.Errorf("expected retry delay to be clamped, got %v", cfg.RetryDelay)
	}
	if cfg.MaxAttempts < 1 {
		t.Errorf("expected max attempts to be clamped to >= 1, got %d", cfg.MaxAttempts)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{
		Interval:         time.Second,
		PendingMaxAge:    time.Minute,
		DoneMaxAge:       time.Minute,
		FailedMaxAge:     time.Minute,
		DeliveriesMaxAge: time.Hour,
		BatchSize:        50000,
	}

	cfg.Sanitize()

	if cfg.Interval < time.Minute {
		t.Errorf("expected interval to be clamped to >= 1m, got %v", cfg.Interval)
	}
	if cfg.PendingMaxAge < 5*time.Minute {
		t.Errorf("expected pending max age to be clamped, got %v", cfg.PendingMaxAge)
	}
	if cfg.DoneMaxAge < time.Hour {
		t.Errorf("expected done max age to be clamped, got %v", cfg.DoneMaxAge)
	}
	if cfg.DeliveriesMaxAge < 24*time.Hour {
		t.Errorf("expected deliveries max age to be clamped, got %v", cfg.DeliveriesMaxAge)
	}
	if cfg.BatchSize > 10000 {
		t.Errorf("expected batch size to be capped at 10000, got %d", cfg.BatchSize)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}
