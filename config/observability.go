package config

import "strings"

// ObservabilityConfig contains observability configuration.
type ObservabilityConfig struct {
	Metrics ObservabilityMetricsConfig `envPrefix:""`
}

// Sanitize applies guardrails to observability configuration values.
func (o *ObservabilityConfig) Sanitize() {
	o.Metrics.Sanitize()
}

// ObservabilityMetricsConfig contains StatsD metrics emission configuration.
type ObservabilityMetricsConfig struct {
	// Enabled toggles metric emission. When disabled no UDP socket is opened.
	Enabled bool `env:"OBSERVABILITY_METRICS_ENABLED" envDefault:"false"`

	// StatsdAddress is the host:port of the StatsD agent.
	StatsdAddress string `env:"STATSD_ADDRESS" envDefault:"localhost:8125"`
}

// Sanitize applies guardrails to metrics configuration values.
func (m *ObservabilityMetricsConfig) Sanitize() {
	m.StatsdAddress = strings.TrimSpace(m.StatsdAddress)
	if m.StatsdAddress == "" {
		m.Enabled = false
	}
}

// IsEnabled reports whether metric emission is configured and enabled.
func (m *ObservabilityMetricsConfig) IsEnabled() bool {
	return m.Enabled && m.StatsdAddress != ""
}
