// Package bootstrap wires configuration, storage, and services into runnable
// processes.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/docchat/docchat-go/config"
)

// InitLogger installs a JSON slog logger as the process default.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

// LoadConfig reads configuration from the environment, after loading a .env
// file when one is present.
func LoadConfig() (config.AppConfig, error) {
	if err := loadDotenv(); err != nil {
		return config.AppConfig{}, err
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// loadDotenv treats a missing .env file as normal; anything else (unreadable
// file, bad syntax) is surfaced.
func loadDotenv() error {
	err := godotenv.Load()
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return nil
	}
	return fmt.Errorf("load .env file: %w", err)
}

// ValidateServiceConfig rejects configurations that would start nothing.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}

	modes, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(modes) == 0 {
		return errors.New("no services enabled")
	}

	return nil
}

// GetEnabledServices returns the enabled service names sorted for stable
// startup logging. Invalid configurations yield an empty list; validation
// reports the actual error.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}

	modes, err := cfg.GetEnabledServices()
	if err != nil {
		return []string{}
	}

	names := make([]string, 0, len(modes))
	for mode := range modes {
		names = append(names, string(mode))
	}
	sort.Strings(names)
	return names
}
