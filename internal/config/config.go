package config

import (
	"encoding/json"
	"fmt"
	"os"

	"securetext/internal/constants"
	"securetext/internal/models"
	"securetext/internal/security"
)

var (
	ErrMissingDBPath = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}

	if c.Queue.Workers <= 0 {
		c.Queue.Workers = constants.DefaultQueueWorkers
	}
	if c.Queue.PollIntervalMs <= 0 {
		c.Queue.PollIntervalMs = constants.DefaultQueuePollIntervalMs
	}
	if c.Queue.ClaimBatchSize <= 0 {
		c.Queue.ClaimBatchSize = constants.DefaultQueueClaimBatchSize
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if c.Queue.StaleRunningSec <= 0 {
		c.Queue.StaleRunningSec = constants.DefaultQueueStaleRunningSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("SECURETEXT_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if level := os.Getenv("SECURETEXT_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}
