package models

// Config holds the module configuration
type Config struct {
	Database DatabaseConfig `json:"database"`
	Queue    QueueConfig    `json:"queue"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// QueueConfig holds delivery job queue configurations
type QueueConfig struct {
	Workers         int `json:"workers"`
	PollIntervalMs  int `json:"pollIntervalMs"`
	ClaimBatchSize  int `json:"claimBatchSize"`
	MaxAttempts     int `json:"maxAttempts"`
	StaleRunningSec int `json:"staleRunningSec"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry related configurations
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
