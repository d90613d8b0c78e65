package models

// Config holds the application configuration
type Config struct {
	Messenger MessengerConfig `json:"messenger"`
	Database  DatabaseConfig  `json:"database"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Retry     RetryConfig     `json:"retry"`
	Server    ServerConfig    `json:"server"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level"`
}

// MessengerConfig holds chat transport related configuration
type MessengerConfig struct {
	APIBaseURL     string `json:"api_base_url"`
	APIKey         string `json:"-"`
	Channel        string `json:"channel"`
	SendTimeoutSec int    `json:"sendTimeoutSec"`
	WebhookSecret  string `json:"-"`
}

// DatabaseConfig holds database related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// DispatchConfig tunes the dispatch pipeline
type DispatchConfig struct {
	SendsPerMinute     int `json:"sendsPerMinute"`
	Workers            int `json:"workers"`
	MaxSendAttempts    int `json:"maxSendAttempts"`
	MaxRecipients      int `json:"maxRecipients"`
	SchedulerSweepSec  int `json:"schedulerSweepSec"`
	AuditRetentionDays int `json:"auditRetentionDays"`
}

// RetryConfig holds retry related configuration
type RetryConfig struct {
	BaseDelayMs int `json:"baseDelayMs"`
	MaxDelayMs  int `json:"maxDelayMs"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port              int `json:"port"`
	WebhookMaxSkewSec int `json:"webhookMaxSkewSec"`
}

// TracingConfig holds OpenTelemetry configuration
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
