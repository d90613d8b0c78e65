package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"zapcast/internal/constants"
	"zapcast/internal/models"
)

var (
	ErrMissingMessengerURL = models.ConfigError{Message: "missing messenger API URL"}
	ErrMissingDBPath       = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
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

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Messenger.APIBaseURL == "" {
		return ErrMissingMessengerURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Messenger.Channel == "" {
		c.Messenger.Channel = "default"
	}
	if c.Messenger.SendTimeoutSec <= 0 {
		c.Messenger.SendTimeoutSec = constants.DefaultSendTimeoutSec
	}

	if c.Dispatch.SendsPerMinute <= 0 {
		c.Dispatch.SendsPerMinute = constants.DefaultSendsPerMinute
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = constants.DefaultDispatchWorkers
	}
	if c.Dispatch.MaxSendAttempts <= 0 {
		c.Dispatch.MaxSendAttempts = constants.DefaultMaxSendAttempts
	}
	if c.Dispatch.MaxRecipients <= 0 {
		c.Dispatch.MaxRecipients = constants.DefaultMaxRecipients
	}
	if c.Dispatch.SchedulerSweepSec <= 0 {
		c.Dispatch.SchedulerSweepSec = constants.DefaultSchedulerSweepSec
	}
	if c.Dispatch.AuditRetentionDays <= 0 {
		c.Dispatch.AuditRetentionDays = constants.DefaultAuditRetentionDays
	}

	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = constants.DefaultRetryBaseDelayMs
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = constants.DefaultRetryMaxDelayMs
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.WebhookMaxSkewSec <= 0 {
		c.Server.WebhookMaxSkewSec = constants.DefaultWebhookMaxSkewSec
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("MESSENGER_API_URL"); url != "" {
		c.Messenger.APIBaseURL = url
	}
	if key := os.Getenv("MESSENGER_API_KEY"); key != "" {
		c.Messenger.APIKey = key
	}

	// SECURITY: webhook secrets should be set via environment variables
	if secret := os.Getenv("ZAPCAST_WEBHOOK_SECRET"); secret != "" {
		c.Messenger.WebhookSecret = secret
	}

	if path := os.Getenv("ZAPCAST_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("ZAPCAST_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("ZAPCAST_ENV") == "production"

	if isProduction {
		if c.Messenger.WebhookSecret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set ZAPCAST_WEBHOOK_SECRET environment variable)"}
		}
		if len(c.Messenger.WebhookSecret) < 32 {
			return models.ConfigError{Message: "webhook secret must be at least 32 characters long"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Messenger.WebhookSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set ZAPCAST_WEBHOOK_SECRET environment variable for security.\n")
	}

	return nil
}
