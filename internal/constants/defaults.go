package constants

// Default dispatch configuration values
const (
	DefaultSendsPerMinute     = 3
	DefaultDispatchWorkers    = 2
	DefaultMaxSendAttempts    = 3
	DefaultRetryBaseDelayMs   = 2000
	DefaultRetryMaxDelayMs    = 60000
	DefaultSendTimeoutSec     = 30
	DefaultMaxRecipients      = 256
	DefaultSchedulerSweepSec  = 5
	DefaultAuditRetentionDays = 90
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultGracefulShutdownSec   = 30
	DefaultServerPort            = 8084
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultWebhookMaxSkewSec     = 300
)

// Encryption settings
const (
	EncryptionSalt       = "zapcast-storage-salt-v1"
	EncryptionLookupSalt = "zapcast-lookup-salt-v1"
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)

// Server internals
const (
	ServerErrorChannelSize = 1
)
