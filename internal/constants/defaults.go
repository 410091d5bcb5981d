package constants

// Default delivery and retry configuration values
const (
	DefaultRetryBackoffMs  = 1000
	DefaultMaxBackoffMs    = 60000
	DefaultMaxAttempts     = 5
	DefaultRetentionDays   = 30
	DefaultServerPort      = 8084
	DefaultSendRetries     = 1
	DefaultEventBufferSize = 64
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultSendTimeoutSec        = 15
	DefaultDatabaseRetryAttempts = 3
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultPendingOpTTLSec       = 120
)

// Cleanup scheduler defaults
const (
	CleanupSchedulerIntervalHours = 24
)

// EditedMarker prefixes the fallback send when a downstream edit is not
// possible (message too old, or no correlation entry survived).
const EditedMarker = "[edited] "

// Encryption salts for session data at rest
const (
	EncryptionSalt       = "telefeed-session-salt-v1"
	EncryptionLookupSalt = "telefeed-lookup-salt-v1"
)
