package constants

// Default queue configuration values
const (
	DefaultQueueWorkers         = 4
	DefaultQueuePollIntervalMs  = 250
	DefaultQueueClaimBatchSize  = 16
	DefaultQueueMaxAttempts     = 5
	DefaultQueueStaleRunningSec = 300
)

// Default retry configuration values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
)

// Default monitor configuration values
const (
	DefaultOutboxCheckIntervalSec  = 60
	DefaultOutboxStaleThresholdSec = 600
)

// EncryptionSalt keys the pbkdf2 derivation for at-rest body encryption.
const EncryptionSalt = "securetext-record-store-v1"
