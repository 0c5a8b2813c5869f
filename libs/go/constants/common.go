package constants

// Common string constants used throughout the codebase
const (
	// Environments
	ProdEnvironment = "prod"

	// Service name attached to every production log line
	ServiceName = "sponsor-relay"

	// Default authorization window and tolerated client clock skew, in seconds
	DefaultAuthWindowSeconds = 120
	DefaultClockSkewSeconds  = 30

	// Default number of redundant executions per invocation
	DefaultRedundancy = 1

	// Quorum backends
	QuorumBackendLocal = "local"
	QuorumBackendRedis = "redis"

	// Task statuses
	PendingStatus   = "pending"
	SucceededStatus = "succeeded"
	FailedStatus    = "failed"
)
