package utils

import "time"

// Application identifier, used for the keyring service and config directory
const AppID = "cellsync"

// Cells endpoints
const (
	APIPrefix     = "/a"
	DataBucket    = "io"
	S3Region      = "us-east-1"
	SessionPath   = "/frontend/session"
	UserPath      = "/user/"
	MetaBulkPath  = "/meta/bulk/get"
	AuthTypeLogin = "credentials"
	GatewaySecret = "gatewaysecret"
)

// Sync defaults
const (
	DefaultParallelism   = 8
	DefaultThrottleDelay = 500 * time.Millisecond
	MetaBulkBatchSize    = 100
	HashBufferSize       = 32 * 1024
	DefaultMaxAttempts   = 0 // unlimited
)

// Retry configuration for metadata requests
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// Schema version
const SchemaVersion = "1.0"

// DefaultGlobalIgnores seed the globalIgnores setting; users can edit or
// clear them
var DefaultGlobalIgnores = []string{
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}
