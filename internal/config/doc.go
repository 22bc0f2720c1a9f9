// Package config defines configuration for the fragmentd worker.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (FRAGMENTD_ prefix)
//   - YAML configuration file
//
// Flags override environment variables, which override the file. The source
// and sink endpoints, the storage account and the pre-shared key are
// required; a worker cannot start without them.
//
// # Structure
//
//	type Config struct {
//	    Source    string
//	    Sink      string
//	    Control   string
//	    Fail      string
//	    Transfers int
//	    Account   string
//	    Key       string
//	    Bucket    string
//	    Endpoint  string
//	    ChunkSize int64
//	    Metrics   string
//	    LogLevel  string
//	    Retry     RetryConfig
//	}
//
//	type RetryConfig struct {
//	    Attempts   int
//	    Backoff    time.Duration
//	    MaxBackoff time.Duration
//	}
package config
