// Package config provides configuration for the agent and the local report sink.
package config

import "time"

// Adapter names accepted in the enabled adapter set.
const (
	AdapterQueueTime   = "queue_time"
	AdapterJobQueue    = "job_queue"
	AdapterConcurrency = "concurrency"
)

// Defaults for AgentConfig. The backoff curve and buffer capacity are tunables;
// these values keep a wedged control plane from holding more than a few
// report cycles of data.
const (
	DefaultReportInterval      = 5 * time.Second
	DefaultConnectTimeout      = 5 * time.Second
	DefaultReadTimeout         = 10 * time.Second
	DefaultMaxRetryAttempts    = 3
	DefaultBackoffBase         = 1 * time.Second
	DefaultBackoffMax          = 30 * time.Second
	DefaultMaxIdentities       = 1000
	DefaultMaxBufferAge        = 2 * time.Minute
	DefaultShutdownTimeout     = 5 * time.Second
	DefaultFinalFlushTimeout   = 2 * time.Second
	DefaultMaxRequestSizeBytes = 100_000
	DefaultLogLevel            = "info"

	// ReportPath is appended to the API base url.
	ReportPath = "/v3/reports"
)

// AllAdapters lists every adapter, in registration order.
var AllAdapters = []string{AdapterQueueTime, AdapterJobQueue, AdapterConcurrency}
