// Package errors holds the sentinel errors shared across the agent and the sink.
package errors

import "errors"

var (
	// Collection errors. These never leave the adapter/buffer boundary on a request path.
	ErrUnknownMetric      = errors.New("unknown metric name")
	ErrInvalidMetricValue = errors.New("invalid metric value")
	ErrBufferFull         = errors.New("metric buffer full")
	ErrBufferStale        = errors.New("metric buffer not drained recently")
	ErrMalformedEvent     = errors.New("malformed adapter event")

	// Reporting errors
	ErrReportingDisabled = errors.New("reporting disabled")
	ErrUnauthorized      = errors.New("control plane rejected credentials")
	ErrEmptyReport       = errors.New("report has no metrics")

	// Configuration errors
	ErrMissingEndpoint = errors.New("api base url not configured")
	ErrInvalidEndpoint = errors.New("api base url is not an absolute http(s) url")
	ErrMissingToken    = errors.New("api token not configured")

	// Sink errors
	ErrInvalidReport      = errors.New("invalid report")
	ErrReportNotFound     = errors.New("report not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrReportTooLarge     = errors.New("report too large")
)
