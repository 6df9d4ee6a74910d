// Package stats holds the agent's own counters: collection problems on the
// request path and delivery outcomes on the reporter side. Nothing here is
// registered globally; the host decides which registry, if any, exposes them.
package stats

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
)

const namespace = "scaleagent"

// Collection error reasons used as the "reason" label.
const (
	ReasonUnknownMetric = "unknown_metric"
	ReasonInvalidValue  = "invalid_value"
	ReasonBufferFull    = "buffer_full"
	ReasonBufferStale   = "buffer_stale"
	ReasonMalformed     = "malformed_event"
	ReasonPanic         = "panic"
	ReasonOther         = "other"
)

// Stats is safe for concurrent use; every field is a prometheus collector.
type Stats struct {
	CollectionErrors *prometheus.CounterVec
	Recorded         prometheus.Counter
	ReportsSent      prometheus.Counter
	SendAttempts     prometheus.Counter
	SendFailures     prometheus.Counter
	ReportsDropped   prometheus.Counter
	ReportingEnabled prometheus.Gauge
}

// New creates an unregistered set of counters.
func New() *Stats {
	return &Stats{
		CollectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_errors_total",
			Help:      "Measurements or events rejected before reaching the buffer.",
		}, []string{"reason"}),
		Recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_recorded_total",
			Help:      "Measurements accepted by the buffer.",
		}),
		ReportsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_sent_total",
			Help:      "Reports accepted by the control plane.",
		}),
		SendAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "HTTP attempts made to deliver reports.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "HTTP attempts that failed.",
		}),
		ReportsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_dropped_total",
			Help:      "Reports abandoned after exhausting retries or on shutdown.",
		}),
		ReportingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reporting_enabled",
			Help:      "1 while the reporter sends reports, 0 in collection-only mode.",
		}),
	}
}

// Register adds every collector to reg.
func (s *Stats) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		s.CollectionErrors,
		s.Recorded,
		s.ReportsSent,
		s.SendAttempts,
		s.SendFailures,
		s.ReportsDropped,
		s.ReportingEnabled,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// CollectionError counts err under its reason label and returns the label.
func (s *Stats) CollectionError(err error) string {
	reason := Reason(err)
	s.CollectionErrors.WithLabelValues(reason).Inc()
	return reason
}

// Reason maps a collection error to its label.
func Reason(err error) string {
	switch {
	case errors.Is(err, internalerrors.ErrUnknownMetric):
		return ReasonUnknownMetric
	case errors.Is(err, internalerrors.ErrInvalidMetricValue):
		return ReasonInvalidValue
	case errors.Is(err, internalerrors.ErrBufferFull):
		return ReasonBufferFull
	case errors.Is(err, internalerrors.ErrBufferStale):
		return ReasonBufferStale
	case errors.Is(err, internalerrors.ErrMalformedEvent):
		return ReasonMalformed
	default:
		return ReasonOther
	}
}
