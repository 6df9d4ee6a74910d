// Package models defines the data structures used throughout the agent and the sink.
package models

import (
	"math"
	"sort"
	"strings"
	"time"
)

// MetricName identifies one kind of load signal. The set is closed: only the
// constants below are accepted by the buffer.
type MetricName string

const (
	RequestQueueTime MetricName = "request_queue_time_ms"
	ApplicationTime  MetricName = "application_time_ms"
	JobQueueDepth    MetricName = "job_queue_depth"
	InFlightRequests MetricName = "in_flight_requests"
	Utilization      MetricName = "utilization_pct"
)

// DimensionQueue is the dimension key carrying a job queue name.
const DimensionQueue = "queue"

var knownMetrics = map[MetricName]bool{
	RequestQueueTime: false,
	ApplicationTime:  false,
	JobQueueDepth:    true,
	InFlightRequests: true,
	Utilization:      true,
}

// Known reports whether n belongs to the closed metric set.
func (n MetricName) Known() bool {
	_, ok := knownMetrics[n]
	return ok
}

// IsGauge reports whether n is sampled as a point-in-time value, in which case
// the last observed value is reported alongside the aggregate.
func (n MetricName) IsGauge() bool {
	return knownMetrics[n]
}

// Measurement is one observed signal. It is created by an adapter and handed
// to the buffer immediately; nothing mutates it afterwards.
type Measurement struct {
	// Name is the metric kind
	Name MetricName

	// Value is a duration in milliseconds or a count, depending on Name
	Value float64

	// RecordedAt is when the signal was observed
	RecordedAt time.Time

	// Dimensions are optional labels such as the queue name
	Dimensions map[string]string
}

// Valid reports whether the value is a finite, non-negative number.
func (m Measurement) Valid() bool {
	return m.Value >= 0 && !math.IsInf(m.Value, 0) && !math.IsNaN(m.Value)
}

// Key returns the identity under which the buffer aggregates m: the metric
// name followed by its dimensions in key order.
func (m Measurement) Key() string {
	return IdentityKey(m.Name, m.Dimensions)
}

// IdentityKey builds the aggregation key for a metric name and dimension set.
func IdentityKey(name MetricName, dims map[string]string) string {
	if len(dims) == 0 {
		return string(name)
	}
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(name))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(dims[k])
	}
	return b.String()
}

// Aggregate is the running summary of every measurement recorded under one
// identity between two drains.
type Aggregate struct {
	Name       MetricName
	Dimensions map[string]string
	Count      int64
	Sum        float64
	Min        float64
	Max        float64
	Last       float64
	LastAt     time.Time
}

// Observe folds a measurement into the aggregate.
func (a *Aggregate) Observe(m Measurement) {
	if a.Count == 0 || m.Value < a.Min {
		a.Min = m.Value
	}
	if a.Count == 0 || m.Value > a.Max {
		a.Max = m.Value
	}
	a.Count++
	a.Sum += m.Value
	if a.Count == 1 || !m.RecordedAt.Before(a.LastAt) {
		a.Last = m.Value
		a.LastAt = m.RecordedAt
	}
}

// Summary converts the aggregate into its wire form.
func (a Aggregate) Summary() MetricSummary {
	dims := make(map[string]string, len(a.Dimensions))
	for k, v := range a.Dimensions {
		dims[k] = v
	}
	s := MetricSummary{
		Name:       string(a.Name),
		Dimensions: dims,
		Count:      a.Count,
		Sum:        a.Sum,
		Min:        a.Min,
		Max:        a.Max,
	}
	if a.Name.IsGauge() {
		last := a.Last
		s.Last = &last
	}
	return s
}

// MetricSummary is one entry of the report's metrics array.
type MetricSummary struct {
	Name       string            `json:"name"`
	Dimensions map[string]string `json:"dimensions"`
	Count      int64             `json:"count"`
	Sum        float64           `json:"sum"`
	Min        float64           `json:"min"`
	Max        float64           `json:"max"`

	// Last is only set for gauge metrics
	Last *float64 `json:"last,omitempty"`
}

// AgentInfo identifies the reporting process.
type AgentInfo struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	PID       int    `json:"pid"`
	Container string `json:"container,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
}

// AdapterInfo describes one enabled adapter in the report.
type AdapterInfo struct {
	Version string `json:"adapter_version"`
}

// ReportPayload is the body posted to the control plane once per report cycle.
type ReportPayload struct {
	// ReportID stays the same across retries so the receiver can deduplicate
	ReportID   string                 `json:"report_id"`
	Agent      AgentInfo              `json:"agent"`
	Adapters   map[string]AdapterInfo `json:"adapters"`
	ReportedAt time.Time              `json:"reported_at"`
	Metrics    []MetricSummary        `json:"metrics"`
}

// StoredReport is a report as kept by the sink.
type StoredReport struct {
	ReportID   string        `json:"report_id"`
	AgentID    string        `json:"agent_id"`
	ReceivedAt time.Time     `json:"received_at"`
	Payload    ReportPayload `json:"payload"`
}

// AuditEvent records one report accepted by the sink.
type AuditEvent struct {
	TS        string   `json:"ts"`
	ReportID  string   `json:"report_id"`
	AgentID   string   `json:"agent_id"`
	Metrics   []string `json:"metrics"`
	IPAddress string   `json:"ip_address"`
}
