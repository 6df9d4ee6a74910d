// Package report turns drained aggregates into the payload sent to the
// control plane and encodes it for the wire.
package report

import (
	"github.com/google/uuid"

	"github.com/Schera-ole/scaleagent/internal/clock"
	models "github.com/Schera-ole/scaleagent/internal/model"
)

// Builder creates one ReportPayload per report cycle. The agent identity and
// the adapter map are fixed at construction.
type Builder struct {
	agent    models.AgentInfo
	adapters map[string]models.AdapterInfo
	clock    clock.Clock
}

// NewBuilder creates a builder reporting the given adapter names, each at
// adapterVersion.
func NewBuilder(agent models.AgentInfo, adapterNames []string, adapterVersion string, clk clock.Clock) *Builder {
	if clk == nil {
		clk = clock.Real()
	}
	adapters := make(map[string]models.AdapterInfo, len(adapterNames))
	for _, name := range adapterNames {
		adapters[name] = models.AdapterInfo{Version: adapterVersion}
	}
	return &Builder{
		agent:    agent,
		adapters: adapters,
		clock:    clk,
	}
}

// Build creates a payload with a fresh report id. The returned payload does
// not share memory with aggs or with the builder.
func (b *Builder) Build(aggs []models.Aggregate) models.ReportPayload {
	adapters := make(map[string]models.AdapterInfo, len(b.adapters))
	for name, info := range b.adapters {
		adapters[name] = info
	}
	metrics := make([]models.MetricSummary, 0, len(aggs))
	for _, agg := range aggs {
		metrics = append(metrics, agg.Summary())
	}

	return models.ReportPayload{
		ReportID:   uuid.NewString(),
		Agent:      b.agent,
		Adapters:   adapters,
		ReportedAt: b.clock.Now().UTC(),
		Metrics:    metrics,
	}
}

// Agent returns the identity stamped on every payload.
func (b *Builder) Agent() models.AgentInfo {
	return b.agent
}
