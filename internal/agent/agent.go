// Package agent assembles the collection and reporting engine: one buffer,
// the enabled adapters and the reporter that drains them.
package agent

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/Schera-ole/scaleagent/internal/adapter"
	"github.com/Schera-ole/scaleagent/internal/buffer"
	"github.com/Schera-ole/scaleagent/internal/clock"
	"github.com/Schera-ole/scaleagent/internal/config"
	models "github.com/Schera-ole/scaleagent/internal/model"
	"github.com/Schera-ole/scaleagent/internal/report"
	"github.com/Schera-ole/scaleagent/internal/reporter"
	"github.com/Schera-ole/scaleagent/internal/stats"
	"github.com/Schera-ole/scaleagent/internal/transport"
)

// Version is the agent version sent in every report.
const Version = "0.1.0"

// Agent is the engine instance owned by the host process. There is no
// package-level instance; the host keeps the pointer returned by New.
type Agent struct {
	cfg       config.AgentConfig
	buffer    *buffer.MetricBuffer
	collector *adapter.Collector
	reporter  *reporter.Reporter
	stats     *stats.Stats
	clock     clock.Clock
	logger    *zap.SugaredLogger

	queueTime   *adapter.RequestQueueTimeAdapter
	jobQueue    *adapter.JobQueueAdapter
	concurrency *adapter.ConcurrencyAdapter
}

type options struct {
	clock     clock.Clock
	transport reporter.Transport
	stats     *stats.Stats
	identity  *models.AgentInfo
}

// Option customizes New.
type Option func(*options)

// WithClock replaces the wall clock driving the report schedule.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithTransport replaces the HTTP client used to send reports.
func WithTransport(tr reporter.Transport) Option {
	return func(o *options) { o.transport = tr }
}

// WithStats makes the agent count into st, typically to register it with a
// prometheus registry owned by the host.
func WithStats(st *stats.Stats) Option {
	return func(o *options) { o.stats = st }
}

// WithIdentity overrides the detected process identity.
func WithIdentity(info models.AgentInfo) Option {
	return func(o *options) { o.identity = &info }
}

// New builds an agent from cfg. It never fails: a configuration that cannot
// report yields an agent that collects and discards.
func New(cfg config.AgentConfig, logger *zap.SugaredLogger, opts ...Option) *Agent {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.stats == nil {
		o.stats = stats.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cfg = cfg.Normalize()

	a := &Agent{
		cfg:    cfg,
		stats:  o.stats,
		clock:  o.clock,
		logger: logger,
		buffer: buffer.NewMetricBuffer(cfg.MaxIdentities, cfg.MaxBufferAge, o.clock, o.stats),
	}

	var adapters []adapter.Adapter
	var names []string
	if cfg.AdapterEnabled(config.AdapterQueueTime) {
		a.queueTime = adapter.NewRequestQueueTimeAdapter(o.clock, cfg.IgnoreLargeRequests, cfg.MaxRequestSizeBytes)
		adapters = append(adapters, a.queueTime)
		names = append(names, a.queueTime.Name())
	}
	if cfg.AdapterEnabled(config.AdapterJobQueue) {
		a.jobQueue = adapter.NewJobQueueAdapter(o.clock)
		adapters = append(adapters, a.jobQueue)
		names = append(names, a.jobQueue.Name())
	}
	if cfg.AdapterEnabled(config.AdapterConcurrency) {
		a.concurrency = adapter.NewConcurrencyAdapter(o.clock)
		adapters = append(adapters, a.concurrency)
		names = append(names, a.concurrency.Name())
	}
	a.collector = adapter.NewCollector(a.buffer, o.stats, logger, adapters...)

	identity := o.identity
	if identity == nil {
		info := report.ResolveIdentity(cfg.InstanceID, Version)
		identity = &info
	}
	builder := report.NewBuilder(*identity, names, adapter.Version, o.clock)

	tr := o.transport
	if tr == nil {
		tr = transport.NewClient(transport.Options{
			URL:            cfg.ReportURL(),
			Token:          cfg.APIToken,
			UserAgent:      "scaleagent/" + Version,
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
		})
	}
	a.reporter = reporter.New(cfg, a.buffer, a.collector, builder, tr, o.clock, o.stats, logger)

	logger.Infow("agent created",
		"agent_id", identity.ID,
		"adapters", names,
		"reporting", cfg.ReportingEnabled(),
		"interval", cfg.ReportInterval,
	)
	return a
}

// Start begins periodic reporting. It does nothing when the agent is
// switched off.
func (a *Agent) Start(ctx context.Context) {
	if !a.cfg.Enabled {
		a.logger.Infow("agent switched off, not starting")
		return
	}
	a.reporter.Start(ctx)
}

// Stop flushes what is left and stops reporting, bounded by the configured
// shutdown timeout.
func (a *Agent) Stop(ctx context.Context) error {
	if !a.cfg.Enabled {
		return nil
	}
	return a.reporter.Stop(ctx)
}

// Observe hands a raw event to the adapters. It never blocks on I/O and
// never panics.
func (a *Agent) Observe(ev adapter.Event) {
	if !a.cfg.Enabled {
		return
	}
	a.collector.Observe(ev)
}

// Record writes a measurement directly into the buffer.
func (a *Agent) Record(m models.Measurement) error {
	if !a.cfg.Enabled {
		return nil
	}
	return a.reporter.RecordNow(m)
}

// TrackRequest records queue time for r and marks it in flight. Call the
// returned function when the response has been written.
func (a *Agent) TrackRequest(r *http.Request) (done func()) {
	started := a.clock.Now()
	a.Observe(adapter.RequestEvent{
		RequestStart:  r.Header.Get("X-Request-Start"),
		StartedAt:     started,
		ContentLength: r.ContentLength,
	})
	a.Observe(adapter.ConcurrencyEvent{Phase: adapter.PhaseStart})
	return func() {
		a.Observe(adapter.ConcurrencyEvent{Phase: adapter.PhaseEnd, Elapsed: a.clock.Now().Sub(started)})
	}
}

// State returns the reporter state.
func (a *Agent) State() reporter.State {
	return a.reporter.State()
}

// Stats returns the agent's own counters.
func (a *Agent) Stats() *stats.Stats {
	return a.stats
}

// Config returns the normalized configuration the agent runs with.
func (a *Agent) Config() config.AgentConfig {
	return a.cfg
}

// Concurrency returns the concurrency adapter, or nil when it is disabled.
func (a *Agent) Concurrency() *adapter.ConcurrencyAdapter {
	return a.concurrency
}
