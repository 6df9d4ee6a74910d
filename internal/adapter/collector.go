package adapter

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Schera-ole/scaleagent/internal/buffer"
	models "github.com/Schera-ole/scaleagent/internal/model"
	"github.com/Schera-ole/scaleagent/internal/stats"
)

// Collector is the boundary between host code and the buffer. Nothing that
// goes wrong inside an adapter or the buffer escapes Observe: errors and
// panics are counted, logged at debug level at most once per second, and
// the event is dropped.
type Collector struct {
	buffer   *buffer.MetricBuffer
	adapters []Adapter
	stats    *stats.Stats
	logger   *zap.SugaredLogger
	limiter  *rate.Limiter
}

// NewCollector wires adapters to buf.
func NewCollector(buf *buffer.MetricBuffer, st *stats.Stats, logger *zap.SugaredLogger, adapters ...Adapter) *Collector {
	if st == nil {
		st = stats.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Collector{
		buffer:   buf,
		adapters: adapters,
		stats:    st,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Observe hands ev to every adapter and records what they produce. Safe to
// call from any number of goroutines.
func (c *Collector) Observe(ev Event) {
	for _, a := range c.adapters {
		c.collect(a, ev)
	}
}

// Record writes a measurement straight into the buffer, bypassing adapters.
// The error is returned for callers that want it; request paths can ignore it.
func (c *Collector) Record(m models.Measurement) error {
	if err := c.buffer.Record(m); err != nil {
		c.debug("record rejected", "metric", m.Name, "error", err)
		return err
	}
	return nil
}

// Sample asks every Sampler adapter for its tick-time gauges and records them.
func (c *Collector) Sample(now time.Time) {
	for _, a := range c.adapters {
		s, ok := a.(Sampler)
		if !ok {
			continue
		}
		for _, m := range s.Sample(now) {
			_ = c.Record(m)
		}
	}
}

// Adapters returns the adapters in registration order.
func (c *Collector) Adapters() []Adapter {
	return append([]Adapter(nil), c.adapters...)
}

func (c *Collector) collect(a Adapter, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.CollectionErrors.WithLabelValues(stats.ReasonPanic).Inc()
			c.debug("adapter panicked", "adapter", a.Name(), "panic", fmt.Sprint(r))
		}
	}()

	measurements, err := a.Collect(ev)
	if err != nil {
		reason := c.stats.CollectionError(err)
		c.debug("event skipped", "adapter", a.Name(), "reason", reason, "error", err)
		return
	}
	for _, m := range measurements {
		_ = c.Record(m)
	}
}

func (c *Collector) debug(msg string, keysAndValues ...any) {
	if c.limiter.Allow() {
		c.logger.Debugw(msg, keysAndValues...)
	}
}
