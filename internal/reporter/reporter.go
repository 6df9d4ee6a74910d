// Package reporter periodically drains the metric buffer and delivers the
// result to the control plane, retrying transient failures with capped
// exponential backoff.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Schera-ole/scaleagent/internal/clock"
	"github.com/Schera-ole/scaleagent/internal/config"
	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
	"github.com/Schera-ole/scaleagent/internal/report"
	"github.com/Schera-ole/scaleagent/internal/stats"
	"github.com/Schera-ole/scaleagent/internal/transport"
)

// Buffer is the part of the metric buffer the reporter uses.
type Buffer interface {
	Record(m models.Measurement) error
	DrainAll() []models.Aggregate
}

// Sampler collects tick-time gauges into the buffer before each drain.
type Sampler interface {
	Sample(now time.Time)
}

// Transport delivers one encoded report.
type Transport interface {
	Send(ctx context.Context, enc report.Encoded) error
}

// Reporter owns the report schedule. Create it with New, call Start once and
// Stop at shutdown.
type Reporter struct {
	cfg       config.AgentConfig
	buffer    Buffer
	sampler   Sampler
	builder   *report.Builder
	transport Transport
	clock     clock.Clock
	stats     *stats.Stats
	logger    *zap.SugaredLogger

	state    atomic.Int32
	disabled atomic.Bool
	failures atomic.Int64

	// sendCtx bounds every HTTP attempt made by the loop. It outlives the loop
	// context so Stop can let an in-flight send finish.
	sendCtx    context.Context
	sendCancel context.CancelFunc

	// pending holds reports whose backoff wait was cut short by Stop. Only the
	// loop goroutine writes it; finalFlush reads it after the loop exits.
	pending []report.Encoded

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a reporter. sampler may be nil. When cfg does not enable
// reporting the reporter only drains and discards.
func New(
	cfg config.AgentConfig,
	buf Buffer,
	sampler Sampler,
	builder *report.Builder,
	tr Transport,
	clk clock.Clock,
	st *stats.Stats,
	logger *zap.SugaredLogger,
) *Reporter {
	if clk == nil {
		clk = clock.Real()
	}
	if st == nil {
		st = stats.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	sendCtx, sendCancel := context.WithCancel(context.Background())
	r := &Reporter{
		cfg:        cfg,
		buffer:     buf,
		sampler:    sampler,
		builder:    builder,
		transport:  tr,
		clock:      clk,
		stats:      st,
		logger:     logger,
		sendCtx:    sendCtx,
		sendCancel: sendCancel,
		done:       make(chan struct{}),
	}
	if cfg.ReportingEnabled() {
		st.ReportingEnabled.Set(1)
	} else {
		st.ReportingEnabled.Set(0)
	}
	return r
}

// Start launches the report loop. Calling it again, or after Stop, does
// nothing. Cancelling ctx ends the loop without the final flush; use Stop
// for an orderly shutdown.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	if !r.cfg.ReportingEnabled() {
		r.logger.Warnw("reporting disabled, collecting only", "error", r.cfg.Validate(), "enabled", r.cfg.Enabled)
	}
	go r.run(loopCtx)
}

// Stop cancels the loop and any backoff wait, gives an in-flight send the
// rest of ShutdownTimeout to finish, then makes one last attempt to deliver
// whatever is left within the same deadline, capped at FinalFlushTimeout.
// Stop returns within ShutdownTimeout. Safe to call more than once; only
// the first call does anything.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	started := r.started
	cancel := r.cancel
	r.mu.Unlock()

	deadline := time.Now().Add(r.cfg.ShutdownTimeout)
	defer r.state.Store(int32(StateStopped))
	defer r.sendCancel()

	if started {
		cancel()
		grace := time.NewTimer(time.Until(deadline))
		defer grace.Stop()

		select {
		case <-r.done:
		case <-grace.C:
			r.logger.Warnw("abandoning in-flight report", "timeout", r.cfg.ShutdownTimeout)
			r.sendCancel()
			<-r.done
		case <-ctx.Done():
			r.sendCancel()
			<-r.done
			r.dropPending(ctx.Err())
			return ctx.Err()
		}
	}

	return r.finalFlush(ctx, deadline)
}

// RecordNow writes m into the buffer the reporter drains.
func (r *Reporter) RecordNow(m models.Measurement) error {
	return r.buffer.Record(m)
}

// State returns the current state.
func (r *Reporter) State() State {
	return State(r.state.Load())
}

// ConsecutiveFailures returns the number of failed attempts since the last
// successful send.
func (r *Reporter) ConsecutiveFailures() int64 {
	return r.failures.Load()
}

func (r *Reporter) run(ctx context.Context) {
	defer close(r.done)

	ticker := r.clock.NewTicker(r.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick runs one report cycle.
func (r *Reporter) tick(ctx context.Context) {
	if r.sampler != nil {
		r.sampler.Sample(r.clock.Now())
	}
	aggs := r.buffer.DrainAll()

	if !r.sending() {
		if len(aggs) > 0 {
			r.logger.Debugw("discarding metrics, reporting disabled", "identities", len(aggs))
		}
		return
	}
	if len(aggs) == 0 {
		return
	}

	enc, err := r.encode(aggs)
	if err != nil {
		r.logger.Errorw("failed to encode report", "error", err)
		r.stats.ReportsDropped.Inc()
		return
	}
	r.deliver(ctx, enc)
}

// deliver sends enc, retrying up to MaxRetryAttempts attempts in total.
func (r *Reporter) deliver(ctx context.Context, enc report.Encoded) {
	for attempt := 1; ; attempt++ {
		r.setState(StateReporting)
		err := r.send(r.sendCtx, enc)
		if err == nil {
			r.succeeded(enc, attempt)
			return
		}

		if errors.Is(err, internalerrors.ErrUnauthorized) {
			r.disable(err)
			return
		}
		if !transport.IsRetryable(err) || attempt >= r.cfg.MaxRetryAttempts {
			r.drop(enc, attempt, err)
			return
		}

		delay := r.backoff(attempt)
		r.logger.Warnw("report failed, retrying",
			"report_id", enc.ReportID,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)
		r.setState(StateBackoff)
		select {
		case <-ctx.Done():
			r.pending = append(r.pending, enc)
			r.setState(StateIdle)
			r.logger.Infow("report deferred to final flush", "report_id", enc.ReportID, "attempts", attempt)
			return
		case <-r.clock.After(delay):
		}
	}
}

// finalFlush sends reports left waiting for a retry, then drains the buffer
// once more and sends that, each with a single attempt and all before
// deadline.
func (r *Reporter) finalFlush(ctx context.Context, deadline time.Time) error {
	reports := r.pending
	r.pending = nil

	if r.sampler != nil {
		r.sampler.Sample(r.clock.Now())
	}
	aggs := r.buffer.DrainAll()
	if !r.sending() {
		r.dropAll(reports, internalerrors.ErrReportingDisabled)
		return nil
	}
	if len(aggs) > 0 {
		enc, err := r.encode(aggs)
		if err != nil {
			r.stats.ReportsDropped.Inc()
			r.dropAll(reports, err)
			return err
		}
		reports = append(reports, enc)
	}
	if len(reports) == 0 {
		return nil
	}

	budget := min(time.Until(deadline), r.cfg.FinalFlushTimeout)
	if budget <= 0 {
		err := fmt.Errorf("no time left for final report: %w", context.DeadlineExceeded)
		r.dropAll(reports, err)
		return err
	}
	flushCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var errs []error
	for i, enc := range reports {
		err := r.send(flushCtx, enc)
		if err == nil {
			r.succeeded(enc, 1)
			continue
		}
		errs = append(errs, err)
		r.logger.Warnw("final report not delivered", "report_id", enc.ReportID, "error", err)
		if errors.Is(err, internalerrors.ErrUnauthorized) {
			r.disable(err)
		} else {
			r.stats.ReportsDropped.Inc()
		}
		if !r.sending() || flushCtx.Err() != nil {
			r.dropAll(reports[i+1:], err)
			break
		}
	}
	return errors.Join(errs...)
}

// dropPending discards reports deferred to a final flush that will not run.
func (r *Reporter) dropPending(err error) {
	r.dropAll(r.pending, err)
	r.pending = nil
}

func (r *Reporter) dropAll(reports []report.Encoded, err error) {
	for _, enc := range reports {
		r.stats.ReportsDropped.Inc()
		r.logger.Warnw("dropping report", "report_id", enc.ReportID, "error", err)
	}
}

func (r *Reporter) send(ctx context.Context, enc report.Encoded) error {
	r.stats.SendAttempts.Inc()
	err := r.transport.Send(ctx, enc)
	if err != nil {
		r.stats.SendFailures.Inc()
		r.failures.Add(1)
	}
	return err
}

func (r *Reporter) encode(aggs []models.Aggregate) (report.Encoded, error) {
	payload := r.builder.Build(aggs)
	return report.Encode(payload, r.cfg.Compress, r.cfg.SigningKey)
}

func (r *Reporter) succeeded(enc report.Encoded, attempts int) {
	r.failures.Store(0)
	r.stats.ReportsSent.Inc()
	r.setState(StateIdle)
	r.logger.Debugw("report delivered", "report_id", enc.ReportID, "attempts", attempts)
}

func (r *Reporter) drop(enc report.Encoded, attempts int, err error) {
	r.stats.ReportsDropped.Inc()
	r.setState(StateIdle)
	r.logger.Warnw("dropping report",
		"report_id", enc.ReportID,
		"attempts", attempts,
		"error", err,
	)
}

// disable stops all further sends. The error is logged only the first time.
func (r *Reporter) disable(err error) {
	if !r.disabled.CompareAndSwap(false, true) {
		return
	}
	r.state.Store(int32(StateDisabled))
	r.stats.ReportingEnabled.Set(0)
	r.stats.ReportsDropped.Inc()
	r.logger.Errorw("control plane rejected the api token, reporting disabled until restart", "error", err)
}

// backoff returns the wait before retrying after attempt failed.
func (r *Reporter) backoff(attempt int) time.Duration {
	return r.cfg.BackoffDelay(attempt)
}

func (r *Reporter) sending() bool {
	return r.cfg.ReportingEnabled() && !r.disabled.Load()
}

func (r *Reporter) setState(s State) {
	if r.disabled.Load() {
		return
	}
	r.state.Store(int32(s))
}
