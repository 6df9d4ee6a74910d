package adapter

import (
	"fmt"
	"time"

	"github.com/Schera-ole/scaleagent/internal/clock"
	"github.com/Schera-ole/scaleagent/internal/config"
	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
)

// ConcurrencyAdapter tracks requests in flight. Every start and end records
// in_flight_requests; an end with a positive Elapsed also records
// application_time_ms. As a Sampler it reports utilization_pct once per
// report tick.
type ConcurrencyAdapter struct {
	clock   clock.Clock
	tracker utilizationTracker
}

func NewConcurrencyAdapter(clk clock.Clock) *ConcurrencyAdapter {
	if clk == nil {
		clk = clock.Real()
	}
	return &ConcurrencyAdapter{clock: clk}
}

func (a *ConcurrencyAdapter) Name() string { return config.AdapterConcurrency }

func (a *ConcurrencyAdapter) Collect(ev Event) ([]models.Measurement, error) {
	c, ok := ev.(ConcurrencyEvent)
	if !ok {
		return nil, nil
	}
	now := a.clock.Now()

	switch c.Phase {
	case PhaseStart:
		active := a.tracker.incr(now)
		return []models.Measurement{inFlight(active, now)}, nil

	case PhaseEnd:
		active, ok := a.tracker.decr(now)
		if !ok {
			return nil, fmt.Errorf("%w: request end without start", internalerrors.ErrMalformedEvent)
		}
		out := []models.Measurement{inFlight(active, now)}
		if c.Elapsed > 0 {
			out = append(out, models.Measurement{
				Name:       models.ApplicationTime,
				Value:      float64(c.Elapsed.Microseconds()) / 1000,
				RecordedAt: now,
			})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: phase %d", internalerrors.ErrMalformedEvent, c.Phase)
	}
}

// Sample returns the utilization since the previous sample. Nothing is
// returned before the first request.
func (a *ConcurrencyAdapter) Sample(now time.Time) []models.Measurement {
	pct, ok := a.tracker.pct(now)
	if !ok {
		return nil
	}
	return []models.Measurement{{
		Name:       models.Utilization,
		Value:      float64(pct),
		RecordedAt: now,
	}}
}

// InFlight returns the number of requests currently being handled.
func (a *ConcurrencyAdapter) InFlight() int64 {
	return a.tracker.inFlight()
}

func inFlight(active int64, now time.Time) models.Measurement {
	return models.Measurement{
		Name:       models.InFlightRequests,
		Value:      float64(active),
		RecordedAt: now,
	}
}
