// Package adapter converts raw host events into measurements.
//
// The adapter set is closed: an Event is one of RequestEvent, JobQueueEvent
// or ConcurrencyEvent, and each built-in adapter handles exactly one of them.
// Adapters never touch the buffer themselves; a Collector routes events to
// them and records what they return.
package adapter

import (
	"time"

	models "github.com/Schera-ole/scaleagent/internal/model"
)

// Version is reported for every built-in adapter in the payload's adapter map.
const Version = "1.0.0"

// Event is a raw occurrence handed to the agent by the host.
type Event interface {
	event()
}

// RequestEvent describes an HTTP request the host began handling.
type RequestEvent struct {
	// RequestStart is the raw X-Request-Start header value set by the proxy
	RequestStart string

	// StartedAt is when the application began handling the request.
	// The zero value means "now".
	StartedAt time.Time

	// ContentLength is the request body size in bytes, or -1 when unknown
	ContentLength int64
}

// JobQueueEvent reports the number of pending jobs in one queue.
type JobQueueEvent struct {
	Queue string
	Depth int64
}

// Phase marks the beginning or the end of a request.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseEnd:
		return "end"
	default:
		return "unknown"
	}
}

// ConcurrencyEvent is sent once when a request starts and once when it ends.
type ConcurrencyEvent struct {
	Phase Phase

	// Elapsed is the time spent handling the request; only read on PhaseEnd
	Elapsed time.Duration
}

func (RequestEvent) event()     {}
func (JobQueueEvent) event()    {}
func (ConcurrencyEvent) event() {}

// Adapter converts events into measurements. Collect returns nil, nil for
// events of a kind the adapter does not handle, and an error wrapping
// ErrMalformedEvent for events it handles but cannot use.
type Adapter interface {
	Name() string
	Collect(ev Event) ([]models.Measurement, error)
}

// Sampler is implemented by adapters that also emit point-in-time gauges on
// every report tick.
type Sampler interface {
	Sample(now time.Time) []models.Measurement
}
