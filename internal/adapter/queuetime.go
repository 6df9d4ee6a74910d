package adapter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Schera-ole/scaleagent/internal/clock"
	"github.com/Schera-ole/scaleagent/internal/config"
	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
)

// Magnitude cutoffs used to guess the unit of an X-Request-Start value: any
// timestamp after 2000-01-01 expressed in a finer unit is larger than the
// same instant expressed in the next coarser one.
var (
	millisecondsCutoff = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	microsecondsCutoff = millisecondsCutoff * 1000
	nanosecondsCutoff  = microsecondsCutoff * 1000
)

// QueueTimeMillis returns the milliseconds between the upstream timestamp in
// header and now. The header may carry a "t=" prefix and be expressed in
// seconds (optionally fractional), milliseconds, microseconds or
// nanoseconds. Negative results are clamped to zero. ok is false when the
// header holds no usable number.
func QueueTimeMillis(header string, now time.Time) (ms int64, ok bool) {
	clean := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, header)
	if clean == "" {
		return 0, false
	}

	var startMs int64
	if !strings.Contains(clean, ".") {
		// integers stay integers: nanosecond values exceed float64 precision
		value, err := strconv.ParseInt(clean, 10, 64)
		if err != nil {
			return 0, false
		}
		switch {
		case value > nanosecondsCutoff:
			startMs = value / 1_000_000
		case value > microsecondsCutoff:
			startMs = value / 1_000
		case value > millisecondsCutoff:
			startMs = value
		default:
			startMs = value * 1000
		}
	} else {
		value, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return 0, false
		}
		switch {
		case value > float64(nanosecondsCutoff):
			startMs = int64(value / 1_000_000)
		case value > float64(microsecondsCutoff):
			startMs = int64(value / 1_000)
		case value > float64(millisecondsCutoff):
			startMs = int64(value)
		default:
			startMs = int64(value * 1000)
		}
	}

	return max(0, now.UnixMilli()-startMs), true
}

// RequestQueueTimeAdapter records request_queue_time_ms from RequestEvents.
type RequestQueueTimeAdapter struct {
	clock               clock.Clock
	ignoreLargeRequests bool
	maxRequestSizeBytes int64
}

// NewRequestQueueTimeAdapter creates the adapter. When ignoreLarge is set,
// requests whose body exceeds maxSize bytes are skipped: their upload time
// would be counted as queue time.
func NewRequestQueueTimeAdapter(clk clock.Clock, ignoreLarge bool, maxSize int64) *RequestQueueTimeAdapter {
	if clk == nil {
		clk = clock.Real()
	}
	return &RequestQueueTimeAdapter{
		clock:               clk,
		ignoreLargeRequests: ignoreLarge,
		maxRequestSizeBytes: maxSize,
	}
}

func (a *RequestQueueTimeAdapter) Name() string { return config.AdapterQueueTime }

func (a *RequestQueueTimeAdapter) Collect(ev Event) ([]models.Measurement, error) {
	req, ok := ev.(RequestEvent)
	if !ok {
		return nil, nil
	}
	if req.RequestStart == "" {
		return nil, nil
	}
	if a.ignoreLargeRequests && req.ContentLength > a.maxRequestSizeBytes {
		return nil, nil
	}

	startedAt := req.StartedAt
	if startedAt.IsZero() {
		startedAt = a.clock.Now()
	}
	ms, ok := QueueTimeMillis(req.RequestStart, startedAt)
	if !ok {
		return nil, fmt.Errorf("%w: X-Request-Start %q", internalerrors.ErrMalformedEvent, req.RequestStart)
	}

	return []models.Measurement{{
		Name:       models.RequestQueueTime,
		Value:      float64(ms),
		RecordedAt: startedAt,
	}}, nil
}
