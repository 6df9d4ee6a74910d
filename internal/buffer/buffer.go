// Package buffer implements the time-windowed aggregate store that request
// goroutines write into and the reporter drains.
package buffer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Schera-ole/scaleagent/internal/clock"
	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
	"github.com/Schera-ole/scaleagent/internal/stats"
)

// MetricBuffer aggregates measurements per identity (metric name plus
// dimensions) between drains.
//
// Record and DrainAll are linearizable with respect to each other: both run
// under the same mutex, and DrainAll swaps the whole map, so a measurement is
// part of exactly one drained snapshot.
type MetricBuffer struct {
	// mu guards aggregates and flushedAt
	mu sync.Mutex

	// aggregates maps identity key -> running summary
	aggregates map[string]*models.Aggregate

	// flushedAt is the time of the last drain (or construction)
	flushedAt time.Time

	maxIdentities int
	maxAge        time.Duration
	clock         clock.Clock
	stats         *stats.Stats
}

// NewMetricBuffer creates an empty buffer that tracks at most maxIdentities
// distinct identities per window and refuses new records once maxAge has
// passed without a drain. A maxAge of zero disables the age check.
func NewMetricBuffer(maxIdentities int, maxAge time.Duration, clk clock.Clock, st *stats.Stats) *MetricBuffer {
	if clk == nil {
		clk = clock.Real()
	}
	if st == nil {
		st = stats.New()
	}
	return &MetricBuffer{
		aggregates:    make(map[string]*models.Aggregate),
		flushedAt:     clk.Now(),
		maxIdentities: maxIdentities,
		maxAge:        maxAge,
		clock:         clk,
		stats:         st,
	}
}

// Record folds m into the aggregate for its identity.
//
// It never blocks on I/O. A rejected measurement (unknown name, invalid
// value, identity cap reached, buffer stale) leaves existing aggregates
// untouched, is counted in stats and returned as an error for the caller to
// discard.
func (b *MetricBuffer) Record(m models.Measurement) error {
	if !m.Name.Known() {
		return b.reject(fmt.Errorf("%w: %q", internalerrors.ErrUnknownMetric, m.Name))
	}
	if !m.Valid() {
		return b.reject(fmt.Errorf("%w: %s=%v", internalerrors.ErrInvalidMetricValue, m.Name, m.Value))
	}
	key := m.Key()
	now := b.clock.Now()
	if m.RecordedAt.IsZero() {
		m.RecordedAt = now
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxAge > 0 && now.Sub(b.flushedAt) > b.maxAge {
		return b.reject(internalerrors.ErrBufferStale)
	}

	agg, exists := b.aggregates[key]
	if !exists {
		if b.maxIdentities > 0 && len(b.aggregates) >= b.maxIdentities {
			return b.reject(internalerrors.ErrBufferFull)
		}
		agg = &models.Aggregate{
			Name:       m.Name,
			Dimensions: copyDimensions(m.Dimensions),
		}
		b.aggregates[key] = agg
	}
	agg.Observe(m)
	b.stats.Recorded.Inc()
	return nil
}

// DrainAll atomically replaces the aggregate map with an empty one and
// returns the previous contents ordered by identity key.
func (b *MetricBuffer) DrainAll() []models.Aggregate {
	now := b.clock.Now()

	b.mu.Lock()
	drained := b.aggregates
	b.aggregates = make(map[string]*models.Aggregate, len(drained))
	b.flushedAt = now
	b.mu.Unlock()

	keys := make([]string, 0, len(drained))
	for key := range drained {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]models.Aggregate, 0, len(keys))
	for _, key := range keys {
		result = append(result, *drained[key])
	}
	return result
}

// Len returns the number of identities currently tracked.
func (b *MetricBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.aggregates)
}

// FlushedAt returns the time of the last drain.
func (b *MetricBuffer) FlushedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushedAt
}

func (b *MetricBuffer) reject(err error) error {
	b.stats.CollectionError(err)
	return err
}

func copyDimensions(dims map[string]string) map[string]string {
	if len(dims) == 0 {
		return nil
	}
	out := make(map[string]string, len(dims))
	for k, v := range dims {
		out[k] = v
	}
	return out
}
