package adapter

import (
	"fmt"

	"github.com/Schera-ole/scaleagent/internal/clock"
	"github.com/Schera-ole/scaleagent/internal/config"
	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
)

// DefaultQueue names events that arrive without a queue.
const DefaultQueue = "default"

// JobQueueAdapter records job_queue_depth per queue.
type JobQueueAdapter struct {
	clock clock.Clock
}

func NewJobQueueAdapter(clk clock.Clock) *JobQueueAdapter {
	if clk == nil {
		clk = clock.Real()
	}
	return &JobQueueAdapter{clock: clk}
}

func (a *JobQueueAdapter) Name() string { return config.AdapterJobQueue }

func (a *JobQueueAdapter) Collect(ev Event) ([]models.Measurement, error) {
	job, ok := ev.(JobQueueEvent)
	if !ok {
		return nil, nil
	}
	if job.Depth < 0 {
		return nil, fmt.Errorf("%w: queue %q depth %d", internalerrors.ErrMalformedEvent, job.Queue, job.Depth)
	}
	queue := job.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	return []models.Measurement{{
		Name:       models.JobQueueDepth,
		Value:      float64(job.Depth),
		RecordedAt: a.clock.Now(),
		Dimensions: map[string]string{models.DimensionQueue: queue},
	}}, nil
}
