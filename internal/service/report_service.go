// Package service provides the business logic layer of the report sink.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
	"github.com/Schera-ole/scaleagent/internal/repository"
)

// ReportService validates incoming reports, stores them and exposes what it
// saw as prometheus metrics.
type ReportService struct {
	// repository is the underlying data storage implementation
	repository repository.Repository

	now func() time.Time

	received   *prometheus.CounterVec
	duplicates prometheus.Counter
	lastValue  *prometheus.GaugeVec
}

// NewReportService creates a service over repo and registers its collectors
// with reg when reg is not nil.
func NewReportService(repo repository.Repository, reg prometheus.Registerer) (*ReportService, error) {
	s := &ReportService{
		repository: repo,
		now:        time.Now,
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scaleagent_sink",
			Name:      "reports_received_total",
			Help:      "Reports accepted, by agent.",
		}, []string{"agent"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scaleagent_sink",
			Name:      "reports_duplicate_total",
			Help:      "Reports ignored because their id was already stored.",
		}),
		lastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scaleagent_sink",
			Name:      "metric_max",
			Help:      "Maximum of each metric in the latest report of each agent.",
		}, []string{"agent", "metric", "queue"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{s.received, s.duplicates, s.lastValue} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Ingest validates p and stores it. Re-sent reports (same report id) are
// accepted without being stored twice; created is false for them.
func (s *ReportService) Ingest(ctx context.Context, p models.ReportPayload) (stored models.StoredReport, created bool, err error) {
	if err := validate(p); err != nil {
		return models.StoredReport{}, false, err
	}

	stored = models.StoredReport{
		ReportID:   p.ReportID,
		AgentID:    p.Agent.ID,
		ReceivedAt: s.now().UTC(),
		Payload:    p,
	}
	created, err = s.repository.SaveReport(ctx, stored)
	if err != nil {
		return models.StoredReport{}, false, err
	}
	if !created {
		s.duplicates.Inc()
		return stored, false, nil
	}

	s.received.WithLabelValues(p.Agent.ID).Inc()
	for _, m := range p.Metrics {
		s.lastValue.WithLabelValues(p.Agent.ID, m.Name, m.Dimensions[models.DimensionQueue]).Set(m.Max)
	}
	return stored, true, nil
}

// ListReports returns up to limit reports, newest first.
func (s *ReportService) ListReports(ctx context.Context, limit int) ([]models.StoredReport, error) {
	return s.repository.ListReports(ctx, limit)
}

// GetReport returns one report by id.
func (s *ReportService) GetReport(ctx context.Context, reportID string) (models.StoredReport, error) {
	return s.repository.GetReport(ctx, reportID)
}

// Ping checks the repository connection.
func (s *ReportService) Ping(ctx context.Context) error {
	return s.repository.Ping(ctx)
}

func validate(p models.ReportPayload) error {
	if p.ReportID == "" {
		return fmt.Errorf("%w: missing report_id", internalerrors.ErrInvalidReport)
	}
	if p.Agent.ID == "" {
		return fmt.Errorf("%w: missing agent id", internalerrors.ErrInvalidReport)
	}
	for _, m := range p.Metrics {
		if !models.MetricName(m.Name).Known() {
			return fmt.Errorf("%w: unknown metric %q", internalerrors.ErrInvalidReport, m.Name)
		}
		if m.Count < 0 || m.Min > m.Max {
			return fmt.Errorf("%w: inconsistent summary for %q", internalerrors.ErrInvalidReport, m.Name)
		}
	}
	return nil
}
