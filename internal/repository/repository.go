// Package repository stores reports received by the sink.
package repository

import (
	"context"

	models "github.com/Schera-ole/scaleagent/internal/model"
)

// Repository is implemented by MemStorage and DBStorage.
type Repository interface {
	// SaveReport stores r. Saving a report id that is already stored is a
	// no-op and reports created=false.
	SaveReport(ctx context.Context, r models.StoredReport) (created bool, err error)

	// ListReports returns at most limit reports, newest first.
	ListReports(ctx context.Context, limit int) ([]models.StoredReport, error)

	// GetReport returns ErrReportNotFound for unknown ids.
	GetReport(ctx context.Context, reportID string) (models.StoredReport, error)

	Ping(ctx context.Context) error
	Close() error
}
