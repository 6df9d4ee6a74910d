package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
)

// retryDelays are the waits between attempts of a statement that failed
// with a retryable error.
var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// DBStorage keeps reports in PostgreSQL.
type DBStorage struct {
	db *sql.DB
}

// NewDBStorage opens a pgx-backed connection pool. The schema is created by
// the migration package.
func NewDBStorage(dsn string) (*DBStorage, error) {
	dbConnect, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DBStorage{db: dbConnect}, nil
}

func (storage *DBStorage) Close() error {
	return storage.db.Close()
}

// SaveReport inserts r unless a report with the same id exists.
func (storage *DBStorage) SaveReport(ctx context.Context, r models.StoredReport) (bool, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return false, fmt.Errorf("error encoding report: %w", err)
	}

	query := `INSERT INTO reports (report_id, agent_id, received_at, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (report_id) DO NOTHING`

	var affected int64
	err = withRetry(ctx, func() error {
		result, err := storage.db.ExecContext(ctx, query, r.ReportID, r.AgentID, r.ReceivedAt, payload)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("error saving report: %w", err)
	}
	return affected > 0, nil
}

// ListReports returns the newest reports first.
func (storage *DBStorage) ListReports(ctx context.Context, limit int) ([]models.StoredReport, error) {
	query := "SELECT report_id, agent_id, received_at, payload FROM reports ORDER BY received_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := storage.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error retrieving reports: %w", err)
	}
	defer rows.Close()

	var reports []models.StoredReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over reports: %w", err)
	}
	return reports, nil
}

func (storage *DBStorage) GetReport(ctx context.Context, reportID string) (models.StoredReport, error) {
	query := "SELECT report_id, agent_id, received_at, payload FROM reports WHERE report_id = $1"
	r, err := scanReport(storage.db.QueryRowContext(ctx, query, reportID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredReport{}, internalerrors.ErrReportNotFound
	}
	return r, err
}

func (storage *DBStorage) Ping(ctx context.Context) error {
	err := storage.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: database ping failed: %v", internalerrors.ErrStorageUnavailable, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (models.StoredReport, error) {
	var r models.StoredReport
	var payload []byte
	if err := row.Scan(&r.ReportID, &r.AgentID, &r.ReceivedAt, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("error scanning report: %w", err)
	}
	if err := json.Unmarshal(payload, &r.Payload); err != nil {
		return r, fmt.Errorf("error decoding stored report: %w", err)
	}
	return r, nil
}

// withRetry runs fn, retrying after each of retryDelays while the error is
// retryable.
func withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	for _, delay := range retryDelays {
		if err == nil || !isRetryableError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		err = fn()
	}
	return err
}

// isRetryableError reports whether err looks like a transient connection
// problem rather than a bad statement.
func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "connection reset by peer")
}
