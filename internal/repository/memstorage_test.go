package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
)

func storedReport(id string) models.StoredReport {
	return models.StoredReport{
		ReportID:   id,
		AgentID:    "web.1",
		ReceivedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:    models.ReportPayload{ReportID: id},
	}
}

func TestMemStorage_SaveAndGet(t *testing.T) {
	storage := NewMemStorage(10)
	ctx := context.Background()

	created, err := storage.SaveReport(ctx, storedReport("r-1"))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := storage.GetReport(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", got.Payload.ReportID)

	_, err = storage.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, internalerrors.ErrReportNotFound)
}

func TestMemStorage_DuplicateReportID(t *testing.T) {
	storage := NewMemStorage(10)
	ctx := context.Background()

	_, err := storage.SaveReport(ctx, storedReport("r-1"))
	require.NoError(t, err)
	created, err := storage.SaveReport(ctx, storedReport("r-1"))
	require.NoError(t, err)
	assert.False(t, created)

	reports, err := storage.ListReports(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestMemStorage_RetentionEvictsOldest(t *testing.T) {
	storage := NewMemStorage(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := storage.SaveReport(ctx, storedReport(fmt.Sprintf("r-%d", i)))
		require.NoError(t, err)
	}

	reports, err := storage.ListReports(ctx, 0)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "r-5", reports[0].ReportID)
	assert.Equal(t, "r-4", reports[1].ReportID)
	assert.Equal(t, "r-3", reports[2].ReportID)

	_, err = storage.GetReport(ctx, "r-1")
	assert.ErrorIs(t, err, internalerrors.ErrReportNotFound)

	// an evicted id can be stored again
	created, err := storage.SaveReport(ctx, storedReport("r-1"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMemStorage_ListLimit(t *testing.T) {
	storage := NewMemStorage(10)
	ctx := context.Background()

	reports, err := storage.ListReports(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, reports)

	for i := 1; i <= 4; i++ {
		_, _ = storage.SaveReport(ctx, storedReport(fmt.Sprintf("r-%d", i)))
	}
	reports, err = storage.ListReports(ctx, 2)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "r-4", reports[0].ReportID)
	assert.Equal(t, "r-3", reports[1].ReportID)
}

func TestMemStorage_Concurrent(t *testing.T) {
	storage := NewMemStorage(1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = storage.SaveReport(ctx, storedReport(fmt.Sprintf("r-%d-%d", w, i)))
				_, _ = storage.ListReports(ctx, 10)
			}
		}(w)
	}
	wg.Wait()

	reports, err := storage.ListReports(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, reports, 500)
}

func TestMemStorage_PingAndClose(t *testing.T) {
	storage := NewMemStorage(0)
	assert.NoError(t, storage.Ping(context.Background()))
	assert.NoError(t, storage.Close())
}
