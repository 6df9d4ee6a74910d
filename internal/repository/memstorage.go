package repository

import (
	"context"
	"sync"

	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
)

// MemStorage keeps the most recent reports in memory.
type MemStorage struct {
	// mu provides thread-safe access to the ring and the index
	mu sync.RWMutex

	// ring holds up to retention reports; next is the slot written next
	ring []models.StoredReport
	next int
	size int

	// index maps report id -> slot in ring
	index map[string]int
}

// NewMemStorage creates a store that keeps the last retention reports.
// Older reports are evicted as new ones arrive.
func NewMemStorage(retention int) *MemStorage {
	if retention <= 0 {
		retention = 1
	}
	return &MemStorage{
		ring:  make([]models.StoredReport, retention),
		index: make(map[string]int, retention),
	}
}

// SaveReport stores r, evicting the oldest report when full.
func (ms *MemStorage) SaveReport(ctx context.Context, r models.StoredReport) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.index[r.ReportID]; exists {
		return false, nil
	}
	if ms.size == len(ms.ring) {
		delete(ms.index, ms.ring[ms.next].ReportID)
	} else {
		ms.size++
	}
	ms.ring[ms.next] = r
	ms.index[r.ReportID] = ms.next
	ms.next = (ms.next + 1) % len(ms.ring)
	return true, nil
}

// ListReports returns up to limit reports, newest first. A non-positive
// limit returns everything retained.
func (ms *MemStorage) ListReports(ctx context.Context, limit int) ([]models.StoredReport, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if limit <= 0 || limit > ms.size {
		limit = ms.size
	}
	result := make([]models.StoredReport, 0, limit)
	for i := 1; i <= limit; i++ {
		slot := (ms.next - i + len(ms.ring)) % len(ms.ring)
		result = append(result, ms.ring[slot])
	}
	return result, nil
}

// GetReport returns one retained report.
func (ms *MemStorage) GetReport(ctx context.Context, reportID string) (models.StoredReport, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	slot, exists := ms.index[reportID]
	if !exists {
		return models.StoredReport{}, internalerrors.ErrReportNotFound
	}
	return ms.ring[slot], nil
}

// Close releases any resources held by the memory storage.
func (ms *MemStorage) Close() error {
	return nil
}

// Ping always succeeds: there is nothing external to check.
func (ms *MemStorage) Ping(ctx context.Context) error {
	return nil
}
