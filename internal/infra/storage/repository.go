package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/biomes-client/internal/core/domain"
)

var (
	// ErrReportNotFound is returned when a load report doesn't exist
	ErrReportNotFound = errors.New("load report not found")
)

// LoadReportRepository stores the outcome of each load run
type LoadReportRepository interface {
	// Save inserts or replaces a report
	Save(ctx context.Context, report *domain.LoadReport) error

	// Get retrieves a report by id
	Get(ctx context.Context, id string) (*domain.LoadReport, error)

	// Recent lists the newest reports first, at most limit of them
	Recent(ctx context.Context, limit int) ([]*domain.LoadReport, error)

	// DeleteOlderThan removes reports started before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
