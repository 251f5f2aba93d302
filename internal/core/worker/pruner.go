package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/biomes-client/internal/infra/storage"
	"github.com/vietddude/biomes-client/internal/metrics"
)

// Pruner deletes old load reports based on retention policy.
type Pruner struct {
	retention time.Duration
	reports   storage.LoadReportRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, reports storage.LoadReportRepository, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		retention: retention,
		reports:   reports,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the pruner loop until ctx ends.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check at 10% of the retention period, between 1 minute and 1 hour.
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)
	n, err := p.reports.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("Failed to prune load reports", "error", err)
		return 0
	}
	if n > 0 {
		metrics.ReportsPruned.Add(float64(n))
		p.logger.Info("Pruned load reports", "count", n, "cutoff", cutoff)
	}
	return n
}
