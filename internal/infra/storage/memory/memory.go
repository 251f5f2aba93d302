package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/infra/storage"
)

type MemoryStorage struct {
	reports map[string]*domain.LoadReport
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		reports: make(map[string]*domain.LoadReport),
	}
}

// -----------------------------------------------------------------------------
// Load Report Repository
// -----------------------------------------------------------------------------

type ReportRepo struct {
	store *MemoryStorage
}

func NewReportRepo(store *MemoryStorage) *ReportRepo {
	return &ReportRepo{store: store}
}

var _ storage.LoadReportRepository = (*ReportRepo)(nil)

func (r *ReportRepo) Save(ctx context.Context, report *domain.LoadReport) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.reports[report.ID] = clone(report)
	return nil
}

func (r *ReportRepo) Get(ctx context.Context, id string) (*domain.LoadReport, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rep, ok := r.store.reports[id]
	if !ok {
		return nil, storage.ErrReportNotFound
	}
	return clone(rep), nil
}

func (r *ReportRepo) Recent(ctx context.Context, limit int) ([]*domain.LoadReport, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*domain.LoadReport, 0, len(r.store.reports))
	for _, rep := range r.store.reports {
		out = append(out, clone(rep))
	}
	slices.SortFunc(out, func(a, b *domain.LoadReport) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ReportRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for id, rep := range r.store.reports {
		if rep.StartedAt.Before(cutoff) {
			delete(r.store.reports, id)
			n++
		}
	}
	return n, nil
}

func clone(rep *domain.LoadReport) *domain.LoadReport {
	c := *rep
	c.Stages = slices.Clone(rep.Stages)
	return &c
}
