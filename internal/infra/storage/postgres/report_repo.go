package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/infra/storage"
)

// ReportRepo implements storage.LoadReportRepository using PostgreSQL.
type ReportRepo struct {
	db *DB
}

// NewReportRepo creates a new PostgreSQL load report repository.
func NewReportRepo(db *DB) *ReportRepo {
	return &ReportRepo{db: db}
}

var _ storage.LoadReportRepository = (*ReportRepo)(nil)

type reportRow struct {
	ID         string         `db:"id"`
	UserID     int64          `db:"user_id"`
	StartedAt  time.Time      `db:"started_at"`
	DurationMs int64          `db:"duration_ms"`
	Attempts   int            `db:"attempts"`
	FinalStage string         `db:"final_stage"`
	Outcome    string         `db:"outcome"`
	Stages     pq.StringArray `db:"stages"`
	Error      string         `db:"error"`
}

func toRow(r *domain.LoadReport) reportRow {
	stages := r.Stages
	if stages == nil {
		stages = []string{}
	}
	return reportRow{
		ID:         r.ID,
		UserID:     int64(r.UserID),
		StartedAt:  r.StartedAt.UTC(),
		DurationMs: r.Duration.Milliseconds(),
		Attempts:   r.Attempts,
		FinalStage: r.FinalStage,
		Outcome:    string(r.Outcome),
		Stages:     pq.StringArray(stages),
		Error:      r.Error,
	}
}

func (row reportRow) toDomain() *domain.LoadReport {
	return &domain.LoadReport{
		ID:         row.ID,
		UserID:     domain.UserID(row.UserID),
		StartedAt:  row.StartedAt,
		Duration:   time.Duration(row.DurationMs) * time.Millisecond,
		Attempts:   row.Attempts,
		FinalStage: row.FinalStage,
		Outcome:    domain.LoadOutcome(row.Outcome),
		Stages:     []string(row.Stages),
		Error:      row.Error,
	}
}

const reportColumns = `id, user_id, started_at, duration_ms, attempts, final_stage, outcome, stages, error`

// Save inserts a report, replacing any existing row with the same id.
func (r *ReportRepo) Save(ctx context.Context, report *domain.LoadReport) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO load_reports (`+reportColumns+`)
		VALUES (:id, :user_id, :started_at, :duration_ms, :attempts, :final_stage, :outcome, :stages, :error)
		ON CONFLICT (id) DO UPDATE SET
			duration_ms = EXCLUDED.duration_ms,
			attempts    = EXCLUDED.attempts,
			final_stage = EXCLUDED.final_stage,
			outcome     = EXCLUDED.outcome,
			stages      = EXCLUDED.stages,
			error       = EXCLUDED.error`,
		toRow(report))
	if err != nil {
		return fmt.Errorf("failed to save load report: %w", err)
	}
	return nil
}

// Get retrieves a report by id.
func (r *ReportRepo) Get(ctx context.Context, id string) (*domain.LoadReport, error) {
	var row reportRow
	err := r.db.GetContext(ctx, &row, `SELECT `+reportColumns+` FROM load_reports WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get load report: %w", err)
	}
	return row.toDomain(), nil
}

// Recent lists the newest reports first.
func (r *ReportRepo) Recent(ctx context.Context, limit int) ([]*domain.LoadReport, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []reportRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+reportColumns+` FROM load_reports ORDER BY started_at DESC LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("failed to list load reports: %w", err)
	}

	reports := make([]*domain.LoadReport, 0, len(rows))
	for _, row := range rows {
		reports = append(reports, row.toDomain())
	}
	return reports, nil
}

// DeleteOlderThan removes reports started before cutoff.
func (r *ReportRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM load_reports WHERE started_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune load reports: %w", err)
	}
	return res.RowsAffected()
}
