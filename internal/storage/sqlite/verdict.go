package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/taskflow/internal/model"
)

// CreateVerdict stores a verdict, one per task phase attempt.
func (r *Repository) CreateVerdict(ctx context.Context, taskID string, v model.Verdict) error {
	query := `
		INSERT INTO verdicts (task_id, phase, attempt, outcome, detail, report_ref, reporter, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		taskID, v.Phase, v.Attempt, v.Outcome, v.Detail, v.ReportRef, v.Reporter, v.RecordedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: verdicts.") {
			return fmt.Errorf("verdict for task %s %s attempt %d: %w", taskID, v.Phase, v.Attempt, model.ErrAlreadyExists)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
		}
		return fmt.Errorf("could not insert verdict: %w", err)
	}

	r.logger.Debugf("Created verdict in repository: %s %s#%d", taskID, v.Phase, v.Attempt)
	return nil
}

// ListVerdicts returns the verdicts of a task in recording order.
func (r *Repository) ListVerdicts(ctx context.Context, taskID string) ([]model.Verdict, error) {
	query := `
		SELECT phase, attempt, outcome, detail, report_ref, reporter, recorded_at
		FROM verdicts
		WHERE task_id = ?
		ORDER BY recorded_at ASC, rowid ASC
	`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not query verdicts: %w", err)
	}
	defer rows.Close()

	var verdicts []model.Verdict
	for rows.Next() {
		var (
			v          model.Verdict
			recordedAt int64
		)
		if err := rows.Scan(&v.Phase, &v.Attempt, &v.Outcome, &v.Detail, &v.ReportRef, &v.Reporter, &recordedAt); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		v.RecordedAt = timeFromUnixNano(recordedAt)
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return verdicts, nil
}
