package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/slok/taskflow/internal/model"
)

// CreateDispatch stores a new work order ledger record.
func (r *Repository) CreateDispatch(ctx context.Context, rec model.DispatchRecord) error {
	result, err := marshalResult(rec.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO dispatches (work_order_id, task_id, phase, agent_kind, status, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.WorkOrderID, rec.TaskID, rec.Phase, rec.AgentKind, rec.Status, result, rec.Error,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: dispatches.") {
			return fmt.Errorf("dispatch %s: %w", rec.WorkOrderID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert dispatch: %w", err)
	}

	r.logger.Debugf("Created dispatch in repository: %s", rec.WorkOrderID)
	return nil
}

// GetDispatch retrieves a ledger record by work order ID.
func (r *Repository) GetDispatch(ctx context.Context, workOrderID string) (*model.DispatchRecord, error) {
	query := `
		SELECT work_order_id, task_id, phase, agent_kind, status, result, error, created_at, updated_at
		FROM dispatches
		WHERE work_order_id = ?
	`
	rec, err := scanDispatch(r.db.QueryRowContext(ctx, query, workOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("dispatch %s: %w", workOrderID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query dispatch: %w", err)
	}

	return &rec, nil
}

// UpdateDispatch updates the status of a ledger record.
func (r *Repository) UpdateDispatch(ctx context.Context, rec model.DispatchRecord) error {
	result, err := marshalResult(rec.Result)
	if err != nil {
		return err
	}

	query := `UPDATE dispatches SET status = ?, result = ?, error = ?, updated_at = ? WHERE work_order_id = ?`
	res, err := r.db.ExecContext(ctx, query, rec.Status, result, rec.Error, rec.UpdatedAt.UnixNano(), rec.WorkOrderID)
	if err != nil {
		return fmt.Errorf("could not update dispatch: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("dispatch %s: %w", rec.WorkOrderID, model.ErrNotFound)
	}

	r.logger.Debugf("Updated dispatch: %s (status: %s)", rec.WorkOrderID, rec.Status)
	return nil
}

// ListDispatches returns the ledger records of a task ordered by creation.
func (r *Repository) ListDispatches(ctx context.Context, taskID string) ([]model.DispatchRecord, error) {
	query := `
		SELECT work_order_id, task_id, phase, agent_kind, status, result, error, created_at, updated_at
		FROM dispatches
		WHERE task_id = ?
		ORDER BY created_at ASC, work_order_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not query dispatches: %w", err)
	}
	defer rows.Close()

	var recs []model.DispatchRecord
	for rows.Next() {
		rec, err := scanDispatch(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return recs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDispatch(s scanner) (model.DispatchRecord, error) {
	var (
		rec                  model.DispatchRecord
		result               string
		createdAt, updatedAt int64
	)
	err := s.Scan(&rec.WorkOrderID, &rec.TaskID, &rec.Phase, &rec.AgentKind, &rec.Status, &result, &rec.Error, &createdAt, &updatedAt)
	if err != nil {
		return model.DispatchRecord{}, err
	}

	if result != "" {
		rec.Result = &model.AgentResult{}
		if err := json.Unmarshal([]byte(result), rec.Result); err != nil {
			return model.DispatchRecord{}, fmt.Errorf("could not unmarshal result: %w", err)
		}
	}
	rec.CreatedAt = timeFromUnixNano(createdAt)
	rec.UpdatedAt = timeFromUnixNano(updatedAt)

	return rec, nil
}

func marshalResult(res *model.AgentResult) (string, error) {
	if res == nil {
		return "", nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("could not marshal result: %w", err)
	}
	return string(b), nil
}
