package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
	"github.com/slok/taskflow/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

var _ storage.Repository = &Repository{}

// NewRepository creates a new SQLite repository, migrating the schema if required.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// SQLite has a single writer, serialize on one connection to avoid busy errors on upgrades.
	db.SetMaxOpenConns(1)

	migrator, err := migrations.NewMigrator(migrations.MigratorConfig{DB: db, Logger: cfg.Logger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// Ping checks the database is reachable.
func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	workUnits, err := json.Marshal(nonNilUnits(t.WorkUnits))
	if err != nil {
		return fmt.Errorf("could not marshal work units: %w", err)
	}

	testing, review := modeColumns(t.Mode)
	updatedAt := t.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = t.CreatedAt
	}

	query := `
		INSERT INTO tasks (
			id, project_id, title, kind, phase, blocked_from,
			mode_testing, mode_review, work_units, version,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		t.ID, t.ProjectID, t.Title, t.Kind, t.Phase, t.BlockedFrom,
		testing, review, string(workUnits),
		t.CreatedAt.UnixNano(), updatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: tasks.") {
			return fmt.Errorf("task with id %s: %w", t.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert task: %w", err)
	}

	if err := insertHistory(ctx, tx, t.ID, 0, t.History); err != nil {
		return err
	}
	if err := insertArtifacts(ctx, tx, t.ID, nil, t.Artifacts); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Created task in repository: %s", t.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := getTask(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns the tasks matching the options, oldest first.
func (r *Repository) ListTasks(ctx context.Context, opts storage.ListTasksOpts) ([]model.Task, error) {
	query := `SELECT id FROM tasks WHERE 1 = 1`
	var args []any
	if opts.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, opts.ProjectID)
	}
	if len(opts.Phases) > 0 {
		query += ` AND phase IN (?` + strings.Repeat(`, ?`, len(opts.Phases)-1) + `)`
		for _, p := range opts.Phases {
			args = append(args, p)
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query tasks: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	tasks := make([]model.Task, 0, len(ids))
	for _, id := range ids {
		t, err := getTask(ctx, r.db, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}

	return tasks, nil
}

// UpdateTask updates an existing task, only new history entries and artifacts are inserted.
func (r *Repository) UpdateTask(ctx context.Context, t model.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored, err := getTask(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	if stored.Version != t.Version {
		return fmt.Errorf("task %s version %d, stored %d: %w", t.ID, t.Version, stored.Version, model.ErrConflict)
	}
	if err := storage.CheckAppendOnly(*stored, t); err != nil {
		return err
	}

	workUnits, err := json.Marshal(nonNilUnits(t.WorkUnits))
	if err != nil {
		return fmt.Errorf("could not marshal work units: %w", err)
	}
	testing, review := modeColumns(t.Mode)

	query := `
		UPDATE tasks
		SET
			title = ?,
			phase = ?,
			blocked_from = ?,
			mode_testing = ?,
			mode_review = ?,
			work_units = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := tx.ExecContext(ctx, query,
		t.Title, t.Phase, t.BlockedFrom, testing, review, string(workUnits),
		time.Now().UTC().UnixNano(), t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrConflict)
	}

	if err := insertHistory(ctx, tx, t.ID, len(stored.History), t.History[len(stored.History):]); err != nil {
		return err
	}
	if err := insertArtifacts(ctx, tx, t.ID, stored.Artifacts, t.Artifacts); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Updated task in repository: %s (version %d)", t.ID, t.Version+1)
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getTask(ctx context.Context, q querier, id string) (*model.Task, error) {
	query := `
		SELECT
			id, project_id, title, kind, phase, blocked_from,
			mode_testing, mode_review, work_units, version,
			created_at, updated_at
		FROM tasks
		WHERE id = ?
	`

	var (
		t                    model.Task
		testing, review      string
		workUnits            string
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Kind, &t.Phase, &t.BlockedFrom,
		&testing, &review, &workUnits, &t.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query task: %w", err)
	}

	if testing != "" || review != "" {
		t.Mode = &model.WorkflowMode{Testing: model.ModeSetting(testing), Review: model.ModeSetting(review)}
	}
	if err := json.Unmarshal([]byte(workUnits), &t.WorkUnits); err != nil {
		return nil, fmt.Errorf("could not unmarshal work units: %w", err)
	}
	if len(t.WorkUnits) == 0 {
		t.WorkUnits = nil
	}
	t.CreatedAt = timeFromUnixNano(createdAt)
	t.UpdatedAt = timeFromUnixNano(updatedAt)

	t.History, err = getHistory(ctx, q, id)
	if err != nil {
		return nil, err
	}
	t.Artifacts, err = getArtifacts(ctx, q, id)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func getHistory(ctx context.Context, q querier, taskID string) ([]model.HistoryEntry, error) {
	query := `
		SELECT from_phase, to_phase, trigger, actor, reason, created_at
		FROM task_history
		WHERE task_id = ?
		ORDER BY sequence ASC
	`
	rows, err := q.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not query history: %w", err)
	}
	defer rows.Close()

	var history []model.HistoryEntry
	for rows.Next() {
		var (
			h  model.HistoryEntry
			ts int64
		)
		if err := rows.Scan(&h.From, &h.To, &h.Trigger, &h.Actor, &h.Reason, &ts); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		h.Timestamp = timeFromUnixNano(ts)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return history, nil
}

func getArtifacts(ctx context.Context, q querier, taskID string) (map[model.Phase][]model.Artifact, error) {
	query := `
		SELECT phase, kind, ref
		FROM task_artifacts
		WHERE task_id = ?
		ORDER BY phase ASC, sequence ASC
	`
	rows, err := q.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts map[model.Phase][]model.Artifact
	for rows.Next() {
		var (
			phase model.Phase
			a     model.Artifact
		)
		if err := rows.Scan(&phase, &a.Kind, &a.Ref); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		if artifacts == nil {
			artifacts = map[model.Phase][]model.Artifact{}
		}
		artifacts[phase] = append(artifacts[phase], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return artifacts, nil
}

func insertHistory(ctx context.Context, e execer, taskID string, offset int, entries []model.HistoryEntry) error {
	query := `
		INSERT INTO task_history (task_id, sequence, from_phase, to_phase, trigger, actor, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, h := range entries {
		_, err := e.ExecContext(ctx, query, taskID, offset+i+1, h.From, h.To, h.Trigger, h.Actor, h.Reason, h.Timestamp.UnixNano())
		if err != nil {
			return fmt.Errorf("could not insert history entry: %w", err)
		}
	}
	return nil
}

func insertArtifacts(ctx context.Context, e execer, taskID string, stored, updated map[model.Phase][]model.Artifact) error {
	query := `
		INSERT INTO task_artifacts (task_id, phase, sequence, kind, ref)
		VALUES (?, ?, ?, ?, ?)
	`
	for phase, as := range updated {
		offset := len(stored[phase])
		for i, a := range as[offset:] {
			_, err := e.ExecContext(ctx, query, taskID, phase, offset+i+1, a.Kind, a.Ref)
			if err != nil {
				return fmt.Errorf("could not insert artifact: %w", err)
			}
		}
	}
	return nil
}

func modeColumns(m *model.WorkflowMode) (testing, review string) {
	if m == nil {
		return "", ""
	}
	return string(m.Testing), string(m.Review)
}

func nonNilUnits(us []model.WorkUnit) []model.WorkUnit {
	if us == nil {
		return []model.WorkUnit{}
	}
	return us
}

func timeFromUnixNano(ns int64) time.Time { return time.Unix(0, ns).UTC() }
