package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/tasksync/domain"
)

const taskColumns = `id, text, category, status, priority, sort_order, tags,
	created_at, updated_at, completed_at, deleted_at, synced_at`

// upsertTask keeps the later write: an incoming record older than the stored
// one is ignored, equal timestamps accept the incoming record.
const upsertTask = `
	INSERT INTO tasks (user_id, id, text, category, status, priority, sort_order, tags,
		created_at, updated_at, completed_at, deleted_at, synced_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
	ON CONFLICT (user_id, id) DO UPDATE
	SET text = EXCLUDED.text,
		category = EXCLUDED.category,
		status = EXCLUDED.status,
		priority = EXCLUDED.priority,
		sort_order = EXCLUDED.sort_order,
		tags = EXCLUDED.tags,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at,
		completed_at = EXCLUDED.completed_at,
		deleted_at = EXCLUDED.deleted_at,
		synced_at = NOW()
	WHERE tasks.updated_at <= EXCLUDED.updated_at
	`

// TaskRepository is the Postgres-backed data path of the remote task store.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository returns a Postgres-backed per-user task table.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

func (r *TaskRepository) FetchAll(ctx context.Context, userID string) ([]domain.Task, error) {
	if userID == "" {
		return nil, domain.ErrNotSignedIn
	}
	const query = `SELECT ` + taskColumns + `
	FROM tasks
	WHERE user_id = $1
	ORDER BY sort_order ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) Get(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	const query = `SELECT ` + taskColumns + `
	FROM tasks
	WHERE user_id = $1 AND id = $2
	`
	return scanTask(r.pool.QueryRow(ctx, query, userID, taskID))
}

func (r *TaskRepository) Upsert(ctx context.Context, userID string, task domain.Task) error {
	if userID == "" {
		return domain.ErrNotSignedIn
	}
	if task.ID == "" {
		return domain.ErrInvalidPayload
	}
	_, err := r.pool.Exec(ctx, upsertTask, upsertArgs(userID, task)...)
	return err
}

// UpsertMany writes every record in one transaction using a single batch round trip.
func (r *TaskRepository) UpsertMany(ctx context.Context, userID string, tasks []domain.Task) error {
	if userID == "" {
		return domain.ErrNotSignedIn
	}
	if len(tasks) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, task := range tasks {
		if task.ID == "" {
			return domain.ErrInvalidPayload
		}
		batch.Queue(upsertTask, upsertArgs(userID, task)...)
	}

	results := tx.SendBatch(ctx, batch)
	for range tasks {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	if err := results.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Delete removes one record. Deleting a record that was never pushed succeeds.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID string) error {
	if userID == "" {
		return domain.ErrNotSignedIn
	}
	const query = `DELETE FROM tasks WHERE user_id = $1 AND id = $2`
	_, err := r.pool.Exec(ctx, query, userID, taskID)
	return err
}

// Ping checks the pool is reachable.
func (r *TaskRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return domain.ErrSyncDisabled
	}
	return r.pool.Ping(ctx)
}

func upsertArgs(userID string, task domain.Task) []interface{} {
	task.Normalize()
	return []interface{}{
		userID,
		task.ID,
		task.Text,
		string(task.Category),
		string(task.Status),
		string(task.Priority),
		task.Order,
		task.Tags,
		task.CreatedAt,
		task.UpdatedAt,
		nullTime(task.CompletedAt),
		nullTime(task.DeletedAt),
	}
}

func scanTask(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Task, error) {
	var task domain.Task
	var (
		category, status, priority string
		completed, deleted, synced *time.Time
	)

	if err := row.Scan(
		&task.ID,
		&task.Text,
		&category,
		&status,
		&priority,
		&task.Order,
		&task.Tags,
		&task.CreatedAt,
		&task.UpdatedAt,
		&completed,
		&deleted,
		&synced,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, err
	}

	task.Category = domain.Category(category)
	task.Status = domain.Status(status)
	task.Priority = domain.Priority(priority)
	task.CompletedAt = completed
	task.DeletedAt = deleted
	task.SyncedAt = synced
	task.Normalize()

	return &task, nil
}
