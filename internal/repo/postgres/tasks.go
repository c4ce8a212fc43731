package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/geocoder89/taskhub/internal/domain/task"
	"github.com/geocoder89/taskhub/internal/observability"
	"github.com/jackc/pgx/v5"
)

const taskColumns = `id, user_id, title, description, priority, status, due_date, created_at, updated_at`

type TasksRepo struct {
	pool DB
	prom *observability.Prom
}

// constructor function

func NewTasksRepo(pool DB, prom *observability.Prom) *TasksRepo {
	return &TasksRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *TasksRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanTask(row pgx.Row) (task.Task, error) {
	var t task.Task

	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.Description,
		&t.Priority,
		&t.Status,
		&t.DueDate,
		&t.CreatedAt,
		&t.UpdatedAt,
	)

	return t, err
}

func (r *TasksRepo) Create(ctx context.Context, userID int64, req task.CreateTaskRequest) (task.Task, error) {
	priority := req.Priority

	if priority == "" {
		priority = task.PriorityMedium
	}

	var t task.Task

	err := r.observe("tasks.create", func() error {
		var scanErr error
		t, scanErr = scanTask(r.pool.QueryRow(ctx,
			`INSERT INTO tasks (user_id, title, description, priority, due_date)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+taskColumns,
			userID, req.Title, req.Description, priority, req.DueDate,
		))
		return scanErr
	})

	if err != nil {
		return task.Task{}, err
	}

	return t, nil
}

func (r *TasksRepo) List(ctx context.Context, userID int64, filter task.ListTasksFilter) ([]task.Task, error) {
	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`

	conds := []string{"user_id = $1"}
	args := []interface{}{userID}

	argsPosition := 2

	// filtered conditional checks.
	if filter.Status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPosition))
		args = append(args, *filter.Status)
		argsPosition++
	}

	if filter.Priority != nil {
		conds = append(conds, fmt.Sprintf("priority = $%d", argsPosition))
		args = append(args, *filter.Priority)
		argsPosition++
	}

	query := baseQuery + " WHERE " + strings.Join(conds, " AND ")

	// newest first, id as a tiebreak for rows created in the same instant
	query += " ORDER BY created_at DESC, id DESC"

	var output []task.Task

	err := r.observe("tasks.list", func() error {
		rows, err := r.pool.Query(ctx, query, args...)

		if err != nil {
			return err
		}

		defer rows.Close()

		output = make([]task.Task, 0)

		for rows.Next() {
			t, err := scanTask(rows)

			if err != nil {
				return err
			}

			output = append(output, t)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return output, nil
}

// GetByID is scoped to the owner: a task that exists but belongs to someone
// else looks exactly like a task that does not exist.
func (r *TasksRepo) GetByID(ctx context.Context, id, userID int64) (task.Task, error) {
	var t task.Task

	err := r.observe("tasks.get_by_id", func() error {
		var scanErr error
		t, scanErr = scanTask(r.pool.QueryRow(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`,
			id, userID,
		))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrNotFound
		}

		return task.Task{}, err
	}

	return t, nil
}

func (r *TasksRepo) Update(ctx context.Context, id, userID int64, req task.UpdateTaskRequest) (task.Task, error) {
	sets := []string{}
	args := []interface{}{id, userID}

	argsPosition := 3

	if req.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", argsPosition))
		args = append(args, *req.Title)
		argsPosition++
	}

	if req.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", argsPosition))
		args = append(args, *req.Description)
		argsPosition++
	}

	if req.Priority != nil {
		sets = append(sets, fmt.Sprintf("priority = $%d", argsPosition))
		args = append(args, *req.Priority)
		argsPosition++
	}

	if req.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argsPosition))
		args = append(args, *req.Status)
		argsPosition++
	}

	if req.DueDate != nil {
		sets = append(sets, fmt.Sprintf("due_date = $%d", argsPosition))
		args = append(args, *req.DueDate)
		argsPosition++
	}

	// updated_at always advances, even for an empty payload
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 AND user_id = $2 RETURNING ` + taskColumns

	var t task.Task

	err := r.observe("tasks.update", func() error {
		var scanErr error
		t, scanErr = scanTask(r.pool.QueryRow(ctx, query, args...))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrNotFound
		}

		return task.Task{}, err
	}

	return t, nil
}

func (r *TasksRepo) Delete(ctx context.Context, id, userID int64) error {
	return r.observe("tasks.delete", func() error {
		tag, err := r.pool.Exec(ctx,
			`DELETE FROM tasks WHERE id = $1 AND user_id = $2`,
			id, userID,
		)

		if err != nil {
			return err
		}

		// if no rows were deleted as a result return a not found error
		if tag.RowsAffected() == 0 {
			return task.ErrNotFound
		}

		return nil
	})
}

func (r *TasksRepo) Summary(ctx context.Context, userID int64) (task.Summary, error) {
	var s task.Summary

	err := r.observe("tasks.summary", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT
				COUNT(*) AS total_tasks,
				COUNT(*) FILTER (WHERE status = 'completed') AS completed,
				COUNT(*) FILTER (WHERE status = 'in_progress') AS in_progress,
				COUNT(*) FILTER (WHERE status = 'pending') AS pending,
				COUNT(*) FILTER (WHERE priority = 'high') AS high_priority,
				COUNT(*) FILTER (WHERE due_date < NOW() AND status != 'completed') AS overdue
			FROM tasks
			WHERE user_id = $1`,
			userID,
		).Scan(
			&s.TotalTasks,
			&s.Completed,
			&s.InProgress,
			&s.Pending,
			&s.HighPriority,
			&s.Overdue,
		)
	})

	if err != nil {
		return task.Summary{}, err
	}

	return s, nil
}
