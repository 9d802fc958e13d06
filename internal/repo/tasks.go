package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"transitionos/internal/domain"
)

const taskCols = `id,workflow_id,household_id,name,owner_role,status,priority,sla_due_at,blocked_by_task_id,created_at,updated_at,completed_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var workflowID, householdID, blockedBy sql.NullInt64
	var sla, completed sql.NullString
	err := row.Scan(&t.ID, &workflowID, &householdID, &t.Name, &t.OwnerRole, &t.Status, &t.Priority,
		&sla, &blockedBy, &t.CreatedAt, &t.UpdatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.WorkflowID = int64Ptr(workflowID)
	t.HouseholdID = int64Ptr(householdID)
	t.BlockedByTaskID = int64Ptr(blockedBy)
	t.SLADueAt = stringPtr(sla)
	t.CompletedAt = stringPtr(completed)
	return t, nil
}

type TaskFilters struct {
	WorkflowID  *int64
	HouseholdID *int64
	Status      string
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(workflow_id,household_id,name,owner_role,status,priority,sla_due_at,blocked_by_task_id,created_at,updated_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		nullableIntPtr(t.WorkflowID), nullableIntPtr(t.HouseholdID), t.Name, t.OwnerRole, t.Status, t.Priority,
		nullableStringPtr(t.SLADueAt), nullableIntPtr(t.BlockedByTaskID), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	return r.ListTasksTx(ctx, nil, f)
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.WorkflowID != nil {
		clauses = append(clauses, "workflow_id=?")
		args = append(args, *f.WorkflowID)
	}
	if f.HouseholdID != nil {
		clauses = append(clauses, "household_id=?")
		args = append(args, *f.HouseholdID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY priority DESC, id`, taskCols, strings.Join(clauses, " AND "))
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CompleteTask marks the task COMPLETED only if it is not already completed.
// It reports false when no row changed.
func (r Repo) CompleteTask(ctx context.Context, tx *sql.Tx, id int64, ts string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET status=?, completed_at=?, updated_at=? WHERE id=? AND status<>?`,
		domain.TaskCompleted, ts, ts, id, domain.TaskCompleted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) SetTaskBlocker(ctx context.Context, tx *sql.Tx, id int64, blockedBy *int64, ts string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET blocked_by_task_id=?, updated_at=? WHERE id=?`, nullableIntPtr(blockedBy), ts, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// TaskCounts holds completion counts for one household.
type TaskCounts struct {
	Total     int
	Completed int
}

// HouseholdTaskCounts groups task totals by household.
func (r Repo) HouseholdTaskCounts(ctx context.Context) (map[int64]TaskCounts, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT household_id, COUNT(*), SUM(CASE WHEN status=? THEN 1 ELSE 0 END) FROM tasks WHERE household_id IS NOT NULL GROUP BY household_id`, domain.TaskCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int64]TaskCounts{}
	for rows.Next() {
		var id int64
		var c TaskCounts
		if err := rows.Scan(&id, &c.Total, &c.Completed); err != nil {
			return nil, err
		}
		res[id] = c
	}
	return res, rows.Err()
}

// HouseholdTaskCountsTx returns counts for a single household inside tx.
func (r Repo) HouseholdTaskCountsTx(ctx context.Context, tx *sql.Tx, householdID int64) (TaskCounts, error) {
	var c TaskCounts
	var completed sql.NullInt64
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*), SUM(CASE WHEN status=? THEN 1 ELSE 0 END) FROM tasks WHERE household_id=?`,
		domain.TaskCompleted, householdID).Scan(&c.Total, &completed)
	c.Completed = int(completed.Int64)
	return c, err
}
