package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"transitionos/internal/domain"
	"transitionos/internal/events"
	"transitionos/internal/repo"
)

// CompleteTaskOptions are parameters for completing a task.
type CompleteTaskOptions struct {
	TaskID int64
	Status string
	Note   string
	Actor  domain.Actor
}

// CompleteTaskResult carries the updated task and the household outcome.
// SuggestedHouseholdStatus is set when every task of the household is now
// complete but the household was left unchanged.
type CompleteTaskResult struct {
	Task                     domain.Task
	SuggestedHouseholdStatus string
	HouseholdStatusChanged   bool
}

func (e Engine) CompleteTask(ctx context.Context, opts CompleteTaskOptions) (CompleteTaskResult, error) {
	if opts.Status != domain.TaskCompleted {
		return CompleteTaskResult{}, fmt.Errorf("%w: status must be %s, got %q", ErrInvalidRequest, domain.TaskCompleted, opts.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CompleteTaskResult{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return CompleteTaskResult{}, notFound("task", opts.TaskID, err)
	}
	if t.Status == domain.TaskCompleted {
		return CompleteTaskResult{}, fmt.Errorf("%w: task %d already completed", ErrConflict, t.ID)
	}
	if e.policies().EnforceBlockers && t.BlockedByTaskID != nil {
		blocker, err := e.Repo.GetTaskTx(ctx, tx, *t.BlockedByTaskID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return CompleteTaskResult{}, err
		}
		if err == nil && blocker.Status != domain.TaskCompleted {
			return CompleteTaskResult{}, fmt.Errorf("%w: task %d is blocked by incomplete task %d", ErrConflict, t.ID, blocker.ID)
		}
	}
	ts := e.nowString()
	changed, err := e.Repo.CompleteTask(ctx, tx, t.ID, ts)
	if err != nil {
		return CompleteTaskResult{}, fmt.Errorf("complete task: %w", err)
	}
	if !changed {
		return CompleteTaskResult{}, fmt.Errorf("%w: task %d already completed", ErrConflict, t.ID)
	}

	payload := events.EventPayload{
		"task_id":     t.ID,
		"workflow_id": t.WorkflowID,
		"old_status":  t.Status,
		"new_status":  domain.TaskCompleted,
	}
	if opts.Note != "" {
		payload["note"] = opts.Note
	}
	var res CompleteTaskResult
	if t.HouseholdID != nil {
		if err := e.evaluateHousehold(ctx, tx, *t.HouseholdID, payload, &res); err != nil {
			return CompleteTaskResult{}, err
		}
	}
	if _, err := e.writer().Append(ctx, tx, events.Entry{
		Actor:      opts.Actor,
		EventType:  "TASK_COMPLETED",
		EntityType: "task",
		EntityID:   strconv.FormatInt(t.ID, 10),
		Payload:    payload,
	}); err != nil {
		return CompleteTaskResult{}, err
	}
	updated, err := e.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		return CompleteTaskResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CompleteTaskResult{}, err
	}
	res.Task = updated
	return res, nil
}

// evaluateHousehold checks whether the household's tasks are all complete and
// either promotes it (policy on) or reports the suggestion.
func (e Engine) evaluateHousehold(ctx context.Context, tx *sql.Tx, householdID int64, payload events.EventPayload, res *CompleteTaskResult) error {
	counts, err := e.Repo.HouseholdTaskCountsTx(ctx, tx, householdID)
	if err != nil {
		return fmt.Errorf("count household tasks: %w", err)
	}
	if counts.Total == 0 || counts.Completed != counts.Total {
		return nil
	}
	h, err := e.Repo.GetHouseholdTx(ctx, tx, householdID)
	if err != nil {
		return notFound("household", householdID, err)
	}
	if h.Status == domain.HouseholdCompleted {
		return nil
	}
	if !e.policies().AutoCompleteHouseholds {
		res.SuggestedHouseholdStatus = domain.HouseholdCompleted
		payload["suggested_household_status"] = domain.HouseholdCompleted
		return nil
	}
	if err := e.Repo.UpdateHouseholdStatus(ctx, tx, householdID, domain.HouseholdCompleted); err != nil {
		return fmt.Errorf("promote household: %w", err)
	}
	res.HouseholdStatusChanged = true
	payload["household_status"] = map[string]any{
		"household_id": householdID,
		"old_status":   h.Status,
		"new_status":   domain.HouseholdCompleted,
	}
	return nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	WorkflowID      *int64
	HouseholdID     *int64
	Name            string
	OwnerRole       string
	Status          string
	Priority        *int
	SLAState        string
	SLADueAt        *string
	BlockedByTaskID *int64
	Actor           domain.Actor
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if err := normalizeTaskOptions(&opts); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.createTaskTx(ctx, tx, opts)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.writer().Append(ctx, tx, events.Entry{
		Actor:      opts.Actor,
		EventType:  "TASK_CREATED",
		EntityType: "task",
		EntityID:   strconv.FormatInt(t.ID, 10),
		Payload: events.EventPayload{
			"task_id":            t.ID,
			"workflow_id":        t.WorkflowID,
			"household_id":       t.HouseholdID,
			"name":               t.Name,
			"owner_role":         t.OwnerRole,
			"priority":           t.Priority,
			"blocked_by_task_id": t.BlockedByTaskID,
		},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func normalizeTaskOptions(opts *TaskCreateOptions) error {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return fmt.Errorf("%w: task name is required", ErrValidation)
	}
	opts.OwnerRole = strings.ToUpper(strings.TrimSpace(opts.OwnerRole))
	if opts.OwnerRole == "" {
		opts.OwnerRole = domain.RoleOps
	}
	if !domain.ValidOwnerRole(opts.OwnerRole) {
		return fmt.Errorf("%w: unknown owner_role %q", ErrValidation, opts.OwnerRole)
	}
	if opts.Status == "" {
		opts.Status = domain.TaskPending
	}
	if !domain.ValidTaskStatus(opts.Status) {
		return fmt.Errorf("%w: unknown task status %q", ErrValidation, opts.Status)
	}
	if opts.SLADueAt != nil {
		ts, err := time.Parse(time.RFC3339, *opts.SLADueAt)
		if err != nil {
			return fmt.Errorf("%w: sla_due_at must be RFC3339: %v", ErrValidation, err)
		}
		s := ts.UTC().Format(time.RFC3339)
		opts.SLADueAt = &s
	}
	return nil
}

// createTaskTx inserts a task after checking its references. Callers append
// the audit event.
func (e Engine) createTaskTx(ctx context.Context, tx *sql.Tx, opts TaskCreateOptions) (domain.Task, error) {
	if opts.WorkflowID != nil {
		if _, err := e.Repo.GetWorkflowTx(ctx, tx, *opts.WorkflowID); err != nil {
			return domain.Task{}, notFound("workflow", *opts.WorkflowID, err)
		}
	}
	if opts.HouseholdID != nil {
		if _, err := e.Repo.GetHouseholdTx(ctx, tx, *opts.HouseholdID); err != nil {
			return domain.Task{}, notFound("household", *opts.HouseholdID, err)
		}
	}
	if opts.BlockedByTaskID != nil {
		if _, err := e.Repo.GetTaskTx(ctx, tx, *opts.BlockedByTaskID); err != nil {
			return domain.Task{}, notFound("blocking task", *opts.BlockedByTaskID, err)
		}
	}
	priority := domain.DerivePriority(opts.SLAState)
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	now := e.nowString()
	t := domain.Task{
		WorkflowID:      opts.WorkflowID,
		HouseholdID:     opts.HouseholdID,
		Name:            opts.Name,
		OwnerRole:       opts.OwnerRole,
		Status:          opts.Status,
		Priority:        priority,
		SLADueAt:        opts.SLADueAt,
		BlockedByTaskID: opts.BlockedByTaskID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if t.Status == domain.TaskCompleted {
		t.CompletedAt = &now
	}
	id, err := e.Repo.InsertTask(ctx, tx, t)
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = id
	return t, nil
}

// SetTaskBlocker sets or clears the task's blocker. A nil blockedBy clears it.
func (e Engine) SetTaskBlocker(ctx context.Context, taskID int64, blockedBy *int64, actor domain.Actor) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, notFound("task", taskID, err)
	}
	if blockedBy != nil {
		if *blockedBy == taskID {
			return domain.Task{}, fmt.Errorf("%w: task %d cannot block itself", ErrConflict, taskID)
		}
		if _, err := e.Repo.GetTaskTx(ctx, tx, *blockedBy); err != nil {
			return domain.Task{}, notFound("blocking task", *blockedBy, err)
		}
		if err := e.ensureNoCycle(ctx, tx, *blockedBy, taskID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Repo.SetTaskBlocker(ctx, tx, taskID, blockedBy, e.nowString()); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.writer().Append(ctx, tx, events.Entry{
		Actor:      actor,
		EventType:  "TASK_BLOCKER_CHANGED",
		EntityType: "task",
		EntityID:   strconv.FormatInt(taskID, 10),
		Payload: events.EventPayload{
			"task_id":                taskID,
			"old_blocked_by_task_id": t.BlockedByTaskID,
			"new_blocked_by_task_id": blockedBy,
		},
	}); err != nil {
		return domain.Task{}, err
	}
	updated, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

// ensureNoCycle climbs the blocker chain starting at blockerID and fails if it
// reaches taskID.
func (e Engine) ensureNoCycle(ctx context.Context, tx *sql.Tx, blockerID, taskID int64) error {
	seen := map[int64]bool{}
	cur := &blockerID
	for cur != nil {
		if *cur == taskID {
			return fmt.Errorf("%w: blocker chain cycle detected for task %d", ErrConflict, taskID)
		}
		if seen[*cur] {
			return nil
		}
		seen[*cur] = true
		t, err := e.Repo.GetTaskTx(ctx, tx, *cur)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return err
		}
		cur = t.BlockedByTaskID
	}
	return nil
}

func (e Engine) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, notFound("task", id, err)
	}
	return t, nil
}

// notFound wraps repo.ErrNotFound with the entity name and passes other errors through.
func notFound(kind string, id int64, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %d: %w", kind, id, repo.ErrNotFound)
	}
	return err
}
