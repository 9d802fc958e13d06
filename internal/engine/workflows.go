package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"transitionos/internal/domain"
	"transitionos/internal/events"
	"transitionos/internal/repo"
	"transitionos/internal/rollup"
)

// WorkflowTaskSpec describes a task created together with its workflow.
// BlockedByIndex points at an earlier entry of the same request.
type WorkflowTaskSpec struct {
	Name           string
	OwnerRole      string
	Priority       *int
	SLADueAt       *string
	HouseholdID    *int64
	BlockedByIndex *int
}

// WorkflowCreateOptions are parameters for creating a workflow.
type WorkflowCreateOptions struct {
	AdvisorID          int64
	Type               string
	Name               string
	TargetCompletionAt *string
	HouseholdID        *int64
	Tasks              []WorkflowTaskSpec
	Actor              domain.Actor
}

// WorkflowCreated is the result of CreateWorkflow.
type WorkflowCreated struct {
	Workflow domain.Workflow
	Advisor  domain.Advisor
	Tasks    []domain.Task
}

func (e Engine) CreateWorkflow(ctx context.Context, opts WorkflowCreateOptions) (WorkflowCreated, error) {
	opts.Type = strings.ToUpper(strings.TrimSpace(opts.Type))
	switch opts.Type {
	case domain.WorkflowRecruitedAdvisor, domain.WorkflowAcquisitionConversion:
	case "":
		return WorkflowCreated{}, fmt.Errorf("%w: workflow_type is required", ErrValidation)
	default:
		return WorkflowCreated{}, fmt.Errorf("%w: unknown workflow_type %q", ErrValidation, opts.Type)
	}
	if opts.AdvisorID <= 0 {
		return WorkflowCreated{}, fmt.Errorf("%w: advisor_id is required", ErrValidation)
	}
	if opts.TargetCompletionAt != nil {
		ts, err := time.Parse(time.RFC3339, *opts.TargetCompletionAt)
		if err != nil {
			return WorkflowCreated{}, fmt.Errorf("%w: target_completion_at must be RFC3339: %v", ErrValidation, err)
		}
		s := ts.UTC().Format(time.RFC3339)
		opts.TargetCompletionAt = &s
	}
	specs := make([]TaskCreateOptions, len(opts.Tasks))
	for i, spec := range opts.Tasks {
		if spec.BlockedByIndex != nil && (*spec.BlockedByIndex < 0 || *spec.BlockedByIndex >= i) {
			return WorkflowCreated{}, fmt.Errorf("%w: tasks[%d].blocked_by_index must reference an earlier task", ErrValidation, i)
		}
		household := spec.HouseholdID
		if household == nil {
			household = opts.HouseholdID
		}
		specs[i] = TaskCreateOptions{
			HouseholdID: household,
			Name:        spec.Name,
			OwnerRole:   spec.OwnerRole,
			Priority:    spec.Priority,
			SLADueAt:    spec.SLADueAt,
		}
		if err := normalizeTaskOptions(&specs[i]); err != nil {
			return WorkflowCreated{}, fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return WorkflowCreated{}, err
	}
	defer tx.Rollback()
	advisor, err := e.Repo.GetAdvisorTx(ctx, tx, opts.AdvisorID)
	if err != nil {
		return WorkflowCreated{}, notFound("advisor", opts.AdvisorID, err)
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = fmt.Sprintf("%s onboarding for %s", humanizeType(opts.Type), advisor.Name)
	}
	wf := domain.Workflow{
		AdvisorID:          advisor.ID,
		Name:               name,
		Type:               opts.Type,
		StartedAt:          e.nowString(),
		TargetCompletionAt: opts.TargetCompletionAt,
	}
	wf.ID, err = e.Repo.InsertWorkflow(ctx, tx, wf)
	if err != nil {
		return WorkflowCreated{}, err
	}
	tasks := make([]domain.Task, 0, len(specs))
	taskIDs := make([]int64, 0, len(specs))
	for i, spec := range specs {
		spec.WorkflowID = &wf.ID
		if idx := opts.Tasks[i].BlockedByIndex; idx != nil {
			blocker := tasks[*idx].ID
			spec.BlockedByTaskID = &blocker
		}
		t, err := e.createTaskTx(ctx, tx, spec)
		if err != nil {
			return WorkflowCreated{}, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		tasks = append(tasks, t)
		taskIDs = append(taskIDs, t.ID)
	}
	if _, err := e.writer().Append(ctx, tx, events.Entry{
		Actor:      opts.Actor,
		EventType:  "WORKFLOW_CREATED",
		EntityType: "workflow",
		EntityID:   strconv.FormatInt(wf.ID, 10),
		Payload: events.EventPayload{
			"workflow_id": wf.ID,
			"advisor_id":  advisor.ID,
			"type":        wf.Type,
			"name":        wf.Name,
			"task_ids":    taskIDs,
		},
	}); err != nil {
		return WorkflowCreated{}, err
	}
	if err := tx.Commit(); err != nil {
		return WorkflowCreated{}, err
	}
	return WorkflowCreated{Workflow: wf, Advisor: advisor, Tasks: tasks}, nil
}

func humanizeType(t string) string {
	switch t {
	case domain.WorkflowAcquisitionConversion:
		return "Acquisition conversion"
	default:
		return "Recruited advisor"
	}
}

// WorkflowDashboard is the derived view of a workflow.
type WorkflowDashboard struct {
	Workflow domain.Workflow
	Snapshot rollup.WorkflowSnapshot
	Tasks    []domain.Task
}

func (e Engine) WorkflowDashboard(ctx context.Context, id int64) (WorkflowDashboard, error) {
	wf, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return WorkflowDashboard{}, notFound("workflow", id, err)
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{WorkflowID: &id})
	if err != nil {
		return WorkflowDashboard{}, err
	}
	inWorkflow := make(map[int64]bool, len(tasks))
	for _, t := range tasks {
		inWorkflow[t.ID] = true
	}
	external := map[int64]domain.Task{}
	for _, t := range tasks {
		if t.BlockedByTaskID == nil || inWorkflow[*t.BlockedByTaskID] {
			continue
		}
		if _, ok := external[*t.BlockedByTaskID]; ok {
			continue
		}
		blocker, err := e.Repo.GetTask(ctx, *t.BlockedByTaskID)
		if err != nil {
			continue
		}
		external[blocker.ID] = blocker
	}
	snap := rollup.Snapshot(tasks, external, e.now())
	return WorkflowDashboard{Workflow: wf, Snapshot: snap, Tasks: tasks}, nil
}
