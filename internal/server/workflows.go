package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"transitionos/internal/domain"
	"transitionos/internal/engine"
)

func registerWorkflows(api huma.API, h *handler) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Create workflow",
		Description:   "Starts an advisor onboarding workflow, optionally with its initial tasks.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowCreatedResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkflowCreateOptions{
			AdvisorID:          input.Body.AdvisorID,
			Type:               input.Body.WorkflowType,
			Name:               input.Body.Name,
			HouseholdID:        input.Body.HouseholdID,
			TargetCompletionAt: input.Body.TargetCompletionAt,
			Actor:              actor,
		}
		for _, t := range input.Body.Tasks {
			opts.Tasks = append(opts.Tasks, engine.WorkflowTaskSpec{
				Name:           t.Name,
				OwnerRole:      t.OwnerRole,
				Priority:       t.Priority,
				SLADueAt:       t.SLADueAt,
				HouseholdID:    t.HouseholdID,
				BlockedByIndex: t.BlockedByIndex,
			})
		}
		created, err := h.engine.CreateWorkflow(ctx, opts)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		advisorName := strings.TrimSpace(input.Body.AdvisorName)
		if advisorName == "" {
			advisorName = created.Advisor.Name
		}
		tasks := created.Tasks
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return &struct {
			Body WorkflowCreatedResponse `json:"body"`
		}{Body: WorkflowCreatedResponse{
			Status: "OK",
			Data: WorkflowCreatedData{
				WorkflowID: created.Workflow.ID,
				Status:     "INITIATED",
				Message:    fmt.Sprintf("Onboarding started for %s", advisorName),
				Workflow:   created.Workflow,
				Tasks:      tasks,
			},
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Workflow dashboard",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID int64 `path:"workflow_id"`
	}) (*struct {
		Body WorkflowDashboardResponse `json:"body"`
	}, error) {
		dash, err := h.engine.WorkflowDashboard(ctx, input.WorkflowID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body WorkflowDashboardResponse `json:"body"`
		}{Body: workflowDashboardResponse(dash)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-next-steps",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}/next-steps",
		Summary:     "Recommended next steps",
		Errors:      []int{http.StatusNotFound, http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		WorkflowID int64 `path:"workflow_id"`
	}) (*struct {
		Body NextStepsResponse `json:"body"`
	}, error) {
		if _, err := h.engine.Repo.GetWorkflow(ctx, input.WorkflowID); err != nil {
			return nil, h.handleError(ctx, fmt.Errorf("workflow %d: %w", input.WorkflowID, err))
		}
		steps, err := h.skills.Workflows.NextSteps(ctx, input.WorkflowID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body NextStepsResponse `json:"body"`
		}{Body: NextStepsResponse{WorkflowID: input.WorkflowID, Steps: steps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow-task",
		Method:        http.MethodPost,
		Path:          "/workflows/{workflow_id}/tasks",
		Summary:       "Add task to workflow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		WorkflowID int64             `path:"workflow_id"`
		Body       CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		workflowID := input.WorkflowID
		t, err := h.engine.CreateTask(ctx, engine.TaskCreateOptions{
			WorkflowID:      &workflowID,
			HouseholdID:     input.Body.HouseholdID,
			Name:            input.Body.Name,
			OwnerRole:       input.Body.OwnerRole,
			Status:          input.Body.Status,
			Priority:        input.Body.Priority,
			SLAState:        input.Body.SLAState,
			SLADueAt:        input.Body.SLADueAt,
			BlockedByTaskID: input.Body.BlockedByTaskID,
			Actor:           actor,
		})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}
