package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"transitionos/internal/domain"
	"transitionos/internal/engine"
)

func registerTasks(api huma.API, h *handler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID int64 `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := h.engine.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-blocker",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/blocker",
		Summary:     "Set or clear the blocking task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID int64             `path:"task_id"`
		Body   SetBlockerRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		raw, ok := rawBodyMap(ctx)["blocked_by_task_id"]
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "blocked_by_task_id is required (null clears)", map[string]any{"field": "blocked_by_task_id"})
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var blockedBy *int64
		if !isNullRaw(raw) {
			var id int64
			if err := json.Unmarshal(raw, &id); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "blocked_by_task_id must be an integer or null", nil)
			}
			blockedBy = &id
		}
		t, err := h.engine.SetTaskBlocker(ctx, input.TaskID, blockedBy, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TaskID int64               `path:"task_id"`
		Body   CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body CompleteTaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.engine.CompleteTask(ctx, engine.CompleteTaskOptions{
			TaskID: input.TaskID,
			Status: input.Body.Status,
			Note:   input.Body.Note,
			Actor:  actor,
		})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body CompleteTaskResponse `json:"body"`
		}{Body: CompleteTaskResponse{
			Task:                     res.Task,
			SuggestedHouseholdStatus: res.SuggestedHouseholdStatus,
			HouseholdStatusChanged:   res.HouseholdStatusChanged,
		}}, nil
	})
}
