package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"transitionos/internal/repo"
)

func registerTransitions(api huma.API, h *handler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-transitions",
		Method:      http.MethodGet,
		Path:        "/transitions",
		Summary:     "List households in transition",
		Description: "Sorted by risk score (highest first), then ETA (earliest first).",
	}, func(ctx context.Context, input *struct {
		AdvisorID int64  `query:"advisor_id"`
		Status    string `query:"status" enum:"IN_PROGRESS,AT_RISK,COMPLETED"`
	}) (*struct {
		Body []HouseholdSummaryResponse `json:"body"`
	}, error) {
		f := repo.HouseholdFilters{Status: input.Status}
		if input.AdvisorID > 0 {
			f.AdvisorID = &input.AdvisorID
		}
		items, err := h.engine.ListHouseholds(ctx, f)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		resp := make([]HouseholdSummaryResponse, 0, len(items))
		for _, s := range items {
			resp = append(resp, householdSummaryResponse(s))
		}
		return &struct {
			Body []HouseholdSummaryResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-transition",
		Method:      http.MethodGet,
		Path:        "/transitions/{household_id}",
		Summary:     "Household transition detail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HouseholdID int64 `path:"household_id"`
	}) (*struct {
		Body HouseholdDetailResponse `json:"body"`
	}, error) {
		d, err := h.engine.GetHousehold(ctx, input.HouseholdID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body HouseholdDetailResponse `json:"body"`
		}{Body: householdDetailResponse(d)}, nil
	})
}

func registerAudit(api huma.API, h *handler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-events",
		Method:      http.MethodGet,
		Path:        "/audit-events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EventType  string `query:"event_type"`
		EntityType string `query:"entity_type"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedAuditEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.engine.Repo.LatestAuditEvents(ctx, repo.AuditFilters{
			EventType:  input.EventType,
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		resp := paginatedAuditEvents{Items: []AuditEventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, auditEventResponse(evt))
		}
		return &struct {
			Body paginatedAuditEvents `json:"body"`
		}{Body: resp}, nil
	})
}
