package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"transitionos/internal/skills"
)

// registerSkills exposes the capability provider. Each route answers 501 when
// the active provider lacks the capability.
func registerSkills(api huma.API, h *handler) {
	huma.Register(api, huma.Operation{
		OperationID: "predict-eta",
		Method:      http.MethodGet,
		Path:        "/predictions/eta/{household_id}",
		Summary:     "Predict transition completion",
		Errors:      []int{http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		HouseholdID int64 `path:"household_id"`
	}) (*struct {
		Body skills.Prediction `json:"body"`
	}, error) {
		p, err := h.skills.ETA.PredictCompletion(ctx, input.HouseholdID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body skills.Prediction `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-document",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/validate",
		Summary:     "Check a document for NIGO defects",
		Errors:      []int{http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		DocumentID int64 `path:"document_id"`
	}) (*struct {
		Body skills.DocumentValidation `json:"body"`
	}, error) {
		v, err := h.skills.Documents.ValidateDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body skills.DocumentValidation `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extract-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/extract",
		Summary:     "Extract fields from a document",
		Errors:      []int{http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		DocumentID int64 `path:"document_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		info, err := h.skills.Documents.ExtractInfo(ctx, input.DocumentID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "meeting-pack",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}/meeting-pack",
		Summary:     "Generate a meeting pack",
		Errors:      []int{http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		HouseholdID int64 `path:"household_id"`
	}) (*struct {
		Body skills.MeetingPack `json:"body"`
	}, error) {
		pack, err := h.skills.Meetings.GeneratePack(ctx, input.HouseholdID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body skills.MeetingPack `json:"body"`
		}{Body: pack}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "entity-match",
		Method:      http.MethodPost,
		Path:        "/entity/match",
		Summary:     "Resolve client records against existing households",
		Errors:      []int{http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		Body EntityMatchRequest `json:"body" required:"false"`
	}) (*struct {
		Body skills.MatchResult `json:"body"`
	}, error) {
		res, err := h.skills.Entities.Match(ctx, input.Body.Records)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body skills.MatchResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "draft-communication",
		Method:      http.MethodPost,
		Path:        "/communications/draft",
		Summary:     "Draft a client communication",
		Errors:      []int{http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		Body DraftRequest `json:"body" required:"false"`
	}) (*struct {
		Body skills.Draft `json:"body"`
	}, error) {
		d, err := h.skills.Communication.Draft(ctx, input.Body.TemplateType, input.Body.Context)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body skills.Draft `json:"body"`
		}{Body: d}, nil
	})
}
