package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func registerWebhooks(api huma.API, h *handler) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-webhook",
		Method:      http.MethodPost,
		Path:        "/webhooks/{source}",
		Summary:     "Ingest an external event",
		Description: "Accepts any JSON object with an event_type. DOCUMENT_UPLOADED, ESIGN_COMPLETED and ACAT_REJECTED change state; every other type is recorded only.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Source string `path:"source" maxLength:"64"`
	}) (*struct {
		Body WebhookResponse `json:"body"`
	}, error) {
		res, err := h.engine.IngestWebhook(ctx, input.Source, bodyBytes(ctx))
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		h.logger.InfoContext(ctx, "webhook ingested",
			"source", res.Source,
			"event_type", res.EventType,
			"audit_event_id", res.AuditEventID,
		)
		return &struct {
			Body WebhookResponse `json:"body"`
		}{Body: WebhookResponse{
			Status:       "received",
			Source:       res.Source,
			EventType:    res.EventType,
			AuditEventID: res.AuditEventID,
			DocumentID:   res.DocumentID,
			AccountID:    res.AccountID,
			TaskID:       res.TaskID,
		}}, nil
	})
}
