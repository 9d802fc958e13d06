package engine

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"transitionos/internal/domain"
	"transitionos/internal/events"
	"transitionos/internal/repo"
)

// Webhook event types with side effects beyond the audit record.
const (
	EventDocumentUploaded = "DOCUMENT_UPLOADED"
	EventESignCompleted   = "ESIGN_COMPLETED"
	EventACATRejected     = "ACAT_REJECTED"
)

// WebhookResult reports what an ingested webhook changed.
type WebhookResult struct {
	Source       string
	EventType    string
	AuditEventID int64
	DocumentID   *int64
	AccountID    *int64
	TaskID       *int64
}

// IngestWebhook routes one inbound event. Every write, including the single
// WEBHOOK_{event_type} audit record, commits in one transaction.
func (e Engine) IngestWebhook(ctx context.Context, source string, raw []byte) (WebhookResult, error) {
	payload, err := decodeWebhook(raw)
	if err != nil {
		return WebhookResult{}, err
	}
	eventType, _ := payload["event_type"].(string)
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return WebhookResult{}, fmt.Errorf("%w: event_type is required", ErrValidation)
	}
	res := WebhookResult{Source: source, EventType: eventType}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return WebhookResult{}, err
	}
	defer tx.Rollback()

	switch eventType {
	case EventDocumentUploaded:
		err = e.webhookDocumentUploaded(ctx, tx, payload, &res)
	case EventESignCompleted:
		err = e.webhookESignCompleted(ctx, tx, payload, &res)
	case EventACATRejected:
		err = e.webhookACATRejected(ctx, tx, payload, &res)
	}
	if err != nil {
		return WebhookResult{}, err
	}

	entityType, entityID := webhookEntity(payload)
	recorded := make(events.EventPayload, len(payload)+1)
	for k, v := range payload {
		recorded[k] = v
	}
	recorded["source"] = source
	res.AuditEventID, err = e.writer().Append(ctx, tx, events.Entry{
		Actor:      domain.SystemActor("webhook:" + source),
		EventType:  "WEBHOOK_" + eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    recorded,
	})
	if err != nil {
		return WebhookResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return WebhookResult{}, err
	}
	return res, nil
}

func decodeWebhook(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty webhook body", ErrInvalidRequest)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrInvalidRequest, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: webhook body must be a JSON object", ErrInvalidRequest)
	}
	return payload, nil
}

// webhookEntity picks the audit entity; household_id wins over account_id.
func webhookEntity(payload map[string]any) (string, string) {
	if v, ok := payload["household_id"]; ok && v != nil {
		return "household", scalarString(v)
	}
	if v, ok := payload["account_id"]; ok && v != nil {
		return "account", scalarString(v)
	}
	return "", ""
}

func (e Engine) webhookDocumentUploaded(ctx context.Context, tx *sql.Tx, payload map[string]any, res *WebhookResult) error {
	householdID, ok := intValue(payload["household_id"])
	if !ok {
		return fmt.Errorf("%w: household_id is required for %s", ErrValidation, EventDocumentUploaded)
	}
	if _, err := e.Repo.GetHouseholdTx(ctx, tx, householdID); err != nil {
		return notFound("household", householdID, err)
	}
	doc := domain.Document{
		HouseholdID: householdID,
		Name:        firstString(payload, "document_name", "name"),
		Type:        firstString(payload, "document_type", "type"),
		StorageURL:  firstString(payload, "storage_url"),
		NIGOStatus:  domain.NIGOUnknown,
		CreatedAt:   e.nowString(),
	}
	if doc.Name == "" {
		doc.Name = "document"
	}
	if doc.Type == "" {
		doc.Type = "OTHER"
	}
	if accountID, ok := intValue(payload["account_id"]); ok {
		acct, err := e.Repo.GetAccountTx(ctx, tx, accountID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err == nil && acct.HouseholdID == householdID {
			doc.AccountID = &acct.ID
		}
	}
	id, err := e.Repo.InsertDocument(ctx, tx, doc)
	if err != nil {
		return err
	}
	res.DocumentID = &id
	return nil
}

func (e Engine) webhookESignCompleted(ctx context.Context, tx *sql.Tx, payload map[string]any, res *WebhookResult) error {
	docID, ok := intValue(payload["document_id"])
	if !ok {
		return nil
	}
	if _, err := e.Repo.GetDocumentTx(ctx, tx, docID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := e.Repo.UpdateDocumentNIGO(ctx, tx, docID, domain.NIGOClean); err != nil {
		return err
	}
	res.DocumentID = &docID
	return nil
}

func (e Engine) webhookACATRejected(ctx context.Context, tx *sql.Tx, payload map[string]any, res *WebhookResult) error {
	raw, present := payload["account_id"]
	if !present || raw == nil {
		return nil
	}
	acct, err := e.resolveAccount(ctx, tx, raw)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.Repo.UpdateAccountStatus(ctx, tx, acct.ID, domain.AccountTransferRejected); err != nil {
		return err
	}
	now := e.nowString()
	t, err := e.createTaskTx(ctx, tx, TaskCreateOptions{
		HouseholdID: &acct.HouseholdID,
		Name:        fmt.Sprintf("Resolve ACAT rejection for account %s", acct.AccountNumber),
		OwnerRole:   domain.RoleOps,
		Status:      domain.TaskPending,
		Priority:    intPtr(1),
		SLADueAt:    &now,
	})
	if err != nil {
		return err
	}
	res.AccountID = &acct.ID
	res.TaskID = &t.ID
	return nil
}

// resolveAccount tries the numeric primary key first, then account_number.
// Non-scalar values are malformed.
func (e Engine) resolveAccount(ctx context.Context, tx *sql.Tx, raw any) (domain.Account, error) {
	var key string
	switch v := raw.(type) {
	case json.Number:
		key = v.String()
	case string:
		key = strings.TrimSpace(v)
	default:
		return domain.Account{}, fmt.Errorf("%w: account_id must be a number or string", ErrValidation)
	}
	if key == "" {
		return domain.Account{}, repo.ErrNotFound
	}
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		acct, err := e.Repo.GetAccountTx(ctx, tx, id)
		if err == nil || !errors.Is(err, repo.ErrNotFound) {
			return acct, err
		}
	}
	return e.Repo.GetAccountByNumberTx(ctx, tx, key)
}

// intValue accepts JSON numbers and numeric strings.
func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return id, err == nil
	}
	return 0, false
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func intPtr(v int) *int { return &v }
