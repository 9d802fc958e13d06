package server

import (
	"encoding/json"

	"transitionos/internal/domain"
	"transitionos/internal/engine"
	"transitionos/internal/rollup"
)

// Request payloads

type WorkflowTaskRequest struct {
	Name           string  `json:"name"`
	OwnerRole      string  `json:"owner_role,omitempty" enum:"ADVISOR,OPS,COMPLIANCE"`
	Priority       *int    `json:"priority,omitempty"`
	SLADueAt       *string `json:"sla_due_at,omitempty" format:"date-time"`
	HouseholdID    *int64  `json:"household_id,omitempty"`
	BlockedByIndex *int    `json:"blocked_by_index,omitempty" doc:"Index of an earlier task in this request that blocks this one"`
}

type CreateWorkflowRequest struct {
	_                  struct{}              `json:"-" additionalProperties:"true"`
	AdvisorID          int64                 `json:"advisor_id,omitempty"`
	AdvisorName        string                `json:"advisor_name,omitempty" doc:"Name used in the confirmation message; defaults to the stored advisor name"`
	WorkflowType       string                `json:"workflow_type,omitempty"`
	Name               string                `json:"name,omitempty"`
	HouseholdID        *int64                `json:"household_id,omitempty"`
	TargetCompletionAt *string               `json:"target_completion_at,omitempty" format:"date-time"`
	Tasks              []WorkflowTaskRequest `json:"tasks,omitempty"`
}

type CreateTaskRequest struct {
	Name            string  `json:"name,omitempty"`
	OwnerRole       string  `json:"owner_role,omitempty"`
	Status          string  `json:"status,omitempty"`
	Priority        *int    `json:"priority,omitempty"`
	SLAState        string  `json:"sla_state,omitempty" enum:"ON_TRACK,NEAR_BREACH,BREACHED"`
	SLADueAt        *string `json:"sla_due_at,omitempty"`
	HouseholdID     *int64  `json:"household_id,omitempty"`
	BlockedByTaskID *int64  `json:"blocked_by_task_id,omitempty"`
}

type CompleteTaskRequest struct {
	Status string `json:"status,omitempty" doc:"Must be COMPLETED"`
	Note   string `json:"note,omitempty"`
}

type SetBlockerRequest struct {
	BlockedByTaskID *int64 `json:"blocked_by_task_id,omitempty" nullable:"true" doc:"null clears the blocker"`
}

type EntityMatchRequest struct {
	_       struct{}         `json:"-" additionalProperties:"true"`
	Records []map[string]any `json:"records,omitempty"`
}

type DraftRequest struct {
	_            struct{}       `json:"-" additionalProperties:"true"`
	TemplateType string         `json:"template_type,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// Response payloads

type WorkflowCreatedData struct {
	WorkflowID int64           `json:"workflow_id"`
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	Workflow   domain.Workflow `json:"workflow"`
	Tasks      []domain.Task   `json:"tasks"`
}

type WorkflowCreatedResponse struct {
	Status string              `json:"status"`
	Data   WorkflowCreatedData `json:"data"`
}

type TaskCountsResponse struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Blocked   int `json:"blocked"`
	Overdue   int `json:"overdue"`
}

type WorkflowDashboardResponse struct {
	WorkflowID         int64              `json:"workflow_id"`
	Name               string             `json:"name"`
	Type               string             `json:"type"`
	Status             string             `json:"status"`
	PercentComplete    float64            `json:"percent_complete"`
	Tasks              TaskCountsResponse `json:"tasks"`
	Blockers           []string           `json:"blockers"`
	TaskItems          []domain.Task      `json:"task_items"`
	StartedAt          string             `json:"started_at"`
	TargetCompletionAt *string            `json:"target_completion_at,omitempty"`
}

type NextStepsResponse struct {
	WorkflowID int64    `json:"workflow_id"`
	Steps      []string `json:"steps"`
}

type CompleteTaskResponse struct {
	domain.Task
	SuggestedHouseholdStatus string `json:"suggested_household_status,omitempty"`
	HouseholdStatusChanged   bool   `json:"household_status_changed,omitempty"`
}

type HouseholdSummaryResponse struct {
	ID                  int64    `json:"id"`
	Name                string   `json:"name"`
	AdvisorID           int64    `json:"advisor_id"`
	AdvisorName         string   `json:"advisor_name"`
	Status              string   `json:"status"`
	ETADate             *string  `json:"eta_date,omitempty"`
	RiskScore           *float64 `json:"risk_score,omitempty"`
	OpenTasksCount      int      `json:"open_tasks_count"`
	CompletedTasksCount int      `json:"completed_tasks_count"`
	TotalTasksCount     int      `json:"total_tasks_count"`
	NIGOIssuesCount     int      `json:"nigo_issues_count"`
	AccountsCount       int      `json:"accounts_count"`
	ProgressPercent     float64  `json:"progress_percent"`
}

type HouseholdDetailResponse struct {
	HouseholdSummaryResponse
	Accounts        []domain.Account  `json:"accounts"`
	Documents       []domain.Document `json:"documents"`
	Tasks           []domain.Task     `json:"tasks"`
	SuggestedStatus string            `json:"suggested_status,omitempty"`
}

type AuditEventResponse struct {
	ID         int64          `json:"id"`
	CreatedAt  string         `json:"created_at"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedAuditEvents struct {
	Items      []AuditEventResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type WebhookResponse struct {
	Status       string `json:"status"`
	Source       string `json:"source"`
	EventType    string `json:"event_type"`
	AuditEventID int64  `json:"audit_event_id"`
	DocumentID   *int64 `json:"document_id,omitempty"`
	AccountID    *int64 `json:"account_id,omitempty"`
	TaskID       *int64 `json:"task_id,omitempty"`
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ReadinessResponse struct {
	Status string `json:"status"`
}

func householdSummaryResponse(s rollup.HouseholdSummary) HouseholdSummaryResponse {
	return HouseholdSummaryResponse{
		ID:                  s.Household.ID,
		Name:                s.Household.Name,
		AdvisorID:           s.Household.AdvisorID,
		AdvisorName:         s.AdvisorName,
		Status:              s.Household.Status,
		ETADate:             s.Household.ETADate,
		RiskScore:           s.Household.RiskScore,
		OpenTasksCount:      s.OpenTasks,
		CompletedTasksCount: s.CompletedTasks,
		TotalTasksCount:     s.TotalTasks,
		NIGOIssuesCount:     s.NIGOIssues,
		AccountsCount:       s.AccountsCount,
		ProgressPercent:     s.ProgressPercent,
	}
}

func householdDetailResponse(d engine.HouseholdDetail) HouseholdDetailResponse {
	res := HouseholdDetailResponse{
		HouseholdSummaryResponse: householdSummaryResponse(d.Summary),
		Accounts:                 d.Accounts,
		Documents:                d.Documents,
		Tasks:                    d.Tasks,
		SuggestedStatus:          d.SuggestedStatus,
	}
	if res.Accounts == nil {
		res.Accounts = []domain.Account{}
	}
	if res.Documents == nil {
		res.Documents = []domain.Document{}
	}
	if res.Tasks == nil {
		res.Tasks = []domain.Task{}
	}
	return res
}

func workflowDashboardResponse(d engine.WorkflowDashboard) WorkflowDashboardResponse {
	res := WorkflowDashboardResponse{
		WorkflowID:      d.Workflow.ID,
		Name:            d.Workflow.Name,
		Type:            d.Workflow.Type,
		Status:          d.Snapshot.Status,
		PercentComplete: d.Snapshot.PercentComplete,
		Tasks: TaskCountsResponse{
			Total:     d.Snapshot.Total,
			Completed: d.Snapshot.Completed,
			Blocked:   d.Snapshot.Blocked,
			Overdue:   d.Snapshot.Overdue,
		},
		Blockers:           d.Snapshot.Blockers,
		TaskItems:          d.Tasks,
		StartedAt:          d.Workflow.StartedAt,
		TargetCompletionAt: d.Workflow.TargetCompletionAt,
	}
	if res.Blockers == nil {
		res.Blockers = []string{}
	}
	if res.TaskItems == nil {
		res.TaskItems = []domain.Task{}
	}
	return res
}

func auditEventResponse(e domain.AuditEvent) AuditEventResponse {
	payload := map[string]any{}
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &payload)
	}
	return AuditEventResponse{
		ID:         e.ID,
		CreatedAt:  e.CreatedAt,
		ActorType:  e.ActorType,
		ActorID:    e.ActorID,
		EventType:  e.EventType,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Payload:    payload,
	}
}
