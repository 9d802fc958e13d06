package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Task statuses.
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskCompleted  = "COMPLETED"
	TaskFailed     = "FAILED"
	TaskBlocked    = "BLOCKED"
)

// Household statuses.
const (
	HouseholdInProgress = "IN_PROGRESS"
	HouseholdAtRisk     = "AT_RISK"
	HouseholdCompleted  = "COMPLETED"
)

// Account statuses.
const (
	AccountPending            = "PENDING"
	AccountOpen               = "OPEN"
	AccountTransferInProgress = "TRANSFER_IN_PROGRESS"
	AccountTransferRejected   = "TRANSFER_REJECTED"
	AccountClosed             = "CLOSED"
)

// Document NIGO statuses.
const (
	NIGOUnknown      = "UNKNOWN"
	NIGOClean        = "CLEAN"
	NIGODefectsFound = "DEFECTS_FOUND"
)

// Owner roles.
const (
	RoleAdvisor    = "ADVISOR"
	RoleOps        = "OPS"
	RoleCompliance = "COMPLIANCE"
)

// Actor types recorded on audit events.
const (
	ActorUser   = "USER"
	ActorBot    = "BOT"
	ActorSystem = "SYSTEM"
)

// Workflow types.
const (
	WorkflowRecruitedAdvisor      = "RECRUITED_ADVISOR"
	WorkflowAcquisitionConversion = "ACQUISITION_CONVERSION"
)

// DateLayout is the storage layout for calendar dates such as household ETAs.
const DateLayout = "2006-01-02"

type Advisor struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Channel         string `json:"channel" enum:"independent,bank_program,acquisition"`
	ExperienceYears int    `json:"experience_years"`
}

type Household struct {
	ID        int64    `json:"id"`
	AdvisorID int64    `json:"advisor_id"`
	Name      string   `json:"name"`
	Status    string   `json:"status" enum:"IN_PROGRESS,AT_RISK,COMPLETED"`
	ETADate   *string  `json:"eta_date,omitempty" format:"date"`
	RiskScore *float64 `json:"risk_score,omitempty"`
}

type Account struct {
	ID            int64           `json:"id"`
	HouseholdID   int64           `json:"household_id"`
	AccountNumber string          `json:"account_number"`
	Type          string          `json:"type"`
	Custodian     string          `json:"custodian"`
	Status        string          `json:"status"`
	AssetValue    decimal.Decimal `json:"asset_value"`
}

type Workflow struct {
	ID                 int64   `json:"id"`
	AdvisorID          int64   `json:"advisor_id"`
	Name               string  `json:"name"`
	Type               string  `json:"type" enum:"RECRUITED_ADVISOR,ACQUISITION_CONVERSION"`
	StartedAt          string  `json:"started_at" format:"date-time"`
	TargetCompletionAt *string `json:"target_completion_at,omitempty" format:"date-time"`
	CompletedAt        *string `json:"completed_at,omitempty" format:"date-time"`
}

type Task struct {
	ID              int64   `json:"id"`
	WorkflowID      *int64  `json:"workflow_id,omitempty"`
	HouseholdID     *int64  `json:"household_id,omitempty"`
	Name            string  `json:"name"`
	OwnerRole       string  `json:"owner_role" enum:"ADVISOR,OPS,COMPLIANCE"`
	Status          string  `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,FAILED,BLOCKED"`
	Priority        int     `json:"priority"`
	SLADueAt        *string `json:"sla_due_at,omitempty" format:"date-time"`
	BlockedByTaskID *int64  `json:"blocked_by_task_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

type Defect struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Evidence string `json:"evidence,omitempty"`
}

type Document struct {
	ID          int64    `json:"id"`
	HouseholdID int64    `json:"household_id"`
	AccountID   *int64   `json:"account_id,omitempty"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	StorageURL  string   `json:"storage_url,omitempty"`
	NIGOStatus  string   `json:"nigo_status" enum:"UNKNOWN,CLEAN,DEFECTS_FOUND"`
	Defects     []Defect `json:"defects,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type AuditEvent struct {
	ID         int64           `json:"id"`
	CreatedAt  string          `json:"created_at"`
	ActorType  string          `json:"actor_type" enum:"USER,BOT,SYSTEM"`
	ActorID    string          `json:"actor_id"`
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Actor identifies who performed a mutation. It is recorded, never checked.
type Actor struct {
	Type string
	ID   string
}

// SystemActor returns the actor used for automated mutations.
func SystemActor(id string) Actor {
	return Actor{Type: ActorSystem, ID: id}
}

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed, TaskBlocked:
		return true
	}
	return false
}

// ValidOwnerRole reports whether r is a known owner role.
func ValidOwnerRole(r string) bool {
	switch r {
	case RoleAdvisor, RoleOps, RoleCompliance:
		return true
	}
	return false
}

// ValidActorType reports whether t is a known actor type.
func ValidActorType(t string) bool {
	switch t {
	case ActorUser, ActorBot, ActorSystem:
		return true
	}
	return false
}

// DerivePriority maps an SLA state to a task priority (higher is more urgent).
func DerivePriority(slaState string) int {
	switch slaState {
	case "BREACHED":
		return 3
	case "NEAR_BREACH":
		return 2
	default:
		return 1
	}
}
