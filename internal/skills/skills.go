// Package skills defines the pluggable capabilities behind the advisory
// endpoints and the stub and disabled providers used until real ones exist.
package skills

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotImplemented marks a capability the active provider does not offer.
var ErrNotImplemented = errors.New("not implemented")

func notImplemented(capability string) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, capability)
}

type Prediction struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Factors    []string `json:"factors"`
}

type DocumentValidation struct {
	DocumentID int64    `json:"document_id"`
	IsValid    bool     `json:"is_valid"`
	NIGOStatus string   `json:"nigo_status"`
	Defects    []string `json:"defects"`
}

type MeetingPack struct {
	HouseholdID int64    `json:"household_id"`
	Files       []string `json:"files"`
	Status      string   `json:"status"`
}

type MatchSummary struct {
	TotalRecords    int `json:"total_records"`
	AutoMatched     int `json:"auto_matched"`
	ReviewQueue     int `json:"review_queue"`
	NoMatch         int `json:"no_match"`
	DuplicatesFound int `json:"duplicates_found"`
}

type MatchResult struct {
	Summary     MatchSummary     `json:"summary"`
	Matches     []map[string]any `json:"matches"`
	ReviewQueue []map[string]any `json:"review_queue"`
}

type Draft struct {
	DraftID          string   `json:"draft_id"`
	Subject          string   `json:"subject"`
	Body             string   `json:"body"`
	ApprovalRequired bool     `json:"approval_required"`
	ComplianceFlags  []string `json:"compliance_flags"`
}

type WorkflowEngine interface {
	NextSteps(ctx context.Context, workflowID int64) ([]string, error)
}

type DocumentIntelligence interface {
	ValidateDocument(ctx context.Context, documentID int64) (DocumentValidation, error)
	ExtractInfo(ctx context.Context, documentID int64) (map[string]any, error)
}

type EtaPredictor interface {
	PredictCompletion(ctx context.Context, householdID int64) (Prediction, error)
}

type MeetingPrep interface {
	GeneratePack(ctx context.Context, householdID int64) (MeetingPack, error)
}

type EntityResolver interface {
	Match(ctx context.Context, records []map[string]any) (MatchResult, error)
}

type CommunicationDrafter interface {
	Draft(ctx context.Context, templateType string, vars map[string]any) (Draft, error)
}

// Orchestrator bundles one provider per capability. It is passed explicitly
// to whatever serves the capabilities.
type Orchestrator struct {
	Workflows     WorkflowEngine
	Documents     DocumentIntelligence
	ETA           EtaPredictor
	Meetings      MeetingPrep
	Entities      EntityResolver
	Communication CommunicationDrafter
}

// New returns the stub orchestrator when stubs are enabled and the disabled
// one otherwise.
func New(enableStubs bool) Orchestrator {
	if enableStubs {
		return Stub()
	}
	return Disabled()
}

func Stub() Orchestrator {
	s := stub{}
	return Orchestrator{Workflows: s, Documents: s, ETA: s, Meetings: s, Entities: s, Communication: s}
}

func Disabled() Orchestrator {
	d := disabled{}
	return Orchestrator{Workflows: d, Documents: d, ETA: d, Meetings: d, Entities: d, Communication: d}
}

type stub struct{}

func (stub) NextSteps(context.Context, int64) ([]string, error) {
	return []string{"Step 1 (Stub)", "Step 2 (Stub)"}, nil
}

func (stub) ValidateDocument(context.Context, int64) (DocumentValidation, error) {
	return DocumentValidation{}, notImplemented("document validation")
}

func (stub) ExtractInfo(context.Context, int64) (map[string]any, error) {
	return map[string]any{"stub_key": "stub_value"}, nil
}

func (stub) PredictCompletion(context.Context, int64) (Prediction, error) {
	return Prediction{Score: 0.85, Confidence: 0.9, Factors: []string{"Historical data"}}, nil
}

func (stub) GeneratePack(_ context.Context, householdID int64) (MeetingPack, error) {
	return MeetingPack{HouseholdID: householdID, Files: []string{"agenda.pdf", "report.pdf"}, Status: "READY"}, nil
}

func (stub) Match(context.Context, []map[string]any) (MatchResult, error) {
	return MatchResult{
		Summary: MatchSummary{
			TotalRecords:    100,
			AutoMatched:     85,
			ReviewQueue:     10,
			NoMatch:         5,
			DuplicatesFound: 2,
		},
		Matches:     []map[string]any{},
		ReviewQueue: []map[string]any{},
	}, nil
}

func (stub) Draft(_ context.Context, templateType string, _ map[string]any) (Draft, error) {
	if templateType == "" {
		templateType = "Status"
	}
	return Draft{
		DraftID:          "draft_999",
		Subject:          "Update regarding " + templateType,
		Body:             "This is a generated draft...",
		ApprovalRequired: true,
		ComplianceFlags:  []string{},
	}, nil
}

type disabled struct{}

func (disabled) NextSteps(context.Context, int64) ([]string, error) {
	return nil, notImplemented("workflow next steps")
}

func (disabled) ValidateDocument(context.Context, int64) (DocumentValidation, error) {
	return DocumentValidation{}, notImplemented("document validation")
}

func (disabled) ExtractInfo(context.Context, int64) (map[string]any, error) {
	return nil, notImplemented("document extraction")
}

func (disabled) PredictCompletion(context.Context, int64) (Prediction, error) {
	return Prediction{}, notImplemented("eta prediction")
}

func (disabled) GeneratePack(context.Context, int64) (MeetingPack, error) {
	return MeetingPack{}, notImplemented("meeting pack")
}

func (disabled) Match(context.Context, []map[string]any) (MatchResult, error) {
	return MatchResult{}, notImplemented("entity match")
}

func (disabled) Draft(context.Context, string, map[string]any) (Draft, error) {
	return Draft{}, notImplemented("communication draft")
}
