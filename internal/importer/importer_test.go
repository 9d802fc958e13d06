package importer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"transitionos/internal/config"
	"transitionos/internal/db"
	"transitionos/internal/domain"
	"transitionos/internal/engine"
	"transitionos/internal/importer"
	"transitionos/internal/migrate"
	"transitionos/internal/repo"
)

var fixedNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return fixedNow }
	return eng
}

func writeDataset(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

var demoFiles = map[string]string{
	importer.AdvisorsFile: "advisor_id,advisor_name,channel,start_date\n" +
		"ADV-1,Jane Doe,bank_program,2019-06-01\n",
	importer.HouseholdsFile: "household_id,household_name,advisor_id,status,stall_risk,attrition_risk\n" +
		"HH-1,The Smith Family,ADV-1,IN_PROGRESS,40,45\n" +
		"HH-2,Jones Joint Account,ADV-1,AT_RISK,70,73\n",
	importer.AccountsFile: "account_id,household_id,account_type,delivering_institution,status,estimated_assets_usd\n" +
		"111-222-333,HH-1,Taxable Brokerage,SCHWAB,TRANSFER_IN_PROGRESS,250000.50\n" +
		"111-222-444,HH-1,Roth IRA,SCHWAB,IN_TRANSIT,85000\n" +
		"999-000-000,HH-404,Trust,SCHWAB,PENDING,1\n",
	importer.DocumentsFile: "document_id,household_id,account_id,doc_type,filename,nigo_status\n" +
		"D-1,HH-1,111-222-333,TRANSFER_FORM,smith_transfer.pdf,MISSING_SIGNATURE\n" +
		"D-2,HH-1,,ID,smith_id.pdf,OK\n" +
		"D-3,HH-2,,STATEMENT,jones_stmt.pdf,STALE_STATEMENT\n",
	importer.TasksFile: "task_id,workflow_id,household_id,task_name,owner_queue,status,created_at,due_at,depends_on_task_id\n" +
		"T-1,WF-1,HH-1,Gather KYC,Advisor,COMPLETED,2023-12-01T09:00:00Z,2023-12-05T09:00:00Z,\n" +
		"T-2,WF-1,HH-1,Submit ACAT,Ops,NEAR_BREACH,2023-12-02T09:00:00Z,2024-01-20T09:00:00Z,T-1\n" +
		"T-3,WF-1,HH-1,Transition complete,Ops,PENDING,2023-12-02T09:00:00Z,2024-01-15T09:00:00Z,T-2\n" +
		"T-4,WF-2,HH-2,Compliance review,Compliance,BREACHED,2023-11-20T09:00:00Z,2024-02-01T09:00:00Z,\n",
	importer.AuditEventsFile: `{"timestamp":"2023-12-03T10:00:00Z","actor":"ops.bob","actor_role":"ops","event_type":"TASK_UPDATED","entity_type":"task","entity_id":"T-2","payload":{"note":"chased"}}` + "\n\n" +
		`{"timestamp":"2023-12-01T10:00:00Z","actor":"","actor_role":"system","event_type":"WORKFLOW_STARTED","entity_type":"workflow","entity_id":"WF-1","payload":"kickoff"}` + "\n",
}

func TestImportDataset(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	dir := writeDataset(t, demoFiles)

	sum, err := importer.Import(ctx, eng, dir)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	want := importer.Summary{Advisors: 1, Households: 2, Accounts: 2, Workflows: 2, Tasks: 4, Documents: 3, AuditEvents: 2}
	if sum != want {
		t.Fatalf("unexpected summary %+v", sum)
	}

	items, err := eng.ListHouseholds(ctx, repo.HouseholdFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].Household.Name != "Jones Joint Account" {
		t.Fatalf("expected Jones first by risk, got %+v", items)
	}
	jones, smith := items[0], items[1]
	if jones.Household.RiskScore == nil || *jones.Household.RiskScore != 71.5 {
		t.Fatalf("unexpected jones risk %v", jones.Household.RiskScore)
	}
	if smith.Household.ETADate == nil || *smith.Household.ETADate != "2024-01-15" {
		t.Fatalf("expected ETA from the transition complete task, got %v", smith.Household.ETADate)
	}
	if jones.Household.ETADate == nil || *jones.Household.ETADate != "2024-02-01" {
		t.Fatalf("expected ETA from latest due date, got %v", jones.Household.ETADate)
	}
	if smith.TotalTasks != 3 || smith.CompletedTasks != 1 || smith.NIGOIssues != 1 {
		t.Fatalf("unexpected smith counts %+v", smith)
	}

	detail, err := eng.GetHousehold(ctx, smith.Household.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Advisor.Email != "jane.doe@example.com" || detail.Advisor.Channel != "bank_program" || detail.Advisor.ExperienceYears != 4 {
		t.Fatalf("unexpected advisor %+v", detail.Advisor)
	}
	types := map[string]string{}
	for _, a := range detail.Accounts {
		types[a.AccountNumber] = a.Type + "/" + a.Status
	}
	if types["111-222-333"] != "BROKERAGE/TRANSFER_IN_PROGRESS" || types["111-222-444"] != "IRA/PENDING" {
		t.Fatalf("unexpected accounts %v", types)
	}
	var flagged *domain.Document
	for i := range detail.Documents {
		if detail.Documents[i].NIGOStatus == domain.NIGODefectsFound {
			flagged = &detail.Documents[i]
		}
	}
	if flagged == nil || len(flagged.Defects) != 1 || flagged.Defects[0].Severity != "HIGH" || flagged.AccountID == nil {
		t.Fatalf("unexpected flagged document %+v", flagged)
	}

	byName := map[string]domain.Task{}
	for _, task := range detail.Tasks {
		byName[task.Name] = task
	}
	submit := byName["Submit ACAT"]
	if submit.Status != domain.TaskPending || submit.Priority != 2 || submit.OwnerRole != domain.RoleOps {
		t.Fatalf("unexpected submit task %+v", submit)
	}
	if submit.BlockedByTaskID == nil || *submit.BlockedByTaskID != byName["Gather KYC"].ID {
		t.Fatalf("expected submit blocked by KYC, got %v", submit.BlockedByTaskID)
	}
	if byName["Gather KYC"].CompletedAt == nil || byName["Gather KYC"].OwnerRole != domain.RoleAdvisor {
		t.Fatalf("unexpected kyc task %+v", byName["Gather KYC"])
	}

	wf, err := eng.Repo.GetWorkflow(ctx, *submit.WorkflowID)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if wf.StartedAt != "2023-12-01T09:00:00Z" || wf.TargetCompletionAt == nil || *wf.TargetCompletionAt != "2024-01-20T09:00:00Z" {
		t.Fatalf("unexpected workflow timing %+v", wf)
	}

	evts, err := eng.Repo.LatestAuditEvents(ctx, repo.AuditFilters{Limit: 10})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(evts) != 3 || evts[0].EventType != "DATA_IMPORTED" {
		t.Fatalf("unexpected audit trail %+v", evts)
	}
	if evts[2].EventType != "WORKFLOW_STARTED" || evts[2].ActorType != domain.ActorSystem || evts[2].ActorID != "system" {
		t.Fatalf("expected oldest imported event first, got %+v", evts[2])
	}
	if evts[1].ActorType != domain.ActorUser || evts[1].CreatedAt != "2023-12-03T10:00:00.000000Z" {
		t.Fatalf("unexpected imported event %+v", evts[1])
	}
}

func TestImportMissingFolder(t *testing.T) {
	eng := newEngine(t)
	_, err := importer.Import(context.Background(), eng, filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, engine.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestImportRequiresAdvisors(t *testing.T) {
	eng := newEngine(t)
	dir := writeDataset(t, map[string]string{importer.HouseholdsFile: "household_id,household_name\nHH-1,Smith\n"})
	_, err := importer.Import(context.Background(), eng, dir)
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	n, _ := eng.Repo.CountAuditEvents(context.Background())
	if n != 0 {
		t.Fatalf("expected nothing written, got %d audit events", n)
	}
}

func TestImportRejectsBadJSONL(t *testing.T) {
	eng := newEngine(t)
	files := map[string]string{
		importer.AdvisorsFile:    "advisor_id,advisor_name\nADV-1,Jane Doe\n",
		importer.AuditEventsFile: "{not json}\n",
	}
	_, err := importer.Import(context.Background(), eng, writeDataset(t, files))
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSeedIsDeterministicAndIdempotent(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	res, err := importer.Seed(ctx, eng)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if res.Skipped || res.Summary.Households != 3 || res.Summary.Accounts != 7 || res.Summary.Tasks != 6 || res.Summary.Documents != 3 {
		t.Fatalf("unexpected seed result %+v", res)
	}
	again, err := importer.Seed(ctx, eng)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if !again.Skipped {
		t.Fatalf("expected second seed to be skipped")
	}

	items, err := eng.ListHouseholds(ctx, repo.HouseholdFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	names := []string{items[0].Household.Name, items[1].Household.Name, items[2].Household.Name}
	if names[0] != "Jones Joint Account" || names[1] != "The Smith Family" || names[2] != "Dr. Emily Wong" {
		t.Fatalf("unexpected order %v", names)
	}
	smith := items[1]
	if smith.TotalTasks != 4 || smith.OpenTasks != 3 || smith.NIGOIssues != 1 {
		t.Fatalf("unexpected smith rollup %+v", smith)
	}

	// Completing a task from the seed goes through the normal engine path.
	detail, err := eng.GetHousehold(ctx, smith.Household.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	var open domain.Task
	for _, task := range detail.Tasks {
		if task.Name == "Open Accounts" {
			open = task
		}
	}
	if open.BlockedByTaskID == nil {
		t.Fatalf("expected Open Accounts to be blocked by KYC")
	}
	if _, err := eng.CompleteTask(ctx, engine.CompleteTaskOptions{
		TaskID: open.ID,
		Status: domain.TaskCompleted,
		Actor:  domain.Actor{Type: domain.ActorUser, ID: "tester"},
	}); err != nil {
		t.Fatalf("complete seeded task: %v", err)
	}
}

func TestNormalizers(t *testing.T) {
	if got := importer.NormalizeAccountType("Traditional IRA"); got != "IRA" {
		t.Fatalf("ira: %s", got)
	}
	if got := importer.NormalizeAccountType("taxable"); got != "BROKERAGE" {
		t.Fatalf("taxable: %s", got)
	}
	if got := importer.NormalizeAccountType("trust"); got != "TRUST" {
		t.Fatalf("trust: %s", got)
	}
	if got := importer.RiskScore(33, 34); got != 33.5 {
		t.Fatalf("risk: %v", got)
	}
	if status, defects := importer.NIGOFromLabel("ok", "ID"); status != domain.NIGOClean || defects != nil {
		t.Fatalf("clean: %s %v", status, defects)
	}
	if _, defects := importer.NIGOFromLabel("STALE_STATEMENT", "STATEMENT"); defects[0].Severity != "MEDIUM" {
		t.Fatalf("expected MEDIUM severity, got %+v", defects)
	}
	if got := importer.OwnerRole("Compliance"); got != domain.RoleCompliance {
		t.Fatalf("owner: %s", got)
	}
	if status, priority := importer.TaskStatus("BREACHED", ""); status != domain.TaskPending || priority != 3 {
		t.Fatalf("breached: %s %d", status, priority)
	}
	if status, priority := importer.TaskStatus("IN_PROGRESS", "NEAR_BREACH"); status != domain.TaskInProgress || priority != 2 {
		t.Fatalf("sla state column: %s %d", status, priority)
	}
}
