// Package importer loads demo datasets into the store.
package importer

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"transitionos/internal/domain"
	"transitionos/internal/engine"
	"transitionos/internal/events"
	"transitionos/internal/repo"
)

// Dataset file names inside the data directory.
const (
	AdvisorsFile    = "advisors.csv"
	HouseholdsFile  = "households.csv"
	AccountsFile    = "accounts.csv"
	TasksFile       = "tasks.csv"
	DocumentsFile   = "documents.csv"
	AuditEventsFile = "audit_events.jsonl"
)

// Summary counts the rows written by one import.
type Summary struct {
	Advisors    int `json:"advisors"`
	Households  int `json:"households"`
	Accounts    int `json:"accounts"`
	Workflows   int `json:"workflows"`
	Tasks       int `json:"tasks"`
	Documents   int `json:"documents"`
	AuditEvents int `json:"audit_events"`
}

type row map[string]string

func (r row) get(key string) string {
	return strings.TrimSpace(r[key])
}

type dataset struct {
	dir        string
	advisors   []row
	households []row
	accounts   []row
	tasks      []row
	documents  []row
	audit      []map[string]any
}

// Import reads the dataset in dir and writes it in one transaction. Rows that
// reference unknown households are skipped.
func Import(ctx context.Context, eng engine.Engine, dir string) (Summary, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Summary{}, fmt.Errorf("%w: dataset folder not found: %s", engine.ErrInvalidRequest, dir)
	}
	ds, err := load(dir)
	if err != nil {
		return Summary{}, err
	}
	if len(ds.advisors) == 0 {
		return Summary{}, fmt.Errorf("%w: %s has no advisors", engine.ErrValidation, AdvisorsFile)
	}

	now := clock(eng)
	w := eng.Events
	w.Now = func() time.Time { return now }

	tx, err := eng.DB.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, err
	}
	defer tx.Rollback()

	imp := &run{ctx: ctx, tx: tx, repo: eng.Repo, now: now, ds: ds}
	if err := imp.advisors(); err != nil {
		return Summary{}, err
	}
	if err := imp.households(); err != nil {
		return Summary{}, err
	}
	if err := imp.accounts(); err != nil {
		return Summary{}, err
	}
	if err := imp.documents(); err != nil {
		return Summary{}, err
	}
	if err := imp.tasks(); err != nil {
		return Summary{}, err
	}
	if err := imp.auditEvents(w); err != nil {
		return Summary{}, err
	}
	if _, err := w.Append(ctx, tx, events.Entry{
		Actor:      domain.SystemActor("importer"),
		EventType:  "DATA_IMPORTED",
		EntityType: "dataset",
		EntityID:   filepath.Base(dir),
		Payload: events.EventPayload{
			"advisors":     imp.sum.Advisors,
			"households":   imp.sum.Households,
			"accounts":     imp.sum.Accounts,
			"workflows":    imp.sum.Workflows,
			"tasks":        imp.sum.Tasks,
			"documents":    imp.sum.Documents,
			"audit_events": imp.sum.AuditEvents,
		},
	}); err != nil {
		return Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, err
	}
	return imp.sum, nil
}

func clock(eng engine.Engine) time.Time {
	if eng.Now != nil {
		return eng.Now().UTC()
	}
	return time.Now().UTC()
}

func load(dir string) (dataset, error) {
	ds := dataset{dir: dir}
	var err error
	if ds.advisors, err = loadCSV(filepath.Join(dir, AdvisorsFile)); err != nil {
		return ds, err
	}
	if ds.households, err = loadCSV(filepath.Join(dir, HouseholdsFile)); err != nil {
		return ds, err
	}
	if ds.accounts, err = loadCSV(filepath.Join(dir, AccountsFile)); err != nil {
		return ds, err
	}
	if ds.tasks, err = loadCSV(filepath.Join(dir, TasksFile)); err != nil {
		return ds, err
	}
	if ds.documents, err = loadCSV(filepath.Join(dir, DocumentsFile)); err != nil {
		return ds, err
	}
	if ds.audit, err = loadJSONL(filepath.Join(dir, AuditEventsFile)); err != nil {
		return ds, err
	}
	return ds, nil
}

// loadCSV reads a headed CSV file into rows keyed by column. A missing file
// yields no rows.
func loadCSV(path string) ([]row, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", engine.ErrValidation, filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	out := make([]row, 0, len(records)-1)
	for _, rec := range records[1:] {
		r := row{}
		for i, col := range header {
			if i < len(rec) {
				r[strings.TrimSpace(col)] = rec[i]
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func loadJSONL(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var item map[string]any
		if err := json.Unmarshal([]byte(text), &item); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", engine.ErrValidation, filepath.Base(path), line, err)
		}
		out = append(out, item)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type run struct {
	ctx  context.Context
	tx   *sql.Tx
	repo repo.Repo
	now  time.Time
	ds   dataset
	sum  Summary

	defaultAdvisor int64
	advisorIDs     map[string]int64
	householdIDs   map[string]int64
	accountIDs     map[string]int64
	workflowIDs    map[string]int64
}

func (r *run) advisors() error {
	r.advisorIDs = map[string]int64{}
	for _, rec := range r.ds.advisors {
		name := rec.get("advisor_name")
		if name == "" {
			name = "Demo Advisor"
		}
		channel := rec.get("channel")
		switch channel {
		case "independent", "bank_program", "acquisition":
		default:
			channel = "independent"
		}
		experience := 0
		if start, ok := parseTime(rec.get("start_date")); ok {
			experience = max(0, int(r.now.Sub(start).Hours()/24/365))
		}
		email := slugify(name) + "@example.com"
		id, err := r.upsertAdvisor(domain.Advisor{Name: name, Email: email, Channel: channel, ExperienceYears: experience})
		if err != nil {
			return err
		}
		key := rec.get("advisor_id")
		if key == "" {
			key = name
		}
		r.advisorIDs[key] = id
		if r.defaultAdvisor == 0 {
			r.defaultAdvisor = id
		}
	}
	return nil
}

func (r *run) upsertAdvisor(a domain.Advisor) (int64, error) {
	existing, err := r.repo.GetAdvisorByEmail(r.ctx, r.tx, a.Email)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return 0, err
	}
	id, err := r.repo.InsertAdvisor(r.ctx, r.tx, a)
	if err != nil {
		return 0, err
	}
	r.sum.Advisors++
	return id, nil
}

func (r *run) advisorFor(rec row) int64 {
	if id, ok := r.advisorIDs[rec.get("advisor_id")]; ok {
		return id
	}
	return r.defaultAdvisor
}

func (r *run) households() error {
	eta := householdETAs(r.ds.tasks)
	r.householdIDs = map[string]int64{}
	for _, rec := range r.ds.households {
		key := rec.get("household_id")
		name := rec.get("household_name")
		if name == "" {
			name = key
		}
		status := rec.get("status")
		switch status {
		case domain.HouseholdInProgress, domain.HouseholdAtRisk, domain.HouseholdCompleted:
		default:
			status = domain.HouseholdInProgress
		}
		risk := RiskScore(parseFloat(rec.get("stall_risk")), parseFloat(rec.get("attrition_risk")))
		h := domain.Household{
			AdvisorID: r.advisorFor(rec),
			Name:      name,
			Status:    status,
			RiskScore: &risk,
		}
		if due, ok := eta[key]; ok {
			d := due.UTC().Format(domain.DateLayout)
			h.ETADate = &d
		}
		id, err := r.repo.InsertHousehold(r.ctx, r.tx, h)
		if err != nil {
			return err
		}
		r.householdIDs[key] = id
		r.sum.Households++
	}
	return nil
}

func (r *run) accounts() error {
	r.accountIDs = map[string]int64{}
	for _, rec := range r.ds.accounts {
		householdID, ok := r.householdIDs[rec.get("household_id")]
		if !ok {
			continue
		}
		number := rec.get("account_id")
		if number == "" {
			number = fmt.Sprintf("ACC-%d-%d", householdID, r.sum.Accounts+1)
		}
		custodian := rec.get("delivering_institution")
		if custodian == "" {
			custodian = "Custodian Demo"
		}
		value, err := decimal.NewFromString(orDefault(rec.get("estimated_assets_usd"), "0"))
		if err != nil || value.IsNegative() {
			value = decimal.Zero
		}
		id, err := r.repo.InsertAccount(r.ctx, r.tx, domain.Account{
			HouseholdID:   householdID,
			AccountNumber: number,
			Type:          NormalizeAccountType(rec.get("account_type")),
			Custodian:     custodian,
			Status:        accountStatus(rec.get("status")),
			AssetValue:    value,
		})
		if err != nil {
			return err
		}
		r.accountIDs[number] = id
		r.sum.Accounts++
	}
	return nil
}

func (r *run) documents() error {
	created := r.now.Format(time.RFC3339)
	for _, rec := range r.ds.documents {
		householdID, ok := r.householdIDs[rec.get("household_id")]
		if !ok {
			continue
		}
		filename := orDefault(rec.get("filename"), "document.txt")
		docType := orDefault(rec.get("doc_type"), "OTHER")
		status, defects := NIGOFromLabel(rec.get("nigo_status"), docType)
		d := domain.Document{
			HouseholdID: householdID,
			Type:        docType,
			Name:        filename,
			StorageURL:  filepath.Join(r.ds.dir, "docs", filename),
			NIGOStatus:  status,
			Defects:     defects,
			CreatedAt:   created,
		}
		if acct, ok := r.accountIDs[rec.get("account_id")]; ok {
			d.AccountID = &acct
		}
		if _, err := r.repo.InsertDocument(r.ctx, r.tx, d); err != nil {
			return err
		}
		r.sum.Documents++
	}
	return nil
}

type workflowTiming struct {
	started time.Time
	target  time.Time
}

func (r *run) tasks() error {
	timings := map[string]*workflowTiming{}
	var order []string
	for _, rec := range r.ds.tasks {
		key := rec.get("workflow_id")
		t, ok := timings[key]
		if !ok {
			t = &workflowTiming{}
			timings[key] = t
			order = append(order, key)
		}
		if created, ok := parseTime(rec.get("created_at")); ok && (t.started.IsZero() || created.Before(t.started)) {
			t.started = created
		}
		if due, ok := parseTime(rec.get("due_at")); ok && due.After(t.target) {
			t.target = due
		}
	}

	r.workflowIDs = map[string]int64{}
	for _, key := range order {
		t := timings[key]
		label := key
		if label == "" {
			label = "WF"
		}
		wf := domain.Workflow{
			AdvisorID: r.defaultAdvisor,
			Name:      "Transition Workflow " + label,
			Type:      domain.WorkflowRecruitedAdvisor,
			StartedAt: r.now.Format(time.RFC3339),
		}
		if !t.started.IsZero() {
			wf.StartedAt = t.started.UTC().Format(time.RFC3339)
		}
		if !t.target.IsZero() {
			target := t.target.UTC().Format(time.RFC3339)
			wf.TargetCompletionAt = &target
		}
		id, err := r.repo.InsertWorkflow(r.ctx, r.tx, wf)
		if err != nil {
			return err
		}
		r.workflowIDs[key] = id
		r.sum.Workflows++
	}

	taskIDs := map[string]int64{}
	stamp := r.now.Format(time.RFC3339)
	for _, rec := range r.ds.tasks {
		workflowID := r.workflowIDs[rec.get("workflow_id")]
		status, priority := TaskStatus(rec.get("status"), rec.get("sla_state"))
		t := domain.Task{
			WorkflowID: &workflowID,
			Name:       orDefault(rec.get("task_name"), "Task"),
			OwnerRole:  OwnerRole(rec.get("owner_queue")),
			Status:     status,
			Priority:   priority,
			CreatedAt:  stamp,
			UpdatedAt:  stamp,
		}
		if hh, ok := r.householdIDs[rec.get("household_id")]; ok {
			t.HouseholdID = &hh
		}
		if due, ok := parseTime(rec.get("due_at")); ok {
			d := due.UTC().Format(time.RFC3339)
			t.SLADueAt = &d
		}
		if status == domain.TaskCompleted {
			t.CompletedAt = &stamp
		}
		id, err := r.repo.InsertTask(r.ctx, r.tx, t)
		if err != nil {
			return err
		}
		if key := rec.get("task_id"); key != "" {
			taskIDs[key] = id
		}
		r.sum.Tasks++
	}

	for _, rec := range r.ds.tasks {
		dep := rec.get("depends_on_task_id")
		if dep == "" {
			continue
		}
		id, ok := taskIDs[rec.get("task_id")]
		blocker, okB := taskIDs[dep]
		if !ok || !okB || id == blocker {
			continue
		}
		if err := r.repo.SetTaskBlocker(r.ctx, r.tx, id, &blocker, stamp); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) auditEvents(w events.Writer) error {
	items := append([]map[string]any(nil), r.ds.audit...)
	sort.SliceStable(items, func(i, j int) bool {
		a, _ := parseTime(stringField(items[i], "timestamp"))
		b, _ := parseTime(stringField(items[j], "timestamp"))
		return a.Before(b)
	})
	for _, item := range items {
		actorType := domain.ActorSystem
		switch strings.ToUpper(stringField(item, "actor_role")) {
		case domain.RoleOps, domain.RoleCompliance, domain.RoleAdvisor:
			actorType = domain.ActorUser
		}
		entry := events.Entry{
			Actor:      domain.Actor{Type: actorType, ID: orDefault(stringField(item, "actor"), "system")},
			EventType:  orDefault(stringField(item, "event_type"), "EVENT"),
			EntityType: stringField(item, "entity_type"),
			EntityID:   stringField(item, "entity_id"),
			Payload:    payloadOf(item["payload"]),
		}
		if at, ok := parseTime(stringField(item, "timestamp")); ok {
			entry.At = at
		}
		if _, err := w.Append(r.ctx, r.tx, entry); err != nil {
			return err
		}
		r.sum.AuditEvents++
	}
	return nil
}

// householdETAs picks each household's ETA: the due date of its
// "Transition complete" task when present, otherwise its latest due date.
func householdETAs(tasks []row) map[string]time.Time {
	out := map[string]time.Time{}
	final := map[string]bool{}
	for _, rec := range tasks {
		key := rec.get("household_id")
		due, ok := parseTime(rec.get("due_at"))
		if key == "" || !ok {
			continue
		}
		if rec.get("task_name") == "Transition complete" {
			out[key] = due
			final[key] = true
			continue
		}
		if final[key] {
			continue
		}
		if existing, ok := out[key]; !ok || due.After(existing) {
			out[key] = due
		}
	}
	return out
}

// RiskScore is the mean of the stall and attrition risks, rounded to one
// decimal and clamped to [0, 100].
func RiskScore(stall, attrition float64) float64 {
	v := math.Round((stall+attrition)/2*10) / 10
	return math.Max(0, math.Min(100, v))
}

// NormalizeAccountType folds source account types onto the stored set.
func NormalizeAccountType(raw string) string {
	t := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case t == "":
		return "OTHER"
	case strings.Contains(t, "TAXABLE"), strings.Contains(t, "BROKERAGE"):
		return "BROKERAGE"
	case strings.Contains(t, "IRA"):
		return "IRA"
	default:
		return t
	}
}

// NIGOFromLabel maps a source NIGO label onto a status and defect list.
func NIGOFromLabel(label, evidence string) (string, []domain.Defect) {
	l := strings.ToUpper(strings.TrimSpace(label))
	if l == "" || l == "OK" || l == domain.NIGOClean {
		return domain.NIGOClean, nil
	}
	severity := "MEDIUM"
	switch l {
	case "MISSING_SIGNATURE", "PLAN_TYPE_MISMATCH", "ILLEGIBLE":
		severity = "HIGH"
	}
	return domain.NIGODefectsFound, []domain.Defect{{Rule: l, Severity: severity, Evidence: evidence}}
}

// OwnerRole maps a work queue name onto an owner role.
func OwnerRole(queue string) string {
	switch strings.ToUpper(strings.TrimSpace(queue)) {
	case "", "OPS":
		return domain.RoleOps
	case "COMPLIANCE":
		return domain.RoleCompliance
	default:
		return domain.RoleAdvisor
	}
}

// TaskStatus resolves the stored status and priority. Source rows may carry
// an SLA state in the status column; those become PENDING tasks.
func TaskStatus(status, slaState string) (string, int) {
	s := strings.ToUpper(strings.TrimSpace(status))
	sla := strings.ToUpper(strings.TrimSpace(slaState))
	if sla == "" && !domain.ValidTaskStatus(s) {
		sla = s
	}
	if !domain.ValidTaskStatus(s) {
		s = domain.TaskPending
	}
	return s, domain.DerivePriority(sla)
}

func accountStatus(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case domain.AccountPending, domain.AccountOpen, domain.AccountTransferInProgress,
		domain.AccountTransferRejected, domain.AccountClosed:
		return s
	}
	return domain.AccountPending
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", domain.DateLayout}

func parseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseFloat(v string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func slugify(v string) string {
	var b strings.Builder
	for _, ch := range strings.ToLower(strings.TrimSpace(v)) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
		} else {
			b.WriteByte('.')
		}
	}
	parts := strings.FieldsFunc(b.String(), func(r rune) bool { return r == '.' })
	if len(parts) == 0 {
		return "demo"
	}
	return strings.Join(parts, ".")
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func payloadOf(v any) events.EventPayload {
	switch p := v.(type) {
	case map[string]any:
		return events.EventPayload(p)
	case nil:
		return events.EventPayload{}
	default:
		return events.EventPayload{"value": p}
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
