package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"transitionos/internal/config"
	"transitionos/internal/db"
	"transitionos/internal/domain"
	"transitionos/internal/engine"
	"transitionos/internal/migrate"
	"transitionos/internal/skills"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type serverOptions struct {
	skills  skills.Orchestrator
	env     string
	origins []string
}

func newTestServer(t *testing.T, opts ...func(*serverOptions)) (*testServer, func()) {
	t.Helper()
	o := serverOptions{skills: skills.Stub(), env: "TEST"}
	for _, fn := range opts {
		fn(&o)
	}
	cfg := config.Default()
	cfg.Environment = o.env
	conn, err := db.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:      e,
		Skills:      o.skills,
		BasePath:    "/api",
		CORSOrigins: o.origins,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type seeded struct {
	advisorID   int64
	householdID int64
	accountID   int64
}

func seedHousehold(t *testing.T, e engine.Engine) seeded {
	t.Helper()
	ctx := context.Background()
	advisorID, err := e.Repo.InsertAdvisor(ctx, nil, domain.Advisor{Name: "Jane Doe", Email: "jane.doe@example.com"})
	if err != nil {
		t.Fatalf("insert advisor: %v", err)
	}
	householdID, err := e.Repo.InsertHousehold(ctx, nil, domain.Household{AdvisorID: advisorID, Name: "The Smith Family"})
	if err != nil {
		t.Fatalf("insert household: %v", err)
	}
	accountID, err := e.Repo.InsertAccount(ctx, nil, domain.Account{
		HouseholdID:   householdID,
		AccountNumber: "111-222-333",
		Type:          "IRA",
		Custodian:     "SCHWAB",
		AssetValue:    decimal.RequireFromString("500000"),
	})
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
	return seeded{advisorID: advisorID, householdID: householdID, accountID: accountID}
}

func createWorkflow(t *testing.T, srv *testServer, s seeded) WorkflowCreatedResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/workflows", map[string]any{
		"advisor_id":    s.advisorID,
		"workflow_type": "RECRUITED_ADVISOR",
		"household_id":  s.householdID,
		"tasks": []map[string]any{
			{"name": "Gather KYC documents", "owner_role": "ADVISOR"},
			{"name": "Open accounts", "blocked_by_index": 0},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create workflow: %d %s", res.StatusCode, string(data))
	}
	var created WorkflowCreatedResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}
	return created
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestCORSCredentials(t *testing.T) {
	cases := []struct {
		name    string
		origins []string
		want    string
	}{
		{"default", nil, ""},
		{"wildcard", []string{"*"}, ""},
		{"explicit", []string{"https://console.example.com"}, "true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, cleanup := newTestServer(t, func(o *serverOptions) { o.origins = tc.origins })
			defer cleanup()
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/health/live", nil)
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			req.Header.Set("Origin", "https://console.example.com")
			res, err := srv.Client().Do(req)
			if err != nil {
				t.Fatalf("do request: %v", err)
			}
			res.Body.Close()
			if res.Header.Get("Access-Control-Allow-Origin") == "" {
				t.Fatalf("origin should be allowed, headers %v", res.Header)
			}
			if got := res.Header.Get("Access-Control-Allow-Credentials"); got != tc.want {
				t.Fatalf("allow-credentials = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHealthProbes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health/live", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"UP"`) {
		t.Fatalf("live: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health/ready", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"READY"`) {
		t.Fatalf("ready: %d %s", res.StatusCode, string(data))
	}

	srv.Engine.DB.Close()
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health/ready", nil, nil)
	if res.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(data), `"NOT_READY"`) {
		t.Fatalf("expected 503 NOT_READY, got %d %s", res.StatusCode, string(data))
	}
}

func TestCompleteTaskOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seedHousehold(t, srv.Engine)
	created := createWorkflow(t, srv, s)
	if created.Status != "OK" || created.Data.Status != "INITIATED" || created.Data.Message != "Onboarding started for Jane Doe" {
		t.Fatalf("unexpected create response %+v", created.Data)
	}
	taskID := created.Data.Tasks[0].ID
	url := fmt.Sprintf("%s/api/tasks/%d/complete", srv.URL, taskID)
	headers := map[string]string{"X-Actor-Type": "BOT", "X-Actor-Id": "openclaw"}

	res, data := doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"status": "IN_PROGRESS"}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"status": "COMPLETED", "note": "all docs in"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var done CompleteTaskResponse
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if done.Status != domain.TaskCompleted || done.ID != taskID {
		t.Fatalf("unexpected task %+v", done.Task)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"status": "COMPLETED"}, headers)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "conflict" {
		t.Fatalf("expected 409 conflict, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/api/audit-events?event_type=TASK_COMPLETED", srv.URL), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit: %d %s", res.StatusCode, string(data))
	}
	var audit paginatedAuditEvents
	_ = json.Unmarshal(data, &audit)
	if len(audit.Items) != 1 || audit.Items[0].ActorType != "BOT" || audit.Items[0].ActorID != "openclaw" {
		t.Fatalf("expected one BOT completion event, got %+v", audit.Items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/tasks/9999/complete", map[string]any{"status": "COMPLETED"}, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestRejectsUnknownActorType(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seedHousehold(t, srv.Engine)
	created := createWorkflow(t, srv, s)
	url := fmt.Sprintf("%s/api/tasks/%d/complete", srv.URL, created.Data.Tasks[0].ID)
	res, data := doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"status": "COMPLETED"}, map[string]string{"X-Actor-Type": "ROBOT"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestCreateWorkflowValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seedHousehold(t, srv.Engine)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/workflows", map[string]any{"advisor_name": "Jane Doe"}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing fields, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/workflows", map[string]any{"advisor_id": s.advisorID + 100, "workflow_type": "RECRUITED_ADVISOR"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown advisor, got %d %s", res.StatusCode, string(data))
	}
}

func TestCreateWorkflowMessageNamesAdvisor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seedHousehold(t, srv.Engine)

	created := createWorkflow(t, srv, s)
	if created.Data.Message != "Onboarding started for Jane Doe" {
		t.Fatalf("unexpected default message %q", created.Data.Message)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/workflows", map[string]any{
		"advisor_id":    s.advisorID,
		"advisor_name":  "Dr. Jane Doe, CFP",
		"workflow_type": "RECRUITED_ADVISOR",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create workflow: %d %s", res.StatusCode, string(data))
	}
	var named WorkflowCreatedResponse
	_ = json.Unmarshal(data, &named)
	if named.Data.Message != "Onboarding started for Dr. Jane Doe, CFP" {
		t.Fatalf("advisor_name not used: %q", named.Data.Message)
	}
}

func TestWorkflowDashboardAndBlocker(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seedHousehold(t, srv.Engine)
	created := createWorkflow(t, srv, s)
	wfURL := fmt.Sprintf("%s/api/workflows/%d", srv.URL, created.Data.WorkflowID)

	res, data := doJSON(t, srv.Client(), http.MethodGet, wfURL, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: %d %s", res.StatusCode, string(data))
	}
	var dash WorkflowDashboardResponse
	_ = json.Unmarshal(data, &dash)
	if dash.Tasks.Total != 2 || dash.Tasks.Blocked != 1 || dash.Status != "IN_PROGRESS" || len(dash.Blockers) != 1 {
		t.Fatalf("unexpected dashboard %+v", dash)
	}

	first, second := created.Data.Tasks[0].ID, created.Data.Tasks[1].ID
	res, data = doJSON(t, srv.Client(), http.MethodPut, fmt.Sprintf("%s/api/tasks/%d/blocker", srv.URL, first), map[string]any{"blocked_by_task_id": second}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected cycle conflict, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPut, fmt.Sprintf("%s/api/tasks/%d/blocker", srv.URL, second), `{"blocked_by_task_id": null}`, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear blocker: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPut, fmt.Sprintf("%s/api/tasks/%d/blocker", srv.URL, second), `{}`, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without field, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, wfURL+"/tasks", map[string]any{"name": "Schedule strategy meeting", "sla_state": "BREACHED"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add task: %d %s", res.StatusCode, string(data))
	}
	var task domain.Task
	_ = json.Unmarshal(data, &task)
	if task.Priority != 3 || task.WorkflowID == nil || *task.WorkflowID != created.Data.WorkflowID {
		t.Fatalf("unexpected task %+v", task)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/workflows/999", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestTransitionsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seedHousehold(t, srv.Engine)
	created := createWorkflow(t, srv, s)
	doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/api/tasks/%d/complete", srv.URL, created.Data.Tasks[0].ID), map[string]any{"status": "COMPLETED"}, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/api/transitions?advisor_id=%d", srv.URL, s.advisorID), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var items []HouseholdSummaryResponse
	_ = json.Unmarshal(data, &items)
	if len(items) != 1 {
		t.Fatalf("expected one household, got %d", len(items))
	}
	h := items[0]
	if h.OpenTasksCount+h.CompletedTasksCount != h.TotalTasksCount || h.ProgressPercent != 50 {
		t.Fatalf("inconsistent counters %+v", h)
	}
	if h.AdvisorName != "Jane Doe" || h.AccountsCount != 1 {
		t.Fatalf("list should carry advisor name and account count, got %+v", h)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/api/transitions/%d", srv.URL, s.householdID), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detail: %d %s", res.StatusCode, string(data))
	}
	var detail HouseholdDetailResponse
	_ = json.Unmarshal(data, &detail)
	if detail.AdvisorName != "Jane Doe" || detail.AccountsCount != 1 || len(detail.Accounts) != 1 || len(detail.Tasks) != 2 {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if !detail.Accounts[0].AssetValue.Equal(decimal.RequireFromString("500000")) {
		t.Fatalf("asset value lost precision: %s", detail.Accounts[0].AssetValue)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/transitions/404", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestWebhooksOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seedHousehold(t, srv.Engine)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/webhooks/docusign", map[string]any{"household_id": s.householdID}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without event_type, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/webhooks/docusign", "{not json", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d %s", res.StatusCode, string(data))
	}
	if n, _ := srv.Engine.Repo.CountAuditEvents(context.Background()); n != 0 {
		t.Fatalf("rejected webhooks wrote %d audit events", n)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/webhooks/docusign", map[string]any{
		"event_type":    "DOCUMENT_UPLOADED",
		"household_id":  s.householdID,
		"document_name": "Transfer form.pdf",
		"document_type": "TOA",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upload: %d %s", res.StatusCode, string(data))
	}
	var uploaded WebhookResponse
	_ = json.Unmarshal(data, &uploaded)
	if uploaded.Status != "received" || uploaded.DocumentID == nil {
		t.Fatalf("unexpected upload response %+v", uploaded)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/webhooks/docusign", map[string]any{
		"event_type":  "ESIGN_COMPLETED",
		"document_id": *uploaded.DocumentID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("esign: %d %s", res.StatusCode, string(data))
	}
	doc, err := srv.Engine.Repo.GetDocument(context.Background(), *uploaded.DocumentID)
	if err != nil || doc.NIGOStatus != domain.NIGOClean {
		t.Fatalf("expected CLEAN document, got %+v (%v)", doc, err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/webhooks/custodian", map[string]any{
		"event_type": "ACAT_REJECTED",
		"account_id": "111-222-333",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("acat: %d %s", res.StatusCode, string(data))
	}
	var rejected WebhookResponse
	_ = json.Unmarshal(data, &rejected)
	if rejected.TaskID == nil {
		t.Fatalf("expected a remediation task, got %+v", rejected)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/webhooks/crm", map[string]any{"event_type": "SOMETHING_NEW"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unknown event type must succeed, got %d %s", res.StatusCode, string(data))
	}
}

func TestSkillsEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/predictions/eta/1", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"score":0.85`) {
		t.Fatalf("eta: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/households/3/meeting-pack", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"READY"`) {
		t.Fatalf("meeting pack: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/documents/1/validate", nil, nil)
	if res.StatusCode != http.StatusNotImplemented || errorCode(t, data) != "not_implemented" {
		t.Fatalf("validate: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/communications/draft", map[string]any{"template_type": "Welcome"}, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "Update regarding Welcome") {
		t.Fatalf("draft: %d %s", res.StatusCode, string(data))
	}
}

func TestSkillsDisabled(t *testing.T) {
	srv, cleanup := newTestServer(t, func(o *serverOptions) { o.skills = skills.Disabled() })
	defer cleanup()
	for _, path := range []string{"/api/predictions/eta/1", "/api/households/1/meeting-pack", "/api/documents/1/extract"} {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+path, nil, nil)
		if res.StatusCode != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d %s", path, res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/entity/match", map[string]any{}, nil)
	if res.StatusCode != http.StatusNotImplemented {
		t.Fatalf("entity match: expected 501, got %d %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "/api/tasks/{task_id}/complete") {
		t.Fatalf("openapi document missing completion route")
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("docs: %d", res.StatusCode)
	}
}
