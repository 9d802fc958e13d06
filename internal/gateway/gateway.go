// Package gateway serves the chat front door: a keyword agent over HTTP and
// WebSocket plus thin proxies onto the core API.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"transitionos/internal/telemetry"
	transitionsdk "transitionos/sdk/go"
)

// Source tags every chat reply.
const Source = "openclaw"

// Config wires the gateway.
type Config struct {
	Backend        *transitionsdk.Client
	AllowedOrigins []string
	Logger         *slog.Logger
	Telemetry      *telemetry.Provider
}

type gateway struct {
	backend *transitionsdk.Client
	agent   *Agent
	origins []string
	logger  *slog.Logger
}

type chatRequest struct {
	Message   *string        `json:"message"`
	SessionID string         `json:"session_id"`
	Context   map[string]any `json:"context"`
}

type chatResponse struct {
	Response  string         `json:"response"`
	Data      map[string]any `json:"data"`
	SessionID string         `json:"session_id"`
	Source    string         `json:"source"`
}

type socketMessage struct {
	Type    string         `json:"type"`
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

// New builds the gateway router.
func New(cfg Config) (http.Handler, error) {
	if cfg.Backend == nil {
		return nil, errors.New("gateway: backend client is required")
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &gateway{
		backend: cfg.Backend,
		agent:   NewAgent(cfg.Backend),
		origins: origins,
		logger:  logger.With("component", "gateway"),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           300,
	}))
	r.Use(telemetry.Middleware(cfg.Telemetry, logger, "gateway"))

	r.Get("/", g.handleSocket)
	r.Get("/health", g.handleHealth)
	r.Post("/chat", g.handleChat)
	r.Post("/workflows/create", g.handleCreateWorkflow)
	r.Get("/workflows/{workflowID}", g.proxy(func(ctx context.Context, r *http.Request) (json.RawMessage, error) {
		return g.backend.GetWorkflow(ctx, chi.URLParam(r, "workflowID"))
	}))
	r.Get("/households", g.proxy(func(ctx context.Context, r *http.Request) (json.RawMessage, error) {
		q := r.URL.Query()
		return g.backend.ListTransitionsRaw(ctx, transitionsdk.TransitionFilters{
			AdvisorID: q.Get("advisor_id"),
			Status:    q.Get("status"),
		})
	}))
	r.Get("/households/{householdID}", g.proxy(func(ctx context.Context, r *http.Request) (json.RawMessage, error) {
		return g.backend.GetTransition(ctx, chi.URLParam(r, "householdID"))
	}))
	r.Get("/households/{householdID}/meeting-pack", g.proxy(func(ctx context.Context, r *http.Request) (json.RawMessage, error) {
		return g.backend.MeetingPack(ctx, chi.URLParam(r, "householdID"))
	}))
	r.Get("/predictions/eta/{householdID}", g.proxy(func(ctx context.Context, r *http.Request) (json.RawMessage, error) {
		return g.backend.PredictETA(ctx, chi.URLParam(r, "householdID"))
	}))
	r.Post("/tasks/{taskID}/complete", g.handleCompleteTask)
	r.Post("/documents/validate", g.handleValidateDocument)
	return r, nil
}

func (g *gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "OK",
		"backend_url": g.backend.BaseURL,
	}
	health, err := g.backend.Health(r.Context())
	if err != nil {
		g.logger.WarnContext(r.Context(), "backend health check failed", "error", err)
		resp["status"] = "DEGRADED"
		resp["backend"] = map[string]any{"status": "DOWN", "error": err.Error()}
	} else {
		resp["backend"] = health
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
		return
	}
	if req.Message == nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "message is required", map[string]any{"field": "message"})
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	reply, err := g.agent.Respond(r.Context(), *req.Message)
	if err != nil {
		g.backendError(w, r, err)
		return
	}
	g.logger.InfoContext(r.Context(), "chat answered", "session_id", sessionID)
	writeJSON(w, http.StatusOK, chatResponse{
		Response:  reply.Response,
		Data:      reply.Data,
		SessionID: sessionID,
		Source:    Source,
	})
}

func (g *gateway) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
		return
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	out, err := g.backend.CreateWorkflow(r.Context(), payload)
	if err != nil {
		g.backendError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (g *gateway) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
		return
	}
	task, err := g.backend.CompleteTask(r.Context(), chi.URLParam(r, "taskID"), body.Note)
	if err != nil {
		g.backendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (g *gateway) handleValidateDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentID json.Number `json:"document_id"`
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
		return
	}
	if _, err := strconv.ParseInt(body.DocumentID.String(), 10, 64); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "document_id must be an integer", map[string]any{"field": "document_id"})
		return
	}
	out, err := g.backend.ValidateDocument(r.Context(), body.DocumentID.String())
	if err != nil {
		g.backendError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (g *gateway) proxy(call func(ctx context.Context, r *http.Request) (json.RawMessage, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := call(r.Context(), r)
		if err != nil {
			g.backendError(w, r, err)
			return
		}
		writeRaw(w, http.StatusOK, out)
	}
}

func (g *gateway) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originHosts(g.origins),
	})
	if err != nil {
		return
	}
	g.logger.InfoContext(r.Context(), "ws: client connected")
	defer func() {
		g.logger.InfoContext(r.Context(), "ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				g.logger.WarnContext(ctx, "ws: read error, closing", "error", err)
			}
			return
		}
		msg := socketContent(raw)
		var out socketMessage
		reply, err := g.agent.Respond(ctx, msg)
		if err != nil {
			g.logger.WarnContext(ctx, "ws: agent error", "error", err)
			out = socketMessage{Type: "error", Content: "OpenClaw error", Detail: err.Error()}
		} else {
			out = socketMessage{Type: "assistant", Content: reply.Response, Data: reply.Data}
		}
		if err := wsjson.Write(ctx, conn, out); err != nil {
			g.logger.WarnContext(ctx, "ws: write error", "error", err)
			return
		}
	}
}

// socketContent accepts either {"content": "..."} or plain text.
func socketContent(raw []byte) string {
	var frame struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(raw, &frame); err == nil && frame.Content != nil {
		return *frame.Content
	}
	return string(raw)
}

func (g *gateway) backendError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *transitionsdk.APIError
	if errors.As(err, &apiErr) {
		g.logger.WarnContext(r.Context(), "backend rejected request", "status", apiErr.StatusCode)
		body := strings.TrimSpace(apiErr.Body)
		if json.Valid([]byte(body)) && body != "" {
			writeRaw(w, apiErr.StatusCode, json.RawMessage(body))
			return
		}
		writeError(w, apiErr.StatusCode, "backend_error", body, nil)
		return
	}
	g.logger.ErrorContext(r.Context(), "backend unreachable", "error", err)
	writeError(w, http.StatusBadGateway, "backend_unavailable", "backend request failed", map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// originHosts turns CORS origins into the host patterns the socket
// handshake matches against.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		out = append(out, strings.TrimRight(o, "/"))
	}
	return out
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
