package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"transitionos/internal/db"
	"transitionos/internal/engine"
	"transitionos/internal/repo"
	"transitionos/internal/skills"
	"transitionos/internal/telemetry"
)

// Version is reported by the liveness probe and the OpenAPI document.
const Version = "1.0.0"

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	Skills      skills.Orchestrator
	BasePath    string
	CORSOrigins []string
	Logger      *slog.Logger
	Telemetry   *telemetry.Provider
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"task 12 already completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// handler carries what every operation needs.
type handler struct {
	engine engine.Engine
	skills skills.Orchestrator
	logger *slog.Logger
	dev    bool
}

// New returns an HTTP handler exposing the Transition OS API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Skills.Workflows == nil {
		cfg.Skills = skills.Disabled()
	}
	h := &handler{
		engine: cfg.Engine,
		skills: cfg.Skills,
		logger: logger.With("component", "api"),
		dev:    cfg.Engine.Config != nil && cfg.Engine.Config.IsDev(),
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are malformed requests.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{telemetry.RequestIDHeader},
		AllowCredentials: !allowsAnyOrigin(origins),
	}))
	router.Use(telemetry.Middleware(cfg.Telemetry, h.logger, "transitionos"))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(actorMiddleware)

	hcfg := huma.DefaultConfig("Transition OS API", Version)
	hcfg.OpenAPIPath = "" // served by registerOpenAPI
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router)
	registerHealth(api, h)
	registerWorkflows(group, h)
	registerTasks(group, h)
	registerTransitions(group, h)
	registerAudit(group, h)
	registerWebhooks(group, h)
	registerSkills(group, h)
	registerOpenAPI(router, api)

	return router, nil
}

// allowsAnyOrigin reports a wildcard origin; browsers refuse credentials with it.
func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the error taxonomy onto HTTP statuses. Unexpected errors
// are logged in full and reported as a generic 500.
func (h *handler) handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, engine.ErrValidation):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, skills.ErrNotImplemented):
		return newAPIError(http.StatusNotImplemented, "not_implemented", msg, nil)
	}
	h.logger.ErrorContext(ctx, "internal error", "error", msg, "request_id", telemetry.RequestID(ctx))
	var details map[string]any
	if h.dev {
		details = map[string]any{"error": msg}
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", details)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusNotImplemented:
		return "not_implemented"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var spec []byte
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML() string {
	specURL := path.Join("/", "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Transition OS API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Attribute changes with X-Actor-Type and X-Actor-Id.
    </p>
  </body>
</html>`, specURL)
}

// readinessError is the 503 body of the readiness probe.
type readinessError struct {
	status int
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (e *readinessError) GetStatus() int { return e.status }
func (e *readinessError) Error() string  { return e.Status }

func registerHealth(api huma.API, h *handler) {
	huma.Register(api, huma.Operation{
		OperationID: "health-live",
		Method:      http.MethodGet,
		Path:        "/health/live",
		Summary:     "Liveness probe",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body LivenessResponse `json:"body"`
	}, error) {
		return &struct {
			Body LivenessResponse `json:"body"`
		}{Body: LivenessResponse{Status: "UP", Version: Version}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "health-ready",
		Method:      http.MethodGet,
		Path:        "/health/ready",
		Summary:     "Readiness probe",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReadinessResponse `json:"body"`
	}, error) {
		if err := db.Ping(ctx, h.engine.DB); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "error", err)
			detail := ""
			if h.dev {
				detail = err.Error()
			}
			return nil, &readinessError{status: http.StatusServiceUnavailable, Status: "NOT_READY", Detail: detail}
		}
		return &struct {
			Body ReadinessResponse `json:"body"`
		}{Body: ReadinessResponse{Status: "READY"}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
