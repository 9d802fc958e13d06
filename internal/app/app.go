// Package app wires configuration, logging, telemetry and storage into the
// runnable API and gateway.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"transitionos/internal/config"
	"transitionos/internal/db"
	"transitionos/internal/engine"
	"transitionos/internal/gateway"
	"transitionos/internal/migrate"
	"transitionos/internal/server"
	"transitionos/internal/skills"
	"transitionos/internal/telemetry"
	transitionsdk "transitionos/sdk/go"
)

// ShutdownTimeout bounds graceful shutdown of a server.
const ShutdownTimeout = 5 * time.Second

// Observability is the logger and telemetry provider shared by a process.
type Observability struct {
	Logger    *slog.Logger
	Telemetry *telemetry.Provider
}

// NewObservability builds the process logger and starts telemetry when enabled.
func NewObservability(ctx context.Context, cfg *config.Config, logOut io.Writer) (Observability, error) {
	logger := telemetry.NewLogger(logOut, cfg.LogLevel, cfg.Environment)
	tcfg := cfg.Telemetry
	if tcfg.ServiceName == "" {
		tcfg.ServiceName = "transitionos"
	}
	tp, err := telemetry.InitOTel(ctx, tcfg)
	if err != nil {
		return Observability{}, fmt.Errorf("init telemetry: %w", err)
	}
	return Observability{Logger: logger, Telemetry: tp}, nil
}

// Shutdown flushes telemetry.
func (o Observability) Shutdown(ctx context.Context) error {
	if o.Telemetry == nil {
		return nil
	}
	return o.Telemetry.Shutdown(ctx)
}

// App is an opened, migrated store with the engine on top.
type App struct {
	Config *config.Config
	Observability
	DB     *sql.DB
	Engine engine.Engine
}

// Open opens the configured database, applies migrations and builds the engine.
func Open(ctx context.Context, cfg *config.Config, obs Observability) (*App, error) {
	conn, err := db.Open(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if obs.Logger == nil {
		obs.Logger = slog.Default()
	}
	return &App{
		Config:        cfg,
		Observability: obs,
		DB:            conn,
		Engine:        engine.New(conn, cfg),
	}, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

// Handler builds the core API handler.
func (a *App) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:      a.Engine,
		Skills:      skills.New(a.Config.Skills.EnableStubs),
		BasePath:    a.Config.API.BasePath,
		CORSOrigins: a.Config.API.CORSAllowOrigins,
		Logger:      a.Logger,
		Telemetry:   a.Telemetry,
	})
}

// BackendClient returns the client the gateway uses to reach the core API.
// Its calls are attributed to the openclaw bot.
func BackendClient(cfg *config.Config) *transitionsdk.Client {
	c := transitionsdk.New(cfg.Gateway.BackendURL)
	c.BasePath = cfg.API.BasePath
	c.APIKey = cfg.Gateway.BackendAPIKey
	c.ActorType = "BOT"
	c.ActorID = gateway.Source
	return c
}

// GatewayHandler builds the chat gateway handler.
func GatewayHandler(cfg *config.Config, obs Observability) (http.Handler, error) {
	return gateway.New(gateway.Config{
		Backend:        BackendClient(cfg),
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		Logger:         obs.Logger,
		Telemetry:      obs.Telemetry,
	})
}

// Addr joins a host and port.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, handler, logger)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()
	logger.Info("listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
