package engine

import (
	"database/sql"
	"time"

	"transitionos/internal/config"
	"transitionos/internal/events"
	"transitionos/internal/repo"
)

// Engine owns every state-changing operation. Each mutation runs in one
// transaction together with exactly one audit event.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) nowString() string {
	return e.now().Format(time.RFC3339)
}

// writer returns the audit writer sharing the engine clock.
func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) policies() config.Policies {
	if e.Config == nil {
		return config.Policies{}
	}
	return e.Config.Policies
}
