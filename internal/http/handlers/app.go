package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"genpipe/internal/feedback"
	"genpipe/internal/generation"
	"genpipe/internal/infra"
	"genpipe/internal/metrics"
	"genpipe/internal/middleware"
	"genpipe/internal/policy"
	"genpipe/internal/storage"
	"genpipe/internal/transport"

	"github.com/rs/zerolog"
)

const (
	maxJSONBody      = 1 << 20
	maxMultipartBody = 32 << 20
	archiveTimeout   = 2 * time.Minute
)

// App holds the collaborators shared by the gateway handlers.
type App struct {
	Config       *infra.Config
	Logger       zerolog.Logger
	Orchestrator *generation.Orchestrator
	Upstream     *transport.Client
	Policies     *policy.Set
	Metrics      *metrics.Collector
	Store        *storage.FileStore

	archives sync.WaitGroup
}

// NewApp wires an App. A nil policy set falls back to the built-in defaults.
func NewApp(cfg *infra.Config, logger zerolog.Logger, orch *generation.Orchestrator, upstream *transport.Client, policies *policy.Set, m *metrics.Collector, store *storage.FileStore) *App {
	if policies == nil {
		policies = policy.Defaults()
	}
	return &App{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orch,
		Upstream:     upstream,
		Policies:     policies,
		Metrics:      m,
		Store:        store,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

func (a *App) printer(r *http.Request) *feedback.Printer {
	return feedback.For(middleware.LocaleFromContext(r.Context()))
}

func (a *App) storageBaseURL() string {
	if a.Config == nil {
		return ""
	}
	return a.Config.StorageBaseURL
}
