package handlers

import (
	"net/http"

	"genpipe/internal/domain"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	active := 0
	if a.Orchestrator != nil {
		for _, j := range a.Orchestrator.List() {
			if !j.Phase.Terminal() && j.Phase != domain.PhaseIdle {
				active++
			}
		}
	}
	a.json(w, http.StatusOK, map[string]any{"status": "ok", "active_jobs": active})
}
