package handlers

import (
	"net/http"
)

// ServeMetrics serves the Prometheus exposition for the app's collector.
func (a *App) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	if a.Metrics == nil {
		a.error(w, http.StatusNotFound, "not_found", "metrics disabled")
		return
	}
	a.Metrics.Handler().ServeHTTP(w, r)
}
