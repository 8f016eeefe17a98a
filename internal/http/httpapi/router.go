package httpapi

import (
	"net/http"
	"time"

	"genpipe/internal/http/handlers"
	"genpipe/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const healthPath = "/v1/healthz"

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	var (
		origins   []string
		rateLimit int
		secret    string
		locale    = "en"
	)
	if cfg := app.Config; cfg != nil {
		origins = cfg.AllowedOrigins
		rateLimit = cfg.RateLimitPerMin
		secret = cfg.JWTSecret
		locale = cfg.DefaultLocale
	}

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(&app.Logger),
		middleware.CORS(origins),
	)

	r.Get(healthPath, app.Health)
	r.Get("/metrics", app.ServeMetrics)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	if app.Store != nil {
		r.Handle("/results/*", http.StripPrefix("/results/", http.FileServer(http.Dir(app.Store.BasePath()))))
	}

	r.Group(func(r chi.Router) {
		if secret != "" {
			r.Use(middleware.AuthJWT(secret))
		}
		r.Use(
			middleware.I18N(locale),
			middleware.RateLimit(rateLimit, time.Minute),
		)

		r.Route("/v1/generations", func(r chi.Router) {
			r.Get("/", app.GenerationList)
			r.Post("/{key}", app.GenerationStart)
			r.Get("/{key}", app.GenerationStatus)
			r.Delete("/{key}", app.GenerationCancel)
			r.Get("/{key}/events", app.GenerationEvents)
			r.Post("/{key}/reset", app.GenerationReset)
		})
		r.Post("/v1/mutations", app.Mutate)
	})

	return r
}
