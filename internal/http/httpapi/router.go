package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"studio/internal/http/handlers"
	"studio/internal/infra"
	"studio/internal/middleware"
)

// NewRouter wires the studio API. Run starts are rate limited because each
// run fans out several expensive generation calls.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimiddleware.RealIP, chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.Logger(logger))

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/products", app.ListProducts)

	r.Route("/v1/runs", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/", app.StartRun)
		r.Get("/{id}", app.GetRun)
		r.Get("/{id}/export", app.ExportRun)
		r.Get("/{id}/assets/{name}/download", app.DownloadAsset)
		r.Post("/{id}/details", app.GenerateDetails)
		r.Post("/{id}/mockups/{productID}/retry", app.RetryMockup)
	})

	return r
}
