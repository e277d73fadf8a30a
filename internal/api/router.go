package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/convrelay/internal/relay"
)

// RouterConfig wires the relay into an HTTP handler.
type RouterConfig struct {
	Server      *relay.Server
	InstanceID  string
	WSPath      string                          // default /ws
	MetricsPath string                          // default /metrics
	Guard       func(http.Handler) http.Handler // wraps the upgrade endpoint; nil leaves it open
	Checks      map[string]CheckFunc            // health probes by dependency name
	CORSOrigins []string                        // for /api; empty allows any origin
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewRouter builds the relay's HTTP handler.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &handler{
		hub:        cfg.Server.Hub(),
		instanceID: cfg.InstanceID,
		checks:     cfg.Checks,
		now:        cfg.Now,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(cfg.Logger.With("component", "http")))
	r.Use(chimw.Recoverer)

	var ws http.Handler = cfg.Server
	if cfg.Guard != nil {
		ws = cfg.Guard(ws)
	}
	r.Method(http.MethodGet, cfg.WSPath, ws)

	r.Get("/health", h.health)
	r.Handle(cfg.MetricsPath, promhttp.Handler())

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization"},
			MaxAge:         300,
		}))
		r.Use(chimw.SetHeader("Cache-Control", "no-store"))

		r.Get("/presence", h.presence)
		r.Get("/conversations/{id}/sessions", h.conversationSessions)
	})

	return r
}
