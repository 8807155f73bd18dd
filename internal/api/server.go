package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/config"
	"github.com/snarg/speaker-id/internal/database"
	"github.com/snarg/speaker-id/internal/metrics"
	"github.com/snarg/speaker-id/internal/mqttclient"
	"github.com/snarg/speaker-id/internal/speaker"
)

// ServerOptions carries the collaborators the HTTP layer serves.
type ServerOptions struct {
	Config *config.Config
	Store  *speaker.Store
	Engine *speaker.Engine

	// Optional; nil when not configured.
	DB    *database.DB
	MQTT  *mqttclient.Client
	Inbox WatcherStatusProvider
	// Samples serves stored enrollment audio; the download route is only
	// mounted when set.
	Samples SampleReader

	// StorageType names the sample store backend for the health check.
	StorageType string
	OpenAPISpec []byte
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(opts.Log))
	r.Use(Recoverer)
	r.Use(CORSWithOrigins(cfg.AllowedOrigins()))
	r.Use(metrics.InstrumentHandler)

	health := NewHealthHandler(opts.Store, opts.DB, opts.MQTT, opts.Inbox, opts.StorageType, opts.Version, opts.StartTime)
	speakers := NewSpeakersHandler(opts.Store, cfg.MaxUploadBytes(), opts.Log)
	ident := NewIdentifyHandler(opts.Engine, cfg.MaxUploadBytes(), opts.Log)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Read-only routes, no auth
		r.Get("/health", health.ServeHTTP)
		if len(opts.OpenAPISpec) > 0 {
			r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/yaml")
				w.Write(opts.OpenAPISpec)
			})
		}
		r.Get("/speakers", speakers.List)
		r.Get("/speakers/{id}", speakers.Get)

		// Mutating and identification routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			r.Post("/speakers", speakers.Create)
			r.Patch("/speakers/{id}", speakers.Rename)
			r.Delete("/speakers/{id}", speakers.Delete)
			r.Post("/speakers/{id}/samples", speakers.AddSample)
			if opts.Samples != nil {
				r.Get("/speakers/{id}/samples/{file}", NewSamplesHandler(opts.Store, opts.Samples, opts.Log).Get)
			}
			r.Post("/identify", ident.Identify)
			r.Post("/compare", ident.Compare)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
