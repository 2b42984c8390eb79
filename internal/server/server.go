package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/stridesync/stridesync/internal/fitbit"
	"github.com/stridesync/stridesync/internal/tracker"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	tracker *tracker.Tracker
	oauth   *oauth2.Config
	tokens  *fitbit.TokenStore
	log     *slog.Logger
	apiKey  string
	router  chi.Router

	mu         sync.Mutex
	oauthState string
}

// New creates a new Server with all routes configured.
func New(tr *tracker.Tracker, oauth *oauth2.Config, tokens *fitbit.TokenStore, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		tracker: tr,
		oauth:   oauth,
		tokens:  tokens,
		log:     log,
		apiKey:  apiKey,
		router:  chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	// Sync trigger (API key required)
	s.router.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))
		r.Post("/", s.handleSync)
	})

	// Read endpoints, no auth required
	s.router.Get("/api/v1/history", s.handleHistory)
	s.router.Get("/api/v1/status", s.handleStatus)

	// OAuth authorization flow
	s.router.Get("/auth/login", s.handleAuthLogin)
	s.router.Get("/auth/callback", s.handleAuthCallback)

	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())
}
