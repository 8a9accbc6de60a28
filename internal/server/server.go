package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/voyagen/releasecal/internal/cache"
	"github.com/voyagen/releasecal/internal/config"
	"github.com/voyagen/releasecal/internal/service"
	"github.com/voyagen/releasecal/internal/store"
	"github.com/voyagen/releasecal/internal/tmdb"
)

// ShowSearcher searches the metadata provider.
type ShowSearcher interface {
	SearchShows(ctx context.Context, query string, page int) (tmdb.Validated[tmdb.SearchResults], error)
}

// Authenticator resolves the calling user from a request.
type Authenticator interface {
	UserID(r *http.Request) (string, error)
}

// RefreshQueue accepts on-demand channel refresh jobs.
type RefreshQueue interface {
	Enqueue(ctx context.Context, job cache.RefreshJob) error
}

// Deps are the collaborators the HTTP API needs. Queue and Gatherer are optional;
// a nil Auth rejects every user route.
type Deps struct {
	Store    store.Store
	Channels service.ChannelEnsurer
	Groups   *service.GroupManager
	Search   ShowSearcher
	Auth     Authenticator
	Queue    RefreshQueue
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
}

// Server holds dependencies for the HTTP API.
type Server struct {
	Deps
	cfg *config.Config
	mux *http.ServeMux
}

// New creates a Server and registers routes.
func New(cfg *config.Config, deps Deps) *Server {
	deps.Log = deps.Log.With().Str("component", "http").Logger()
	srv := &Server{Deps: deps, cfg: cfg, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Provider
	s.mux.HandleFunc("GET /api/shows/search", s.handleSearchShows)

	// Current user
	s.mux.Handle("GET /api/me/subscriptions", s.requireUser(s.handleListSubscriptions))
	s.mux.Handle("POST /api/me/subscriptions", s.requireUser(s.handleSubscribe))
	s.mux.Handle("DELETE /api/me/subscriptions", s.requireUser(s.handleClearSubscriptions))
	s.mux.Handle("DELETE /api/me/subscriptions/{channelId}", s.requireUser(s.handleUnsubscribe))
	s.mux.Handle("GET /api/me/events", s.requireUser(s.handleListMyEvents))

	// Channels
	s.mux.HandleFunc("GET /api/channels/{id}", s.handleGetChannel)
	s.mux.HandleFunc("GET /api/channels/{id}/events", s.handleListChannelEvents)
	s.mux.Handle("POST /api/channels/{id}/refresh", s.requireUser(s.handleRefreshChannel))

	// Metrics
	if s.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPISpec)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the API wrapped in the CORS and logging middleware.
func (s *Server) Handler() http.Handler {
	return withCORS(withLogging(s.Log, s))
}

// ListenAndServe starts the HTTP server on the configured port. It blocks until
// the server fails or ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.cfg.ServerPort
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.cfg.SyncTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.Log.Error().Err(err).Msg("server shutdown")
		}
	}()

	s.Log.Info().Str("addr", addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}
