package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"newsrec/internal/articles"
	"newsrec/internal/config"
	"newsrec/internal/core"
	"newsrec/internal/logger"
	"newsrec/internal/recommend"
)

// Recommender serves recommendation and adjustment requests. *recommend.Engine implements it.
type Recommender interface {
	GetRecommendations(ctx context.Context, userID string) (core.Recommendations, error)
	AdjustRecommendations(ctx context.Context, userID, request string) (string, error)
}

// ClickRecorder records clicks. *recommend.ClickRecorder implements it.
type ClickRecorder interface {
	RecordClick(ctx context.Context, click recommend.Click) (core.InteractionEvent, error)
}

// ArticleRefresher keeps the article store fresh. *articles.Store implements it.
type ArticleRefresher interface {
	RefreshIfStale(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (articles.RefreshResult, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the collaborators behind the HTTP routes.
type Services struct {
	Recommender Recommender
	Clicks      ClickRecorder
	Articles    ArticleRefresher
	Checks      map[string]Pinger
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	svc        Services
	config     config.Server
	log        *zerolog.Logger
}

// New creates a new HTTP server instance
func New(svc Services, cfg config.Server) *Server {
	s := &Server{
		router: chi.NewRouter(),
		svc:    svc,
		config: cfg,
		log:    logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.config.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.config.RequestTimeout))
	}

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	if s.config.RateLimit.Enabled && s.config.RateLimit.Requests > 0 {
		s.router.Use(httprate.Limit(
			s.config.RateLimit.Requests,
			s.config.RateLimit.Window,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				respondJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: ErrorBody{
					Kind:    "rate_limited",
					Message: "too many requests",
				}})
			}),
		))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/get_recommendations/{user_id}", s.handleGetRecommendations)
	s.router.Post("/submit_user_click/", s.handleSubmitClick)
	s.router.Post("/adjust_recommendations/", s.handleAdjust)
	s.router.Get("/load_new_news", s.handleLoadNews)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info().
		Str("addr", s.httpServer.Addr).
		Dur("read_timeout", s.config.ReadTimeout).
		Dur("write_timeout", s.config.WriteTimeout).
		Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info().Msg("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
