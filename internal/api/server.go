package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/mdplan/internal/config"
	"github.com/dgallion1/mdplan/internal/merge"
	"github.com/dgallion1/mdplan/internal/pipeline"
	"github.com/dgallion1/mdplan/internal/plan"
)

// Server is the HTTP API server for mdplan.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	reconciler   *merge.Reconciler
	log          *slog.Logger
	cfg          config.Config
	params       plan.Params
}

// NewServer creates and configures the HTTP server. params are the
// defaults every upload starts from.
func NewServer(orch *pipeline.Orchestrator, log *slog.Logger, cfg config.Config, params plan.Params) *Server {
	s := &Server{
		orchestrator: orch,
		reconciler:   merge.NewReconciler(orch.Planner().Counter()),
		log:          log,
		cfg:          cfg,
		params:       params,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/plans", s.handleCreatePlan)
		r.Post("/api/plans/batch", s.handleBatchCreatePlan)
		r.Get("/api/plans/jobs/{jobID}", s.handleJobStatus)

		r.Get("/api/plans/{hash}", s.handleGetPlan)
		r.Get("/api/plans/{hash}/map", s.handleGetMap)
		r.Delete("/api/plans/{hash}", s.handleDeletePlan)
		r.Post("/api/plans/{hash}/merge", s.handleMerge)

		r.Get("/api/stats/planning", s.handlePlanningStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
