// Package server exposes the bound-constrained solver over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kxash/weka/internal/config"
	"github.com/kxash/weka/internal/optimize"
	"github.com/kxash/weka/internal/optimize/problems"
)

// Server handles solve requests against the registered benchmark problems.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	solver  *optimize.Solver
	metrics *Metrics
}

// NewServer creates a server whose solver is configured from cfg.Solver.
// Metrics are registered on reg.
func NewServer(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) *Server {
	solverCfg := optimize.Config{
		MaxIterations:      cfg.Solver.MaxIterations,
		SufficientDecrease: cfg.Solver.SufficientDecrease,
		Curvature:          cfg.Solver.Curvature,
		DisplacementTol:    cfg.Solver.DisplacementTol,
		StepCap:            cfg.Solver.StepCap,
		Debug:              cfg.Solver.Debug,
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		solver:  optimize.New(solverCfg, logger),
		metrics: NewMetrics(reg),
	}
}

// RegisterRoutes mounts the API under /api/v1.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/solve", s.handleSolve)
		r.Get("/problems", s.handleProblems)
	})
}

// solveRequest is the body of POST /api/v1/solve. Bound entries may be
// null (or the arrays omitted entirely) for unbounded sides.
type solveRequest struct {
	Problem       string     `json:"problem"`
	X0            []float64  `json:"x0"`
	Lower         []*float64 `json:"lower,omitempty"`
	Upper         []*float64 `json:"upper,omitempty"`
	MaxIterations int        `json:"max_iterations,omitempty"`
}

type solveResponse struct {
	X          []float64 `json:"x"`
	F          float64   `json:"f"`
	Converged  bool      `json:"converged"`
	Iterations int       `json:"iterations"`
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Problem == "" || len(req.X0) == 0 {
		s.respondError(w, http.StatusBadRequest, "problem and x0 are required")
		return
	}

	problem, err := problems.Lookup(req.Problem, len(req.X0))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	lower, err := expandBounds(req.Lower, len(req.X0))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "lower: "+err.Error())
		return
	}
	upper, err := expandBounds(req.Upper, len(req.X0))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "upper: "+err.Error())
		return
	}

	solver := s.solver
	if req.MaxIterations > 0 {
		cfg := optimize.Config{
			MaxIterations:      req.MaxIterations,
			SufficientDecrease: s.cfg.Solver.SufficientDecrease,
			Curvature:          s.cfg.Solver.Curvature,
			DisplacementTol:    s.cfg.Solver.DisplacementTol,
			StepCap:            s.cfg.Solver.StepCap,
			Debug:              s.cfg.Solver.Debug,
		}
		solver = optimize.New(cfg, s.logger)
	}

	start := time.Now()
	result, err := solver.Minimize(problem, req.X0, lower, upper)
	s.metrics.SolveDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, optimize.ErrInvalidArgument) {
			s.metrics.SolveRequests.WithLabelValues("invalid").Inc()
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.metrics.SolveRequests.WithLabelValues("fatal").Inc()
		s.logger.Error("solve failed",
			zap.String("problem", req.Problem), zap.Error(err))
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	status := "converged"
	if !result.Converged {
		status = "iteration_limit"
	}
	s.metrics.SolveRequests.WithLabelValues(status).Inc()
	s.metrics.SolveIterations.Observe(float64(result.Iterations))

	s.logger.Info("solve finished",
		zap.String("problem", req.Problem),
		zap.Bool("converged", result.Converged),
		zap.Int("iterations", result.Iterations),
		zap.Float64("f", result.F))

	s.respondJSON(w, http.StatusOK, solveResponse{
		X:          result.X,
		F:          result.F,
		Converged:  result.Converged,
		Iterations: result.Iterations,
	})
}

func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string][]string{"problems": problems.Names()})
}

// expandBounds converts an optional JSON bound array into the solver's
// NaN-sentinel representation.
func expandBounds(in []*float64, n int) ([]float64, error) {
	if in == nil {
		return nil, nil
	}
	if len(in) != n {
		return nil, errors.New("bound array length does not match x0")
	}
	out := make([]float64, n)
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	return out, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
