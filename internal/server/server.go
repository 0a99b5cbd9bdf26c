// Package server exposes the research pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opportunity-engine/reddit-research/internal/core/domain"
	"github.com/opportunity-engine/reddit-research/internal/platform/config"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
	"github.com/opportunity-engine/reddit-research/internal/search"
)

const (
	defaultMaxPosts = 1000
	minPosts        = 1
	maxPosts        = 10000
	defaultAgeDays  = 90
	defaultMinScore = 2

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	// Research runs page through an external API; writes can take minutes.
	writeTimeout = 30 * time.Minute
)

// Runner executes one research brief end to end.
type Runner interface {
	Run(ctx context.Context, brief domain.Brief) search.Result
}

// Server handles research requests.
type Server struct {
	runner Runner
	health *observability.Server
	port   int
	logger *zerolog.Logger
}

func New(runner Runner, health *observability.Server, port int, logger *zerolog.Logger) *Server {
	return &Server{
		runner: runner,
		health: health,
		port:   port,
		logger: logger,
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/research", s.handleResearch)

	if s.health != nil {
		s.health.RegisterRoutes(mux)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

		defer cancel()

		//nolint:errcheck,contextcheck // shutdown in signal handler is best-effort, non-inherited context intentional
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.port).Msg("API server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

type researchRequest struct {
	Audience      string   `json:"audience"`
	Questions     []string `json:"questions"`
	MaxPosts      *int     `json:"maxPosts"`
	AgeDays       *int     `json:"ageDays"`
	MinScore      *int     `json:"minScore"`
	EmbedProvider string   `json:"embedProvider"`
	Premium       bool     `json:"premium"`
	StoreVectors  bool     `json:"storeVectors"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "only POST is supported")

		return
	}

	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))

		return
	}

	brief, err := req.toBrief()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	result := s.runner.Run(r.Context(), brief)

	s.writeJSON(w, http.StatusOK, result)
}

// toBrief validates the request and applies defaults; validation failures
// reject the request before any stage runs.
func (r researchRequest) toBrief() (domain.Brief, error) {
	audience := strings.TrimSpace(r.Audience)
	if audience == "" {
		return domain.Brief{}, errors.New("audience is required")
	}

	questions := make([]string, 0, len(r.Questions))

	for _, q := range r.Questions {
		if trimmed := strings.TrimSpace(q); trimmed != "" {
			questions = append(questions, trimmed)
		}
	}

	if len(questions) == 0 {
		return domain.Brief{}, errors.New("at least one non-empty question is required")
	}

	brief := domain.Brief{
		Audience:          audience,
		Questions:         questions,
		MaxItems:          defaultMaxPosts,
		MaxAgeDays:        defaultAgeDays,
		MinScore:          defaultMinScore,
		EmbeddingProvider: config.DefaultEmbedProvider,
		Premium:           r.Premium,
		StoreVectors:      r.StoreVectors,
	}

	if r.MaxPosts != nil {
		if *r.MaxPosts < minPosts || *r.MaxPosts > maxPosts {
			return domain.Brief{}, fmt.Errorf("maxPosts must be between %d and %d", minPosts, maxPosts)
		}

		brief.MaxItems = *r.MaxPosts
	}

	if r.AgeDays != nil {
		if *r.AgeDays <= 0 {
			return domain.Brief{}, errors.New("ageDays must be positive")
		}

		brief.MaxAgeDays = *r.AgeDays
	}

	if r.MinScore != nil {
		brief.MinScore = *r.MinScore
	}

	if r.EmbedProvider != "" {
		brief.EmbeddingProvider = r.EmbedProvider
	}

	return brief, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Success: false, Error: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("writing response failed")
	}
}
