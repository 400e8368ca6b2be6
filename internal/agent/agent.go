// Package agent executes single steps on behalf of a remote runner.
package agent

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"matrixci/internal/core"
	"matrixci/internal/observability"
)

// maxStepTimeout bounds the timeout a caller may request.
const maxStepTimeout = 6 * time.Hour

type Agent struct {
	ID       string
	Executor core.Executor
}

func New(id string, exec core.Executor) *Agent {
	if exec == nil {
		exec = core.NewExecutor()
	}
	return &Agent{ID: id, Executor: exec}
}

func (a *Agent) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/steps", a.handleRunStep)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}

// POST /v1/steps -> run one step, reply with its output and exit code.
// A failing command is still a 200: the failure travels in the body.
func (a *Agent) handleRunStep(w http.ResponseWriter, r *http.Request) {
	var req core.StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Command == "" {
		http.Error(w, "bad request: empty command", http.StatusBadRequest)
		return
	}
	if req.Timeout > maxStepTimeout {
		req.Timeout = maxStepTimeout
	}

	logger := log.With().Str("agent", a.ID).Str("run_id", req.RunID).Str("job", req.Job).Str("step", req.Step).Logger()
	logger.Info().Msg("running step")

	out, err := a.Executor.RunStep(r.Context(), req)
	resp := core.AgentResponse{StepOutput: out}
	if err != nil {
		resp.Error = err.Error()
		logger.Warn().Err(err).Int("exit_code", out.ExitCode).Msg("step failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Agent-ID", a.ID)
	_ = json.NewEncoder(w).Encode(resp)
}
