// Package api exposes planning, run submission and run history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"matrixci/internal/blockchain"
	"matrixci/internal/core"
	"matrixci/internal/runstore"
	"matrixci/internal/storage"
)

const maxWorkflowBytes = 1 << 20

type Handler struct {
	Scheduler *core.Scheduler
	Runner    *core.Runner
	Store     runstore.Store
	Ledger    *blockchain.Ledger  // optional
	Logs      *storage.LogStorage // optional

	// base context for runs that outlive their request
	ctx context.Context
	wg  sync.WaitGroup
}

func NewHandler(ctx context.Context, sched *core.Scheduler, runner *core.Runner, store runstore.Store) *Handler {
	return &Handler{Scheduler: sched, Runner: runner, Store: store, ctx: ctx}
}

// Wait blocks until every submitted run has been stored with its final result.
func (h *Handler) Wait() { h.wg.Wait() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) plan(r *http.Request) (*core.Plan, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxWorkflowBytes))
	if err != nil {
		return nil, fmt.Errorf("cannot read body: %w", err)
	}
	wf, err := core.ParseWorkflow(data)
	if err != nil {
		return nil, err
	}
	return h.Scheduler.Plan(wf)
}

// Plan (POST /v1/plan) expands a workflow without running it.
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	p, err := h.plan(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SubmitRun (POST /v1/runs) plans the workflow and runs it in the background.
func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	p, err := h.plan(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pending := &core.RunResult{
		ID:        uuid.New(),
		Workflow:  p.Name,
		Status:    core.RunPending,
		Jobs:      []core.JobResult{},
		StartedAt: time.Now().UTC(),
	}
	if err := h.Store.Save(r.Context(), pending); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.wg.Add(1)
	go h.execute(pending, p)

	w.Header().Set("Location", "/v1/runs/"+pending.ID.String())
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     pending.ID,
		"status": pending.Status,
		"jobs":   len(p.Jobs),
	})
}

func (h *Handler) execute(pending *core.RunResult, p *core.Plan) {
	defer h.wg.Done()
	ctx := h.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := log.With().Str("run_id", pending.ID.String()).Logger()

	running := *pending
	running.Status = core.RunRunning
	if err := h.Store.Save(ctx, &running); err != nil {
		logger.Warn().Err(err).Msg("cannot mark run as running")
	}

	res, err := h.Runner.RunAs(ctx, pending.ID, p)
	if err != nil {
		logger.Error().Err(err).Msg("run aborted")
		running.Status = core.RunFailed
		running.FinishedAt = time.Now().UTC()
		res = &running
	}
	// the store outlives a cancelled server context
	if err := h.Store.Save(context.WithoutCancel(ctx), res); err != nil {
		logger.Error().Err(err).Msg("cannot store run result")
	}
}

// ListRuns (GET /v1/runs?limit=N) returns the newest runs first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", s))
			return
		}
		limit = n
	}
	runs, err := h.Store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*core.RunResult, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run id: %w", err))
		return nil, false
	}
	run, err := h.Store.Get(r.Context(), id)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return run, true
}

// GetRun (GET /v1/runs/{id})
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if run, ok := h.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, run)
	}
}

// StepLog (GET /v1/runs/{id}/jobs/{job}/steps/{step}/log) serves a stored
// step log; job is the job index, step is 1-based.
func (h *Handler) StepLog(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeError(w, http.StatusNotFound, errors.New("log storage disabled"))
		return
	}
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	job, err1 := strconv.Atoi(chi.URLParam(r, "job"))
	step, err2 := strconv.Atoi(chi.URLParam(r, "step"))
	if err1 != nil || err2 != nil || job < 0 || job >= len(run.Jobs) || step < 1 || step > len(run.Jobs[job].Steps) {
		writeError(w, http.StatusNotFound, errors.New("no such step"))
		return
	}
	sr := run.Jobs[job].Steps[step-1]
	if sr.LogPath == "" {
		writeError(w, http.StatusNotFound, errors.New("step has no log"))
		return
	}
	text, err := h.Logs.ReadLog(sr.LogPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, text)
}

// VerifyLedger (GET /v1/ledger/verify) checks hashes, links and signatures.
func (h *Handler) VerifyLedger(w http.ResponseWriter, _ *http.Request) {
	if h.Ledger == nil {
		writeError(w, http.StatusNotFound, errors.New("ledger disabled"))
		return
	}
	if err := h.Ledger.VerifyChain(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"blocks": h.Ledger.NextIndex(),
		"tip":    h.Ledger.LastHash(),
	})
}
