package core

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"matrixci/internal/blockchain"
	"matrixci/internal/matrix"
	"matrixci/internal/notify"
	"matrixci/internal/observability"
	"matrixci/internal/storage"
	"matrixci/pkg/utils"
)

// Runner ties together Executor + actions + log storage + ledger + notifier.
type Runner struct {
	Executor Executor
	Actions  ActionSet
	Notifier notify.Notifier

	LogStorage *storage.LogStorage // optional
	Ledger     *blockchain.Ledger  // optional, needs PrivKey/PubKey
	PrivKey    ed25519.PrivateKey
	PubKey     ed25519.PublicKey
	AgentID    string // identifies which agent executed the job in the ledger

	// WorkDir, when set, gives every job its own directory <WorkDir>/<run>/<index>.
	WorkDir string
	// MaxParallel applies when the plan does not set max-parallel. 0 = unbounded.
	MaxParallel int
}

func NewRunner(exec Executor) *Runner {
	return &Runner{
		Executor: exec,
		Actions:  ActionSet{},
		Notifier: notify.LogNotifier{},
		AgentID:  "local-agent",
	}
}

// Run executes every job of the plan under a fresh run ID.
func (r *Runner) Run(ctx context.Context, plan *Plan) (*RunResult, error) {
	return r.RunAs(ctx, uuid.New(), plan)
}

// RunAs executes the plan: jobs in parallel, steps of a job in order, then
// exactly one notification once every job result is known.
func (r *Runner) RunAs(ctx context.Context, id uuid.UUID, plan *Plan) (*RunResult, error) {
	if plan == nil {
		return nil, errors.New("nil plan")
	}
	if r.Executor == nil {
		return nil, errors.New("runner has no executor")
	}

	res := &RunResult{
		ID:        id,
		Workflow:  plan.Name,
		Status:    RunRunning,
		Jobs:      make([]JobResult, len(plan.Jobs)),
		StartedAt: time.Now().UTC(),
	}
	logger := log.With().Str("run_id", id.String()).Str("workflow", plan.Name).Logger()
	logger.Info().Int("jobs", len(plan.Jobs)).Msg("run started")

	limit := plan.MaxParallel
	if limit == 0 {
		limit = r.MaxParallel
	}
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range plan.Jobs {
		g.Go(func() error {
			// each job writes only its own slot
			res.Jobs[i] = r.runJob(ctx, id, plan, &plan.Jobs[i], logger)
			return nil
		})
	}
	_ = g.Wait()

	res.Status = Outcome(res.Jobs)
	res.FinishedAt = time.Now().UTC()
	res.Notification = r.notify(ctx, res, plan.Notify, logger)

	observability.ObserveRun(string(res.Status))
	passed, failed := res.Counts()
	logger.Info().Str("status", string(res.Status)).Int("passed", passed).Int("failed", failed).Msg("run finished")
	return res, nil
}

func (r *Runner) runJob(ctx context.Context, runID uuid.UUID, plan *Plan, job *JobInstance, parent zerolog.Logger) JobResult {
	logger := parent.With().Str("job", job.Name).Logger()
	jr := JobResult{
		Index:     job.Index,
		Name:      job.Name,
		Matrix:    job.Matrix,
		Host:      job.Host,
		Status:    JobPassed,
		Steps:     make([]StepResult, 0, len(job.Steps)),
		StartedAt: time.Now().UTC(),
	}

	dir, err := r.jobDir(runID, job.Index)
	if err != nil {
		logger.Error().Err(err).Msg("cannot prepare job directory")
		jr.Steps = append(jr.Steps, StepResult{Name: "prepare", Status: StepFailed, ExitCode: -1, Error: err.Error()})
	}

	failed := err != nil
	for n := range job.Steps {
		ps := &job.Steps[n]
		sr := r.runStep(ctx, runID, plan, job, n, ps, dir, failed, logger)
		if sr.Status == StepFailed {
			failed = true
		}
		observability.ObserveStep(string(sr.Status))
		jr.Steps = append(jr.Steps, sr)
	}

	if failed {
		jr.Status = JobFailed
	}
	jr.FinishedAt = time.Now().UTC()
	observability.ObserveJob(string(jr.Status), jr.FinishedAt.Sub(jr.StartedAt))
	r.record(runID, jr, logger)
	logger.Info().Str("status", string(jr.Status)).Msg("job finished")
	return jr
}

func (r *Runner) runStep(ctx context.Context, runID uuid.UUID, plan *Plan, job *JobInstance, n int, ps *PlannedStep, dir string, failed bool, logger zerolog.Logger) StepResult {
	sr := StepResult{Name: ps.DisplayName()}
	env := stepEnv(plan, job, ps)

	run, err := shouldRun(ps, job, plan.Axes, env, failed)
	if err != nil {
		sr.Status, sr.ExitCode, sr.Error = StepFailed, -1, err.Error()
		logger.Error().Err(err).Str("step", sr.Name).Msg("step condition failed")
		return sr
	}
	if !run {
		sr.Status = StepSkipped
		logger.Debug().Str("step", sr.Name).Msg("step skipped")
		return sr
	}
	if err := ctx.Err(); err != nil {
		sr.Status, sr.ExitCode, sr.Error = StepFailed, -1, err.Error()
		return sr
	}

	req := StepRequest{
		RunID:   runID.String(),
		Job:     job.Name,
		Step:    sr.Name,
		Command: ps.Run,
		Env:     env,
		Dir:     workingDir(dir, ps.WorkingDirectory),
		Timeout: time.Duration(ps.TimeoutMinutes) * time.Minute,
	}

	logger.Info().Str("step", sr.Name).Msg("running step")
	start := time.Now()
	out, err := r.exec(ctx, plan, ps, req)
	sr.Duration = time.Since(start)
	sr.ExitCode = out.ExitCode
	sr.Output = out.Output
	sr.Status = StepPassed
	if err != nil {
		sr.Status = StepFailed
		sr.Error = err.Error()
		if sr.ExitCode == 0 {
			sr.ExitCode = -1
		}
		logger.Warn().Err(err).Str("step", sr.Name).Int("exit_code", sr.ExitCode).Msg("step failed")
	}

	sr.LogHash = utils.HashString(out.Output)
	if r.LogStorage != nil {
		path, logErr := r.LogStorage.SaveLog(runID.String(), logDir(job), n+1, sr.Name, out.Output)
		if logErr != nil {
			logger.Warn().Err(logErr).Str("step", sr.Name).Msg("failed to save log")
			return sr
		}
		sr.LogPath = path
		if h, hErr := utils.HashFile(path); hErr == nil {
			sr.LogHash = h
		}
	}
	return sr
}

func (r *Runner) exec(ctx context.Context, plan *Plan, ps *PlannedStep, req StepRequest) (StepOutput, error) {
	if ps.Uses == "" {
		return r.Executor.RunStep(ctx, req)
	}
	action, ok := r.Actions[ps.Uses]
	if !ok {
		return StepOutput{ExitCode: -1}, fmt.Errorf("unknown action %q", ps.Uses)
	}
	return action.Run(ctx, Invocation{
		Request:    req,
		With:       ps.With,
		Repository: plan.Repository,
		Revision:   plan.Revision,
	})
}

// shouldRun evaluates the step's condition. Without an explicit `if`, a step
// always runs unless the job stops on error and something already failed.
func shouldRun(ps *PlannedStep, job *JobInstance, axes []matrix.Axis, env map[string]string, failed bool) (bool, error) {
	if ps.Condition == nil {
		return !(job.StopOnError && failed), nil
	}
	return ps.Condition.Eval(Scope{
		Axes:   axes,
		Matrix: job.Matrix,
		Host:   job.Host,
		Env:    env,
		Failed: failed,
	})
}

func (r *Runner) jobDir(runID uuid.UUID, index int) (string, error) {
	if r.WorkDir == "" {
		return "", nil
	}
	dir := filepath.Join(r.WorkDir, runID.String(), strconv.Itoa(index))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}
	return dir, nil
}

// logDir is keyed by index as well as name so two jobs never share a directory.
func logDir(job *JobInstance) string {
	return fmt.Sprintf("%02d_%s", job.Index, job.Name)
}

func workingDir(jobDir, wd string) string {
	switch {
	case wd == "":
		return jobDir
	case filepath.IsAbs(wd), jobDir == "":
		return wd
	}
	return filepath.Join(jobDir, wd)
}

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9]+`)

// stepEnv layers job env, step env and MATRIX_* / RUNNER_* variables.
func stepEnv(plan *Plan, job *JobInstance, ps *PlannedStep) map[string]string {
	env := make(map[string]string, len(job.Env)+len(ps.Env)+len(job.Matrix)+3)
	for _, a := range plan.Axes {
		env["MATRIX_"+envName(a.Name)] = ""
	}
	for k, v := range job.Matrix {
		env["MATRIX_"+envName(k)] = v
	}
	env["RUNNER_OS"] = job.Host.OS
	env["RUNNER_NAME"] = job.Host.Name
	for k, v := range job.Env {
		env[k] = v
	}
	for k, v := range ps.Env {
		env[k] = v
	}
	return env
}

func envName(axis string) string {
	return strings.Trim(strings.ToUpper(nonIdent.ReplaceAllString(axis, "_")), "_")
}

// record appends the job to the ledger; best-effort, never fails the job.
func (r *Runner) record(runID uuid.UUID, jr JobResult, logger zerolog.Logger) {
	if r.Ledger == nil {
		return
	}
	hashes := make([]string, 0, len(jr.Steps))
	var logPath string
	for _, s := range jr.Steps {
		hashes = append(hashes, s.LogHash)
		if logPath == "" && s.LogPath != "" {
			logPath = filepath.Dir(s.LogPath)
		}
	}
	blk, err := r.Ledger.Append(blockchain.Entry{
		RunID:   runID.String(),
		Job:     jr.Name,
		Status:  string(jr.Status),
		LogPath: logPath,
		LogHash: utils.HashLines(hashes),
		AgentID: r.AgentID,
	}, r.PrivKey, r.PubKey)
	if err != nil {
		logger.Warn().Err(err).Msg("cannot append ledger block")
		return
	}
	logger.Debug().Int("block", blk.Index).Str("hash", blk.Hash[:16]).Msg("ledger block appended")
}

// notify fires exactly one of the two notification actions.
func (r *Runner) notify(ctx context.Context, res *RunResult, n Notify, logger zerolog.Logger) *NotificationRecord {
	action := n.Success
	if res.Status == RunFailed {
		action = n.Failure
	}
	rec := &NotificationRecord{
		Outcome: res.Status,
		Status:  action.Status,
		Color:   action.Color,
		Channel: n.Channel,
	}

	notifier := r.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	passed, failed := res.Counts()
	// a cancelled run still reports its outcome
	err := notifier.Notify(context.WithoutCancel(ctx), notify.Notification{
		RunID:    res.ID.String(),
		Workflow: res.Workflow,
		Status:   action.Status,
		Color:    action.Color,
		Channel:  n.Channel,
		Token:    n.Token,
		Text:     fmt.Sprintf("%s: %d passed, %d failed", res.Workflow, passed, failed),
	})
	observability.ObserveNotification(action.Status)
	if err != nil {
		// fire-and-forget: the run outcome stands
		rec.Error = err.Error()
		logger.Warn().Err(err).Msg("notification failed")
	}
	return rec
}
