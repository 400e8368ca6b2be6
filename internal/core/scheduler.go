package core

import (
	"fmt"

	"matrixci/internal/matrix"
)

// Scheduler turns a workflow into a plan of independent job instances.
type Scheduler struct {
	// Actions, when set, is used to reject unknown `uses:` names at plan time.
	Actions ActionSet
}

// NewScheduler creates a new scheduler.
func NewScheduler(actions ActionSet) *Scheduler {
	return &Scheduler{Actions: actions}
}

// Plan is the expanded, execution-ready form of a workflow.
type Plan struct {
	Name        string        `json:"name"`
	Repository  string        `json:"repository,omitempty"`
	Revision    string        `json:"revision,omitempty"`
	Axes        []matrix.Axis `json:"axes"`
	MaxParallel int           `json:"max_parallel"`
	Jobs        []JobInstance `json:"jobs"`
	Notify      Notify        `json:"notify"`
}

// Plan expands the matrix and binds the step template to every combination.
// A workflow without a matrix yields a single job.
func (s *Scheduler) Plan(wf *Workflow) (*Plan, error) {
	if wf == nil {
		return nil, fmt.Errorf("%w: nil workflow", ErrInvalidWorkflow)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	m := wf.Strategy.Matrix.Matrix
	combos, err := m.Expand()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}
	if len(m.Axes) == 0 && len(m.Include) == 0 {
		combos = []matrix.Combination{{}}
	}
	if len(combos) == 0 {
		return nil, fmt.Errorf("%w: matrix produced no jobs", ErrInvalidWorkflow)
	}

	notify := wf.Notify
	notify.applyDefaults()
	plan := &Plan{
		Name:        wf.Name,
		Repository:  wf.Repository,
		Revision:    wf.Revision,
		Axes:        m.Axes,
		MaxParallel: wf.Strategy.MaxParallel,
		Jobs:        make([]JobInstance, 0, len(combos)),
		Notify:      notify,
	}
	seen := make(map[string]bool, len(combos))
	for i, combo := range combos {
		job, err := s.bind(wf, m.Axes, i, combo)
		if err != nil {
			return nil, fmt.Errorf("%w: job %d (%s): %w", ErrInvalidWorkflow, i, combo.Label(m.Axes), err)
		}
		job.Name = uniqueName(seen, job.Name, wf.Name, combo.Key(m.Axes), i)
		plan.Jobs = append(plan.Jobs, job)
	}
	return plan, nil
}

func (s *Scheduler) bind(wf *Workflow, axes []matrix.Axis, index int, combo matrix.Combination) (JobInstance, error) {
	scope := Scope{Axes: axes, Matrix: combo}

	runsOn, err := Interpolate(wf.RunsOn, scope)
	if err != nil {
		return JobInstance{}, fmt.Errorf("runs-on: %w", err)
	}
	scope.Host = ResolveHost(runsOn)

	env, err := interpolateMap(wf.Env, scope)
	if err != nil {
		return JobInstance{}, fmt.Errorf("env: %w", err)
	}
	scope.Env = env

	job := JobInstance{
		Index:       index,
		Name:        jobName(wf.Name, combo.Label(axes)),
		Matrix:      combo,
		RunsOn:      runsOn,
		Host:        scope.Host,
		Env:         env,
		Steps:       make([]PlannedStep, 0, len(wf.Steps)),
		StopOnError: wf.Strategy.StopOnError,
	}

	for n, st := range wf.Steps {
		ps, err := s.bindStep(st, scope)
		if err != nil {
			return JobInstance{}, fmt.Errorf("step %d (%s): %w", n+1, st.DisplayName(), err)
		}
		job.Steps = append(job.Steps, ps)
	}
	return job, nil
}

func (s *Scheduler) bindStep(st Step, scope Scope) (PlannedStep, error) {
	if st.Uses != "" && s.Actions != nil {
		if _, ok := s.Actions[st.Uses]; !ok {
			return PlannedStep{}, fmt.Errorf("unknown action %q", st.Uses)
		}
	}

	ps := PlannedStep{Step: st}
	var err error
	if ps.Name, err = Interpolate(st.Name, scope); err != nil {
		return PlannedStep{}, err
	}
	if ps.Run, err = Interpolate(st.Run, scope); err != nil {
		return PlannedStep{}, err
	}
	if ps.WorkingDirectory, err = Interpolate(st.WorkingDirectory, scope); err != nil {
		return PlannedStep{}, err
	}
	if ps.With, err = interpolateMap(st.With, scope); err != nil {
		return PlannedStep{}, err
	}
	if ps.Env, err = interpolateMap(st.Env, scope); err != nil {
		return PlannedStep{}, err
	}
	if st.If != "" {
		if ps.Condition, err = ParseCondition(st.If); err != nil {
			return PlannedStep{}, err
		}
	}
	return ps, nil
}

func interpolateMap(in map[string]string, scope Scope) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		s, err := Interpolate(v, scope)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

// uniqueName keeps job names distinct when two combinations share a label,
// e.g. includes {os: Z} and {toolkit: Z}. Later jobs fall back to the key.
func uniqueName(seen map[string]bool, name, workflow, key string, index int) string {
	if seen[name] {
		name = jobName(workflow, key)
	}
	if seen[name] {
		name = fmt.Sprintf("%s #%d", name, index)
	}
	seen[name] = true
	return name
}

func jobName(workflow, label string) string {
	if workflow == "" {
		workflow = "job"
	}
	if label == "" {
		return workflow
	}
	return workflow + " (" + label + ")"
}
