package core

import "matrixci/internal/matrix"

// Workflow is one matrix workflow file.
type Workflow struct {
	Name       string            `yaml:"name" json:"name"`
	Repository string            `yaml:"repository" json:"repository,omitempty"` // source to check out, empty = current directory
	Revision   string            `yaml:"revision" json:"revision,omitempty"`
	RunsOn     string            `yaml:"runs-on" json:"runs_on,omitempty"` // host label, may use ${{ matrix.* }}
	Env        map[string]string `yaml:"env" json:"env,omitempty"`
	Strategy   Strategy          `yaml:"strategy" json:"strategy"`
	Steps      []Step            `yaml:"steps" json:"steps"` // step template, bound to every job
	Notify     Notify            `yaml:"notify" json:"notify"`
}

// Strategy controls how the step template fans out.
type Strategy struct {
	Matrix      MatrixSpec `yaml:"matrix" json:"matrix"`
	MaxParallel int        `yaml:"max-parallel" json:"max_parallel,omitempty"` // 0 = unbounded
	StopOnError bool       `yaml:"stop-on-error" json:"stop_on_error,omitempty"`
}

// MatrixSpec is the YAML form of a matrix. Axis order follows the file.
type MatrixSpec struct {
	matrix.Matrix
}

// Notify holds the two mutually exclusive notification actions of a run.
type Notify struct {
	Channel string       `yaml:"channel" json:"channel,omitempty"`
	Token   string       `yaml:"token" json:"-"`
	Success NotifyAction `yaml:"success" json:"success"`
	Failure NotifyAction `yaml:"failure" json:"failure"`
}

// NotifyAction is the fixed label and color posted for one outcome.
type NotifyAction struct {
	Status string `yaml:"status" json:"status"`
	Color  string `yaml:"color" json:"color"`
}

func (n *Notify) applyDefaults() {
	if n.Success.Status == "" {
		n.Success.Status = "success"
	}
	if n.Success.Color == "" {
		n.Success.Color = "good"
	}
	if n.Failure.Status == "" {
		n.Failure.Status = "failure"
	}
	if n.Failure.Color == "" {
		n.Failure.Color = "danger"
	}
}
