package core

import (
	"runtime"
	"strings"

	"matrixci/internal/matrix"
)

// Step is one entry of the step template.
type Step struct {
	Name             string            `yaml:"name" json:"name"`
	Run              string            `yaml:"run" json:"run,omitempty"`   // shell command
	Uses             string            `yaml:"uses" json:"uses,omitempty"` // built-in action
	With             map[string]string `yaml:"with" json:"with,omitempty"`
	If               string            `yaml:"if" json:"if,omitempty"`
	Env              map[string]string `yaml:"env" json:"env,omitempty"`
	WorkingDirectory string            `yaml:"working-directory" json:"working_directory,omitempty"`
	TimeoutMinutes   int               `yaml:"timeout-minutes" json:"timeout_minutes,omitempty"`
}

// DisplayName falls back to the command or action when the step has no name.
func (s Step) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return s.Uses
	default:
		line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
		return line
	}
}

// PlannedStep is a step bound to one job instance: templates rendered,
// condition parsed.
type PlannedStep struct {
	Step
	Condition *Condition `json:"-"`
}

// Host is the declared runtime host of a job.
type Host struct {
	Name string `json:"name"`
	OS   string `json:"os"` // Linux, macOS or Windows
}

// ResolveHost maps a runs-on label onto a host. Unknown labels and the empty
// label fall back to the machine the runner is on.
func ResolveHost(runsOn string) Host {
	name := strings.TrimSpace(runsOn)
	if name == "" {
		name = "local"
	}
	l := strings.ToLower(name)
	switch {
	case strings.Contains(l, "ubuntu"), strings.Contains(l, "linux"):
		return Host{Name: name, OS: "Linux"}
	case strings.Contains(l, "macos"), strings.Contains(l, "darwin"), strings.Contains(l, "osx"):
		return Host{Name: name, OS: "macOS"}
	case strings.Contains(l, "windows"):
		return Host{Name: name, OS: "Windows"}
	}
	return Host{Name: name, OS: goosName(runtime.GOOS)}
}

func goosName(goos string) string {
	switch goos {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}

// JobInstance is one concrete combination of axis values plus its steps.
type JobInstance struct {
	Index       int                `json:"index"`
	Name        string             `json:"name"`
	Matrix      matrix.Combination `json:"matrix"`
	RunsOn      string             `json:"runs_on"`
	Host        Host               `json:"host"`
	Env         map[string]string  `json:"env,omitempty"`
	Steps       []PlannedStep      `json:"steps"`
	StopOnError bool               `json:"stop_on_error,omitempty"`
}
