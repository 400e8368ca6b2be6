// Package actions provides the built-in `uses:` steps and the external tools
// they drive: a package manager, a test runner and a source checkout provider.
package actions

import (
	"context"
	"errors"
	"strings"

	"matrixci/internal/core"
)

// PackageManager installs dependencies and the package under test.
type PackageManager interface {
	InstallDeps(ctx context.Context, base core.StepRequest, deps []string) (core.StepOutput, error)
	InstallLocal(ctx context.Context, base core.StepRequest, path string, extras []string) (core.StepOutput, error)
}

// TestRunner discovers and executes tests under a path.
type TestRunner interface {
	Discover(ctx context.Context, base core.StepRequest, path string) (core.StepOutput, error)
}

// SourceProvider materializes a repository at a revision into a directory.
type SourceProvider interface {
	Checkout(ctx context.Context, base core.StepRequest, repo, revision, dir string) (core.StepOutput, error)
}

// Pip drives `python -m pip` through a step executor.
type Pip struct {
	Exec   core.Executor
	Python string
}

func (p Pip) python() string {
	if p.Python == "" {
		return "python"
	}
	return p.Python
}

func (p Pip) InstallDeps(ctx context.Context, base core.StepRequest, deps []string) (core.StepOutput, error) {
	if len(deps) == 0 {
		return core.StepOutput{ExitCode: -1}, errors.New("install-deps: no packages given")
	}
	base.Command = p.python() + " -m pip install " + quoteAll(deps)
	return p.Exec.RunStep(ctx, base)
}

func (p Pip) InstallLocal(ctx context.Context, base core.StepRequest, path string, extras []string) (core.StepOutput, error) {
	if path == "" {
		path = "."
	}
	target := path
	if len(extras) > 0 {
		target += "[" + strings.Join(extras, ",") + "]"
	}
	base.Command = p.python() + " -m pip install " + shellQuote(target)
	return p.Exec.RunStep(ctx, base)
}

// Unittest runs `python -m unittest discover`.
type Unittest struct {
	Exec   core.Executor
	Python string
}

func (u Unittest) Discover(ctx context.Context, base core.StepRequest, path string) (core.StepOutput, error) {
	py := u.Python
	if py == "" {
		py = "python"
	}
	if path == "" {
		path = "."
	}
	base.Command = py + " -m unittest discover -v " + shellQuote(path)
	return u.Exec.RunStep(ctx, base)
}

// Git checks out repositories with the git CLI.
type Git struct {
	Exec core.Executor
}

func (g Git) Checkout(ctx context.Context, base core.StepRequest, repo, revision, dir string) (core.StepOutput, error) {
	if dir == "" {
		dir = "."
	}
	cmd := "git clone --quiet " + shellQuote(repo) + " " + shellQuote(dir)
	if revision != "" {
		cmd += " && git -C " + shellQuote(dir) + " checkout --quiet " + shellQuote(revision)
	}
	base.Command = cmd
	return g.Exec.RunStep(ctx, base)
}

// shellQuote wraps s in single quotes for sh.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@+,", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteAll(args []string) string {
	q := make([]string, len(args))
	for i, a := range args {
		q[i] = shellQuote(a)
	}
	return strings.Join(q, " ")
}

// splitList accepts comma, space or newline separated lists.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}
