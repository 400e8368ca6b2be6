package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixci/internal/core"
)

// recorder captures the commands the collaborators build.
type recorder struct {
	cmds []string
	dirs []string
	err  error
}

func (r *recorder) RunStep(_ context.Context, req core.StepRequest) (core.StepOutput, error) {
	r.cmds = append(r.cmds, req.Command)
	r.dirs = append(r.dirs, req.Dir)
	if r.err != nil {
		return core.StepOutput{ExitCode: 1}, r.err
	}
	return core.StepOutput{Output: "ok"}, nil
}

func invoke(t *testing.T, set core.ActionSet, name string, inv core.Invocation) (core.StepOutput, error) {
	t.Helper()
	a, ok := set[name]
	require.True(t, ok, "action %q missing", name)
	return a.Run(context.Background(), inv)
}

func TestBuiltins_Commands(t *testing.T) {
	tests := []struct {
		name   string
		action string
		inv    core.Invocation
		want   string
	}{
		{
			name:   "install deps",
			action: "install-deps",
			inv:    core.Invocation{With: map[string]string{"packages": "numpy, pyqt5  traits"}},
			want:   "python3 -m pip install numpy pyqt5 traits",
		},
		{
			name:   "install package with extras",
			action: "install-package",
			inv:    core.Invocation{With: map[string]string{"extras": "qt,test"}},
			want:   "python3 -m pip install '.[qt,test]'",
		},
		{
			name:   "install package plain",
			action: "install-package",
			inv:    core.Invocation{},
			want:   "python3 -m pip install .",
		},
		{
			name:   "test discovery",
			action: "test",
			inv:    core.Invocation{With: map[string]string{"path": "traitsui"}},
			want:   "python3 -m unittest discover -v traitsui",
		},
		{
			name:   "checkout at revision",
			action: "checkout",
			inv:    core.Invocation{Repository: "https://example.com/org/repo.git", Revision: "v7.0.0"},
			want:   "git clone --quiet https://example.com/org/repo.git . && git -C . checkout --quiet v7.0.0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			set := Builtins(ShellTools(rec, "python3"))

			_, err := invoke(t, set, tt.action, tt.inv)
			require.NoError(t, err)
			require.Len(t, rec.cmds, 1)
			assert.Equal(t, tt.want, rec.cmds[0])
		})
	}
}

func TestCheckout_NoRepositoryIsNoop(t *testing.T) {
	rec := &recorder{}
	out, err := invoke(t, Builtins(ShellTools(rec, "")), "checkout", core.Invocation{})
	require.NoError(t, err)
	assert.Empty(t, rec.cmds)
	assert.Contains(t, out.Output, "working directory")
}

func TestInstallDeps_RequiresPackages(t *testing.T) {
	rec := &recorder{}
	_, err := invoke(t, Builtins(ShellTools(rec, "")), "install-deps", core.Invocation{})
	assert.Error(t, err)
	assert.Empty(t, rec.cmds)
}

func TestActions_PropagateFailureAndRequest(t *testing.T) {
	rec := &recorder{err: errors.New("exit status 1")}
	inv := core.Invocation{Request: core.StepRequest{Dir: "/tmp/job-0"}}

	out, err := invoke(t, Builtins(ShellTools(rec, "")), "test", inv)
	assert.Error(t, err)
	assert.Equal(t, 1, out.ExitCode)
	assert.Equal(t, []string{"/tmp/job-0"}, rec.dirs)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "plain-arg_1.0", shellQuote("plain-arg_1.0"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "'a b'", shellQuote("a b"))
}
