package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixci/internal/matrix"
)

func noop(context.Context, Invocation) (StepOutput, error) { return StepOutput{}, nil }

func plan(t *testing.T, src string) *Plan {
	t.Helper()
	wf, err := ParseWorkflow([]byte(src))
	require.NoError(t, err)
	p, err := NewScheduler(nil).Plan(wf)
	require.NoError(t, err)
	return p
}

func TestScheduler_Toolkits(t *testing.T) {
	wf, err := LoadWorkflow("testdata/toolkits.yml")
	require.NoError(t, err)

	actions := ActionSet{
		"checkout":        ActionFunc(noop),
		"install-deps":    ActionFunc(noop),
		"install-package": ActionFunc(noop),
	}
	p, err := NewScheduler(actions).Plan(wf)
	require.NoError(t, err)

	// 15 combinations, 3 excluded, 1 included
	require.Len(t, p.Jobs, 13)
	assert.Equal(t, 4, p.MaxParallel)

	first := p.Jobs[0]
	assert.Equal(t, "tests (ubuntu-latest, null, 3.6)", first.Name)
	assert.Equal(t, "ubuntu-latest", first.RunsOn)
	assert.Equal(t, Host{Name: "ubuntu-latest", OS: "Linux"}, first.Host)
	assert.Equal(t, map[string]string{"ETS_TOOLKIT": "null"}, first.Env)
	assert.Equal(t, "null", first.Steps[1].With["packages"])
	assert.NotNil(t, first.Steps[3].Condition)
	assert.Nil(t, first.Steps[4].Condition)

	assert.Equal(t, "tests (macos-latest, null, 3.6)", p.Jobs[5].Name)
	assert.Equal(t, "macOS", p.Jobs[5].Host.OS)
	assert.Equal(t, "Windows", p.Jobs[9].Host.OS)

	last := p.Jobs[12]
	assert.Equal(t, "tests (ubuntu-latest, pyside6, 3.10)", last.Name)
	assert.Equal(t, "pyside6", last.Steps[1].With["packages"])

	for i, j := range p.Jobs {
		assert.Equal(t, i, j.Index)
		assert.False(t, j.Matrix.Matches(matrix.Combination{"os": "macos-latest", "toolkit": "pyqt"}), j.Name)
		assert.False(t, j.Matrix.Matches(matrix.Combination{"os": "windows-latest", "toolkit": "wx"}), j.Name)
	}
}

func TestScheduler_UnknownAction(t *testing.T) {
	wf, err := LoadWorkflow("testdata/toolkits.yml")
	require.NoError(t, err)

	_, err = NewScheduler(ActionSet{"checkout": ActionFunc(noop)}).Plan(wf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidWorkflow))
	assert.Contains(t, err.Error(), `unknown action "install-deps"`)
}

func TestScheduler_NoMatrixSingleJob(t *testing.T) {
	p := plan(t, "name: lint\nsteps:\n  - run: make lint\n")
	require.Len(t, p.Jobs, 1)
	assert.Equal(t, "lint", p.Jobs[0].Name)
	assert.Empty(t, p.Jobs[0].Matrix)
}

func TestScheduler_IncludeOnly(t *testing.T) {
	p := plan(t, `
name: extra
strategy:
  matrix:
    include:
      - os: ubuntu-latest
        flavor: debug
steps:
  - run: echo ${{ matrix.flavor }}
`)
	require.Len(t, p.Jobs, 1)
	assert.Equal(t, "echo debug", p.Jobs[0].Steps[0].Run)
}

func TestScheduler_SameLabelGetsDistinctNames(t *testing.T) {
	p := plan(t, `
name: ci
strategy:
  matrix:
    os: [A]
    toolkit: [X]
    include:
      - os: Z
      - toolkit: Z
steps:
  - run: "true"
`)
	require.Len(t, p.Jobs, 3)
	assert.Equal(t, "ci (A, X)", p.Jobs[0].Name)
	assert.Equal(t, "ci (Z)", p.Jobs[1].Name)
	assert.Equal(t, "ci (toolkit=Z)", p.Jobs[2].Name)
}

func TestScheduler_EverythingExcluded(t *testing.T) {
	wf, err := ParseWorkflow([]byte(`
strategy:
  matrix:
    os: [a]
    exclude:
      - os: "*"
steps:
  - run: "true"
`))
	require.NoError(t, err)

	_, err = NewScheduler(nil).Plan(wf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidWorkflow))
}

func TestScheduler_TemplateError(t *testing.T) {
	wf, err := ParseWorkflow([]byte(`
strategy:
  matrix:
    os: [a]
steps:
  - run: echo ${{ matrix.arch }}
`))
	require.NoError(t, err)

	_, err = NewScheduler(nil).Plan(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")
}

func TestScheduler_NilWorkflow(t *testing.T) {
	_, err := NewScheduler(nil).Plan(nil)
	assert.True(t, errors.Is(err, ErrInvalidWorkflow))
}
