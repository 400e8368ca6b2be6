package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixci/internal/matrix"
)

func TestLoadWorkflow_Toolkits(t *testing.T) {
	wf, err := LoadWorkflow("testdata/toolkits.yml")
	require.NoError(t, err)

	assert.Equal(t, "tests", wf.Name)
	assert.Equal(t, 4, wf.Strategy.MaxParallel)

	axes := wf.Strategy.Matrix.Axes
	require.Len(t, axes, 3)
	assert.Equal(t, "os", axes[0].Name)
	assert.Equal(t, "toolkit", axes[1].Name)
	assert.Equal(t, "python-version", axes[2].Name)
	assert.Equal(t, []string{"null", "pyqt", "pyqt5", "pyside2", "wx"}, axes[1].Values)
	assert.Equal(t, []string{"3.6"}, axes[2].Values)

	require.Len(t, wf.Strategy.Matrix.Exclude, 3)
	require.Len(t, wf.Strategy.Matrix.Include, 1)
	assert.Equal(t, "3.10", wf.Strategy.Matrix.Include[0]["python-version"])

	require.Len(t, wf.Steps, 5)
	assert.Equal(t, "checkout", wf.Steps[0].DisplayName())
	assert.Equal(t, "#ci", wf.Notify.Channel)
	assert.Equal(t, NotifyAction{Status: "success", Color: "good"}, wf.Notify.Success)
	assert.Equal(t, NotifyAction{Status: "failure", Color: "danger"}, wf.Notify.Failure)
}

func TestLoadWorkflow_MissingFile(t *testing.T) {
	_, err := LoadWorkflow("testdata/does-not-exist.yml")
	assert.Error(t, err)
}

func TestParseWorkflow_NoMatrix(t *testing.T) {
	wf, err := ParseWorkflow([]byte("name: lint\nsteps:\n  - run: make lint\n"))
	require.NoError(t, err)
	assert.Empty(t, wf.Strategy.Matrix.Axes)
}

func TestParseWorkflow_CustomNotify(t *testing.T) {
	wf, err := ParseWorkflow([]byte(`
steps:
  - run: "true"
notify:
  success: {status: green}
  failure: {status: red, color: "#ff0000"}
`))
	require.NoError(t, err)
	assert.Equal(t, NotifyAction{Status: "green", Color: "good"}, wf.Notify.Success)
	assert.Equal(t, NotifyAction{Status: "red", Color: "#ff0000"}, wf.Notify.Failure)
}

func TestParseWorkflow_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		cause error
	}{
		{"no steps", "name: x\n", nil},
		{"run and uses", "steps:\n  - run: a\n    uses: checkout\n", nil},
		{"neither run nor uses", "steps:\n  - name: nothing\n", nil},
		{"negative timeout", "steps:\n  - run: a\n    timeout-minutes: -1\n", nil},
		{"bad condition", "steps:\n  - run: a\n    if: matrix.os ==\n", nil},
		{"negative max-parallel", "strategy:\n  max-parallel: -1\nsteps:\n  - run: a\n", nil},
		{"empty axis", "strategy:\n  matrix:\n    os: []\nsteps:\n  - run: a\n", matrix.ErrEmptyAxis},
		{
			"exclude unknown axis",
			"strategy:\n  matrix:\n    os: [a]\n    exclude:\n      - arch: x86\nsteps:\n  - run: a\n",
			matrix.ErrUnknownAxis,
		},
		{
			"exclude unknown value",
			"strategy:\n  matrix:\n    os: [a]\n    exclude:\n      - os: b\nsteps:\n  - run: a\n",
			matrix.ErrUnknownValue,
		},
		{"matrix not a mapping", "strategy:\n  matrix: [a, b]\nsteps:\n  - run: a\n", nil},
		{"nested axis value", "strategy:\n  matrix:\n    os: [[a]]\nsteps:\n  - run: a\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWorkflow([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidWorkflow), "got %v", err)
			if tt.cause != nil {
				assert.True(t, errors.Is(err, tt.cause), "got %v", err)
			}
		})
	}
}
