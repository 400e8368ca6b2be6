package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixci/internal/matrix"
)

func testScope() Scope {
	return Scope{
		Axes: []matrix.Axis{
			{Name: "os", Values: []string{"ubuntu-latest", "windows-latest"}},
			{Name: "toolkit", Values: []string{"null", "pyqt5"}},
			{Name: "extra", Values: []string{"1"}},
		},
		Matrix: matrix.Combination{"os": "ubuntu-latest", "toolkit": "pyqt5"},
		Host:   Host{Name: "ubuntu-latest", OS: "Linux"},
		Env:    map[string]string{"ETS_TOOLKIT": "qt"},
	}
}

func TestCondition_Eval(t *testing.T) {
	tests := []struct {
		expr   string
		failed bool
		want   bool
	}{
		{`matrix.os == "ubuntu-latest"`, false, true},
		{`${{ matrix.toolkit != "null" }}`, false, true},
		{`runner.os == "Windows"`, false, false},
		{`env.ETS_TOOLKIT == "qt" && success()`, false, true},
		{`matrix.extra == ""`, false, true},
		{`success()`, true, false},
		{`failure()`, true, true},
		{`failure()`, false, false},
		{`always()`, true, true},
		{`true`, false, true},
		{`"true"`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseCondition(tt.expr)
			require.NoError(t, err)

			scope := testScope()
			scope.Failed = tt.failed
			got, err := c.Eval(scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCondition_Errors(t *testing.T) {
	_, err := ParseCondition("")
	assert.Error(t, err)
	_, err = ParseCondition("${{ }}")
	assert.Error(t, err)
	_, err = ParseCondition(`matrix.os ==`)
	assert.Error(t, err)

	for _, expr := range []string{`matrix.arch == "x86"`, `matrix.os`, `env.MISSING == ""`} {
		c, err := ParseCondition(expr)
		require.NoError(t, err, expr)
		_, err = c.Eval(testScope())
		assert.Error(t, err, expr)
	}
}

func TestInterpolate(t *testing.T) {
	scope := testScope()

	got, err := Interpolate("pip install ${{ matrix.toolkit }} on ${{runner.os}}", scope)
	require.NoError(t, err)
	assert.Equal(t, "pip install pyqt5 on Linux", got)

	got, err = Interpolate(`echo $HOME ${PATH} ${{ env.ETS_TOOLKIT }}`, scope)
	require.NoError(t, err)
	assert.Equal(t, "echo $HOME ${PATH} qt", got)

	got, err = Interpolate("[${{ matrix.extra }}]", scope)
	require.NoError(t, err)
	assert.Equal(t, "[]", got)

	_, err = Interpolate("${{ matrix.nope }}", scope)
	assert.Error(t, err)
}
