package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixci/internal/blockchain"
	"matrixci/internal/core"
	"matrixci/internal/notify"
	"matrixci/internal/runstore"
	"matrixci/internal/security"
	"matrixci/internal/storage"
)

type echoExecutor struct{}

func (echoExecutor) RunStep(_ context.Context, req core.StepRequest) (core.StepOutput, error) {
	if strings.Contains(req.Command, "fail") {
		return core.StepOutput{ExitCode: 1, Output: "failed\n"}, errors.New("exit status 1")
	}
	return core.StepOutput{Output: req.Command + "\n"}, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notify.Notification) error { return nil }

const workflow = `
name: tests
strategy:
  matrix:
    os: [A, B]
    toolkit: [X, Y]
    exclude:
      - os: B
        toolkit: Y
steps:
  - name: Run tests
    run: test ${{ matrix.os }} ${{ matrix.toolkit }}
`

type fixture struct {
	h      *Handler
	srv    *httptest.Server
	ledger *blockchain.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	ledger, err := blockchain.OpenLedger(filepath.Join(dir, "ledger.jsonl"))
	require.NoError(t, err)
	pub, priv, err := security.GenerateKeyPair()
	require.NoError(t, err)

	logs := storage.NewLogStorage(filepath.Join(dir, "logs"))
	runner := core.NewRunner(echoExecutor{})
	runner.Notifier = nopNotifier{}
	runner.LogStorage = logs
	runner.Ledger, runner.PrivKey, runner.PubKey = ledger, priv, pub

	h := NewHandler(context.Background(), core.NewScheduler(nil), runner, runstore.NewMemory())
	h.Ledger = ledger
	h.Logs = logs

	srv := httptest.NewServer(Router(h))
	t.Cleanup(srv.Close)
	return &fixture{h: h, srv: srv, ledger: ledger}
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/yaml", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestPlan(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/plan", workflow)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p core.Plan
	decodeBody(t, resp, &p)
	require.Len(t, p.Jobs, 3)
	assert.Equal(t, "tests (A, X)", p.Jobs[0].Name)
	assert.Equal(t, "test B X", p.Jobs[2].Steps[0].Run)

	resp = f.post(t, "/v1/plan", "steps: []\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e map[string]string
	decodeBody(t, resp, &e)
	assert.Contains(t, e["error"], "invalid workflow")
}

func TestSubmitAndFetchRun(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/runs", workflow)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Jobs   int    `json:"jobs"`
	}
	decodeBody(t, resp, &accepted)
	assert.Equal(t, "pending", accepted.Status)
	assert.Equal(t, 3, accepted.Jobs)
	assert.Equal(t, "/v1/runs/"+accepted.ID, resp.Header.Get("Location"))

	f.h.Wait()

	resp = f.get(t, "/v1/runs/"+accepted.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run core.RunResult
	decodeBody(t, resp, &run)
	assert.Equal(t, core.RunSucceeded, run.Status)
	require.Len(t, run.Jobs, 3)
	require.NotNil(t, run.Notification)
	assert.Equal(t, "success", run.Notification.Status)

	resp = f.get(t, "/v1/runs/"+accepted.ID+"/jobs/1/steps/1/log")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "test A Y\n", string(body))

	resp = f.get(t, "/v1/runs/"+accepted.ID+"/jobs/9/steps/1/log")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.get(t, "/v1/runs?limit=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []core.RunResult
	decodeBody(t, resp, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, accepted.ID, runs[0].ID.String())
}

func TestFailedRunIsStoredAsFailed(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/runs", "name: broken\nsteps:\n  - run: make fail\n")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted map[string]any
	decodeBody(t, resp, &accepted)
	f.h.Wait()

	resp = f.get(t, "/v1/runs/"+accepted["id"].(string))
	var run core.RunResult
	decodeBody(t, resp, &run)
	assert.Equal(t, core.RunFailed, run.Status)
	assert.Equal(t, "failure", run.Notification.Status)
}

func TestRunLookupErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path string
		want int
	}{
		{"/v1/runs/not-a-uuid", http.StatusBadRequest},
		{"/v1/runs/7f1b7d4e-8d2a-4a8e-9d9e-2d1c7d0a9b11", http.StatusNotFound},
		{"/v1/runs?limit=abc", http.StatusBadRequest},
		{"/v1/runs?limit=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.get(t, tt.path).StatusCode)
		})
	}
}

func TestVerifyLedger(t *testing.T) {
	f := newFixture(t)

	f.post(t, "/v1/runs", workflow)
	f.h.Wait()

	resp := f.get(t, "/v1/ledger/verify")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ok map[string]any
	decodeBody(t, resp, &ok)
	assert.Equal(t, true, ok["valid"])
	assert.Equal(t, float64(3), ok["blocks"])
	assert.Equal(t, f.ledger.Blocks()[2].Hash, ok["tip"])

	f.ledger.Blocks()[1].Status = "passed-ish"
	resp = f.get(t, "/v1/ledger/verify")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.get(t, "/healthz")
	resp = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "http_requests_total")
}
