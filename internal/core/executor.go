package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// DefaultStepTimeout bounds a step that declares no timeout-minutes.
const DefaultStepTimeout = 5 * time.Minute

// StepRequest is everything needed to execute one command.
type StepRequest struct {
	RunID   string            `json:"run_id,omitempty"`
	Job     string            `json:"job"`
	Step    string            `json:"step"`
	Command string            `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// StepOutput is what a command left behind. ExitCode is -1 when the command
// could not be started or was killed.
type StepOutput struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// Executor runs step commands. A non-nil error means the step failed.
type Executor interface {
	RunStep(ctx context.Context, req StepRequest) (StepOutput, error)
}

// LocalExecutor runs steps in a shell on this machine.
type LocalExecutor struct {
	Shell string // defaults to sh
}

func NewExecutor() *LocalExecutor {
	return &LocalExecutor{Shell: "sh"}
}

// RunStep executes a single step and returns its combined output.
func (e *LocalExecutor) RunStep(ctx context.Context, req StepRequest) (StepOutput, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}
	// Run the step in a shell (sh -c "cmd")
	cmd := exec.CommandContext(ctx, shell, "-c", req.Command)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), envList(req.Env)...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	res := StepOutput{Output: out.String()}
	if err == nil {
		return res, nil
	}

	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("step timed out after %s", timeout)
	}
	return res, err
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// AgentResponse is the agent's reply to a step request.
type AgentResponse struct {
	StepOutput
	Error string `json:"error,omitempty"`
}

// RemoteExecutor sends steps to an agent over HTTP.
type RemoteExecutor struct {
	BaseURL string
	Client  *http.Client
}

func NewRemoteExecutor(baseURL string) *RemoteExecutor {
	return &RemoteExecutor{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
	}
}

func (e *RemoteExecutor) RunStep(ctx context.Context, req StepRequest) (StepOutput, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return StepOutput{ExitCode: -1}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/v1/steps", bytes.NewReader(body))
	if err != nil {
		return StepOutput{ExitCode: -1}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return StepOutput{ExitCode: -1}, fmt.Errorf("agent request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return StepOutput{ExitCode: -1}, fmt.Errorf("agent returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var ar AgentResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return StepOutput{ExitCode: -1}, fmt.Errorf("decode agent response: %w", err)
	}
	if ar.Error != "" {
		return ar.StepOutput, errors.New(ar.Error)
	}
	return ar.StepOutput, nil
}
