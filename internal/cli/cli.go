// Package cli implements the matrixci command line: plan, run, submit, status.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"matrixci/internal/app"
	"matrixci/internal/config"
	"matrixci/internal/core"
)

// ExitError carries the process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

const usage = `matrixci - run one step template across a matrix of configurations.

Usage:
  matrixci plan   [--json] <workflow.yml>
  matrixci run    [--max-parallel N] [--config DIR] <workflow.yml>
  matrixci submit [--server URL] <workflow.yml>
  matrixci status [--server URL] <run-id>
`

// Execute runs one CLI command. A failed run is an ExitError with code 1.
func Execute(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return &ExitError{Code: 2, Message: "missing command"}
	}
	switch args[0] {
	case "plan":
		return planCmd(args[1:], out)
	case "run":
		return runCmd(ctx, args[1:], out)
	case "submit":
		return submitCmd(ctx, args[1:], out)
	case "status":
		return statusCmd(ctx, args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	}
	fmt.Fprint(out, usage)
	return &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", args[0])}
}

func parse(fs *flag.FlagSet, args []string, out io.Writer) (string, error) {
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return "", &ExitError{Code: 2, Message: err.Error()}
	}
	if fs.NArg() != 1 {
		return "", &ExitError{Code: 2, Message: fs.Name() + ": expected exactly one argument"}
	}
	return fs.Arg(0), nil
}

func loadPlan(path string, actions core.ActionSet) (*core.Plan, error) {
	wf, err := core.LoadWorkflow(path)
	if err != nil {
		return nil, err
	}
	return core.NewScheduler(actions).Plan(wf)
}

func planCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print the plan as JSON")
	path, err := parse(fs, args, out)
	if err != nil {
		return err
	}
	p, err := loadPlan(path, nil)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tJOB\tHOST\tSTEPS\n")
	for _, j := range p.Jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s (%s)\t%d\n", j.Index, j.Name, j.Host.Name, j.Host.OS, len(j.Steps))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d jobs\n", len(p.Jobs))
	return nil
}

func runCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	maxParallel := fs.Int("max-parallel", -1, "override the job concurrency limit (0 = unbounded)")
	cfgDir := fs.String("config", "configs", "directory containing matrixci.yaml")
	path, err := parse(fs, args, out)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*cfgDir)
	if err != nil {
		return err
	}
	config.SetupLogging(cfg.Server.LogLevel, cfg.Server.LogFormat)
	stack, err := app.Build(cfg)
	if err != nil {
		return err
	}
	p, err := loadPlan(path, stack.Runner.Actions)
	if err != nil {
		return err
	}
	if *maxParallel >= 0 {
		p.MaxParallel = *maxParallel
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	res, err := stack.Runner.Run(ctx, p)
	if err != nil {
		return err
	}
	printResult(out, res)
	if res.Status == core.RunFailed {
		return &ExitError{Code: 1, Message: "run failed"}
	}
	return nil
}

func printResult(out io.Writer, res *core.RunResult) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "JOB\tSTATUS\tSTEPS\n")
	for _, j := range res.Jobs {
		counts := map[core.StepStatus]int{}
		for _, s := range j.Steps {
			counts[s.Status]++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", j.Name, j.Status, stepSummary(counts))
	}
	_ = tw.Flush()
	passed, failed := res.Counts()
	fmt.Fprintf(out, "run %s %s: %d passed, %d failed\n", res.ID, res.Status, passed, failed)
}

func stepSummary(counts map[core.StepStatus]int) string {
	parts := make([]string, 0, len(counts))
	for s, n := range counts {
		parts = append(parts, fmt.Sprintf("%d %s", n, s))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func serverFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("MATRIXCI_SERVER")
	if def == "" {
		def = "http://localhost:8080"
	}
	return fs.String("server", def, "matrixci server URL")
}

func submitCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	server := serverFlag(fs)
	path, err := parse(fs, args, out)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return call(ctx, http.MethodPost, strings.TrimRight(*server, "/")+"/v1/runs", data, http.StatusAccepted, out)
}

func statusCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	server := serverFlag(fs)
	id, err := parse(fs, args, out)
	if err != nil {
		return err
	}
	return call(ctx, http.MethodGet, strings.TrimRight(*server, "/")+"/v1/runs/"+id, nil, http.StatusOK, out)
}

// call performs one API request and pretty-prints the JSON reply.
func call(ctx context.Context, method, url string, body []byte, want int, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/yaml")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		raw = pretty.Bytes()
	}
	if resp.StatusCode != want {
		return errors.New(resp.Status + ": " + strings.TrimSpace(string(raw)))
	}
	_, err = fmt.Fprintln(out, strings.TrimSpace(string(raw)))
	return err
}
