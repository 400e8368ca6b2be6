// Package app wires configuration into a ready scheduler and runner and
// hosts the HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"matrixci/internal/actions"
	"matrixci/internal/api"
	"matrixci/internal/blockchain"
	"matrixci/internal/config"
	"matrixci/internal/core"
	"matrixci/internal/notify"
	"matrixci/internal/runstore"
	"matrixci/internal/security"
	"matrixci/internal/storage"
)

// Stack is everything needed to plan and run workflows.
type Stack struct {
	Scheduler *core.Scheduler
	Runner    *core.Runner
	Ledger    *blockchain.Ledger
	Logs      *storage.LogStorage
}

// Build creates the executor (local or agent), built-in actions, log storage,
// signed ledger and notifier described by cfg.
func Build(cfg config.Config) (*Stack, error) {
	var exec core.Executor = core.NewExecutor()
	if cfg.Runner.AgentURL != "" {
		exec = core.NewRemoteExecutor(cfg.Runner.AgentURL)
	}
	set := actions.Builtins(actions.ShellTools(exec, cfg.Runner.Python))

	ledger, err := blockchain.OpenLedger(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	pub, priv, created, err := security.EnsureKeyPair(cfg.Ledger.KeyDir)
	if err != nil {
		return nil, fmt.Errorf("ledger keys: %w", err)
	}
	if created {
		log.Info().Str("dir", cfg.Ledger.KeyDir).Msg("generated ledger signing keys")
	}

	var n notify.Notifier = notify.LogNotifier{}
	if cfg.Notify.WebhookURL != "" {
		n = notify.NewWebhook(cfg.Notify.WebhookURL)
	}

	logs := storage.NewLogStorage(cfg.Runner.LogsDir)
	r := core.NewRunner(exec)
	r.Actions = set
	r.Notifier = notify.WithDefaults(n, cfg.Notify.Channel, cfg.Notify.Token)
	r.LogStorage = logs
	r.Ledger = ledger
	r.PrivKey, r.PubKey = priv, pub
	r.AgentID = cfg.Runner.AgentID
	r.WorkDir = cfg.Runner.WorkDir
	r.MaxParallel = cfg.Runner.MaxParallel

	return &Stack{
		Scheduler: core.NewScheduler(set),
		Runner:    r,
		Ledger:    ledger,
		Logs:      logs,
	}, nil
}

// Run serves the API until SIGINT/SIGTERM, then drains in-flight runs.
func Run(cfg config.Config) error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := runstore.Open(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	defer store.Close()

	stack, err := Build(cfg)
	if err != nil {
		return err
	}

	h := api.NewHandler(rootCtx, stack.Scheduler, stack.Runner, store)
	h.Ledger = stack.Ledger
	h.Logs = stack.Logs

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Store.Backend).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-waitForSignal():
	case err := <-errCh:
		return fmt.Errorf("server crashed: %w", err)
	}
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel() // stop running jobs
	h.Wait()
	return nil
}

func waitForSignal() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}
