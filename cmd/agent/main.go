package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"matrixci/internal/agent"
	"matrixci/internal/config"
	"matrixci/internal/core"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	config.SetupLogging(cfg.Server.LogLevel, cfg.Server.LogFormat)

	a := agent.New(cfg.Runner.AgentID, core.NewExecutor())
	srv := &http.Server{
		Addr:        cfg.Agent.Addr,
		Handler:     a.Router(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// no write timeout: a step may run for hours
	}

	go func() {
		log.Info().Str("addr", cfg.Agent.Addr).Str("agent", a.ID).Msg("agent listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("agent crashed")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
