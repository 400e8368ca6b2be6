package main

import (
	"github.com/rs/zerolog/log"

	"matrixci/internal/app"
	"matrixci/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	config.SetupLogging(cfg.Server.LogLevel, cfg.Server.LogFormat)

	if err := app.Run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}
