// Package main is the entry point for the market-data collection, strategy
// signal aggregation, and notification pipeline.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqryxz/mts-pipeline/internal/app"
	"github.com/sqryxz/mts-pipeline/internal/config"
	"github.com/sqryxz/mts-pipeline/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting pipeline")

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire application")
	}

	ctx, cancel := context.WithCancel(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("application exited with error")
	}
	log.Info().Msg("pipeline stopped")
}
