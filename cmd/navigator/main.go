// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/rover_perception/internal/app"
	"github.com/relabs-tech/rover_perception/internal/config"
	"github.com/relabs-tech/rover_perception/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "./rover_config.txt", "path to configuration file")
	flag.Parse()

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}
	logger, err := logging.New(config.Get().LogLevel)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infow("starting navigator (proximity -> RC override)")
	if err := app.RunNavigator(ctx, logger); err != nil {
		logger.Errorw("fatal", "error", err)
		return 1
	}
	return 0
}
