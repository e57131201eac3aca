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
	"github.com/relabs-tech/rover_perception/internal/capture"
	"github.com/relabs-tech/rover_perception/internal/config"
	"github.com/relabs-tech/rover_perception/internal/logging"
)

// exitBusy tells an orchestrator another instance already owns the camera.
// It stays clear of 1 (failure) and 2 (runtime panic, flag errors).
const exitBusy = 3

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

	logger.Infow("starting capture service (depth camera -> shared store)")
	if err := app.RunCaptureService(ctx, logger); err != nil {
		if capture.IsBusy(err) {
			logger.Errorw("camera already owned by another capture service", "error", err)
			return exitBusy
		}
		logger.Errorw("fatal", "error", err)
		return 1
	}
	return 0
}
