// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app wires configuration, hardware and the rover services into
// the run functions called by the binaries under cmd/.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/relabs-tech/rover_perception/internal/config"
	"github.com/relabs-tech/rover_perception/internal/journal"
	"github.com/relabs-tech/rover_perception/internal/metrics"
	"github.com/relabs-tech/rover_perception/internal/proximity"
	"github.com/relabs-tech/rover_perception/internal/telemetry"
)

func proximityRange(cfg *config.Config) proximity.Range {
	return proximity.Range{MinCM: cfg.MinDistanceCM, MaxCM: cfg.MaxDistanceCM}
}

func depthSampling(cfg *config.Config) proximity.DepthSampling {
	return proximity.DepthSampling{
		GridStep:   cfg.DepthGridStep,
		MinM:       cfg.DepthMinM,
		MaxM:       cfg.DepthMaxM,
		Percentile: cfg.DepthPercentile,
		MinSamples: cfg.DepthMinSamples,
	}
}

// services holds the ambient collaborators every rover process shares.
type services struct {
	journal   *journal.Journal
	telemetry telemetry.Publisher
	registry  *prometheus.Registry
}

func openServices(ctx context.Context, cfg *config.Config, component, clientID string, log *zap.SugaredLogger) (*services, error) {
	j, err := journal.Open(cfg.JournalPath, component)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	pub, err := telemetry.Connect(cfg.MQTTBroker, clientID, log)
	if err != nil {
		// telemetry is a mirror; run without it
		log.Warnw("telemetry unavailable", "broker", cfg.MQTTBroker, "error", err)
		pub = telemetry.Nop{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Serve(ctx, cfg.MetricsAddr, reg, log)

	return &services{journal: j, telemetry: pub, registry: reg}, nil
}

func (s *services) Close() {
	s.telemetry.Close()
	_ = s.journal.Close()
}
