// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/rover_perception/internal/bridge"
	"github.com/relabs-tech/rover_perception/internal/config"
	"github.com/relabs-tech/rover_perception/internal/lidar"
	"github.com/relabs-tech/rover_perception/internal/mavlink"
	"github.com/relabs-tech/rover_perception/internal/metrics"
	"github.com/relabs-tech/rover_perception/internal/ports"
)

// simDevice selects the built-in simulator instead of hardware.
const simDevice = "sim"

// RunFusionBridge fuses scanner and camera sectors and streams them to the
// flight controller until ctx is done.
func RunFusionBridge(ctx context.Context, log *zap.SugaredLogger) error {
	cfg := config.Get()
	log = log.Named("bridge")

	svc, err := openServices(ctx, cfg, "fusion_bridge", cfg.MQTTClientIDBridge, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	link, err := dialLink(cfg, cfg.BridgeComponentID, log)
	if err != nil {
		return err
	}
	defer link.Close()

	b := bridge.New(bridge.Config{
		VisionDir:        cfg.StoreDir,
		ProximityFile:    cfg.ProximityFile,
		Range:            proximityRange(cfg),
		Depth:            depthSampling(cfg),
		QualityThreshold: cfg.LidarQualityThreshold,
		LidarMaxErrors:   cfg.LidarMaxErrors,
		LidarMaxRetries:  cfg.LidarMaxRetries,
		FusionPeriod:     time.Second / time.Duration(cfg.FusionRateHz),
		LivenessStale:    config.Ms(cfg.LivenessStaleMS),
		DepthMaxAge:      config.Ms(cfg.DepthMaxAgeMS),
		LidarStale:       config.Ms(cfg.LidarStaleMS),
		VisionWait:       config.Ms(cfg.VisionWaitMS),
		HeartbeatTimeout: config.Ms(cfg.HeartbeatTimeoutMS),
		ProximityTopic:   cfg.TopicProximity,
	}, link, func() (lidar.Scanner, error) {
		return openScanner(cfg, log)
	}, log, bridge.Deps{
		Metrics:   metrics.NewBridge(svc.registry),
		Journal:   svc.journal,
		Telemetry: svc.telemetry,
	})
	return b.Run(ctx)
}

// dialLink opens the flight-controller link, or an in-memory recorder
// when PIXHAWK_PORT is "sim".
func dialLink(cfg *config.Config, componentID int, log *zap.SugaredLogger) (mavlink.Link, error) {
	if cfg.PixhawkPort == simDevice {
		log.Warnw("flight controller simulated, nothing is transmitted")
		return mavlink.NewRecorder(), nil
	}
	port, err := ports.Resolve(cfg.PixhawkPort, ports.RoleFlightController, ports.System)
	if err != nil {
		return nil, fmt.Errorf("flight controller port: %w", err)
	}
	log.Infow("connecting to flight controller", "port", port, "baud", cfg.PixhawkBaud)
	node, err := mavlink.Dial(mavlink.Config{
		Device:      port,
		Baud:        cfg.PixhawkBaud,
		SystemID:    cfg.MAVSystemID,
		ComponentID: componentID,
	}, log)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// openScanner opens the range scanner and checks its self test.
func openScanner(cfg *config.Config, log *zap.SugaredLogger) (lidar.Scanner, error) {
	if cfg.LidarPort == simDevice {
		return lidar.NewSimScanner(), nil
	}
	port, err := ports.Resolve(cfg.LidarPort, ports.RoleLidar, ports.System)
	if err != nil {
		return nil, fmt.Errorf("lidar port: %w", err)
	}
	d, err := lidar.Open(lidar.Options{
		Port:       port,
		Baud:       cfg.LidarBaud,
		Timeout:    time.Second,
		MaxSamples: cfg.LidarMaxSamples,
	})
	if err != nil {
		return nil, err
	}

	// a scanner left streaming by a previous run answers nothing else
	_ = d.Stop()
	info, err := d.Info()
	if err != nil {
		return nil, errors.Join(err, d.Close())
	}
	health, err := d.CheckHealth()
	if err != nil {
		return nil, errors.Join(err, d.Close())
	}
	log.Infow("lidar connected", "port", port, "model", info.Model, "serial", info.Serial,
		"firmware", fmt.Sprintf("%d.%d", info.FirmwareMajor, info.FirmwareMinor),
		"health", health.StatusString())
	return d, nil
}
