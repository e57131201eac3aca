// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/rover_perception/internal/camera"
	"github.com/relabs-tech/rover_perception/internal/capture"
	"github.com/relabs-tech/rover_perception/internal/config"
	"github.com/relabs-tech/rover_perception/internal/metrics"
)

// captureComponentID is the liveness component id of the capture service.
const captureComponentID = 196

// RunCaptureService owns the depth camera until ctx is done.
func RunCaptureService(ctx context.Context, log *zap.SugaredLogger) error {
	cfg := config.Get()
	log = log.Named("capture")

	svc, err := openServices(ctx, cfg, capture.ComponentName, cfg.MQTTClientIDCapture, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	s := capture.New(capture.Config{
		Dir:    cfg.StoreDir,
		Device: cfg.CameraDevice,
		Settings: camera.Settings{
			ColorWidth:  cfg.RGBWidth,
			ColorHeight: cfg.RGBHeight,
			DepthWidth:  cfg.DepthWidth,
			DepthHeight: cfg.DepthHeight,
			IRWidth:     cfg.IRWidth,
			IRHeight:    cfg.IRHeight,
			FPS:         cfg.CameraFPS,
			ExposureUS:  cfg.ExposureUS,
			Gain:        cfg.Gain,
		},
		JPEGQuality:      cfg.JPEGQuality,
		BrightnessLow:    cfg.BrightnessLow,
		BrightnessHigh:   cfg.BrightnessHigh,
		ExposureInterval: config.Ms(cfg.ExposureUpdateMS),
		MaxErrors:        cfg.CaptureMaxErrors,
		ComponentID:      captureComponentID,
		LivenessStale:    config.Ms(cfg.LivenessStaleMS),
		ReconnectDelay:   2 * time.Second,
		DepthMinM:        cfg.DepthMinM,
		DepthMaxM:        cfg.DepthMaxM,
	}, camera.Open, log, capture.Deps{
		Metrics:     metrics.NewCapture(svc.registry),
		Journal:     svc.journal,
		Telemetry:   svc.telemetry,
		StatusTopic: cfg.TopicVisionStatus,
	})
	return s.Run(ctx)
}
