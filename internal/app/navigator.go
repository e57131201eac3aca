// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/rover_perception/internal/config"
	"github.com/relabs-tech/rover_perception/internal/metrics"
	"github.com/relabs-tech/rover_perception/internal/navigation"
)

func navParams(cfg *config.Config) navigation.Params {
	return navigation.Params{
		SafeCM:              cfg.SafeDistanceCM,
		CautionCM:           cfg.CautionDistanceCM,
		ClearCM:             cfg.ClearDistanceCM,
		MaxCM:               cfg.MaxDistanceCM,
		StopThrottle:        cfg.StopThrottle,
		MinThrottle:         cfg.MinThrottle,
		MaxThrottle:         cfg.MaxThrottle,
		SteeringCenter:      cfg.SteeringCenter,
		SteeringRange:       cfg.SteeringRange,
		Blend:               cfg.SteeringBlend,
		ForwardBias:         cfg.ForwardBias,
		ThrottleForwardOnly: cfg.ThrottleForwardOnly,
	}
}

// RunNavigator drives steering and throttle overrides until ctx is done.
func RunNavigator(ctx context.Context, log *zap.SugaredLogger) error {
	cfg := config.Get()
	log = log.Named("nav")

	svc, err := openServices(ctx, cfg, "navigator", cfg.MQTTClientIDNav, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	link, err := dialLink(cfg, cfg.NavComponentID, log)
	if err != nil {
		return err
	}
	defer link.Close()

	m := metrics.NewNav(svc.registry)
	n := navigation.New(navigation.Config{
		ProximityFile:    cfg.ProximityFile,
		Params:           navParams(cfg),
		Range:            proximityRange(cfg),
		Period:           time.Second / time.Duration(cfg.NavRateHz),
		DataStale:        config.Ms(cfg.DataStaleMS),
		DataWait:         config.Ms(cfg.DataWaitMS),
		HeartbeatTimeout: config.Ms(cfg.HeartbeatTimeoutMS),
		LinkTimeout:      config.Ms(cfg.LinkTimeoutMS),
		SteeringChannel:  cfg.SteeringChannel,
		ThrottleChannel:  cfg.ThrottleChannel,
		StatusTopic:      cfg.TopicNavStatus,
	}, link, log, navigation.Deps{
		Metrics:   m,
		Journal:   svc.journal,
		Telemetry: svc.telemetry,
	})
	return n.Run(ctx)
}
