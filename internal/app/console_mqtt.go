// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/rover_perception/internal/config"
	"github.com/relabs-tech/rover_perception/internal/navigation"
	"github.com/relabs-tech/rover_perception/internal/proximity"
	"github.com/relabs-tech/rover_perception/internal/store"
)

func formatProximity(d proximity.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[PROX] #%d", d.Sequence)
	for i, cm := range d.SectorsCM {
		fmt.Fprintf(&b, " %s=%d", proximity.SectorName(i), cm)
	}
	fmt.Fprintf(&b, "  min=%d lidar=%t vision=%t sent=%d err=%d",
		d.MinCM, d.LidarAvailable, d.VisionServerAvailable, d.MessagesSent, d.SendErrors)
	return b.String()
}

func formatVision(l store.Liveness) string {
	return fmt.Sprintf("[CAM ]  %s pid=%d fps=%.1f/%.1f/%.1f frames=%d errors=%d exp=%.0fus gain=%.0f luma=%.1f",
		l.Status, l.PID, l.FPS.RGBActual, l.FPS.DepthActual, l.FPS.IRActual,
		l.LastFrameSeq, l.Errors.Count, l.ExposureUS, l.Gain, l.BrightnessMean)
}

func formatNav(s navigation.Status) string {
	link := "ok"
	if s.LinkLost {
		link = "LOST"
	}
	return fmt.Sprintf("[NAV ]  %s steer=%d throttle=%d heading=%.1f min=%d sent=%d stops=%d/%d link=%s",
		s.State, s.Steering, s.Throttle, s.HeadingDeg, s.MinCM, s.CommandsSent,
		s.ObstacleStops, s.StaleStops, link)
}

func subscribePrint[T any](client mqtt.Client, topic string, format func(T) string, log *zap.SugaredLogger) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Warnw("console: unmarshal error", "topic", topic, "error", err)
			return
		}
		fmt.Println(format(v))
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Infow("console: subscribed", "topic", topic)
	return nil
}

// RunConsoleMQTT prints the rover telemetry mirror until ctx is done.
func RunConsoleMQTT(ctx context.Context, log *zap.SugaredLogger) error {
	cfg := config.Get()
	log = log.Named("console")
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("console: MQTT_BROKER is not configured")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Infow("console: connected to MQTT broker", "broker", cfg.MQTTBroker)

	if err := subscribePrint(client, cfg.TopicProximity, formatProximity, log); err != nil {
		return err
	}
	if err := subscribePrint(client, cfg.TopicVisionStatus, formatVision, log); err != nil {
		return err
	}
	if err := subscribePrint(client, cfg.TopicNavStatus, formatNav, log); err != nil {
		return err
	}

	<-ctx.Done()
	log.Infow("console: shutting down")
	return nil
}
