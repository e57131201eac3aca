// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics holds the prometheus collectors of each rover process.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Capture is exported by the capture service.
type Capture struct {
	Frames      *prometheus.CounterVec
	Errors      prometheus.Counter
	Reconnects  prometheus.Counter
	ExposureUS  prometheus.Gauge
	Gain        prometheus.Gauge
	Brightness  prometheus.Gauge
	PublishTime prometheus.Histogram
}

// NewCapture creates and registers the capture collectors.
func NewCapture(reg prometheus.Registerer) *Capture {
	m := &Capture{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rover_capture_frames_total",
			Help: "Frames published per modality.",
		}, []string{"modality"}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_capture_errors_total",
			Help: "Capture and publish errors.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_capture_reconnects_total",
			Help: "Camera reconnect attempts after repeated errors.",
		}),
		ExposureUS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_capture_exposure_us",
			Help: "Current color sensor exposure in microseconds.",
		}),
		Gain: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_capture_gain",
			Help: "Current color sensor gain.",
		}),
		Brightness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_capture_brightness_mean",
			Help: "Mean luma of the last color frame.",
		}),
		PublishTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rover_capture_publish_seconds",
			Help:    "Time to encode and publish one frameset.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}
	reg.MustRegister(m.Frames, m.Errors, m.Reconnects, m.ExposureUS, m.Gain, m.Brightness, m.PublishTime)
	return m
}

// Bridge is exported by the fusion bridge.
type Bridge struct {
	SectorCM         *prometheus.GaugeVec
	MessagesSent     prometheus.Counter
	SendErrors       prometheus.Counter
	LidarErrors      prometheus.Counter
	LidarRevolutions prometheus.Counter
	LidarReconnects  prometheus.Counter
	DepthFrames      prometheus.Counter
	LidarAvailable   prometheus.Gauge
	VisionAvailable  prometheus.Gauge
	Unread           *prometheus.GaugeVec
}

// NewBridge creates and registers the bridge collectors.
func NewBridge(reg prometheus.Registerer) *Bridge {
	m := &Bridge{
		SectorCM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rover_bridge_sector_distance_cm",
			Help: "Fused distance per sector.",
		}, []string{"sector"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_bridge_messages_sent_total",
			Help: "Distance messages sent to the flight controller.",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_bridge_send_errors_total",
			Help: "Distance messages that failed to send.",
		}),
		LidarErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_bridge_lidar_errors_total",
			Help: "Range scanner read errors.",
		}),
		LidarRevolutions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_bridge_lidar_revolutions_total",
			Help: "Scanner revolutions bucketed into sectors.",
		}),
		LidarReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_bridge_lidar_reconnects_total",
			Help: "Scanner reconnect attempts.",
		}),
		DepthFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_bridge_depth_frames_total",
			Help: "Depth frames sampled into forward sectors.",
		}),
		LidarAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_bridge_lidar_available",
			Help: "1 when scanner data is fresh.",
		}),
		VisionAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_bridge_vision_available",
			Help: "1 when the capture service is alive.",
		}),
		Unread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rover_bridge_unread_updates",
			Help: "Sensor updates replaced before a fusion cycle read them.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.SectorCM, m.MessagesSent, m.SendErrors, m.LidarErrors,
		m.LidarRevolutions, m.LidarReconnects, m.DepthFrames, m.LidarAvailable, m.VisionAvailable,
		m.Unread)
	return m
}

// Nav is exported by the navigator.
type Nav struct {
	State         *prometheus.GaugeVec
	Steering      prometheus.Gauge
	Throttle      prometheus.Gauge
	Commands      prometheus.Counter
	SendErrors    prometheus.Counter
	ObstacleStops prometheus.Counter
	StaleStops    prometheus.Counter
	LinkLost      prometheus.Gauge
}

// NewNav creates and registers the navigator collectors.
func NewNav(reg prometheus.Registerer) *Nav {
	m := &Nav{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rover_nav_state",
			Help: "1 for the current controller state.",
		}, []string{"state"}),
		Steering: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_nav_steering_pwm",
			Help: "Last steering command.",
		}),
		Throttle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_nav_throttle_pwm",
			Help: "Last throttle command.",
		}),
		Commands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_nav_commands_total",
			Help: "Override commands sent.",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_nav_send_errors_total",
			Help: "Override commands that failed to send.",
		}),
		ObstacleStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_nav_obstacle_stops_total",
			Help: "Cycles stopped by the safety distance.",
		}),
		StaleStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_nav_stale_stops_total",
			Help: "Cycles stopped because proximity data was stale.",
		}),
		LinkLost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_nav_link_lost",
			Help: "1 while no autopilot heartbeat is seen.",
		}),
	}
	reg.MustRegister(m.State, m.Steering, m.Throttle, m.Commands, m.SendErrors,
		m.ObstacleStops, m.StaleStops, m.LinkLost)
	return m
}

// SetState marks state as the only active controller state.
func (m *Nav) SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// Bool converts a flag to a gauge value.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables it.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.SugaredLogger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Infow("metrics: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics: server stopped", "error", err)
		}
	}()
}
