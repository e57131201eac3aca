// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bridge fuses the range scanner and the capture service's depth
// frames into the sector vector and streams it to the flight controller.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/rover_perception/internal/journal"
	"github.com/relabs-tech/rover_perception/internal/latest"
	"github.com/relabs-tech/rover_perception/internal/lidar"
	"github.com/relabs-tech/rover_perception/internal/mavlink"
	"github.com/relabs-tech/rover_perception/internal/metrics"
	"github.com/relabs-tech/rover_perception/internal/proximity"
	"github.com/relabs-tech/rover_perception/internal/store"
	"github.com/relabs-tech/rover_perception/internal/telemetry"
)

// ErrNoSensors is returned when neither the scanner nor the capture
// service can be used at startup.
var ErrNoSensors = errors.New("bridge: no proximity sensor available")

// Config is the bridge configuration.
type Config struct {
	VisionDir     string
	ProximityFile string
	Range         proximity.Range
	Depth         proximity.DepthSampling

	QualityThreshold int
	LidarMaxErrors   int
	LidarMaxRetries  int
	LidarRetryDelay  time.Duration

	FusionPeriod     time.Duration
	DepthPoll        time.Duration
	LivenessStale    time.Duration
	DepthMaxAge      time.Duration
	LidarStale       time.Duration
	VisionWait       time.Duration
	HeartbeatTimeout time.Duration

	ProximityTopic string
}

// Dialer opens the range scanner. It is called again on reconnect.
type Dialer func() (lidar.Scanner, error)

// Deps are the optional collaborators of the bridge.
type Deps struct {
	Metrics   *metrics.Bridge
	Journal   *journal.Journal
	Telemetry telemetry.Publisher
}

// Bridge runs the scan, depth and fusion loops.
type Bridge struct {
	cfg  Config
	link mavlink.Link
	dial Dialer
	log  *zap.SugaredLogger
	deps Deps

	started time.Time
	lidar   latest.Cell[proximity.Readings]
	camera  latest.Cell[proximity.Readings]

	// scan loop
	lidarErrors      atomic.Uint64
	lidarRevolutions atomic.Uint64
	lastLidarError   atomic.Pointer[string]

	// depth loop
	depthFrames     atomic.Uint64
	visionAvailable atomic.Bool

	// fusion loop
	seq          uint64
	messagesSent uint64
	sendErrors   uint64
	lidarWasOK   bool
	last         proximity.Document
	lastMu       sync.Mutex
}

// New returns a bridge sending over link and opening the scanner with dial.
// A nil dial runs camera-only.
func New(cfg Config, link mavlink.Link, dial Dialer, log *zap.SugaredLogger, deps Deps) *Bridge {
	if cfg.FusionPeriod <= 0 {
		cfg.FusionPeriod = 100 * time.Millisecond
	}
	if cfg.DepthPoll <= 0 {
		cfg.DepthPoll = 30 * time.Millisecond
	}
	if cfg.LidarRetryDelay <= 0 {
		cfg.LidarRetryDelay = 2 * time.Second
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop{}
	}
	return &Bridge{cfg: cfg, link: link, dial: dial, log: log, deps: deps}
}

// Last returns the most recently published document.
func (b *Bridge) Last() proximity.Document {
	b.lastMu.Lock()
	defer b.lastMu.Unlock()
	return b.last
}

// Run waits for the flight controller and the sensors, then runs until ctx
// is done. The scanner is closed on every exit path.
func (b *Bridge) Run(ctx context.Context) error {
	b.started = time.Now()

	b.log.Infow("bridge: waiting for flight controller heartbeat", "timeout", b.cfg.HeartbeatTimeout)
	if err := b.link.WaitHeartbeat(ctx, b.cfg.HeartbeatTimeout); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	vision := b.waitVision(ctx)
	b.visionAvailable.Store(vision)
	if !vision {
		b.log.Warnw("bridge: capture service not available, continuing without camera",
			"dir", b.cfg.VisionDir)
	}

	var scanner lidar.Scanner
	if b.dial != nil {
		s, err := b.dial()
		if err != nil {
			b.lidarError(err)
			b.log.Warnw("bridge: range scanner not available", "error", err)
		} else {
			scanner = s
		}
	}
	if scanner == nil && !vision {
		return ErrNoSensors
	}

	b.log.Infow("bridge: running",
		"lidar", scanner != nil, "vision", vision, "rate_hz", float64(time.Second)/float64(b.cfg.FusionPeriod))
	b.event(journal.KindStarted, fmt.Sprintf("lidar=%t vision=%t", scanner != nil, vision))

	var wg sync.WaitGroup
	if scanner != nil || b.dial != nil {
		wg.Go(func() { b.scanLoop(ctx, scanner) })
	}
	wg.Go(func() { b.depthLoop(ctx) })
	b.fusionLoop(ctx)
	wg.Wait()

	b.event(journal.KindStopped, "shutdown")
	b.log.Infow("bridge: stopped", "messages_sent", b.messagesSent, "send_errors", b.sendErrors)
	return nil
}

// waitVision polls the capture service liveness until it is alive or
// VisionWait elapses.
func (b *Bridge) waitVision(ctx context.Context) bool {
	deadline := time.Now().Add(b.cfg.VisionWait)
	for {
		if b.visionAlive(time.Now()) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(min(500*time.Millisecond, time.Until(deadline))):
		}
	}
}

func (b *Bridge) visionAlive(now time.Time) bool {
	l, err := store.ReadLiveness(b.cfg.VisionDir)
	if err != nil {
		return false
	}
	return l.Alive(now, b.cfg.LivenessStale)
}

func (b *Bridge) lidarError(err error) {
	b.lidarErrors.Add(1)
	msg := err.Error()
	b.lastLidarError.Store(&msg)
	if m := b.deps.Metrics; m != nil {
		m.LidarErrors.Inc()
	}
}

func (b *Bridge) event(kind, detail string) {
	if err := b.deps.Journal.Record(context.Background(), kind, detail); err != nil {
		b.log.Warnw("bridge: journal write failed", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
