// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package capture is the frame-owning capture service. It holds the camera
// lock, runs exposure control and publishes every frameset to the store.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/rover_perception/internal/camera"
	"github.com/relabs-tech/rover_perception/internal/journal"
	"github.com/relabs-tech/rover_perception/internal/metrics"
	"github.com/relabs-tech/rover_perception/internal/store"
	"github.com/relabs-tech/rover_perception/internal/telemetry"
)

// ComponentName is reported in the liveness record.
const ComponentName = "capture_service"

// Config is the capture service configuration.
type Config struct {
	Dir              string
	Device           string
	Settings         camera.Settings
	JPEGQuality      int
	BrightnessLow    float64
	BrightnessHigh   float64
	ExposureInterval time.Duration
	MaxErrors        int
	ComponentID      int
	StatusInterval   time.Duration
	LivenessStale    time.Duration
	ReconnectDelay   time.Duration
	FrameTimeout     time.Duration
	DepthMinM        float64
	DepthMaxM        float64
}

// Deps are the optional collaborators of the service.
type Deps struct {
	Metrics     *metrics.Capture
	Journal     *journal.Journal
	Telemetry   telemetry.Publisher
	StatusTopic string
}

// State is the mutable state of one capture process.
type State struct {
	InstanceID    string
	Started       time.Time
	Seq           uint64
	Frames        store.FrameCounts
	Errors        uint64
	LastError     string
	LastErrorTime time.Time
	Brightness    float64
}

// Service owns the camera for the lifetime of Run.
type Service struct {
	cfg  Config
	open camera.Opener
	log  *zap.SugaredLogger
	deps Deps

	st       *store.Store
	dev      camera.Device
	exposure *camera.ExposureController
	state    State
}

// New returns a service that opens its device through open.
func New(cfg Config, open camera.Opener, log *zap.SugaredLogger, deps Deps) *Service {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = time.Second
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop{}
	}
	return &Service{cfg: cfg, open: open, log: log, deps: deps}
}

// State returns a copy of the process state.
func (s *Service) State() State {
	return s.state
}

// Run acquires the device lock, captures until ctx is done and releases
// everything on every exit path. A held lock returns store.ErrBusy before
// any hardware is touched.
func (s *Service) Run(ctx context.Context) (err error) {
	st, err := store.Open(s.cfg.Dir)
	if err != nil {
		return err
	}
	s.st = st

	lock, err := store.AcquireLock(st.Path(store.LockFile), s.holderStale)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			s.log.Warnw("capture: lock release failed", "error", rerr)
		}
	}()

	s.state = State{InstanceID: uuid.NewString(), Started: time.Now()}
	s.exposure = camera.NewExposureController(
		s.cfg.Settings.ExposureUS, s.cfg.Settings.Gain,
		s.cfg.BrightnessLow, s.cfg.BrightnessHigh, s.cfg.ExposureInterval)
	s.writeStatus(store.StateStarting)
	defer s.writeStatus(store.StateStopped)

	if err := s.connect(); err != nil {
		s.recordError(err)
		s.event(journal.KindStopped, err.Error())
		return err
	}
	defer s.stopDevice()

	s.log.Infow("capture: running",
		"device", s.cfg.Device, "dir", s.cfg.Dir, "instance", s.state.InstanceID,
		"fps", s.cfg.Settings.FPS)
	s.event(journal.KindStarted, s.state.InstanceID)

	err = s.loop(ctx)
	if err != nil {
		s.event(journal.KindStopped, err.Error())
	} else {
		s.event(journal.KindStopped, "shutdown")
	}
	return err
}

// holderStale decides whether a live recorded lock holder may be evicted.
// The flock is already ours at this point, so the recorded pid is either a
// reused pid or a process that lost the lock; trust its liveness record.
func (s *Service) holderStale(pid int) bool {
	l, err := store.ReadLiveness(s.cfg.Dir)
	if err != nil {
		return true
	}
	return l.PID != pid || !l.Alive(time.Now(), s.cfg.LivenessStale)
}

func (s *Service) connect() error {
	dev, err := s.open(s.cfg.Device)
	if err != nil {
		return fmt.Errorf("open camera %s: %w", s.cfg.Device, err)
	}
	settings := s.cfg.Settings
	settings.ExposureUS, settings.Gain = s.exposure.ExposureUS, s.exposure.Gain
	if err := dev.Start(settings); err != nil {
		_ = dev.Stop()
		return fmt.Errorf("start camera %s: %w", s.cfg.Device, err)
	}
	s.dev = dev
	return nil
}

func (s *Service) stopDevice() {
	if s.dev == nil {
		return
	}
	if err := s.dev.Stop(); err != nil {
		s.log.Warnw("capture: camera stop failed", "error", err)
	}
	s.dev = nil
}

func (s *Service) loop(ctx context.Context) error {
	statusTicker := time.NewTicker(s.cfg.StatusInterval)
	defer statusTicker.Stop()
	s.writeStatus(store.StateRunning)

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-statusTicker.C:
			s.writeStatus(store.StateRunning)
		default:
		}
		if ctx.Err() != nil || s.dev == nil {
			return nil
		}

		fs, err := s.dev.WaitFrames(ctx, s.cfg.FrameTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.recordError(err)
			consecutive++
			if consecutive > s.cfg.MaxErrors {
				if err := s.reconnect(ctx); err != nil {
					return err
				}
				if s.dev == nil {
					// cancelled while waiting to reopen
					return nil
				}
				consecutive = 0
			}
			sleep(ctx, 100*time.Millisecond)
			continue
		}
		consecutive = 0

		start := time.Now()
		s.publish(fs)
		if m := s.deps.Metrics; m != nil {
			m.PublishTime.Observe(time.Since(start).Seconds())
		}
	}
}

func (s *Service) reconnect(ctx context.Context) error {
	s.log.Warnw("capture: too many consecutive errors, restarting camera",
		"threshold", s.cfg.MaxErrors, "last_error", s.state.LastError)
	if m := s.deps.Metrics; m != nil {
		m.Reconnects.Inc()
	}
	s.event(journal.KindReconnect, s.state.LastError)

	s.stopDevice()
	sleep(ctx, s.cfg.ReconnectDelay)
	if ctx.Err() != nil {
		return nil
	}
	if err := s.connect(); err != nil {
		s.recordError(err)
		return fmt.Errorf("camera restart failed: %w", err)
	}
	s.log.Infow("capture: camera restarted")
	return nil
}

func (s *Service) recordError(err error) {
	s.state.Errors++
	s.state.LastError = err.Error()
	s.state.LastErrorTime = time.Now()
	if m := s.deps.Metrics; m != nil {
		m.Errors.Inc()
	}
	s.log.Debugw("capture: error", "error", err, "count", s.state.Errors)
}

func (s *Service) event(kind, detail string) {
	if err := s.deps.Journal.Record(context.Background(), kind, detail); err != nil {
		s.log.Warnw("capture: journal write failed", "error", err)
	}
}

// liveness builds the status document from the current state.
func (s *Service) liveness(status string) store.Liveness {
	now := time.Now()
	uptime := now.Sub(s.state.Started).Seconds()
	rate := func(n uint64) float64 {
		if uptime <= 0 {
			return 0
		}
		return float64(int(float64(n)/uptime*10+0.5)) / 10
	}
	l := store.Liveness{
		ComponentID:   s.cfg.ComponentID,
		ComponentName: ComponentName,
		Status:        status,
		PID:           os.Getpid(),
		InstanceID:    s.state.InstanceID,
		UptimeSeconds: int64(uptime),
		Frames:        s.state.Frames,
		FPS: store.FPS{
			RGBActual:   rate(s.state.Frames.RGB),
			DepthActual: rate(s.state.Frames.Depth),
			IRActual:    rate(s.state.Frames.IR),
			Target:      s.cfg.Settings.FPS,
		},
		Errors:         store.ErrorStats{Count: s.state.Errors, LastError: s.state.LastError},
		BrightnessMean: s.state.Brightness,
		LastFrameSeq:   s.state.Seq,
		Timestamp:      store.UnixSeconds(now),
	}
	if s.exposure != nil {
		l.ExposureUS, l.Gain = s.exposure.ExposureUS, s.exposure.Gain
	}
	if !s.state.LastErrorTime.IsZero() {
		ts := store.UnixSeconds(s.state.LastErrorTime)
		l.Errors.LastErrorTime = &ts
	}
	return l
}

func (s *Service) writeStatus(status string) {
	l := s.liveness(status)
	if err := s.st.WriteLiveness(l); err != nil {
		s.log.Warnw("capture: status write failed", "error", err)
	}
	if s.deps.StatusTopic != "" {
		if err := s.deps.Telemetry.Publish(s.deps.StatusTopic, l); err != nil {
			s.log.Debugw("capture: status publish failed", "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// IsBusy reports whether err means another instance owns the camera.
func IsBusy(err error) bool {
	return errors.Is(err, store.ErrBusy)
}
