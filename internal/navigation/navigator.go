// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/rover_perception/internal/journal"
	"github.com/relabs-tech/rover_perception/internal/mavlink"
	"github.com/relabs-tech/rover_perception/internal/metrics"
	"github.com/relabs-tech/rover_perception/internal/proximity"
	"github.com/relabs-tech/rover_perception/internal/store"
	"github.com/relabs-tech/rover_perception/internal/telemetry"
)

// Controller states.
const (
	StateWaitingForLink = "WAITING_FOR_LINK"
	StateWaitingForData = "WAITING_FOR_DATA"
	StateActive         = "ACTIVE"
	StateStopped        = "STOPPED"
	StateShutdown       = "SHUTDOWN"
)

// States lists every controller state.
var States = []string{StateWaitingForLink, StateWaitingForData, StateActive, StateStopped, StateShutdown}

var (
	// ErrNoData is returned when no valid proximity document shows up in time.
	ErrNoData = errors.New("navigation: no proximity data")
	// ErrNoSensors marks a fresh document in which no sector was measured.
	ErrNoSensors = errors.New("navigation: proximity data has no live sensor")
)

// Config is the navigator configuration.
type Config struct {
	ProximityFile    string
	Params           Params
	Range            proximity.Range
	Period           time.Duration
	DataStale        time.Duration
	DataWait         time.Duration
	HeartbeatTimeout time.Duration
	LinkTimeout      time.Duration
	SteeringChannel  int
	ThrottleChannel  int
	StatusTopic      string
}

// journalTimeout bounds a journal write made from the control loop.
const journalTimeout = 250 * time.Millisecond

// Recorder stores operator events. *journal.Journal implements it.
type Recorder interface {
	Record(ctx context.Context, kind, detail string) error
}

// Deps are the optional collaborators of the navigator.
type Deps struct {
	Metrics   *metrics.Nav
	Journal   Recorder
	Telemetry telemetry.Publisher
}

// Status is the navigator state mirrored to telemetry.
type Status struct {
	State         string  `json:"state"`
	Steering      int     `json:"steering"`
	Throttle      int     `json:"throttle"`
	HeadingDeg    float64 `json:"heading_deg"`
	MinCM         int     `json:"min_cm"`
	CommandsSent  uint64  `json:"commands_sent"`
	SendErrors    uint64  `json:"send_errors"`
	ObstacleStops uint64  `json:"obstacle_stops"`
	StaleStops    uint64  `json:"stale_stops"`
	LinkLost      bool    `json:"link_lost"`
	Timestamp     float64 `json:"timestamp"`
}

// Navigator owns the previous command and the controller state.
type Navigator struct {
	cfg  Config
	link mavlink.Link
	log  *zap.SugaredLogger
	deps Deps

	mu     sync.Mutex
	status Status
	prev   Command
}

// New returns a navigator sending overrides over link.
func New(cfg Config, link mavlink.Link, log *zap.SugaredLogger, deps Deps) *Navigator {
	if cfg.Period <= 0 {
		cfg.Period = 100 * time.Millisecond
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop{}
	}
	n := &Navigator{cfg: cfg, link: link, log: log, deps: deps}
	n.prev = cfg.Params.Neutral()
	n.status.Steering, n.status.Throttle = n.prev.Steering, n.prev.Throttle
	return n
}

// Status returns a snapshot of the controller status.
func (n *Navigator) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Run drives the state machine until ctx is done or a startup wait fails.
// A neutral command is sent on every exit path.
func (n *Navigator) Run(ctx context.Context) (err error) {
	n.setState(StateWaitingForLink)
	defer func() {
		n.finalStop()
		n.setState(StateShutdown)
		detail := "shutdown"
		if err != nil {
			detail = err.Error()
		}
		n.event(journal.KindStopped, detail)
	}()

	n.log.Infow("nav: waiting for flight controller heartbeat", "timeout", n.cfg.HeartbeatTimeout)
	if err := n.link.WaitHeartbeat(ctx, n.cfg.HeartbeatTimeout); err != nil {
		return fmt.Errorf("nav: %w", err)
	}

	n.setState(StateWaitingForData)
	if err := n.waitData(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	n.setState(StateActive)
	n.event(journal.KindStarted, "control loop active")
	n.log.Infow("nav: control loop active", "rate_hz", float64(time.Second)/float64(n.cfg.Period))

	ticker := time.NewTicker(n.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n.Step(now)
		}
	}
}

// waitData blocks until a valid, fresh proximity document exists. Neutral
// overrides keep the link refreshed while waiting.
func (n *Navigator) waitData(ctx context.Context) error {
	deadline := time.Now().Add(n.cfg.DataWait)
	ticker := time.NewTicker(n.cfg.Period)
	defer ticker.Stop()
	for {
		now := time.Now()
		if _, err := n.usable(now); err == nil {
			return nil
		}
		if !now.Before(deadline) {
			return fmt.Errorf("%w within %s", ErrNoData, n.cfg.DataWait)
		}
		n.send(n.cfg.Params.Neutral())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// usable loads the proximity document and rejects missing, stale, unsensed
// or out of range data.
func (n *Navigator) usable(now time.Time) (proximity.Document, error) {
	doc, err := proximity.ReadDocument(n.cfg.ProximityFile)
	if err != nil {
		return doc, err
	}
	if age := doc.Age(now); age > n.cfg.DataStale {
		return doc, fmt.Errorf("proximity data is %s old", age.Round(time.Millisecond))
	}
	if err := doc.Validate(n.cfg.Range); err != nil {
		return doc, err
	}
	if !doc.Sensed() {
		return doc, ErrNoSensors
	}
	return doc, nil
}

// Step runs one control cycle at now and returns the command it sent. The
// override goes out before any logging or journaling for the cycle.
func (n *Navigator) Step(now time.Time) Command {
	p := n.cfg.Params

	doc, err := n.usable(now)
	if err != nil {
		cmd := p.Neutral()
		n.override(cmd)
		n.mu.Lock()
		n.prev = cmd
		n.status.StaleStops++
		n.mu.Unlock()
		if m := n.deps.Metrics; m != nil {
			m.StaleStops.Inc()
		}
		if n.state() != StateWaitingForData {
			n.log.Warnw("nav: proximity data unusable, stopping", "error", err)
			n.event(journal.KindSafetyStop, err.Error())
		}
		n.setState(StateWaitingForData)
		n.checkLink(now)
		n.publishStatus()
		return cmd
	}

	v := doc.Vector()
	n.mu.Lock()
	prev := n.prev
	n.mu.Unlock()
	cmd := p.Compute(v, prev)
	n.override(cmd)

	minCM := p.ThrottleDistance(v)
	n.mu.Lock()
	n.prev = cmd
	n.status.HeadingDeg = p.Heading(v)
	n.status.MinCM = minCM
	n.mu.Unlock()

	state := StateActive
	if cmd.Throttle == p.StopThrottle {
		state = StateStopped
		if n.state() != StateStopped {
			n.mu.Lock()
			n.status.ObstacleStops++
			n.mu.Unlock()
			if m := n.deps.Metrics; m != nil {
				m.ObstacleStops.Inc()
			}
			n.log.Infow("nav: obstacle inside safety distance", "min_cm", minCM)
			n.event(journal.KindSafetyStop, fmt.Sprintf("obstacle at %d cm", minCM))
		}
	}
	n.setState(state)
	n.checkLink(now)
	n.publishStatus()
	return cmd
}

// checkLink flags autopilot heartbeat loss. Overrides keep going out; the
// flight controller's own override timeout handles a dead link.
func (n *Navigator) checkLink(now time.Time) {
	lost := mavlink.LinkLost(n.link, now, n.cfg.LinkTimeout)
	n.mu.Lock()
	was := n.status.LinkLost
	n.status.LinkLost = lost
	n.mu.Unlock()
	if m := n.deps.Metrics; m != nil {
		m.LinkLost.Set(metrics.Bool(lost))
	}
	if lost == was {
		return
	}
	if lost {
		n.log.Warnw("nav: no autopilot heartbeat", "timeout", n.cfg.LinkTimeout)
		n.event(journal.KindLinkLost, n.link.LastHeartbeat().Format(time.RFC3339))
	} else {
		n.log.Infow("nav: autopilot heartbeat restored")
		n.event(journal.KindLinkRestore, "")
	}
}

// send transmits cmd and mirrors the resulting status.
func (n *Navigator) send(cmd Command) {
	n.override(cmd)
	n.publishStatus()
}

// override puts cmd on the wire and counts the outcome.
func (n *Navigator) override(cmd Command) {
	err := n.link.SendOverride(mavlink.Override{
		SteeringChannel: n.cfg.SteeringChannel,
		ThrottleChannel: n.cfg.ThrottleChannel,
		Steering:        cmd.Steering,
		Throttle:        cmd.Throttle,
	})

	n.mu.Lock()
	n.status.Steering, n.status.Throttle = cmd.Steering, cmd.Throttle
	if err != nil {
		n.status.SendErrors++
	} else {
		n.status.CommandsSent++
	}
	n.status.Timestamp = store.UnixSeconds(time.Now())
	n.mu.Unlock()

	if m := n.deps.Metrics; m != nil {
		m.Steering.Set(float64(cmd.Steering))
		m.Throttle.Set(float64(cmd.Throttle))
		if err != nil {
			m.SendErrors.Inc()
		} else {
			m.Commands.Inc()
		}
	}
	if err != nil {
		n.log.Warnw("nav: override send failed", "error", err)
	}
}

func (n *Navigator) publishStatus() {
	if n.cfg.StatusTopic == "" {
		return
	}
	if err := n.deps.Telemetry.Publish(n.cfg.StatusTopic, n.Status()); err != nil {
		n.log.Debugw("nav: status publish failed", "error", err)
	}
}

func (n *Navigator) finalStop() {
	cmd := n.cfg.Params.Neutral()
	n.log.Infow("nav: sending final stop", "steering", cmd.Steering, "throttle", cmd.Throttle)
	n.send(cmd)
	n.mu.Lock()
	n.prev = cmd
	n.mu.Unlock()
}

func (n *Navigator) state() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status.State
}

func (n *Navigator) setState(s string) {
	n.mu.Lock()
	old := n.status.State
	n.status.State = s
	n.mu.Unlock()
	if old == s {
		return
	}
	if m := n.deps.Metrics; m != nil {
		m.SetState(s, States)
	}
	if old != "" {
		n.log.Infow("nav: state change", "from", old, "to", s)
		n.event(journal.KindState, old+" -> "+s)
	}
}

func (n *Navigator) event(kind, detail string) {
	if n.deps.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := n.deps.Journal.Record(ctx, kind, detail); err != nil {
		n.log.Warnw("nav: journal write failed", "error", err)
	}
}
