// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mavlink is the flight-controller link used by the fusion bridge
// (distance messages) and the navigator (RC overrides).
package mavlink

import (
	"context"
	"errors"
	"time"
)

// ErrNoHeartbeat is returned when the autopilot never announces itself.
var ErrNoHeartbeat = errors.New("mavlink: no heartbeat from flight controller")

// PWM limits of an override channel.
const (
	PWMMin = 1000
	PWMMax = 2000
)

// Distance is one per-sector DISTANCE_SENSOR reading.
type Distance struct {
	Sector     int // id and orientation
	CurrentCM  int
	MinCM      int
	MaxCM      int
	TimeBootMs uint32
	Covariance uint8
}

// Override carries steering and throttle PWM for the configured channels.
// Channels not named are released back to the RC transmitter.
type Override struct {
	SteeringChannel int
	ThrottleChannel int
	Steering        int
	Throttle        int
}

// Link is a streaming, fire-and-forget connection to the flight controller.
type Link interface {
	// WaitHeartbeat blocks until an autopilot heartbeat arrives.
	WaitHeartbeat(ctx context.Context, timeout time.Duration) error
	SendDistance(d Distance) error
	SendOverride(o Override) error
	// LastHeartbeat is the time of the most recent autopilot heartbeat.
	LastHeartbeat() time.Time
	Close() error
}

// ClampPWM limits v to the valid override range.
func ClampPWM(v int) uint16 {
	if v < PWMMin {
		v = PWMMin
	}
	if v > PWMMax {
		v = PWMMax
	}
	return uint16(v)
}

// Channels expands an override into the eight RC_CHANNELS_OVERRIDE slots.
// A zero slot releases the channel.
func (o Override) Channels() [8]uint16 {
	var ch [8]uint16
	if o.SteeringChannel >= 1 && o.SteeringChannel <= 8 {
		ch[o.SteeringChannel-1] = ClampPWM(o.Steering)
	}
	if o.ThrottleChannel >= 1 && o.ThrottleChannel <= 8 {
		ch[o.ThrottleChannel-1] = ClampPWM(o.Throttle)
	}
	return ch
}

// LinkLost reports whether no heartbeat arrived within timeout of now.
func LinkLost(l Link, now time.Time, timeout time.Duration) bool {
	last := l.LastHeartbeat()
	return last.IsZero() || now.Sub(last) > timeout
}
