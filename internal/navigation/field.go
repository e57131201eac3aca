// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package navigation is the reactive potential-field controller that turns
// the fused sector vector into steering and throttle overrides.
package navigation

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/relabs-tech/rover_perception/internal/proximity"
)

// Params are the controller gains and limits, all PWM values in
// microseconds and distances in centimeters.
type Params struct {
	SafeCM    int
	CautionCM int
	ClearCM   int
	MaxCM     int

	StopThrottle int
	MinThrottle  int
	MaxThrottle  int

	SteeringCenter int
	SteeringRange  int
	Blend          float64 // weight of the new steering value
	ForwardBias    float64

	// ThrottleForwardOnly limits the throttle distance to the forward
	// sectors instead of all eight.
	ThrottleForwardOnly bool
}

// Command is one steering/throttle pair.
type Command struct {
	Steering int `json:"steering"`
	Throttle int `json:"throttle"`
}

// Neutral is the centered, stopped command.
func (p Params) Neutral() Command {
	return Command{Steering: p.SteeringCenter, Throttle: p.StopThrottle}
}

// direction is the unit vector of a sector: x forward, y to the right.
func direction(sector int) r2.Point {
	rad := proximity.SectorAngle(sector) * math.Pi / 180
	return r2.Point{X: math.Cos(rad), Y: math.Sin(rad)}
}

// Field sums one repulsion or attraction vector per sector. Sectors closer
// than ClearCM push away with a strength of ClearCM/d; clear sectors pull
// with d/MaxCM, the front one scaled by ForwardBias.
func (p Params) Field(v proximity.Vector) r2.Point {
	var sum r2.Point
	for i, cm := range v.CM {
		u := direction(i)
		d := float64(max(cm, 1))
		if cm < p.ClearCM {
			sum = sum.Sub(u.Mul(float64(p.ClearCM) / d))
			continue
		}
		mag := d / float64(max(p.MaxCM, 1))
		if i == proximity.Front {
			mag *= p.ForwardBias
		}
		sum = sum.Add(u.Mul(mag))
	}
	return sum
}

// Heading returns the desired heading offset from forward in degrees,
// positive to the right.
func (p Params) Heading(v proximity.Vector) float64 {
	f := p.Field(v)
	if f.Norm() < 1e-9 {
		return 0
	}
	return math.Atan2(f.Y, f.X) * 180 / math.Pi
}

// SteeringFor maps a heading linearly onto the steering range; anything
// beyond 90 degrees saturates.
func (p Params) SteeringFor(headingDeg float64) int {
	k := math.Max(-1, math.Min(1, headingDeg/90))
	return p.SteeringCenter + int(math.Round(k*float64(p.SteeringRange)))
}

// MinBlend is the smallest accepted Blend.
const MinBlend = 0.5

// Smooth blends target against the previous steering value.
func (p Params) Smooth(prev, target int) int {
	return int(math.Round(p.Blend*float64(target) + (1-p.Blend)*float64(prev)))
}

// MaxSteeringStep is the largest change Smooth can make between two
// cycles when both values lie within the steering range. Safety stops jump
// straight to center; that jump stays inside this bound because Blend is
// at least MinBlend.
func (p Params) MaxSteeringStep() int {
	return int(math.Ceil(p.Blend * float64(2*p.SteeringRange)))
}

// Throttle maps the nearest obstacle distance to a throttle value: stop at
// or inside SafeCM, MaxThrottle at or beyond CautionCM, linear between.
func (p Params) Throttle(minCM int) int {
	switch {
	case minCM <= p.SafeCM:
		return p.StopThrottle
	case minCM >= p.CautionCM:
		return p.MaxThrottle
	}
	k := float64(minCM-p.SafeCM) / float64(p.CautionCM-p.SafeCM)
	return p.MinThrottle + int(math.Round(k*float64(p.MaxThrottle-p.MinThrottle)))
}

// ThrottleDistance is the distance the throttle is computed from.
func (p Params) ThrottleDistance(v proximity.Vector) int {
	if p.ThrottleForwardOnly {
		return v.MinOf(proximity.ForwardSectors[:]...)
	}
	cm, _ := v.Min()
	return cm
}

// Compute runs one control step from the sector vector and the previous
// command.
func (p Params) Compute(v proximity.Vector, prev Command) Command {
	target := p.SteeringFor(p.Heading(v))
	return Command{
		Steering: p.Smooth(prev.Steering, target),
		Throttle: p.Throttle(p.ThrottleDistance(v)),
	}
}
