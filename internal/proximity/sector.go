// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package proximity holds the 8-sector obstacle model shared by the fusion
// bridge and the navigator: sector geometry, fusion of scanner and depth
// camera readings, depth sub-region sampling and the published document.
package proximity

import (
	"fmt"
	"math"
)

// NumSectors is the number of 45 degree wedges around the rover.
const NumSectors = 8

// SectorWidthDeg is the angular width of one sector.
const SectorWidthDeg = 360.0 / NumSectors

// Sector ids, clockwise from the forward axis. The id doubles as the
// MAVLink orientation of the distance message.
const (
	Front = iota
	FrontRight
	Right
	RearRight
	Rear
	RearLeft
	Left
	FrontLeft
)

var sectorNames = [NumSectors]string{
	"front", "front_right", "right", "rear_right",
	"rear", "rear_left", "left", "front_left",
}

// SectorName returns a short label for sector i.
func SectorName(i int) string {
	if i < 0 || i >= NumSectors {
		return fmt.Sprintf("sector_%d", i)
	}
	return sectorNames[i]
}

// ForwardSectors are the sectors the depth camera can see.
var ForwardSectors = [3]int{Front, FrontRight, FrontLeft}

// IsForward reports whether sector i is covered by the depth camera.
func IsForward(i int) bool {
	return i == Front || i == FrontRight || i == FrontLeft
}

// SectorForAngle maps a scanner angle in degrees (clockwise, 0 = forward)
// to its sector. Sector k is centered on k*45 degrees.
func SectorForAngle(deg float64) int {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return int((deg+SectorWidthDeg/2)/SectorWidthDeg) % NumSectors
}

// SectorAngle returns the center bearing of sector i in degrees.
func SectorAngle(i int) float64 {
	return float64(i) * SectorWidthDeg
}

// Range is the valid distance window in centimeters.
type Range struct {
	MinCM int
	MaxCM int
}

// Clamp limits cm to the range.
func (r Range) Clamp(cm int) int {
	if cm < r.MinCM {
		return r.MinCM
	}
	if cm > r.MaxCM {
		return r.MaxCM
	}
	return cm
}

// Contains reports whether cm is inside the range.
func (r Range) Contains(cm int) bool {
	return cm >= r.MinCM && cm <= r.MaxCM
}
