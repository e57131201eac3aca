// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package lidar

import "github.com/relabs-tech/rover_perception/internal/proximity"

// Bucket reduces a revolution to per-sector minimum distances. Samples at
// or below the quality threshold and zero-distance returns are dropped.
func Bucket(samples []Sample, qualityThreshold int, rng proximity.Range) (proximity.Readings, int) {
	var r proximity.Readings
	kept := 0
	for _, s := range samples {
		if s.Quality <= qualityThreshold || s.DistanceMM <= 0 {
			continue
		}
		kept++
		cm := rng.Clamp(int(s.DistanceMM / 10))
		r.Set(proximity.SectorForAngle(s.AngleDeg), cm)
	}
	return r, kept
}
