// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package proximity

// Source names the sensor a fused sector value came from.
type Source string

const (
	SourceLidar  Source = "lidar"
	SourceCamera Source = "camera"
	SourceNone   Source = "none"
)

// Readings are per-sector minimum distances from one sensor. A sector the
// sensor did not measure has Valid[i] == false.
type Readings struct {
	CM    [NumSectors]int
	Valid [NumSectors]bool
}

// Set records a measurement for sector i, keeping the nearest value seen.
func (r *Readings) Set(i, cm int) {
	if i < 0 || i >= NumSectors {
		return
	}
	if !r.Valid[i] || cm < r.CM[i] {
		r.CM[i] = cm
		r.Valid[i] = true
	}
}

// Count returns how many sectors hold a measurement.
func (r Readings) Count() int {
	n := 0
	for _, ok := range r.Valid {
		if ok {
			n++
		}
	}
	return n
}

// Values returns the readings with unmeasured sectors reported as max range.
func (r Readings) Values(rng Range) [NumSectors]int {
	var out [NumSectors]int
	for i := range out {
		if r.Valid[i] {
			out[i] = rng.Clamp(r.CM[i])
		} else {
			out[i] = rng.MaxCM
		}
	}
	return out
}

// Vector is the fused sector distance vector.
type Vector struct {
	CM      [NumSectors]int
	Sources [NumSectors]Source
}

// Min returns the nearest distance over all sectors and its sector.
func (v Vector) Min() (cm, sector int) {
	cm, sector = v.CM[0], 0
	for i := 1; i < NumSectors; i++ {
		if v.CM[i] < cm {
			cm, sector = v.CM[i], i
		}
	}
	return cm, sector
}

// MinOf returns the nearest distance over the given sectors.
func (v Vector) MinOf(sectors ...int) int {
	m := -1
	for _, i := range sectors {
		if m < 0 || v.CM[i] < m {
			m = v.CM[i]
		}
	}
	return m
}

// Fuse merges scanner and camera readings into a complete vector. Forward
// sectors take the nearer of the two sensors; other sectors use the scanner
// only. Missing inputs count as max range, and every output is clamped.
func Fuse(lidar, camera Readings, rng Range) Vector {
	var v Vector
	for i := 0; i < NumSectors; i++ {
		v.CM[i] = rng.MaxCM
		v.Sources[i] = SourceNone

		if lidar.Valid[i] {
			v.CM[i] = rng.Clamp(lidar.CM[i])
			v.Sources[i] = SourceLidar
		}
		if IsForward(i) && camera.Valid[i] {
			c := rng.Clamp(camera.CM[i])
			if !lidar.Valid[i] || c < v.CM[i] {
				v.CM[i] = c
				v.Sources[i] = SourceCamera
			}
		}
	}
	return v
}
