// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package proximity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrTooFewSamples is returned when a region has too few valid depth pixels.
var ErrTooFewSamples = errors.New("proximity: too few depth samples")

// DepthFrame is a depth matrix in millimeters, row major.
type DepthFrame struct {
	Width  int
	Height int
	MM     []uint16
}

// DecodeDepth unpacks a little-endian uint16 payload.
func DecodeDepth(width, height int, payload []byte) (DepthFrame, error) {
	n := width * height
	if width <= 0 || height <= 0 || len(payload) != 2*n {
		return DepthFrame{}, fmt.Errorf("depth payload is %d bytes, want %d for %dx%d", len(payload), 2*n, width, height)
	}
	mm := make([]uint16, n)
	for i := range mm {
		mm[i] = binary.LittleEndian.Uint16(payload[2*i:])
	}
	return DepthFrame{Width: width, Height: height, MM: mm}, nil
}

// EncodeDepth packs a depth matrix as little-endian uint16.
func EncodeDepth(mm []uint16) []byte {
	out := make([]byte, 2*len(mm))
	for i, v := range mm {
		binary.LittleEndian.PutUint16(out[2*i:], v)
	}
	return out
}

// At returns the depth at (x, y) in millimeters.
func (f DepthFrame) At(x, y int) uint16 {
	return f.MM[y*f.Width+x]
}

// DepthSampling configures forward region sampling.
type DepthSampling struct {
	GridStep   int
	MinM       float64
	MaxM       float64
	Percentile float64 // 0-100
	MinSamples int     // a region needs more than this many samples
}

// Region is a pixel rectangle [X0,X1) x [Y0,Y1).
type Region struct {
	X0, Y0, X1, Y1 int
}

// ForwardRegions returns the depth sub-regions feeding the forward sectors.
// All three share the middle third band of rows, trimmed at the bottom by a
// third of its height to keep the floor out; columns split into thirds.
func ForwardRegions(width, height int) map[int]Region {
	y0 := height / 3
	y2 := 2 * height / 3
	y1 := y2 - (y2-y0)/3
	return map[int]Region{
		Front:      {X0: width / 3, Y0: y0, X1: 2 * width / 3, Y1: y1},
		FrontRight: {X0: 2 * width / 3, Y0: y0, X1: width, Y1: y1},
		FrontLeft:  {X0: 0, Y0: y0, X1: width / 3, Y1: y1},
	}
}

// SampleRegion collects valid depths in meters from r on a coarse grid.
func SampleRegion(f DepthFrame, r Region, cfg DepthSampling) []float64 {
	step := cfg.GridStep
	if step < 1 {
		step = 1
	}
	x0, y0 := max(0, r.X0), max(0, r.Y0)
	x1, y1 := min(f.Width, r.X1), min(f.Height, r.Y1)

	var out []float64
	for y := y0; y < y1; y += step {
		for x := x0; x < x1; x += step {
			m := float64(f.At(x, y)) / 1000.0
			if m > cfg.MinM && m < cfg.MaxM {
				out = append(out, m)
			}
		}
	}
	return out
}

// Percentile returns the p-th percentile (0-100) of samples. samples is
// not modified.
func Percentile(samples []float64, p float64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrTooFewSamples
	}
	if p < 0 || p > 100 || math.IsNaN(p) {
		return 0, fmt.Errorf("percentile %g out of range", p)
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return stat.Quantile(p/100, stat.Empirical, sorted, nil), nil
}

// RegionDistance reduces one region to a single distance in centimeters.
func RegionDistance(f DepthFrame, r Region, cfg DepthSampling, rng Range) (int, error) {
	samples := SampleRegion(f, r, cfg)
	if len(samples) <= cfg.MinSamples {
		return 0, fmt.Errorf("%w: %d", ErrTooFewSamples, len(samples))
	}
	m, err := Percentile(samples, cfg.Percentile)
	if err != nil {
		return 0, err
	}
	return rng.Clamp(int(math.Round(m * 100))), nil
}

// SampleForward fills the forward sectors from a depth frame. Regions with
// too few samples are left unmeasured.
func SampleForward(f DepthFrame, cfg DepthSampling, rng Range) Readings {
	var out Readings
	for sector, r := range ForwardRegions(f.Width, f.Height) {
		cm, err := RegionDistance(f, r, cfg, rng)
		if err != nil {
			continue
		}
		out.Set(sector, cm)
	}
	return out
}
