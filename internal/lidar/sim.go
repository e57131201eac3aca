// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package lidar

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// SimScanner is a scanner standing in a rectangular corridor, used when
// LIDAR_PORT is "sim".
type SimScanner struct {
	FrontMM float64 // distance to the walls ahead and behind
	SideMM  float64 // distance to the walls left and right
	Period  time.Duration
	StepDeg float64
	NoiseMM float64
	rng     *rand.Rand
	closed  bool
}

// NewSimScanner returns a corridor scanner spinning at 10 Hz.
func NewSimScanner() *SimScanner {
	return &SimScanner{
		FrontMM: 4000,
		SideMM:  1500,
		Period:  100 * time.Millisecond,
		StepDeg: 1,
		NoiseMM: 15,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Revolution returns one synthetic revolution.
func (s *SimScanner) Revolution(ctx context.Context) ([]Sample, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.Period):
	}

	var samples []Sample
	for a := 0.0; a < 360; a += s.StepDeg {
		rad := a * math.Pi / 180
		d := math.Inf(1)
		if c := math.Abs(math.Cos(rad)); c > 1e-9 {
			d = s.FrontMM / c
		}
		if sn := math.Abs(math.Sin(rad)); sn > 1e-9 {
			d = math.Min(d, s.SideMM/sn)
		}
		if s.rng != nil && s.NoiseMM > 0 {
			d += s.rng.NormFloat64() * s.NoiseMM
		}
		samples = append(samples, Sample{
			Quality:    47,
			AngleDeg:   a,
			DistanceMM: math.Max(d, 0),
			Start:      len(samples) == 0,
		})
	}
	return samples, nil
}

// Close implements Scanner.
func (s *SimScanner) Close() error {
	s.closed = true
	return nil
}
