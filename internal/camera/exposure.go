// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package camera

import (
	"image"
	"time"
)

// ExposureLimits bound the manual exposure controller.
type ExposureLimits struct {
	MinExposureUS float64
	MaxExposureUS float64
	ExposureStep  float64
	MinGain       float64
	MaxGain       float64
	GainStep      float64
}

// DefaultExposureLimits are safe for the color sensor.
var DefaultExposureLimits = ExposureLimits{
	MinExposureUS: 500,
	MaxExposureUS: 20000,
	ExposureStep:  500,
	MinGain:       8,
	MaxGain:       64,
	GainStep:      2,
}

// ExposureController steps exposure and gain toward a brightness window.
type ExposureController struct {
	Limits   ExposureLimits
	Low      float64
	High     float64
	Interval time.Duration

	ExposureUS float64
	Gain       float64
	last       time.Time
}

// NewExposureController starts from the given exposure and gain.
func NewExposureController(exposureUS, gain, low, high float64, interval time.Duration) *ExposureController {
	return &ExposureController{
		Limits:     DefaultExposureLimits,
		Low:        low,
		High:       high,
		Interval:   interval,
		ExposureUS: exposureUS,
		Gain:       gain,
	}
}

// Update feeds one brightness measurement and reports whether exposure or
// gain changed. Updates closer together than Interval are ignored.
func (c *ExposureController) Update(now time.Time, brightness float64) bool {
	if !c.last.IsZero() && now.Sub(c.last) < c.Interval {
		return false
	}

	exp, gain := c.ExposureUS, c.Gain
	l := c.Limits
	switch {
	case brightness > c.High:
		exp = max(l.MinExposureUS, exp-l.ExposureStep)
		gain = max(l.MinGain, gain-l.GainStep)
	case brightness < c.Low:
		exp = min(l.MaxExposureUS, exp+l.ExposureStep)
		gain = min(l.MaxGain, gain+l.GainStep)
	default:
		return false
	}

	c.last = now
	changed := exp != c.ExposureUS || gain != c.Gain
	c.ExposureUS, c.Gain = exp, gain
	return changed
}

// MeanLuma returns the mean BT.601 luma of img.
func MeanLuma(img *image.RGBA) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	var sum uint64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			r, g, bl := uint64(row[i]), uint64(row[i+1]), uint64(row[i+2])
			sum += (19595*r + 38470*g + 7471*bl + 1<<15) >> 16
		}
	}
	return float64(sum) / float64(b.Dx()*b.Dy())
}
