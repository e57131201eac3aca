// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package camera

import (
	"image"
	"image/color"
)

// PreviewMaxMM is the far clip of the depth preview.
const PreviewMaxMM = 5000

// DepthPreview renders depth as a pseudo-color image, nearer is warmer.
// Zero (no return) renders as the far color.
func DepthPreview(d Depth) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	for i, mm := range d.MM {
		v := float64(mm)
		if v > PreviewMaxMM {
			v = PreviewMaxMM
		}
		level := 255 - uint8(v/PreviewMaxMM*255)
		if mm == 0 {
			level = 0
		}
		c := jet(level)
		img.Pix[4*i+0] = c.R
		img.Pix[4*i+1] = c.G
		img.Pix[4*i+2] = c.B
		img.Pix[4*i+3] = 0xFF
	}
	return img
}

// jet maps 0..255 through blue, cyan, yellow and red.
func jet(v uint8) color.RGBA {
	x := float64(v) / 255
	ch := func(center float64) uint8 {
		d := x - center
		if d < 0 {
			d = -d
		}
		f := 1.5 - 4*d
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		return uint8(f * 255)
	}
	return color.RGBA{R: ch(0.75), G: ch(0.5), B: ch(0.25), A: 0xFF}
}
