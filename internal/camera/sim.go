// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"
)

// Sim is a synthetic sensor looking at a wall with a box in front of it.
// Color brightness follows exposure times gain so exposure control can be
// exercised without hardware.
type Sim struct {
	mu       sync.Mutex
	settings Settings
	running  bool
	last     time.Time

	// Scene is the scene luminance; 1.0 lands mid-window at the default
	// exposure of 6000 us and gain 32.
	Scene  float64
	WallMM uint16
	BoxMM  uint16
}

// NewSim returns a stopped simulated sensor.
func NewSim() *Sim {
	return &Sim{Scene: 1.0, WallMM: 3000, BoxMM: 1200}
}

// Start implements Device.
func (s *Sim) Start(set Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set.FPS <= 0 {
		return fmt.Errorf("sim camera: fps must be positive")
	}
	s.settings = set
	s.running = true
	s.last = time.Time{}
	return nil
}

// SetExposure implements Device.
func (s *Sim) SetExposure(exposureUS, gain float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.ExposureUS = exposureUS
	s.settings.Gain = gain
	return nil
}

// Stop implements Device.
func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// WaitFrames implements Device, pacing frames at the configured rate.
func (s *Sim) WaitFrames(ctx context.Context, timeout time.Duration) (Frameset, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return Frameset{}, fmt.Errorf("%w: pipeline not started", ErrUnavailable)
	}
	set := s.settings
	period := time.Second / time.Duration(set.FPS)
	wait := time.Until(s.last.Add(period))
	s.mu.Unlock()

	if wait > timeout {
		return Frameset{}, fmt.Errorf("sim camera: frame did not arrive within %s", timeout)
	}
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Frameset{}, ctx.Err()
		case <-t.C:
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.last = now
	scene := s.Scene
	s.mu.Unlock()

	level := 55 * scene * (set.ExposureUS * set.Gain) / (6000 * 32)
	return Frameset{
		Color:     s.color(set.ColorWidth, set.ColorHeight, level),
		Depth:     s.depth(set.DepthWidth, set.DepthHeight),
		IR:        s.ir(set.IRWidth, set.IRHeight, level),
		Timestamp: now,
	}, nil
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func (s *Sim) color(w, h int, level float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		shade := 0.8 + 0.4*float64(y)/float64(max(1, h))
		v := clampByte(level * shade)
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = v
			img.Pix[i+1] = v
			img.Pix[i+2] = v
			img.Pix[i+3] = 0xFF
		}
	}
	return img
}

func (s *Sim) depth(w, h int) Depth {
	d := Depth{Width: w, Height: h, MM: make([]uint16, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mm := s.WallMM
			// box in the middle third of the view
			if x >= w/3 && x < 2*w/3 && y >= h/3 && y < 3*h/4 {
				mm = s.BoxMM
			}
			// floor rises toward the camera in the bottom rows
			if y >= 3*h/4 {
				mm = uint16(600 + 1400*(h-y)/max(1, h/4))
			}
			d.MM[y*w+x] = mm
		}
	}
	return d
}

func (s *Sim) ir(w, h int, level float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	v := clampByte(level * 0.6)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}
