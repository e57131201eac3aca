// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package camera abstracts the depth/RGB/IR sensor owned by the capture
// service.
//
// The rover carries an Intel RealSense D4xx. Its pipeline is only reachable
// through librealsense2 over cgo, so no hardware driver ships in this
// module: Open knows the "sim" device only, and a RealSense Device built on
// librealsense2 in a cgo-enabled build plugs in as an Opener. Any other
// CAMERA_DEVICE fails with ErrUnavailable at startup.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrUnavailable is returned when the sensor is missing or disconnected.
var ErrUnavailable = errors.New("camera: device unavailable")

// Settings are the stream profiles and initial manual exposure.
type Settings struct {
	ColorWidth  int
	ColorHeight int
	DepthWidth  int
	DepthHeight int
	IRWidth     int
	IRHeight    int
	FPS         int
	ExposureUS  float64
	Gain        float64
}

// Depth is a depth image in millimeters, row major.
type Depth struct {
	Width  int
	Height int
	MM     []uint16
}

// Frameset is one synchronized capture. IR may be nil.
type Frameset struct {
	Color     *image.RGBA
	Depth     Depth
	IR        *image.Gray
	Timestamp time.Time
}

// Device is a started sensor pipeline.
type Device interface {
	Start(s Settings) error
	// WaitFrames blocks until the next frameset or timeout.
	WaitFrames(ctx context.Context, timeout time.Duration) (Frameset, error)
	SetExposure(exposureUS, gain float64) error
	Stop() error
}

// Opener opens a device by name. The capture service takes one so tests
// can count hardware initializations.
type Opener func(name string) (Device, error)

// Open returns the device called name. Only the simulated sensor is built
// in; hardware pipelines plug in through an Opener.
func Open(name string) (Device, error) {
	switch name {
	case "sim":
		return NewSim(), nil
	default:
		return nil, fmt.Errorf("%w: no driver for %q", ErrUnavailable, name)
	}
}
