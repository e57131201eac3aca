// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"path/filepath"
	"time"
)

// Liveness states.
const (
	StateStarting = "STARTING"
	StateRunning  = "RUNNING"
	StateStopped  = "STOPPED"
)

// StatusFile is the liveness document name inside a sensor store.
const StatusFile = "status.json"

// FrameCounts is the per-modality frame counter block.
type FrameCounts struct {
	RGB   uint64 `json:"rgb"`
	Depth uint64 `json:"depth"`
	IR    uint64 `json:"ir"`
}

// FPS is the measured and target frame rate block.
type FPS struct {
	RGBActual   float64 `json:"rgb_actual"`
	DepthActual float64 `json:"depth_actual"`
	IRActual    float64 `json:"ir_actual"`
	Target      int     `json:"target"`
}

// ErrorStats is the error counter block.
type ErrorStats struct {
	Count         uint64   `json:"count"`
	LastError     string   `json:"last_error,omitempty"`
	LastErrorTime *float64 `json:"last_error_time,omitempty"`
}

// Liveness is the status document a sensor owner rewrites every second.
type Liveness struct {
	ComponentID    int         `json:"component_id"`
	ComponentName  string      `json:"component_name"`
	Status         string      `json:"status"`
	PID            int         `json:"pid"`
	InstanceID     string      `json:"instance_id"`
	UptimeSeconds  int64       `json:"uptime_seconds"`
	Frames         FrameCounts `json:"frames_processed"`
	FPS            FPS         `json:"fps"`
	Errors         ErrorStats  `json:"errors"`
	ExposureUS     float64     `json:"exposure_us"`
	Gain           float64     `json:"gain"`
	BrightnessMean float64     `json:"brightness_mean"`
	LastFrameSeq   uint64      `json:"last_frame_seq"`
	Timestamp      float64     `json:"timestamp"`
}

// UnixSeconds converts t to the float seconds used in documents.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromUnixSeconds converts document seconds back to a time.Time.
func FromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}

// UpdatedAt returns the last-update time of the record.
func (l Liveness) UpdatedAt() time.Time {
	return FromUnixSeconds(l.Timestamp)
}

// Alive reports whether the owner is running and refreshed the record
// within maxAge of now.
func (l Liveness) Alive(now time.Time, maxAge time.Duration) bool {
	if l.Status != StateRunning {
		return false
	}
	return now.Sub(l.UpdatedAt()) <= maxAge
}

// ReadLiveness reads the liveness document in dir.
func ReadLiveness(dir string) (Liveness, error) {
	var l Liveness
	err := ReadJSON(filepath.Join(dir, StatusFile), &l)
	return l, err
}

// WriteLiveness atomically replaces the liveness document in the store.
func (s *Store) WriteLiveness(l Liveness) error {
	return WriteJSON(s.Path(StatusFile), l)
}
