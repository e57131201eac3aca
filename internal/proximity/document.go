// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package proximity

import (
	"fmt"
	"time"

	"github.com/relabs-tech/rover_perception/internal/store"
)

// Document is the fused proximity record the bridge rewrites every cycle.
// Dashboards and the navigator read it; only the bridge writes it.
type Document struct {
	Timestamp             float64            `json:"timestamp"`
	Sequence              uint64             `json:"sequence"`
	SectorsCM             [NumSectors]int    `json:"sectors_cm"`
	Sources               [NumSectors]Source `json:"sources"`
	MinCM                 int                `json:"min_cm"`
	LidarCM               [NumSectors]int    `json:"lidar_cm"`
	CameraCM              [NumSectors]int    `json:"camera_cm"`
	MessagesSent          uint64             `json:"messages_sent"`
	SendErrors            uint64             `json:"send_errors"`
	LidarErrors           uint64             `json:"lidar_errors"`
	LastLidarError        string             `json:"last_lidar_error,omitempty"`
	LidarAvailable        bool               `json:"lidar_available"`
	VisionServerAvailable bool               `json:"vision_server_available"`
	LidarRevolutions      uint64             `json:"lidar_revolutions"`
	DepthFrames           uint64             `json:"depth_frames"`
}

// NewDocument fills the sector fields of a document from a fused vector.
func NewDocument(now time.Time, seq uint64, v Vector, lidar, camera Readings, rng Range) Document {
	minCM, _ := v.Min()
	return Document{
		Timestamp: store.UnixSeconds(now),
		Sequence:  seq,
		SectorsCM: v.CM,
		Sources:   v.Sources,
		MinCM:     minCM,
		LidarCM:   lidar.Values(rng),
		CameraCM:  camera.Values(rng),
	}
}

// UpdatedAt returns the document timestamp.
func (d Document) UpdatedAt() time.Time {
	return store.FromUnixSeconds(d.Timestamp)
}

// Age returns how old the document is relative to now.
func (d Document) Age(now time.Time) time.Duration {
	return now.Sub(d.UpdatedAt())
}

// Vector returns the fused sector vector carried by the document.
func (d Document) Vector() Vector {
	return Vector{CM: d.SectorsCM, Sources: d.Sources}
}

// Sensed reports whether any sector was measured by a sensor. A document
// with no sensed sector holds only the max-range fallback.
func (d Document) Sensed() bool {
	for _, src := range d.Sources {
		if src == SourceLidar || src == SourceCamera {
			return true
		}
	}
	return false
}

// Validate checks that every sector holds an in-range distance.
func (d Document) Validate(rng Range) error {
	if d.Timestamp <= 0 {
		return fmt.Errorf("proximity document has no timestamp")
	}
	for i, cm := range d.SectorsCM {
		if !rng.Contains(cm) {
			return fmt.Errorf("sector %d distance %d outside [%d,%d]", i, cm, rng.MinCM, rng.MaxCM)
		}
	}
	return nil
}

// WriteDocument atomically replaces the document at path.
func WriteDocument(path string, d Document) error {
	return store.WriteJSON(path, d)
}

// ReadDocument loads the document at path.
func ReadDocument(path string) (Document, error) {
	var d Document
	if err := store.ReadJSON(path, &d); err != nil {
		return Document{}, err
	}
	return d, nil
}
