// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

// ColorMeta is the companion document of the color mirror.
type ColorMeta struct {
	FrameNumber    uint64  `json:"frame_number"`
	Timestamp      float64 `json:"timestamp"`
	TimestampISO   string  `json:"timestamp_iso"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	FPSTarget      int     `json:"fps_target"`
	ExposureUS     float64 `json:"exposure_us"`
	Gain           float64 `json:"gain"`
	BrightnessMean float64 `json:"brightness_mean"`
	Quality        int     `json:"quality"`
}

// DepthMeta is the companion document of the raw depth mirror.
type DepthMeta struct {
	FrameNumber   uint64  `json:"frame_number"`
	Timestamp     float64 `json:"timestamp"`
	TimestampISO  string  `json:"timestamp_iso"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FPSTarget     int     `json:"fps_target"`
	DepthScale    float64 `json:"depth_scale"`
	MinDistanceM  float64 `json:"min_distance_m"`
	MaxDistanceM  float64 `json:"max_distance_m"`
	DataType      string  `json:"data_type"`
	FileSizeBytes int     `json:"file_size_bytes"`
}

// IRMeta is the companion document of the infrared mirror.
type IRMeta struct {
	FrameNumber  uint64  `json:"frame_number"`
	Timestamp    float64 `json:"timestamp"`
	TimestampISO string  `json:"timestamp_iso"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	FPSTarget    int     `json:"fps_target"`
}
