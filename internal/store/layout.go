// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

// Record names and mirror files of the capture store.
const (
	ColorRecord = "color_latest"
	DepthRecord = "depth_latest"
	IRRecord    = "ir_latest"

	ColorImageFile   = "color_latest.jpg"
	ColorMetaFile    = "color_latest.json"
	DepthRawFile     = "depth_latest.bin"
	DepthMetaFile    = "depth_latest.json"
	DepthPreviewFile = "depth_preview.jpg"
	IRImageFile      = "ir_latest.jpg"
	IRMetaFile       = "ir_latest.json"
)

// Payload formats.
const (
	FormatJPEG = "jpeg"
	FormatZ16  = "z16" // little-endian uint16 millimeters
)
