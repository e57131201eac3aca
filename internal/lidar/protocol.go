// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package lidar drives an RPLidar-family 2-D range scanner over a serial
// port and reduces its revolutions to per-sector minimum distances.
package lidar

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the scanner does not answer in time.
	ErrTimeout = errors.New("lidar: timeout")
	// ErrProtocol is returned for malformed descriptors or scan nodes.
	ErrProtocol = errors.New("lidar: protocol error")
)

const (
	syncByte     = 0xA5
	syncByteResp = 0x5A

	cmdStop      = 0x25
	cmdReset     = 0x40
	cmdScan      = 0x20
	cmdGetInfo   = 0x50
	cmdGetHealth = 0x52
	cmdSetPWM    = 0xF0

	descriptorLen = 7
	scanNodeLen   = 5
	infoLen       = 20
	healthLen     = 3

	typeScan   = 0x81
	typeInfo   = 0x04
	typeHealth = 0x06

	// DefaultMotorPWM is the motor duty used while scanning.
	DefaultMotorPWM = 660
)

// Health status codes reported by GET_HEALTH.
const (
	HealthGood    = 0
	HealthWarning = 1
	HealthError   = 2
)

// Sample is one scan node.
type Sample struct {
	Quality    int
	AngleDeg   float64
	DistanceMM float64
	// Start marks the first node of a new revolution.
	Start bool
}

// Info is the device identity from GET_INFO.
type Info struct {
	Model         byte
	FirmwareMajor byte
	FirmwareMinor byte
	Hardware      byte
	Serial        string
}

// Health is the device self-test result from GET_HEALTH.
type Health struct {
	Status    byte
	ErrorCode uint16
}

// StatusString returns a readable health status.
func (h Health) StatusString() string {
	switch h.Status {
	case HealthGood:
		return "Good"
	case HealthWarning:
		return "Warning"
	case HealthError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", h.Status)
	}
}

type descriptor struct {
	size     uint32
	mode     byte
	dataType byte
}

// encodeRequest builds a request packet. Requests with a payload carry a
// length byte and an XOR checksum over the whole packet.
func encodeRequest(cmd byte, payload []byte) []byte {
	if len(payload) == 0 {
		return []byte{syncByte, cmd}
	}
	pkt := make([]byte, 0, 4+len(payload))
	pkt = append(pkt, syncByte, cmd, byte(len(payload)))
	pkt = append(pkt, payload...)
	var sum byte
	for _, b := range pkt {
		sum ^= b
	}
	return append(pkt, sum)
}

func parseDescriptor(b []byte) (descriptor, error) {
	if len(b) != descriptorLen {
		return descriptor{}, fmt.Errorf("%w: descriptor length %d", ErrProtocol, len(b))
	}
	if b[0] != syncByte || b[1] != syncByteResp {
		return descriptor{}, fmt.Errorf("%w: bad descriptor sync % x", ErrProtocol, b[:2])
	}
	raw := uint32(b[2]) | uint32(b[3])<<8 | uint32(b[4])<<16 | uint32(b[5])<<24
	return descriptor{
		size:     raw & 0x3FFFFFFF,
		mode:     byte(raw >> 30),
		dataType: b[6],
	}, nil
}

func encodeDescriptor(d descriptor) []byte {
	raw := d.size&0x3FFFFFFF | uint32(d.mode)<<30
	return []byte{syncByte, syncByteResp, byte(raw), byte(raw >> 8), byte(raw >> 16), byte(raw >> 24), d.dataType}
}

// decodeNode parses a 5-byte scan node.
//
//	byte 0: quality<<2 | !start<<1 | start
//	byte 1: angle_q6[6:0]<<1 | check(1)
//	byte 2: angle_q6[14:7]
//	byte 3-4: distance_q2, little endian
func decodeNode(b []byte) (Sample, error) {
	if len(b) != scanNodeLen {
		return Sample{}, fmt.Errorf("%w: node length %d", ErrProtocol, len(b))
	}
	start := b[0]&0x01 != 0
	inverse := b[0]&0x02 != 0
	if start == inverse {
		return Sample{}, fmt.Errorf("%w: start flags mismatch", ErrProtocol)
	}
	if b[1]&0x01 != 1 {
		return Sample{}, fmt.Errorf("%w: check bit not set", ErrProtocol)
	}
	angleQ6 := uint16(b[1])>>1 | uint16(b[2])<<7
	distQ2 := uint16(b[3]) | uint16(b[4])<<8
	return Sample{
		Quality:    int(b[0] >> 2),
		AngleDeg:   float64(angleQ6) / 64.0,
		DistanceMM: float64(distQ2) / 4.0,
		Start:      start,
	}, nil
}

func encodeNode(s Sample) []byte {
	b0 := byte(s.Quality&0x3F) << 2
	if s.Start {
		b0 |= 0x01
	} else {
		b0 |= 0x02
	}
	angleQ6 := uint16(s.AngleDeg * 64)
	distQ2 := uint16(s.DistanceMM * 4)
	return []byte{
		b0,
		byte(angleQ6<<1) | 0x01,
		byte(angleQ6 >> 7),
		byte(distQ2),
		byte(distQ2 >> 8),
	}
}

func parseInfo(b []byte) Info {
	return Info{
		Model:         b[0],
		FirmwareMinor: b[1],
		FirmwareMajor: b[2],
		Hardware:      b[3],
		Serial:        fmt.Sprintf("%X", b[4:20]),
	}
}

func parseHealth(b []byte) Health {
	return Health{Status: b[0], ErrorCode: uint16(b[1]) | uint16(b[2])<<8}
}
