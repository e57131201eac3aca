// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ports finds the scanner and flight-controller serial ports by
// USB vendor and product id.
package ports

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNotDetected is returned when no port matches a role.
var ErrNotDetected = errors.New("ports: device not detected")

// Role is what a serial port is connected to.
type Role string

const (
	RoleLidar            Role = "lidar"
	RoleFlightController Role = "flight_controller"
	RoleUnknown          Role = "unknown"
)

// Auto asks Resolve to discover the port.
const Auto = "auto"

// Port is one detected serial port.
type Port struct {
	Name    string `json:"name"`
	USB     bool   `json:"usb"`
	VID     string `json:"vid,omitempty"`
	PID     string `json:"pid,omitempty"`
	Serial  string `json:"serial,omitempty"`
	Product string `json:"product,omitempty"`
	Role    Role   `json:"role"`
}

// Lister enumerates serial ports.
type Lister func() ([]*enumerator.PortDetails, error)

// System lists the ports of this machine.
func System() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}

// flight controller vendors: Holybro, ArduPilot/pid.codes, 3D Robotics
var fcVendors = map[string]bool{"2dae": true, "1209": true, "26ac": true}

// Classify returns the role of a USB device.
func Classify(vid, pid, product string) Role {
	vid, pid = strings.ToLower(vid), strings.ToLower(pid)
	switch {
	case vid == "10c4" && pid == "ea60":
		return RoleLidar
	case fcVendors[vid]:
		return RoleFlightController
	}
	p := strings.ToLower(product)
	if strings.Contains(p, "px4") || strings.Contains(p, "ardupilot") || strings.Contains(p, "pixhawk") {
		return RoleFlightController
	}
	return RoleUnknown
}

// Detect lists and classifies all serial ports, sorted by name.
func Detect(list Lister) ([]Port, error) {
	details, err := list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	out := make([]Port, 0, len(details))
	for _, d := range details {
		p := Port{Name: d.Name, USB: d.IsUSB, Role: RoleUnknown}
		if d.IsUSB {
			p.VID = strings.ToLower(d.VID)
			p.PID = strings.ToLower(d.PID)
			p.Serial = d.SerialNumber
			p.Product = d.Product
			p.Role = Classify(d.VID, d.PID, d.Product)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Find returns the first port with the given role.
func Find(ports []Port, role Role) (Port, bool) {
	for _, p := range ports {
		if p.Role == role {
			return p, true
		}
	}
	return Port{}, false
}

// Resolve returns configured unless it is "auto", in which case the port
// is discovered. A flight controller that does not announce a known vendor
// falls back to the first ttyACM port.
func Resolve(configured string, role Role, list Lister) (string, error) {
	if configured != Auto {
		return configured, nil
	}
	detected, err := Detect(list)
	if err != nil {
		return "", err
	}
	if p, ok := Find(detected, role); ok {
		return p.Name, nil
	}
	if role == RoleFlightController {
		for _, p := range detected {
			if strings.HasPrefix(p.Name, "/dev/ttyACM") {
				return p.Name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotDetected, role)
}
