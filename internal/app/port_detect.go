// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"

	"github.com/relabs-tech/rover_perception/internal/ports"
)

// RunPortDetect lists the USB serial ports and the config lines that
// would select them.
func RunPortDetect(w io.Writer, list ports.Lister) error {
	detected, err := ports.Detect(list)
	if err != nil {
		return err
	}
	if len(detected) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}

	for _, p := range detected {
		fmt.Fprintf(w, "%-16s %-18s %s:%s %s\n", p.Name, p.Role, p.VID, p.PID, p.Product)
	}
	fmt.Fprintln(w)
	if p, ok := ports.Find(detected, ports.RoleLidar); ok {
		fmt.Fprintf(w, "LIDAR_PORT=%s\n", p.Name)
	} else {
		fmt.Fprintln(w, "# no range scanner detected")
	}
	if p, ok := ports.Find(detected, ports.RoleFlightController); ok {
		fmt.Fprintf(w, "PIXHAWK_PORT=%s\n", p.Name)
	} else {
		fmt.Fprintln(w, "# no flight controller detected")
	}
	return nil
}
