// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"
	"os"

	"github.com/relabs-tech/rover_perception/internal/app"
	"github.com/relabs-tech/rover_perception/internal/ports"
)

func main() {
	if err := app.RunPortDetect(os.Stdout, ports.System); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
