// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/rover_perception/internal/config"
	"github.com/relabs-tech/rover_perception/internal/proximity"
	"github.com/relabs-tech/rover_perception/internal/store"
)

const (
	panelW = 128
	panelH = 64
)

// panelData is what one refresh of the status panel shows.
type panelData struct {
	doc        proximity.Document
	haveDoc    bool
	stale      bool
	vision     store.Liveness
	haveVision bool
	visionLive bool
	maxCM      int
}

// addrBus sends every transaction to the configured display address; the
// ssd1306 driver only knows the default one.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b addrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

// RunDisplay shows the sector distances and sensor health on the OLED
// until ctx is done.
func RunDisplay(ctx context.Context, log *zap.SugaredLogger) error {
	cfg := config.Get()
	log = log.Named("display")

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus %q: %w", cfg.DisplayI2CBus, err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(addrBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Infow("display: initialized", "addr", fmt.Sprintf("0x%02X", cfg.DisplayI2CAddr))
	defer func() {
		if err := dev.Halt(); err != nil {
			log.Debugw("display: halt failed", "error", err)
		}
	}()

	if err := dev.Draw(dev.Bounds(), splash(), image.Point{}); err != nil {
		log.Warnw("display: error showing splash", "error", err)
	}

	ticker := time.NewTicker(config.Ms(cfg.DisplayUpdateInterval))
	defer ticker.Stop()

	log.Infow("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			data := loadPanel(cfg, now)
			if err := dev.Draw(dev.Bounds(), renderPanel(data), image.Point{}); err != nil {
				log.Warnw("display: error updating display", "error", err)
			}
		}
	}
}

func loadPanel(cfg *config.Config, now time.Time) panelData {
	d := panelData{maxCM: cfg.MaxDistanceCM}
	if doc, err := proximity.ReadDocument(cfg.ProximityFile); err == nil {
		d.doc, d.haveDoc = doc, true
		d.stale = doc.Age(now) > config.Ms(cfg.DataStaleMS)
	}
	if l, err := store.ReadLiveness(cfg.StoreDir); err == nil {
		d.vision, d.haveVision = l, true
		d.visionLive = l.Alive(now, config.Ms(cfg.LivenessStaleMS))
	}
	return d
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, panelW, panelH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func splash() *image1bit.VerticalLSB {
	img, drawer := newCanvas()
	drawer.Dot = fixed.P(20, 26)
	drawer.DrawString("Rover")
	drawer.Dot = fixed.P(5, 43)
	drawer.DrawString("Perception")
	return img
}

func okMark(ok bool) string {
	if ok {
		return "ok"
	}
	return "--"
}

// renderPanel draws one bar per sector (taller is nearer) under a status
// line.
func renderPanel(d panelData) *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	if !d.haveDoc {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawString("Proximity")
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawString("Waiting...")
		return img
	}

	minCM, sector := d.doc.Vector().Min()
	drawer.Dot = fixed.P(0, 11)
	if d.stale {
		drawer.DrawString("STALE DATA")
	} else {
		drawer.DrawString(fmt.Sprintf("%4dcm %s", minCM, proximity.SectorName(sector)))
	}
	drawer.Dot = fixed.P(0, 24)
	drawer.DrawString(fmt.Sprintf("L:%s C:%s", okMark(d.doc.LidarAvailable), okMark(d.visionLive)))

	const (
		top    = 28
		bottom = panelH - 1
		barW   = panelW / proximity.NumSectors
	)
	maxCM := max(d.maxCM, 1)
	for i, cm := range d.doc.SectorsCM {
		nearness := 1 - float64(min(cm, maxCM))/float64(maxCM)
		h := int(nearness * float64(bottom-top))
		x0 := i*barW + 1
		for x := x0; x < x0+barW-2; x++ {
			for y := bottom - h; y <= bottom; y++ {
				img.SetBit(x, y, image1bit.On)
			}
		}
	}
	return img
}
