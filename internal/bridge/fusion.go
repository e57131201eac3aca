// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bridge

import (
	"context"
	"time"

	"github.com/relabs-tech/rover_perception/internal/journal"
	"github.com/relabs-tech/rover_perception/internal/mavlink"
	"github.com/relabs-tech/rover_perception/internal/metrics"
	"github.com/relabs-tech/rover_perception/internal/proximity"
)

func (b *Bridge) fusionLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FusionPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.cycle(now)
		}
	}
}

// cycle fuses the latest cached readings, streams them and publishes the
// proximity document.
func (b *Bridge) cycle(now time.Time) proximity.Document {
	lidarR, lidarOK := b.lidar.Fresh(now, b.cfg.LidarStale)
	cameraR, cameraOK := b.camera.Fresh(now, b.cfg.DepthMaxAge)
	if !cameraOK {
		cameraR = proximity.Readings{}
	}
	if lidarOK != b.lidarWasOK {
		if lidarOK {
			b.event(journal.KindRecovered, "lidar")
		} else if b.seq > 0 {
			b.event(journal.KindDegraded, "lidar: no fresh revolution")
		}
		b.lidarWasOK = lidarOK
	}

	v := proximity.Fuse(lidarR, cameraR, b.cfg.Range)
	b.send(now, v)

	b.seq++
	doc := proximity.NewDocument(now, b.seq, v, lidarR, cameraR, b.cfg.Range)
	doc.MessagesSent = b.messagesSent
	doc.SendErrors = b.sendErrors
	doc.LidarErrors = b.lidarErrors.Load()
	if p := b.lastLidarError.Load(); p != nil {
		doc.LastLidarError = *p
	}
	doc.LidarAvailable = lidarOK
	doc.VisionServerAvailable = b.visionAvailable.Load()
	doc.LidarRevolutions = b.lidarRevolutions.Load()
	doc.DepthFrames = b.depthFrames.Load()

	if b.cfg.ProximityFile != "" {
		if err := proximity.WriteDocument(b.cfg.ProximityFile, doc); err != nil {
			b.log.Warnw("bridge: proximity write failed", "file", b.cfg.ProximityFile, "error", err)
		}
	}
	if b.cfg.ProximityTopic != "" {
		if err := b.deps.Telemetry.Publish(b.cfg.ProximityTopic, doc); err != nil {
			b.log.Debugw("bridge: proximity publish failed", "error", err)
		}
	}
	if m := b.deps.Metrics; m != nil {
		for i, cm := range v.CM {
			m.SectorCM.WithLabelValues(proximity.SectorName(i)).Set(float64(cm))
		}
		m.LidarAvailable.Set(metrics.Bool(lidarOK))
		_, unread := b.lidar.Stats()
		m.Unread.WithLabelValues("lidar").Set(float64(unread))
		_, unread = b.camera.Stats()
		m.Unread.WithLabelValues("camera").Set(float64(unread))
	}

	b.lastMu.Lock()
	b.last = doc
	b.lastMu.Unlock()
	return doc
}

// send streams one DISTANCE_SENSOR message per sector. A failed message is
// counted and the rest still go out.
func (b *Bridge) send(now time.Time, v proximity.Vector) {
	bootMs := uint32(now.Sub(b.started).Milliseconds())
	for i, cm := range v.CM {
		err := b.link.SendDistance(mavlink.Distance{
			Sector:     i,
			CurrentCM:  cm,
			MinCM:      b.cfg.Range.MinCM,
			MaxCM:      b.cfg.Range.MaxCM,
			TimeBootMs: bootMs,
		})
		if err != nil {
			b.sendErrors++
			if m := b.deps.Metrics; m != nil {
				m.SendErrors.Inc()
			}
			if b.sendErrors%100 == 1 {
				b.log.Warnw("bridge: distance send failed", "sector", i, "error", err, "errors", b.sendErrors)
			}
			continue
		}
		b.messagesSent++
		if m := b.deps.Metrics; m != nil {
			m.MessagesSent.Inc()
		}
	}
}
