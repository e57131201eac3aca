// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/relabs-tech/rover_perception/internal/journal"
	"github.com/relabs-tech/rover_perception/internal/lidar"
	"github.com/relabs-tech/rover_perception/internal/metrics"
	"github.com/relabs-tech/rover_perception/internal/proximity"
	"github.com/relabs-tech/rover_perception/internal/store"
)

// scanLoop reads revolutions into the lidar cell. After LidarMaxErrors
// consecutive errors the scanner is reopened, at most LidarMaxRetries
// times in a row; then the loop gives up and fusion runs camera-only.
func (b *Bridge) scanLoop(ctx context.Context, scanner lidar.Scanner) {
	defer func() {
		if scanner != nil {
			if err := scanner.Close(); err != nil {
				b.log.Warnw("bridge: scanner close failed", "error", err)
			}
		}
	}()

	consecutive, retries := 0, 0
	for ctx.Err() == nil {
		if scanner == nil {
			if b.dial == nil || retries >= b.cfg.LidarMaxRetries {
				b.log.Errorw("bridge: range scanner gave up", "retries", retries)
				b.event(journal.KindDegraded, "lidar: reconnect retries exhausted")
				return
			}
			retries++
			sleep(ctx, b.cfg.LidarRetryDelay)
			if ctx.Err() != nil {
				return
			}
			if m := b.deps.Metrics; m != nil {
				m.LidarReconnects.Inc()
			}
			b.log.Infow("bridge: reconnecting range scanner", "attempt", retries)
			s, err := b.dial()
			if err != nil {
				b.lidarError(err)
				b.log.Warnw("bridge: scanner reconnect failed", "attempt", retries, "error", err)
				continue
			}
			b.event(journal.KindReconnect, "lidar")
			scanner, consecutive = s, 0
			continue
		}

		samples, err := scanner.Revolution(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.lidarError(err)
			consecutive++
			b.log.Debugw("bridge: scan error", "error", err, "consecutive", consecutive)
			if consecutive > b.cfg.LidarMaxErrors {
				b.log.Warnw("bridge: too many scan errors, reconnecting", "errors", consecutive)
				if cerr := scanner.Close(); cerr != nil {
					b.log.Debugw("bridge: scanner close failed", "error", cerr)
				}
				scanner = nil
			}
			continue
		}
		consecutive, retries = 0, 0

		readings, kept := lidar.Bucket(samples, b.cfg.QualityThreshold, b.cfg.Range)
		if kept == 0 {
			continue
		}
		b.lidar.Store(readings, time.Now())
		b.lidarRevolutions.Add(1)
		if m := b.deps.Metrics; m != nil {
			m.LidarRevolutions.Inc()
		}
	}
}

// depthLoop samples every new depth record of a live capture service into
// the forward sectors of the camera cell.
func (b *Bridge) depthLoop(ctx context.Context) {
	st, err := store.Open(b.cfg.VisionDir)
	if err != nil {
		b.log.Errorw("bridge: vision store unavailable", "error", err)
		return
	}

	ticker := time.NewTicker(b.cfg.DepthPoll)
	defer ticker.Stop()

	var cursor store.Cursor
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		alive := b.visionAlive(now)
		if was := b.visionAvailable.Swap(alive); was != alive {
			if alive {
				b.log.Infow("bridge: capture service available")
				b.event(journal.KindRecovered, "vision")
			} else {
				b.log.Warnw("bridge: capture service stale, falling back to lidar")
				b.event(journal.KindDegraded, "vision: liveness stale")
				b.camera.Clear()
			}
		}
		if m := b.deps.Metrics; m != nil {
			m.VisionAvailable.Set(metrics.Bool(alive))
		}
		if !alive {
			continue
		}

		rec, ok, err := st.TryRead(store.DepthRecord, cursor)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				b.log.Debugw("bridge: depth read failed", "error", err)
			}
			continue
		}
		if !ok {
			continue
		}
		cursor = rec.Cursor()
		if rec.Format != store.FormatZ16 || rec.Age(now) > b.cfg.DepthMaxAge {
			continue
		}

		frame, err := proximity.DecodeDepth(rec.Width, rec.Height, rec.Payload)
		if err != nil {
			b.log.Debugw("bridge: bad depth frame", "seq", rec.Seq, "error", err)
			continue
		}
		b.camera.Store(proximity.SampleForward(frame, b.cfg.Depth, b.cfg.Range), rec.Timestamp)
		b.depthFrames.Add(1)
		if m := b.deps.Metrics; m != nil {
			m.DepthFrames.Inc()
		}
	}
}
