// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"

	"github.com/relabs-tech/rover_perception/internal/camera"
	"github.com/relabs-tech/rover_perception/internal/proximity"
	"github.com/relabs-tech/rover_perception/internal/store"
)

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// publish writes one frameset. Each modality is independent: a failed
// write is counted and the others still go out.
func (s *Service) publish(fs camera.Frameset) {
	s.state.Seq++
	seq := s.state.Seq
	ts := fs.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	if fs.Color != nil {
		s.state.Brightness = camera.MeanLuma(fs.Color)
		if s.exposure.Update(ts, s.state.Brightness) {
			if err := s.dev.SetExposure(s.exposure.ExposureUS, s.exposure.Gain); err != nil {
				s.recordError(fmt.Errorf("set exposure: %w", err))
			}
		}
		if m := s.deps.Metrics; m != nil {
			m.Brightness.Set(s.state.Brightness)
			m.ExposureUS.Set(s.exposure.ExposureUS)
			m.Gain.Set(s.exposure.Gain)
		}
		if err := s.publishColor(seq, ts, fs.Color); err != nil {
			s.recordError(err)
		} else {
			s.countFrame("color", &s.state.Frames.RGB)
		}
	}

	if len(fs.Depth.MM) > 0 {
		if err := s.publishDepth(seq, ts, fs.Depth); err != nil {
			s.recordError(err)
		} else {
			s.countFrame("depth", &s.state.Frames.Depth)
		}
	}

	if fs.IR != nil {
		if err := s.publishIR(seq, ts, fs.IR); err != nil {
			s.recordError(err)
		} else {
			s.countFrame("ir", &s.state.Frames.IR)
		}
	}
}

func (s *Service) countFrame(modality string, n *uint64) {
	*n++
	if m := s.deps.Metrics; m != nil {
		m.Frames.WithLabelValues(modality).Inc()
	}
}

func (s *Service) record(seq uint64, ts time.Time, w, h int, format string, payload []byte) store.Record {
	return store.Record{
		Instance:  s.state.InstanceID,
		Seq:       seq,
		Timestamp: ts,
		Width:     w,
		Height:    h,
		Format:    format,
		Payload:   payload,
	}
}

func (s *Service) writeMeta(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return s.st.WriteFile(name, raw)
}

func (s *Service) publishColor(seq uint64, ts time.Time, img *image.RGBA) error {
	b := img.Bounds()
	payload, err := encodeJPEG(img, s.cfg.JPEGQuality)
	if err != nil {
		return fmt.Errorf("encode color: %w", err)
	}
	if err := s.st.Publish(store.ColorRecord, s.record(seq, ts, b.Dx(), b.Dy(), store.FormatJPEG, payload)); err != nil {
		return err
	}
	if err := s.st.WriteFile(store.ColorImageFile, payload); err != nil {
		return err
	}
	return s.writeMeta(store.ColorMetaFile, ColorMeta{
		FrameNumber:    seq,
		Timestamp:      store.UnixSeconds(ts),
		TimestampISO:   ts.Format(time.RFC3339Nano),
		Width:          b.Dx(),
		Height:         b.Dy(),
		FPSTarget:      s.cfg.Settings.FPS,
		ExposureUS:     s.exposure.ExposureUS,
		Gain:           s.exposure.Gain,
		BrightnessMean: s.state.Brightness,
		Quality:        s.cfg.JPEGQuality,
	})
}

func (s *Service) publishDepth(seq uint64, ts time.Time, d camera.Depth) error {
	if len(d.MM) != d.Width*d.Height {
		return fmt.Errorf("depth frame has %d pixels, want %dx%d", len(d.MM), d.Width, d.Height)
	}
	payload := proximity.EncodeDepth(d.MM)
	if err := s.st.Publish(store.DepthRecord, s.record(seq, ts, d.Width, d.Height, store.FormatZ16, payload)); err != nil {
		return err
	}
	if err := s.st.WriteFile(store.DepthRawFile, payload); err != nil {
		return err
	}
	if err := s.publishPreview(d); err != nil {
		// preview is for humans only
		s.log.Debugw("capture: depth preview failed", "error", err)
	}
	return s.writeMeta(store.DepthMetaFile, DepthMeta{
		FrameNumber:   seq,
		Timestamp:     store.UnixSeconds(ts),
		TimestampISO:  ts.Format(time.RFC3339Nano),
		Width:         d.Width,
		Height:        d.Height,
		FPSTarget:     s.cfg.Settings.FPS,
		DepthScale:    0.001,
		MinDistanceM:  s.cfg.DepthMinM,
		MaxDistanceM:  s.cfg.DepthMaxM,
		DataType:      "uint16",
		FileSizeBytes: len(payload),
	})
}

// publishPreview renders the colorized depth at color resolution so it can
// be overlaid on the color stream.
func (s *Service) publishPreview(d camera.Depth) error {
	src := camera.DepthPreview(d)
	w, h := s.cfg.Settings.ColorWidth, s.cfg.Settings.ColorHeight
	var img image.Image = src
	if w > 0 && h > 0 && (w != d.Width || h != d.Height) {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		img = dst
	}
	payload, err := encodeJPEG(img, s.cfg.JPEGQuality)
	if err != nil {
		return err
	}
	return s.st.WriteFile(store.DepthPreviewFile, payload)
}

func (s *Service) publishIR(seq uint64, ts time.Time, img *image.Gray) error {
	b := img.Bounds()
	payload, err := encodeJPEG(img, s.cfg.JPEGQuality)
	if err != nil {
		return fmt.Errorf("encode ir: %w", err)
	}
	if err := s.st.Publish(store.IRRecord, s.record(seq, ts, b.Dx(), b.Dy(), store.FormatJPEG, payload)); err != nil {
		return err
	}
	if err := s.st.WriteFile(store.IRImageFile, payload); err != nil {
		return err
	}
	return s.writeMeta(store.IRMetaFile, IRMeta{
		FrameNumber:  seq,
		Timestamp:    store.UnixSeconds(ts),
		TimestampISO: ts.Format(time.RFC3339Nano),
		Width:        b.Dx(),
		Height:       b.Dy(),
		FPSTarget:    s.cfg.Settings.FPS,
	})
}
