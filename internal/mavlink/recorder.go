// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mavlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Recorder is an in-memory Link that captures every transmission. It
// backs tests and dry runs without a flight controller.
type Recorder struct {
	mu        sync.Mutex
	heartbeat time.Time
	noHB      bool
	failSends int

	Distances []Distance
	Overrides []Override
	Closed    bool
}

// NewRecorder returns a Recorder whose autopilot is already heard.
func NewRecorder() *Recorder {
	return &Recorder{heartbeat: time.Now()}
}

// Silent makes WaitHeartbeat time out and LastHeartbeat report zero.
func (r *Recorder) Silent() *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noHB = true
	r.heartbeat = time.Time{}
	return r
}

// Beat records an autopilot heartbeat at t.
func (r *Recorder) Beat(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noHB = false
	r.heartbeat = t
}

// FailNextSends makes the next n sends return an error.
func (r *Recorder) FailNextSends(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSends = n
}

// WaitHeartbeat implements Link.
func (r *Recorder) WaitHeartbeat(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	silent := r.noHB
	r.mu.Unlock()
	if !silent {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("%w within %s", ErrNoHeartbeat, timeout)
	}
}

// LastHeartbeat implements Link.
func (r *Recorder) LastHeartbeat() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeat
}

var errInjected = errors.New("recorder: injected send failure")

func (r *Recorder) fail() error {
	if r.Closed {
		return fmt.Errorf("recorder: link closed")
	}
	if r.failSends > 0 {
		r.failSends--
		return errInjected
	}
	return nil
}

// SendDistance implements Link.
func (r *Recorder) SendDistance(d Distance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return err
	}
	r.Distances = append(r.Distances, d)
	return nil
}

// SendOverride implements Link.
func (r *Recorder) SendOverride(o Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return err
	}
	r.Overrides = append(r.Overrides, o)
	return nil
}

// Close implements Link.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return nil
}

// SentOverrides returns a copy of the captured overrides.
func (r *Recorder) SentOverrides() []Override {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Override(nil), r.Overrides...)
}

// SentDistances returns a copy of the captured distance messages.
func (r *Recorder) SentDistances() []Distance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Distance(nil), r.Distances...)
}
