// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mavlink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"go.uber.org/zap"
)

// Config describes the serial link and our identity on it.
type Config struct {
	Device      string
	Baud        int
	SystemID    int
	ComponentID int
}

// messageWriter is the sending half of a gomavlib node.
type messageWriter interface {
	WriteMessageAll(m message.Message) error
}

// Node is a Link over a gomavlib serial endpoint.
type Node struct {
	node *gomavlib.Node
	out  messageWriter
	log  *zap.SugaredLogger
	boot time.Time

	lastHB       atomic.Int64
	targetSystem atomic.Uint32
	targetComp   atomic.Uint32
	hbOnce       sync.Once
	hbCh         chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
}

// Dial opens the serial endpoint. The node emits its own heartbeat once a
// second so the autopilot keeps the companion link alive.
func Dial(cfg Config, log *zap.SugaredLogger) (*Node, error) {
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointSerial{Device: cfg.Device, Baud: cfg.Baud},
		},
		Dialect:         common.Dialect,
		OutVersion:      gomavlib.V2,
		OutSystemID:     byte(cfg.SystemID),
		OutComponentID:  byte(cfg.ComponentID),
		HeartbeatPeriod: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open mavlink on %s: %w", cfg.Device, err)
	}

	n := &Node{
		node: node,
		out:  node,
		log:  log,
		boot: time.Now(),
		hbCh: make(chan struct{}),
		done: make(chan struct{}),
	}
	go n.readEvents()
	return n, nil
}

func (n *Node) readEvents() {
	defer close(n.done)
	for evt := range n.node.Events() {
		frm, ok := evt.(*gomavlib.EventFrame)
		if !ok {
			continue
		}
		hb, ok := frm.Message().(*common.MessageHeartbeat)
		if !ok || hb.Type == common.MAV_TYPE_GCS {
			continue
		}
		n.lastHB.Store(time.Now().UnixNano())
		n.targetSystem.Store(uint32(frm.SystemID()))
		n.targetComp.Store(uint32(frm.ComponentID()))
		n.hbOnce.Do(func() {
			n.log.Infow("mavlink: autopilot heartbeat", "system", frm.SystemID(), "component", frm.ComponentID())
			close(n.hbCh)
		})
	}
}

// WaitHeartbeat implements Link.
func (n *Node) WaitHeartbeat(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-n.hbCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return fmt.Errorf("%w within %s", ErrNoHeartbeat, timeout)
	case <-n.done:
		return fmt.Errorf("%w: link closed", ErrNoHeartbeat)
	}
}

// LastHeartbeat implements Link.
func (n *Node) LastHeartbeat() time.Time {
	ns := n.lastHB.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (n *Node) closed() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

// SendDistance implements Link.
func (n *Node) SendDistance(d Distance) error {
	if n.closed() {
		return fmt.Errorf("mavlink: send distance on closed link")
	}
	timeBoot := d.TimeBootMs
	if timeBoot == 0 {
		timeBoot = uint32(time.Since(n.boot).Milliseconds())
	}
	err := n.out.WriteMessageAll(&common.MessageDistanceSensor{
		TimeBootMs:      timeBoot,
		MinDistance:     uint16(d.MinCM),
		MaxDistance:     uint16(d.MaxCM),
		CurrentDistance: uint16(d.CurrentCM),
		Type:            common.MAV_DISTANCE_SENSOR_LASER,
		Id:              uint8(d.Sector),
		Orientation:     common.MAV_SENSOR_ORIENTATION(d.Sector),
		Covariance:      d.Covariance,
	})
	if err != nil {
		return fmt.Errorf("mavlink: write distance: %w", err)
	}
	return nil
}

// SendOverride implements Link.
func (n *Node) SendOverride(o Override) error {
	if n.closed() {
		return fmt.Errorf("mavlink: send override on closed link")
	}
	ch := o.Channels()
	err := n.out.WriteMessageAll(&common.MessageRcChannelsOverride{
		TargetSystem:    uint8(n.targetSystem.Load()),
		TargetComponent: uint8(n.targetComp.Load()),
		Chan1Raw:        ch[0],
		Chan2Raw:        ch[1],
		Chan3Raw:        ch[2],
		Chan4Raw:        ch[3],
		Chan5Raw:        ch[4],
		Chan6Raw:        ch[5],
		Chan7Raw:        ch[6],
		Chan8Raw:        ch[7],
	})
	if err != nil {
		return fmt.Errorf("mavlink: write override: %w", err)
	}
	return nil
}

// Close implements Link.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.node.Close()
	})
	return nil
}
