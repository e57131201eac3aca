// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package lidar

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// Scanner yields one batch of samples per revolution.
type Scanner interface {
	Revolution(ctx context.Context) ([]Sample, error)
	Close() error
}

// Options configure a serial scanner.
type Options struct {
	Port       string
	Baud       int
	Timeout    time.Duration // per response
	MaxSamples int           // cap on one revolution batch
}

// Driver talks to the scanner over a byte stream.
type Driver struct {
	port       io.ReadWriteCloser
	timeout    time.Duration
	maxSamples int
	settle     time.Duration // boot time after a reset

	scanning bool
	carry    *Sample // first node of the next revolution
}

// Open opens the serial port and returns a stopped driver.
func Open(opts Options) (*Driver, error) {
	serialOpts := serial.OpenOptions{
		PortName:              opts.Port,
		BaudRate:              uint(opts.Baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	}
	port, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("open lidar port %s: %w", opts.Port, err)
	}
	return NewDriver(port, opts.Timeout, opts.MaxSamples), nil
}

// NewDriver wraps an already open transport.
func NewDriver(port io.ReadWriteCloser, timeout time.Duration, maxSamples int) *Driver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if maxSamples <= 0 {
		maxSamples = 500
	}
	return &Driver{port: port, timeout: timeout, maxSamples: maxSamples, settle: 2 * time.Second}
}

func (d *Driver) send(cmd byte, payload []byte) error {
	if _, err := d.port.Write(encodeRequest(cmd, payload)); err != nil {
		return fmt.Errorf("lidar write cmd 0x%02X: %w", cmd, err)
	}
	return nil
}

// readFull reads len(buf) bytes or fails with ErrTimeout. The serial port
// returns empty reads when its inter-character timeout expires.
func (d *Driver) readFull(buf []byte) error {
	deadline := time.Now().Add(d.timeout)
	n := 0
	for n < len(buf) {
		m, err := d.port.Read(buf[n:])
		n += m
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("lidar read: %w", err)
		}
		if m == 0 {
			if time.Now().After(deadline) {
				return fmt.Errorf("%w after %d of %d bytes", ErrTimeout, n, len(buf))
			}
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

func (d *Driver) readDescriptor(size uint32, dataType byte) error {
	buf := make([]byte, descriptorLen)
	if err := d.readFull(buf); err != nil {
		return err
	}
	desc, err := parseDescriptor(buf)
	if err != nil {
		return err
	}
	if desc.size != size || desc.dataType != dataType {
		return fmt.Errorf("%w: descriptor size %d type 0x%02X, want %d 0x%02X",
			ErrProtocol, desc.size, desc.dataType, size, dataType)
	}
	return nil
}

// Info queries the device identity.
func (d *Driver) Info() (Info, error) {
	if d.scanning {
		return Info{}, fmt.Errorf("lidar: info requested while scanning")
	}
	if err := d.send(cmdGetInfo, nil); err != nil {
		return Info{}, err
	}
	if err := d.readDescriptor(infoLen, typeInfo); err != nil {
		return Info{}, fmt.Errorf("get info: %w", err)
	}
	buf := make([]byte, infoLen)
	if err := d.readFull(buf); err != nil {
		return Info{}, fmt.Errorf("get info: %w", err)
	}
	return parseInfo(buf), nil
}

// Health queries the device self-test state.
func (d *Driver) Health() (Health, error) {
	if d.scanning {
		return Health{}, fmt.Errorf("lidar: health requested while scanning")
	}
	if err := d.send(cmdGetHealth, nil); err != nil {
		return Health{}, err
	}
	if err := d.readDescriptor(healthLen, typeHealth); err != nil {
		return Health{}, fmt.Errorf("get health: %w", err)
	}
	buf := make([]byte, healthLen)
	if err := d.readFull(buf); err != nil {
		return Health{}, fmt.Errorf("get health: %w", err)
	}
	return parseHealth(buf), nil
}

// SetMotorPWM sets the motor duty; 0 stops the motor.
func (d *Driver) SetMotorPWM(pwm uint16) error {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, pwm)
	return d.send(cmdSetPWM, payload)
}

// StartScan spins the motor and starts streaming scan nodes.
func (d *Driver) StartScan() error {
	if d.scanning {
		return nil
	}
	if err := d.SetMotorPWM(DefaultMotorPWM); err != nil {
		return err
	}
	if err := d.send(cmdScan, nil); err != nil {
		return err
	}
	if err := d.readDescriptor(scanNodeLen, typeScan); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	d.scanning = true
	d.carry = nil
	return nil
}

// Stop ends scanning and stops the motor.
func (d *Driver) Stop() error {
	d.scanning = false
	d.carry = nil
	err := d.send(cmdStop, nil)
	time.Sleep(time.Millisecond)
	return errors.Join(err, d.SetMotorPWM(0))
}

// Reset reboots the scanner core and discards the boot banner it prints.
func (d *Driver) Reset() error {
	d.scanning = false
	d.carry = nil
	if err := d.send(cmdReset, nil); err != nil {
		return err
	}
	time.Sleep(d.settle)
	d.drain()
	return nil
}

// drain discards pending input until the port goes quiet.
func (d *Driver) drain() {
	buf := make([]byte, 256)
	deadline := time.Now().Add(d.timeout)
	for time.Now().Before(deadline) {
		m, err := d.port.Read(buf)
		if m == 0 || err != nil {
			return
		}
	}
}

// CheckHealth queries the self-test state. A device reporting an error is
// reset once and asked again; a second error is returned.
func (d *Driver) CheckHealth() (Health, error) {
	h, err := d.Health()
	if err != nil || h.Status != HealthError {
		return h, err
	}
	if err := d.Reset(); err != nil {
		return h, err
	}
	h, err = d.Health()
	if err != nil {
		return h, err
	}
	if h.Status == HealthError {
		return h, fmt.Errorf("lidar health %s (code %d) after reset", h.StatusString(), h.ErrorCode)
	}
	return h, nil
}

// ReadSample reads one scan node.
func (d *Driver) ReadSample() (Sample, error) {
	buf := make([]byte, scanNodeLen)
	if err := d.readFull(buf); err != nil {
		return Sample{}, err
	}
	return decodeNode(buf)
}

// Revolution returns the samples of one revolution, at most maxSamples.
// A protocol error drops the scan so the next call restarts it.
func (d *Driver) Revolution(ctx context.Context) ([]Sample, error) {
	if err := d.StartScan(); err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, d.maxSamples)
	if d.carry != nil {
		samples = append(samples, *d.carry)
		d.carry = nil
	}
	for len(samples) < d.maxSamples {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		s, err := d.ReadSample()
		if err != nil {
			if errors.Is(err, ErrProtocol) {
				_ = d.Stop()
			}
			return samples, err
		}
		if s.Start && len(samples) > 0 {
			d.carry = &s
			return samples, nil
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// Close stops the scanner and releases the port.
func (d *Driver) Close() error {
	stopErr := d.Stop()
	return errors.Join(stopErr, d.port.Close())
}
