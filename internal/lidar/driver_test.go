package lidar

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/rover_perception/internal/proximity"
)

// fakePort replays scripted device output and records host writes.
type fakePort struct {
	in     *bytes.Reader
	out    bytes.Buffer
	closed bool
}

func newFakePort(chunks ...[]byte) *fakePort {
	return &fakePort{in: bytes.NewReader(bytes.Join(chunks, nil))}
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.out.Write(b) }
func (p *fakePort) Close() error                { p.closed = true; return nil }

func nodes(samples ...Sample) []byte {
	var out []byte
	for _, s := range samples {
		out = append(out, encodeNode(s)...)
	}
	return out
}

func TestEncodeRequest(t *testing.T) {
	assert.Equal(t, []byte{0xA5, 0x25}, encodeRequest(cmdStop, nil))
	// 660 = 0x0294
	assert.Equal(t, []byte{0xA5, 0xF0, 0x02, 0x94, 0x02, 0xC1}, encodeRequest(cmdSetPWM, []byte{0x94, 0x02}))
}

func TestDecodeNode(t *testing.T) {
	want := Sample{Quality: 47, AngleDeg: 90.5, DistanceMM: 1234.25, Start: true}
	got, err := decodeNode(encodeNode(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	bad := encodeNode(want)
	bad[0] |= 0x03 // both start flags
	_, err = decodeNode(bad)
	assert.ErrorIs(t, err, ErrProtocol)

	bad = encodeNode(want)
	bad[1] &^= 0x01
	_, err = decodeNode(bad)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestParseDescriptor(t *testing.T) {
	d, err := parseDescriptor([]byte{0xA5, 0x5A, 0x05, 0x00, 0x00, 0x40, 0x81})
	require.NoError(t, err)
	assert.Equal(t, descriptor{size: 5, mode: 1, dataType: typeScan}, d)

	_, err = parseDescriptor([]byte{0xA5, 0x00, 0x05, 0x00, 0x00, 0x40, 0x81})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDriverInfoAndHealth(t *testing.T) {
	info := append([]byte{0x61, 0x1D, 0x01, 0x12}, bytes.Repeat([]byte{0xAB}, 16)...)
	port := newFakePort(
		encodeDescriptor(descriptor{size: infoLen, dataType: typeInfo}), info,
		encodeDescriptor(descriptor{size: healthLen, dataType: typeHealth}), []byte{HealthWarning, 0x02, 0x01},
	)
	d := NewDriver(port, 50*time.Millisecond, 10)

	got, err := d.Info()
	require.NoError(t, err)
	assert.Equal(t, byte(0x61), got.Model)
	assert.Equal(t, byte(1), got.FirmwareMajor)
	assert.Equal(t, byte(0x1D), got.FirmwareMinor)
	assert.Len(t, got.Serial, 32)

	h, err := d.Health()
	require.NoError(t, err)
	assert.Equal(t, "Warning", h.StatusString())
	assert.Equal(t, uint16(0x0102), h.ErrorCode)

	assert.Equal(t, []byte{0xA5, cmdGetInfo, 0xA5, cmdGetHealth}, port.out.Bytes())
}

// replyPort hands out one scripted reply per host write, so input that
// arrives before a command stays separate from the command's answer.
type replyPort struct {
	replies [][]byte
	pending bytes.Reader
	out     bytes.Buffer
}

func (p *replyPort) Read(b []byte) (int, error) {
	n, _ := p.pending.Read(b)
	return n, nil
}

func (p *replyPort) Write(b []byte) (int, error) {
	if len(p.replies) > 0 {
		p.pending.Reset(p.replies[0])
		p.replies = p.replies[1:]
	}
	return p.out.Write(b)
}

func (p *replyPort) Close() error { return nil }

func healthReply(status byte) []byte {
	return append(encodeDescriptor(descriptor{size: healthLen, dataType: typeHealth}), status, 0x00, 0x07)
}

func TestCheckHealthResetsOnError(t *testing.T) {
	port := &replyPort{replies: [][]byte{
		healthReply(HealthError),
		[]byte("RP LIDAR System.\r\nFirmware Ver 1.29\r\n"),
		healthReply(HealthGood),
	}}
	d := NewDriver(port, 50*time.Millisecond, 10)
	d.settle = 0

	h, err := d.CheckHealth()
	require.NoError(t, err)
	assert.Equal(t, "Good", h.StatusString())
	assert.Equal(t, []byte{0xA5, cmdGetHealth, 0xA5, cmdReset, 0xA5, cmdGetHealth}, port.out.Bytes())
}

func TestCheckHealthFailsWhenResetDoesNotHelp(t *testing.T) {
	port := &replyPort{replies: [][]byte{healthReply(HealthError), nil, healthReply(HealthError)}}
	d := NewDriver(port, 50*time.Millisecond, 10)
	d.settle = 0

	_, err := d.CheckHealth()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after reset")
}

func TestDriverTimeout(t *testing.T) {
	d := NewDriver(newFakePort(), 20*time.Millisecond, 10)
	_, err := d.Health()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDriverRevolutions(t *testing.T) {
	port := newFakePort(
		encodeDescriptor(descriptor{size: scanNodeLen, mode: 1, dataType: typeScan}),
		nodes(
			Sample{Quality: 40, AngleDeg: 0, DistanceMM: 1000, Start: true},
			Sample{Quality: 40, AngleDeg: 90, DistanceMM: 2000},
			Sample{Quality: 40, AngleDeg: 180, DistanceMM: 3000},
			Sample{Quality: 40, AngleDeg: 1, DistanceMM: 1100, Start: true},
			Sample{Quality: 40, AngleDeg: 91, DistanceMM: 2100},
		),
	)
	d := NewDriver(port, 20*time.Millisecond, 100)
	ctx := context.Background()

	rev, err := d.Revolution(ctx)
	require.NoError(t, err)
	require.Len(t, rev, 3)
	assert.True(t, rev[0].Start)
	assert.Equal(t, 3000.0, rev[2].DistanceMM)

	// second revolution starts with the carried node, then the stream dries up
	rev, err = d.Revolution(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	require.Len(t, rev, 2)
	assert.Equal(t, 1.0, rev[0].AngleDeg)

	require.NoError(t, d.Close())
	assert.True(t, port.closed)
}

func TestDriverRevolutionCap(t *testing.T) {
	var stream []Sample
	stream = append(stream, Sample{Quality: 40, AngleDeg: 0, DistanceMM: 500, Start: true})
	for i := 1; i < 10; i++ {
		stream = append(stream, Sample{Quality: 40, AngleDeg: float64(i), DistanceMM: 500})
	}
	port := newFakePort(encodeDescriptor(descriptor{size: scanNodeLen, mode: 1, dataType: typeScan}), nodes(stream...))
	d := NewDriver(port, 20*time.Millisecond, 4)

	rev, err := d.Revolution(context.Background())
	require.NoError(t, err)
	assert.Len(t, rev, 4)
}

func TestDriverRejectsWrongScanDescriptor(t *testing.T) {
	port := newFakePort(encodeDescriptor(descriptor{size: infoLen, dataType: typeInfo}))
	d := NewDriver(port, 20*time.Millisecond, 10)
	_, err := d.Revolution(context.Background())
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestBucket(t *testing.T) {
	rng := proximity.Range{MinCM: 20, MaxCM: 2500}
	samples := []Sample{
		{Quality: 47, AngleDeg: 10, DistanceMM: 1200},
		{Quality: 47, AngleDeg: 350, DistanceMM: 900},   // front too
		{Quality: 5, AngleDeg: 5, DistanceMM: 100},      // low quality
		{Quality: 10, AngleDeg: 5, DistanceMM: 100},     // at threshold
		{Quality: 47, AngleDeg: 90, DistanceMM: 0},      // no return
		{Quality: 47, AngleDeg: 100, DistanceMM: 80},    // clamped up
		{Quality: 47, AngleDeg: 180, DistanceMM: 90000}, // clamped down
	}

	r, kept := Bucket(samples, 10, rng)

	assert.Equal(t, 4, kept)
	assert.Equal(t, 90, r.CM[proximity.Front])
	assert.Equal(t, 20, r.CM[proximity.Right])
	assert.Equal(t, 2500, r.CM[proximity.Rear])
	assert.False(t, r.Valid[proximity.Left])
}

func TestSimScanner(t *testing.T) {
	s := NewSimScanner()
	s.Period = time.Millisecond
	rev, err := s.Revolution(context.Background())
	require.NoError(t, err)
	require.Len(t, rev, 360)

	r, _ := Bucket(rev, 10, proximity.Range{MinCM: 20, MaxCM: 2500})
	assert.Equal(t, 8, r.Count())
	assert.InDelta(t, 150, r.CM[proximity.Right], 10)
	assert.Less(t, r.CM[proximity.Right], r.CM[proximity.Front])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Revolution(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
