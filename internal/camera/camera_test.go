package camera

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grey(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 0xFF
	}
	return img
}

func TestMeanLuma(t *testing.T) {
	assert.InDelta(t, 40.0, MeanLuma(grey(8, 4, 40)), 0.01)
	assert.InDelta(t, 0.0, MeanLuma(image.NewRGBA(image.Rect(0, 0, 0, 0))), 0.01)

	img := grey(2, 1, 0)
	img.Pix[4], img.Pix[5], img.Pix[6] = 200, 200, 200
	assert.InDelta(t, 100.0, MeanLuma(img), 0.01)
}

func TestExposureControllerSteps(t *testing.T) {
	c := NewExposureController(6000, 32, 35, 75, 400*time.Millisecond)
	t0 := time.Now()

	require.True(t, c.Update(t0, 20))
	assert.Equal(t, 6500.0, c.ExposureUS)
	assert.Equal(t, 34.0, c.Gain)

	// rate limited
	assert.False(t, c.Update(t0.Add(100*time.Millisecond), 20))
	assert.Equal(t, 6500.0, c.ExposureUS)

	require.True(t, c.Update(t0.Add(500*time.Millisecond), 90))
	assert.Equal(t, 6000.0, c.ExposureUS)
	assert.Equal(t, 32.0, c.Gain)

	// inside the window nothing moves
	assert.False(t, c.Update(t0.Add(time.Second), 50))
}

func TestExposureControllerClamps(t *testing.T) {
	c := NewExposureController(19800, 63, 35, 75, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		c.Update(now, 0)
	}
	assert.Equal(t, 20000.0, c.ExposureUS)
	assert.Equal(t, 64.0, c.Gain)
	assert.False(t, c.Update(now.Add(time.Second), 0), "already at the limit")

	for i := 0; i < 100; i++ {
		now = now.Add(time.Second)
		c.Update(now, 255)
	}
	assert.Equal(t, 500.0, c.ExposureUS)
	assert.Equal(t, 8.0, c.Gain)
}

func TestDepthPreview(t *testing.T) {
	img := DepthPreview(Depth{Width: 3, Height: 1, MM: []uint16{300, 5000, 0}})
	near := img.RGBAAt(0, 0)
	far := img.RGBAAt(1, 0)
	hole := img.RGBAAt(2, 0)

	assert.Greater(t, near.R, near.B)
	assert.Greater(t, far.B, far.R)
	assert.Equal(t, far, hole)
	assert.Equal(t, uint8(0xFF), near.A)
}

func TestOpen(t *testing.T) {
	dev, err := Open("sim")
	require.NoError(t, err)
	assert.IsType(t, &Sim{}, dev)

	_, err = Open("/dev/video9")
	assert.ErrorIs(t, err, ErrUnavailable)

	// hardware pipelines come in through an Opener, never through Open
	_, err = Open("realsense")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func testSettings() Settings {
	return Settings{
		ColorWidth: 64, ColorHeight: 48,
		DepthWidth: 42, DepthHeight: 24,
		IRWidth: 64, IRHeight: 48,
		FPS: 200, ExposureUS: 6000, Gain: 32,
	}
}

func TestSimFrames(t *testing.T) {
	s := NewSim()
	ctx := context.Background()

	_, err := s.WaitFrames(ctx, time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)

	require.NoError(t, s.Start(testSettings()))
	fs, err := s.WaitFrames(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), fs.Color.Bounds())
	assert.Len(t, fs.Depth.MM, 42*24)
	require.NotNil(t, fs.IR)
	assert.Equal(t, s.BoxMM, fs.Depth.MM[10*42+21])
	assert.Equal(t, s.WallMM, fs.Depth.MM[2*42+2])

	base := MeanLuma(fs.Color)
	require.NoError(t, s.SetExposure(12000, 32))
	fs, err = s.WaitFrames(ctx, time.Second)
	require.NoError(t, err)
	assert.Greater(t, MeanLuma(fs.Color), base)

	require.NoError(t, s.Stop())
	_, err = s.WaitFrames(ctx, time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)
}

// A dim scene converges into the brightness window.
func TestSimExposureLoopConverges(t *testing.T) {
	s := NewSim()
	s.Scene = 0.3
	require.NoError(t, s.Start(testSettings()))
	c := NewExposureController(6000, 32, 35, 75, 0)

	now := time.Now()
	var luma float64
	for i := 0; i < 40; i++ {
		fs, err := s.WaitFrames(context.Background(), time.Second)
		require.NoError(t, err)
		luma = MeanLuma(fs.Color)
		now = now.Add(time.Second)
		if c.Update(now, luma) {
			require.NoError(t, s.SetExposure(c.ExposureUS, c.Gain))
		}
	}
	assert.GreaterOrEqual(t, luma, 35.0)
	assert.LessOrEqual(t, luma, 75.0)
}
