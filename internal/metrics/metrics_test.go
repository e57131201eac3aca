package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCaptureMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCapture(reg)

	m.Frames.WithLabelValues("depth").Add(3)
	m.Errors.Inc()
	m.ExposureUS.Set(6500)
	m.PublishTime.Observe(0.004)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Frames.WithLabelValues("depth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors))
	assert.Equal(t, 6500.0, testutil.ToFloat64(m.ExposureUS))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PublishTime))
}

func TestBridgeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBridge(reg)

	m.SectorCM.WithLabelValues("front").Set(95)
	m.MessagesSent.Add(8)
	m.VisionAvailable.Set(Bool(true))

	assert.Equal(t, 95.0, testutil.ToFloat64(m.SectorCM.WithLabelValues("front")))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.MessagesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VisionAvailable))
}

func TestNavStateIsExclusive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewNav(reg)
	states := []string{"WAITING_FOR_LINK", "ACTIVE", "STOPPED"}

	m.SetState("WAITING_FOR_LINK", states)
	m.SetState("ACTIVE", states)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.State.WithLabelValues("ACTIVE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.State.WithLabelValues("WAITING_FOR_LINK")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.State))
	assert.Equal(t, 0.0, Bool(false))
}

func TestRegisteringTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewNav(reg)
	assert.Panics(t, func() { NewNav(reg) })
}
