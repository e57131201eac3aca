package navigation

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/rover_perception/internal/journal"
	"github.com/relabs-tech/rover_perception/internal/mavlink"
	"github.com/relabs-tech/rover_perception/internal/proximity"
	"github.com/relabs-tech/rover_perception/internal/telemetry"
)

var testRange = proximity.Range{MinCM: 20, MaxCM: 2500}

func testConfig(t *testing.T) Config {
	return Config{
		ProximityFile:    filepath.Join(t.TempDir(), "proximity.json"),
		Params:           testParams(),
		Range:            testRange,
		Period:           20 * time.Millisecond,
		DataStale:        2 * time.Second,
		DataWait:         200 * time.Millisecond,
		HeartbeatTimeout: 50 * time.Millisecond,
		LinkTimeout:      3 * time.Second,
		SteeringChannel:  1,
		ThrottleChannel:  3,
		StatusTopic:      "rover/nav/status",
	}
}

func writeDoc(t *testing.T, path string, at time.Time, v proximity.Vector) {
	t.Helper()
	doc := proximity.NewDocument(at, 1, v, proximity.Readings{}, proximity.Readings{}, testRange)
	require.NoError(t, proximity.WriteDocument(path, doc))
}

func TestStepStopsOnStaleData(t *testing.T) {
	cfg := testConfig(t)
	link := mavlink.NewRecorder()
	n := New(cfg, link, zap.NewNop().Sugar(), Deps{})

	now := time.Now()
	writeDoc(t, cfg.ProximityFile, now, allClear())
	cmd := n.Step(now)
	assert.Equal(t, cfg.Params.MaxThrottle, cmd.Throttle)
	assert.Equal(t, StateActive, n.Status().State)

	// the same, previously good distances are ignored once stale
	cmd = n.Step(now.Add(3 * time.Second))
	assert.Equal(t, cfg.Params.Neutral(), cmd)
	assert.Equal(t, StateWaitingForData, n.Status().State)
	assert.Equal(t, uint64(1), n.Status().StaleStops)

	sent := link.SentOverrides()
	require.Len(t, sent, 2)
	assert.Equal(t, mavlink.Override{SteeringChannel: 1, ThrottleChannel: 3, Steering: 1500, Throttle: 1500}, sent[1])
}

func TestStepStopsOnMissingOrInvalidData(t *testing.T) {
	cfg := testConfig(t)
	n := New(cfg, mavlink.NewRecorder(), zap.NewNop().Sugar(), Deps{})

	assert.Equal(t, cfg.Params.Neutral(), n.Step(time.Now()))

	v := allClear()
	v.CM[proximity.Rear] = 5000
	writeDoc(t, cfg.ProximityFile, time.Now(), v)
	assert.Equal(t, cfg.Params.Neutral(), n.Step(time.Now()))
}

func TestStepStopsWhenNoSensorIsLive(t *testing.T) {
	cfg := testConfig(t)
	n := New(cfg, mavlink.NewRecorder(), zap.NewNop().Sugar(), Deps{})

	// what the bridge writes once the scanner gave up and vision went stale
	var fallback proximity.Vector
	for i := range fallback.CM {
		fallback.CM[i] = testRange.MaxCM
		fallback.Sources[i] = proximity.SourceNone
	}
	now := time.Now()
	writeDoc(t, cfg.ProximityFile, now, fallback)

	cmd := n.Step(now)
	assert.Equal(t, cfg.Params.Neutral(), cmd)
	assert.Equal(t, StateWaitingForData, n.Status().State)
	assert.Equal(t, uint64(1), n.Status().StaleStops)

	_, err := n.usable(now)
	assert.ErrorIs(t, err, ErrNoSensors)

	// one forward camera sector is enough to drive again
	fallback.Sources[proximity.Front] = proximity.SourceCamera
	writeDoc(t, cfg.ProximityFile, now, fallback)
	assert.Equal(t, cfg.Params.MaxThrottle, n.Step(now).Throttle)
}

// orderedJournal records how many overrides had gone out when each event
// was journaled.
type orderedJournal struct {
	link  *mavlink.Recorder
	kinds []string
	sent  []int
}

func (j *orderedJournal) Record(_ context.Context, kind, _ string) error {
	j.kinds = append(j.kinds, kind)
	j.sent = append(j.sent, len(j.link.SentOverrides()))
	return nil
}

func TestStepSendsStopBeforeJournaling(t *testing.T) {
	cfg := testConfig(t)
	link := mavlink.NewRecorder()
	j := &orderedJournal{link: link}
	n := New(cfg, link, zap.NewNop().Sugar(), Deps{Journal: j})

	now := time.Now()
	writeDoc(t, cfg.ProximityFile, now, allClear())
	n.Step(now)

	v := allClear()
	v.CM[proximity.Front] = 100
	writeDoc(t, cfg.ProximityFile, now, v)
	n.Step(now)

	n.Step(now.Add(3 * time.Second))

	require.NotEmpty(t, j.kinds)
	require.Len(t, link.SentOverrides(), 3)
	stops := 0
	for i, kind := range j.kinds {
		if kind != journal.KindSafetyStop {
			continue
		}
		stops++
		// obstacle stop journaled after override 2, stale stop after override 3
		assert.Equal(t, stops+1, j.sent[i])
	}
	assert.Equal(t, 2, stops)
}

func TestStepSteeringChangeStaysBoundedAcrossStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.Params.Blend = MinBlend
	n := New(cfg, mavlink.NewRecorder(), zap.NewNop().Sugar(), Deps{})
	rng := rand.New(rand.NewSource(11))
	limit := cfg.Params.MaxSteeringStep()

	now := time.Now()
	prev := n.Status().Steering
	for i := range 300 {
		now = now.Add(100 * time.Millisecond)
		v := allClear()
		for s := range v.CM {
			v.CM[s] = 20 + rng.Intn(2481)
		}
		at := now
		if i%7 == 0 {
			at = now.Add(-time.Minute)
		}
		writeDoc(t, cfg.ProximityFile, at, v)

		cmd := n.Step(now)
		d := cmd.Steering - prev
		if d < 0 {
			d = -d
		}
		require.LessOrEqual(t, d, limit, "cycle %d", i)
		prev = cmd.Steering
	}
}

func TestStepEntersStoppedInsideSafetyDistance(t *testing.T) {
	cfg := testConfig(t)
	n := New(cfg, mavlink.NewRecorder(), zap.NewNop().Sugar(), Deps{})

	v := allClear()
	v.CM[proximity.Front] = 100
	now := time.Now()
	writeDoc(t, cfg.ProximityFile, now, v)

	cmd := n.Step(now)
	assert.Equal(t, cfg.Params.StopThrottle, cmd.Throttle)
	assert.Equal(t, StateStopped, n.Status().State)
	n.Step(now)
	assert.Equal(t, uint64(1), n.Status().ObstacleStops)

	writeDoc(t, cfg.ProximityFile, now, allClear())
	n.Step(now)
	assert.Equal(t, StateActive, n.Status().State)
}

func TestStepKeepsSendingWhenSendFails(t *testing.T) {
	cfg := testConfig(t)
	link := mavlink.NewRecorder()
	link.FailNextSends(1)
	n := New(cfg, link, zap.NewNop().Sugar(), Deps{})

	now := time.Now()
	writeDoc(t, cfg.ProximityFile, now, allClear())
	n.Step(now)
	n.Step(now)

	st := n.Status()
	assert.Equal(t, uint64(1), st.SendErrors)
	assert.Equal(t, uint64(1), st.CommandsSent)
	assert.Len(t, link.SentOverrides(), 1)
}

func TestStepFlagsLinkLoss(t *testing.T) {
	cfg := testConfig(t)
	link := mavlink.NewRecorder()
	n := New(cfg, link, zap.NewNop().Sugar(), Deps{})
	now := time.Now()
	writeDoc(t, cfg.ProximityFile, now, allClear())

	link.Beat(now.Add(-10 * time.Second))
	cmd := n.Step(now)
	assert.True(t, n.Status().LinkLost)
	assert.Equal(t, cfg.Params.MaxThrottle, cmd.Throttle, "overrides keep going out")

	link.Beat(now)
	n.Step(now)
	assert.False(t, n.Status().LinkLost)
}

func TestRunSendsFinalStopOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	link := mavlink.NewRecorder()
	tel := telemetry.NewMemory()
	n := New(cfg, link, zap.NewNop().Sugar(), Deps{Telemetry: tel})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	// keep the document fresh while the loop runs
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		writeDoc(t, cfg.ProximityFile, time.Now(), allClear())
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)

	sent := link.SentOverrides()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.Equal(t, cfg.Params.SteeringCenter, last.Steering)
	assert.Equal(t, cfg.Params.StopThrottle, last.Throttle)
	assert.Equal(t, StateShutdown, n.Status().State)

	var st Status
	require.True(t, tel.Last("rover/nav/status", &st))
	assert.Equal(t, cfg.Params.StopThrottle, st.Throttle)

	moving := false
	for _, o := range sent {
		if o.Throttle == cfg.Params.MaxThrottle {
			moving = true
		}
	}
	assert.True(t, moving, "the loop drove while data was fresh")
}

func TestRunFailsWithoutHeartbeatButStillStops(t *testing.T) {
	cfg := testConfig(t)
	link := mavlink.NewRecorder().Silent()
	n := New(cfg, link, zap.NewNop().Sugar(), Deps{})

	err := n.Run(context.Background())
	require.ErrorIs(t, err, mavlink.ErrNoHeartbeat)

	sent := link.SentOverrides()
	require.Len(t, sent, 1)
	assert.Equal(t, cfg.Params.StopThrottle, sent[0].Throttle)
}

func TestRunFailsWithoutData(t *testing.T) {
	cfg := testConfig(t)
	link := mavlink.NewRecorder()
	n := New(cfg, link, zap.NewNop().Sugar(), Deps{})

	err := n.Run(context.Background())
	require.ErrorIs(t, err, ErrNoData)

	sent := link.SentOverrides()
	require.NotEmpty(t, sent)
	for _, o := range sent {
		assert.Equal(t, cfg.Params.StopThrottle, o.Throttle)
	}
}
