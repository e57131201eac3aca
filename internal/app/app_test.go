package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/rover_perception/internal/config"
	"github.com/relabs-tech/rover_perception/internal/journal"
	"github.com/relabs-tech/rover_perception/internal/navigation"
	"github.com/relabs-tech/rover_perception/internal/proximity"
	"github.com/relabs-tech/rover_perception/internal/store"
)

var testRange = proximity.Range{MinCM: 20, MaxCM: 2500}

func sampleDoc(seq uint64) proximity.Document {
	var lid proximity.Readings
	for i := 0; i < proximity.NumSectors; i++ {
		lid.Set(i, 400+i*10)
	}
	lid.Set(proximity.Rear, 60)
	v := proximity.Fuse(lid, proximity.Readings{}, testRange)
	doc := proximity.NewDocument(time.Now(), seq, v, lid, proximity.Readings{}, testRange)
	doc.LidarAvailable = true
	return doc
}

func newTestWeb(t *testing.T) (*webServer, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	j, err := journal.Open(filepath.Join(dir, "journal.db"), "test")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	s := &webServer{
		proximityFile: filepath.Join(dir, "proximity.json"),
		visionDir:     filepath.Join(dir, "vision"),
		journal:       j,
		push:          10 * time.Millisecond,
		log:           zap.NewNop().Sugar(),
	}
	srv := httptest.NewServer(s.handler(""))
	t.Cleanup(srv.Close)
	return s, srv
}

func TestWebProximityEndpoint(t *testing.T) {
	s, srv := newTestWeb(t)

	resp, err := http.Get(srv.URL + "/api/proximity")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, proximity.WriteDocument(s.proximityFile, sampleDoc(7)))
	resp, err = http.Get(srv.URL + "/api/proximity")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got proximity.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, uint64(7), got.Sequence)
	assert.Equal(t, 60, got.MinCM)
}

func TestWebVisionStatusAndEvents(t *testing.T) {
	s, srv := newTestWeb(t)

	st, err := store.Open(s.visionDir)
	require.NoError(t, err)
	require.NoError(t, st.WriteLiveness(store.Liveness{Status: store.StateRunning, PID: 42, Timestamp: store.UnixSeconds(time.Now())}))
	require.NoError(t, s.journal.Record(context.Background(), journal.KindStarted, "boot"))

	resp, err := http.Get(srv.URL + "/api/vision/status")
	require.NoError(t, err)
	var l store.Liveness
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&l))
	resp.Body.Close()
	assert.Equal(t, 42, l.PID)

	resp, err = http.Get(srv.URL + "/api/events?limit=5")
	require.NoError(t, err)
	var events []journal.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	resp.Body.Close()
	require.Len(t, events, 1)
	assert.Equal(t, journal.KindStarted, events[0].Kind)

	resp, err = http.Get(srv.URL + "/api/events?limit=zero")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebNavStatus(t *testing.T) {
	s, srv := newTestWeb(t)

	resp, err := http.Get(srv.URL + "/api/nav")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	s.setNav(navigation.Status{State: navigation.StateActive, Throttle: 1600})
	resp, err = http.Get(srv.URL + "/api/nav")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st navigation.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, navigation.StateActive, st.State)
}

func TestWebStreamPushesNewDocuments(t *testing.T) {
	s, srv := newTestWeb(t)
	require.NoError(t, proximity.WriteDocument(s.proximityFile, sampleDoc(1)))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "proximity", msg.Type)
	require.NotNil(t, msg.Proximity)
	assert.Equal(t, uint64(1), msg.Proximity.Sequence)

	require.NoError(t, proximity.WriteDocument(s.proximityFile, sampleDoc(2)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, uint64(2), msg.Proximity.Sequence)
}

func TestRenderPanel(t *testing.T) {
	lit := func(img *image1bit.VerticalLSB, x0, x1, y0, y1 int) int {
		n := 0
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				if img.BitAt(x, y) == image1bit.On {
					n++
				}
			}
		}
		return n
	}

	waiting := renderPanel(panelData{maxCM: 2500})
	assert.Positive(t, lit(waiting, 0, panelW, 0, panelH))

	img := renderPanel(panelData{doc: sampleDoc(1), haveDoc: true, maxCM: 2500})
	barW := panelW / proximity.NumSectors
	rear := lit(img, proximity.Rear*barW, (proximity.Rear+1)*barW, 28, panelH)
	front := lit(img, proximity.Front*barW, (proximity.Front+1)*barW, 28, panelH)
	assert.Greater(t, rear, front, "the nearest sector draws the tallest bar")
}

func TestConsoleFormats(t *testing.T) {
	line := formatProximity(sampleDoc(3))
	assert.Contains(t, line, "[PROX] #3")
	assert.Contains(t, line, "min=60")

	assert.Contains(t, formatNav(navigation.Status{State: navigation.StateStopped, LinkLost: true}), "link=LOST")
	assert.Contains(t, formatVision(store.Liveness{Status: store.StateRunning}), "RUNNING")
}

func TestRunPortDetect(t *testing.T) {
	list := func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60", Product: "CP2102"},
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2DAE", PID: "1016", Product: "Pixhawk6C"},
			{Name: "/dev/ttyS0"},
		}, nil
	}
	var out bytes.Buffer
	require.NoError(t, RunPortDetect(&out, list))
	assert.Contains(t, out.String(), "LIDAR_PORT=/dev/ttyUSB0")
	assert.Contains(t, out.String(), "PIXHAWK_PORT=/dev/ttyACM0")
}

func TestNavParamsFromDefaults(t *testing.T) {
	p := navParams(config.Default())
	assert.Equal(t, 1500, p.Neutral().Throttle)
	assert.Equal(t, 1650, p.Throttle(1000))
	assert.InDelta(t, 0.7, p.Blend, 1e-9)
}
