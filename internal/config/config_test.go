package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rover_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "# empty config\n\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/vision", cfg.StoreDir)
	assert.Equal(t, 20, cfg.MinDistanceCM)
	assert.Equal(t, 2500, cfg.MaxDistanceCM)
	assert.Equal(t, 150, cfg.SafeDistanceCM)
	assert.Equal(t, 300, cfg.CautionDistanceCM)
	assert.Equal(t, 1500, cfg.StopThrottle)
	assert.InDelta(t, 0.7, cfg.SteeringBlend, 1e-9)
	assert.Equal(t, uint16(0x3C), cfg.DisplayI2CAddr)
	assert.Empty(t, cfg.MQTTBroker)
}

func TestLoadParsesValues(t *testing.T) {
	path := writeConfig(t, `
STORE_DIR = /run/vision
LIDAR_PORT=auto
MAX_THROTTLE=1700
STEERING_BLEND=0.5
THROTTLE_FORWARD_ONLY=true
DISPLAY_I2C_ADDR=0x3D
MQTT_BROKER=tcp://localhost:1883
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/run/vision", cfg.StoreDir)
	assert.Equal(t, "auto", cfg.LidarPort)
	assert.Equal(t, 1700, cfg.MaxThrottle)
	assert.InDelta(t, 0.5, cfg.SteeringBlend, 1e-9)
	assert.True(t, cfg.ThrottleForwardOnly)
	assert.Equal(t, uint16(0x3D), cfg.DisplayI2CAddr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
}

func TestLoadKeepsExplicitZero(t *testing.T) {
	path := writeConfig(t, `
LIDAR_QUALITY_THRESHOLD=0
DEPTH_MIN_SAMPLES=0
LIDAR_MAX_RETRIES=0
CAPTURE_MAX_ERRORS=0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.LidarQualityThreshold)
	assert.Equal(t, 0, cfg.DepthMinSamples)
	assert.Equal(t, 0, cfg.LidarMaxRetries)
	assert.Equal(t, 0, cfg.CaptureMaxErrors)
	// untouched keys still get defaults
	assert.Equal(t, 10, cfg.FusionRateHz)
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "NOT_A_KEY=1\n",
		"missing equals":   "STORE_DIR\n",
		"bad int":          "MAX_THROTTLE=fast\n",
		"quality range":    "LIDAR_QUALITY_THRESHOLD=99\n",
		"safety >= cautio": "SAFE_DISTANCE_CM=400\n",
		"min >= max range": "MIN_DISTANCE_CM=3000\n",
		"blend above one":  "STEERING_BLEND=1.5\n",
		"blend below half": "STEERING_BLEND=0.3\n",
		"zero stale":       "DATA_STALE_MS=0\n",
		"zero width":       "DEPTH_WIDTH=0\n",
		"empty store dir":  "STORE_DIR=\n",
		"same channel":     "STEERING_CHANNEL=3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().validate())
}
