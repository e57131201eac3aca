// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all rover configuration values. One file is shared by the
// capture service, the fusion bridge and the navigator; each process reads
// only the keys it needs.
type Config struct {
	// Logging
	LogLevel string

	// Shared store
	StoreDir      string
	ProximityFile string
	JournalPath   string

	// Camera
	CameraDevice     string
	RGBWidth         int
	RGBHeight        int
	DepthWidth       int
	DepthHeight      int
	IRWidth          int
	IRHeight         int
	CameraFPS        int
	JPEGQuality      int
	ExposureUS       float64
	Gain             float64
	BrightnessLow    float64
	BrightnessHigh   float64
	ExposureUpdateMS int
	CaptureMaxErrors int

	// Range scanner
	LidarPort             string
	LidarBaud             int
	LidarQualityThreshold int
	LidarMaxSamples       int
	LidarMaxErrors        int
	LidarMaxRetries       int

	// Flight controller
	PixhawkPort        string
	PixhawkBaud        int
	MAVSystemID        int
	BridgeComponentID  int
	NavComponentID     int
	HeartbeatTimeoutMS int
	LinkTimeoutMS      int

	// Sectors and depth sampling
	MinDistanceCM   int
	MaxDistanceCM   int
	DepthMinM       float64
	DepthMaxM       float64
	DepthPercentile float64
	DepthGridStep   int
	DepthMinSamples int

	// Rates and freshness
	FusionRateHz    int
	NavRateHz       int
	LivenessStaleMS int
	DepthMaxAgeMS   int
	LidarStaleMS    int
	DataStaleMS     int
	VisionWaitMS    int
	DataWaitMS      int

	// Navigation
	SafeDistanceCM      int
	CautionDistanceCM   int
	ClearDistanceCM     int
	StopThrottle        int
	MinThrottle         int
	MaxThrottle         int
	SteeringCenter      int
	SteeringRange       int
	SteeringBlend       float64
	ForwardBias         float64
	ThrottleForwardOnly bool
	SteeringChannel     int
	ThrottleChannel     int

	// MQTT telemetry mirror (empty broker disables it)
	MQTTBroker          string
	MQTTClientIDCapture string
	MQTTClientIDBridge  string
	MQTTClientIDNav     string
	MQTTClientIDConsole string
	TopicProximity      string
	TopicVisionStatus   string
	TopicNavStatus      string

	// Metrics / web / display
	MetricsAddr           string
	WebServerPort         int
	DisplayI2CBus         string
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal() and Get().
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex, write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config populated with the values the rover ships with.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the configuration file and returns a Config struct.
// Keys missing from the file keep their defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	// Start from the defaults so an explicit zero in the file stays zero.
	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	case "LOG_LEVEL":
		c.LogLevel = value

	// Shared store
	case "STORE_DIR":
		c.StoreDir = value
	case "PROXIMITY_FILE":
		c.ProximityFile = value
	case "JOURNAL_PATH":
		c.JournalPath = value

	// Camera
	case "CAMERA_DEVICE":
		c.CameraDevice = value
	case "RGB_WIDTH":
		c.RGBWidth, err = parseInt(key, value)
	case "RGB_HEIGHT":
		c.RGBHeight, err = parseInt(key, value)
	case "DEPTH_WIDTH":
		c.DepthWidth, err = parseInt(key, value)
	case "DEPTH_HEIGHT":
		c.DepthHeight, err = parseInt(key, value)
	case "IR_WIDTH":
		c.IRWidth, err = parseInt(key, value)
	case "IR_HEIGHT":
		c.IRHeight, err = parseInt(key, value)
	case "CAMERA_FPS":
		c.CameraFPS, err = parseInt(key, value)
	case "JPEG_QUALITY":
		c.JPEGQuality, err = parseInt(key, value)
		if err == nil && (c.JPEGQuality < 1 || c.JPEGQuality > 100) {
			return fmt.Errorf("JPEG_QUALITY must be 1-100, got %d", c.JPEGQuality)
		}
	case "EXPOSURE_US":
		c.ExposureUS, err = parseFloat(key, value)
	case "GAIN":
		c.Gain, err = parseFloat(key, value)
	case "BRIGHTNESS_LOW":
		c.BrightnessLow, err = parseFloat(key, value)
	case "BRIGHTNESS_HIGH":
		c.BrightnessHigh, err = parseFloat(key, value)
	case "EXPOSURE_UPDATE_MS":
		c.ExposureUpdateMS, err = parseInt(key, value)
	case "CAPTURE_MAX_ERRORS":
		c.CaptureMaxErrors, err = parseInt(key, value)

	// Range scanner
	case "LIDAR_PORT":
		c.LidarPort = value
	case "LIDAR_BAUD":
		c.LidarBaud, err = parseInt(key, value)
	case "LIDAR_QUALITY_THRESHOLD":
		c.LidarQualityThreshold, err = parseInt(key, value)
		if err == nil && (c.LidarQualityThreshold < 0 || c.LidarQualityThreshold > 63) {
			return fmt.Errorf("LIDAR_QUALITY_THRESHOLD must be 0-63, got %d", c.LidarQualityThreshold)
		}
	case "LIDAR_MAX_SAMPLES":
		c.LidarMaxSamples, err = parseInt(key, value)
	case "LIDAR_MAX_ERRORS":
		c.LidarMaxErrors, err = parseInt(key, value)
	case "LIDAR_MAX_RETRIES":
		c.LidarMaxRetries, err = parseInt(key, value)

	// Flight controller
	case "PIXHAWK_PORT":
		c.PixhawkPort = value
	case "PIXHAWK_BAUD":
		c.PixhawkBaud, err = parseInt(key, value)
	case "MAV_SYSTEM_ID":
		c.MAVSystemID, err = parseInt(key, value)
		if err == nil && (c.MAVSystemID < 1 || c.MAVSystemID > 255) {
			return fmt.Errorf("MAV_SYSTEM_ID must be 1-255, got %d", c.MAVSystemID)
		}
	case "BRIDGE_COMPONENT_ID":
		c.BridgeComponentID, err = parseInt(key, value)
	case "NAV_COMPONENT_ID":
		c.NavComponentID, err = parseInt(key, value)
	case "HEARTBEAT_TIMEOUT_MS":
		c.HeartbeatTimeoutMS, err = parseInt(key, value)
	case "LINK_TIMEOUT_MS":
		c.LinkTimeoutMS, err = parseInt(key, value)

	// Sectors and depth sampling
	case "MIN_DISTANCE_CM":
		c.MinDistanceCM, err = parseInt(key, value)
	case "MAX_DISTANCE_CM":
		c.MaxDistanceCM, err = parseInt(key, value)
	case "DEPTH_MIN_M":
		c.DepthMinM, err = parseFloat(key, value)
	case "DEPTH_MAX_M":
		c.DepthMaxM, err = parseFloat(key, value)
	case "DEPTH_PERCENTILE":
		c.DepthPercentile, err = parseFloat(key, value)
		if err == nil && (c.DepthPercentile <= 0 || c.DepthPercentile > 100) {
			return fmt.Errorf("DEPTH_PERCENTILE must be in (0,100], got %g", c.DepthPercentile)
		}
	case "DEPTH_GRID_STEP":
		c.DepthGridStep, err = parseInt(key, value)
	case "DEPTH_MIN_SAMPLES":
		c.DepthMinSamples, err = parseInt(key, value)

	// Rates and freshness
	case "FUSION_RATE_HZ":
		c.FusionRateHz, err = parseInt(key, value)
	case "NAV_RATE_HZ":
		c.NavRateHz, err = parseInt(key, value)
	case "LIVENESS_STALE_MS":
		c.LivenessStaleMS, err = parseInt(key, value)
	case "DEPTH_MAX_AGE_MS":
		c.DepthMaxAgeMS, err = parseInt(key, value)
	case "LIDAR_STALE_MS":
		c.LidarStaleMS, err = parseInt(key, value)
	case "DATA_STALE_MS":
		c.DataStaleMS, err = parseInt(key, value)
	case "VISION_WAIT_MS":
		c.VisionWaitMS, err = parseInt(key, value)
	case "DATA_WAIT_MS":
		c.DataWaitMS, err = parseInt(key, value)

	// Navigation
	case "SAFE_DISTANCE_CM":
		c.SafeDistanceCM, err = parseInt(key, value)
	case "CAUTION_DISTANCE_CM":
		c.CautionDistanceCM, err = parseInt(key, value)
	case "CLEAR_DISTANCE_CM":
		c.ClearDistanceCM, err = parseInt(key, value)
	case "STOP_THROTTLE":
		c.StopThrottle, err = parseInt(key, value)
	case "MIN_THROTTLE":
		c.MinThrottle, err = parseInt(key, value)
	case "MAX_THROTTLE":
		c.MaxThrottle, err = parseInt(key, value)
	case "STEERING_CENTER":
		c.SteeringCenter, err = parseInt(key, value)
	case "STEERING_RANGE":
		c.SteeringRange, err = parseInt(key, value)
	case "STEERING_BLEND":
		c.SteeringBlend, err = parseFloat(key, value)
	case "FORWARD_BIAS":
		c.ForwardBias, err = parseFloat(key, value)
	case "THROTTLE_FORWARD_ONLY":
		c.ThrottleForwardOnly, err = strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid THROTTLE_FORWARD_ONLY %q: %w", value, err)
		}
	case "STEERING_CHANNEL":
		c.SteeringChannel, err = parseInt(key, value)
		if err == nil && (c.SteeringChannel < 1 || c.SteeringChannel > 8) {
			return fmt.Errorf("STEERING_CHANNEL must be 1-8, got %d", c.SteeringChannel)
		}
	case "THROTTLE_CHANNEL":
		c.ThrottleChannel, err = parseInt(key, value)
		if err == nil && (c.ThrottleChannel < 1 || c.ThrottleChannel > 8) {
			return fmt.Errorf("THROTTLE_CHANNEL must be 1-8, got %d", c.ThrottleChannel)
		}

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CAPTURE":
		c.MQTTClientIDCapture = value
	case "MQTT_CLIENT_ID_BRIDGE":
		c.MQTTClientIDBridge = value
	case "MQTT_CLIENT_ID_NAV":
		c.MQTTClientIDNav = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "TOPIC_PROXIMITY":
		c.TopicProximity = value
	case "TOPIC_VISION_STATUS":
		c.TopicVisionStatus = value
	case "TOPIC_NAV_STATUS":
		c.TopicNavStatus = value

	// Metrics / web / display
	case "METRICS_ADDR":
		c.MetricsAddr = value
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, perr)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// applyDefaults fills every zero value with the shipped default. Load
// applies it before parsing, never after.
func (c *Config) applyDefaults() {
	setStr := func(p *string, v string) {
		if *p == "" {
			*p = v
		}
	}
	setInt := func(p *int, v int) {
		if *p == 0 {
			*p = v
		}
	}
	setFloat := func(p *float64, v float64) {
		if *p == 0 {
			*p = v
		}
	}

	setStr(&c.LogLevel, "info")
	setStr(&c.StoreDir, "/tmp/vision")
	setStr(&c.ProximityFile, "/tmp/proximity.json")

	setStr(&c.CameraDevice, "sim")
	setInt(&c.RGBWidth, 640)
	setInt(&c.RGBHeight, 480)
	setInt(&c.DepthWidth, 424)
	setInt(&c.DepthHeight, 240)
	setInt(&c.IRWidth, 640)
	setInt(&c.IRHeight, 480)
	setInt(&c.CameraFPS, 15)
	setInt(&c.JPEGQuality, 85)
	setFloat(&c.ExposureUS, 6000)
	setFloat(&c.Gain, 32)
	setFloat(&c.BrightnessLow, 35)
	setFloat(&c.BrightnessHigh, 75)
	setInt(&c.ExposureUpdateMS, 400)
	setInt(&c.CaptureMaxErrors, 50)

	setStr(&c.LidarPort, "/dev/ttyUSB0")
	setInt(&c.LidarBaud, 1000000)
	setInt(&c.LidarQualityThreshold, 10)
	setInt(&c.LidarMaxSamples, 500)
	setInt(&c.LidarMaxErrors, 10)
	setInt(&c.LidarMaxRetries, 5)

	setStr(&c.PixhawkPort, "/dev/ttyACM0")
	setInt(&c.PixhawkBaud, 57600)
	setInt(&c.MAVSystemID, 255)
	setInt(&c.BridgeComponentID, 195)
	setInt(&c.NavComponentID, 199)
	setInt(&c.HeartbeatTimeoutMS, 5000)
	setInt(&c.LinkTimeoutMS, 3000)

	setInt(&c.MinDistanceCM, 20)
	setInt(&c.MaxDistanceCM, 2500)
	setFloat(&c.DepthMinM, 0.2)
	setFloat(&c.DepthMaxM, 25.0)
	setFloat(&c.DepthPercentile, 5)
	setInt(&c.DepthGridStep, 10)
	setInt(&c.DepthMinSamples, 30)

	setInt(&c.FusionRateHz, 10)
	setInt(&c.NavRateHz, 10)
	setInt(&c.LivenessStaleMS, 5000)
	setInt(&c.DepthMaxAgeMS, 1000)
	setInt(&c.LidarStaleMS, 2000)
	setInt(&c.DataStaleMS, 2000)
	setInt(&c.VisionWaitMS, 30000)
	setInt(&c.DataWaitMS, 30000)

	setInt(&c.SafeDistanceCM, 150)
	setInt(&c.CautionDistanceCM, 300)
	setInt(&c.ClearDistanceCM, 300)
	setInt(&c.StopThrottle, 1500)
	setInt(&c.MinThrottle, 1520)
	setInt(&c.MaxThrottle, 1650)
	setInt(&c.SteeringCenter, 1500)
	setInt(&c.SteeringRange, 400)
	setFloat(&c.SteeringBlend, 0.7)
	setFloat(&c.ForwardBias, 3.0)
	setInt(&c.SteeringChannel, 1)
	setInt(&c.ThrottleChannel, 3)

	setStr(&c.MQTTClientIDCapture, "rover-capture")
	setStr(&c.MQTTClientIDBridge, "rover-fusion-bridge")
	setStr(&c.MQTTClientIDNav, "rover-navigator")
	setStr(&c.MQTTClientIDConsole, "rover-console")
	setStr(&c.TopicProximity, "rover/proximity")
	setStr(&c.TopicVisionStatus, "rover/vision/status")
	setStr(&c.TopicNavStatus, "rover/nav/status")

	setInt(&c.WebServerPort, 8080)
	setStr(&c.DisplayI2CBus, "1")
	if c.DisplayI2CAddr == 0 {
		c.DisplayI2CAddr = 0x3C
	}
	setInt(&c.DisplayUpdateInterval, 250)
}

// validate checks cross-field constraints.
func (c *Config) validate() error {
	positive := []struct {
		key string
		v   int
	}{
		{"RGB_WIDTH", c.RGBWidth}, {"RGB_HEIGHT", c.RGBHeight},
		{"DEPTH_WIDTH", c.DepthWidth}, {"DEPTH_HEIGHT", c.DepthHeight},
		{"IR_WIDTH", c.IRWidth}, {"IR_HEIGHT", c.IRHeight},
		{"JPEG_QUALITY", c.JPEGQuality}, {"LIDAR_BAUD", c.LidarBaud},
		{"LIDAR_MAX_SAMPLES", c.LidarMaxSamples}, {"PIXHAWK_BAUD", c.PixhawkBaud},
		{"HEARTBEAT_TIMEOUT_MS", c.HeartbeatTimeoutMS}, {"LINK_TIMEOUT_MS", c.LinkTimeoutMS},
		{"DEPTH_GRID_STEP", c.DepthGridStep}, {"LIVENESS_STALE_MS", c.LivenessStaleMS},
		{"DEPTH_MAX_AGE_MS", c.DepthMaxAgeMS}, {"LIDAR_STALE_MS", c.LidarStaleMS},
		{"DATA_STALE_MS", c.DataStaleMS}, {"STEERING_RANGE", c.SteeringRange},
		{"DISPLAY_UPDATE_INTERVAL", c.DisplayUpdateInterval},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.key, p.v)
		}
	}
	if c.StoreDir == "" || c.ProximityFile == "" {
		return fmt.Errorf("STORE_DIR and PROXIMITY_FILE must not be empty")
	}
	if c.MinDistanceCM <= 0 || c.MinDistanceCM >= c.MaxDistanceCM {
		return fmt.Errorf("MIN_DISTANCE_CM (%d) must be positive and below MAX_DISTANCE_CM (%d)", c.MinDistanceCM, c.MaxDistanceCM)
	}
	if c.MaxDistanceCM > 65535 {
		return fmt.Errorf("MAX_DISTANCE_CM must fit in 16 bits, got %d", c.MaxDistanceCM)
	}
	if c.DepthMinM >= c.DepthMaxM {
		return fmt.Errorf("DEPTH_MIN_M (%g) must be below DEPTH_MAX_M (%g)", c.DepthMinM, c.DepthMaxM)
	}
	if c.SafeDistanceCM >= c.CautionDistanceCM {
		return fmt.Errorf("SAFE_DISTANCE_CM (%d) must be below CAUTION_DISTANCE_CM (%d)", c.SafeDistanceCM, c.CautionDistanceCM)
	}
	if c.MinThrottle > c.MaxThrottle {
		return fmt.Errorf("MIN_THROTTLE (%d) must not exceed MAX_THROTTLE (%d)", c.MinThrottle, c.MaxThrottle)
	}
	// a safety stop recentres steering in one cycle; below 0.5 that jump
	// would exceed the largest smoothed step
	if c.SteeringBlend < 0.5 || c.SteeringBlend > 1 {
		return fmt.Errorf("STEERING_BLEND must be in [0.5,1], got %g", c.SteeringBlend)
	}
	if c.FusionRateHz <= 0 || c.NavRateHz <= 0 || c.CameraFPS <= 0 {
		return fmt.Errorf("FUSION_RATE_HZ, NAV_RATE_HZ and CAMERA_FPS must be positive")
	}
	if c.BrightnessLow >= c.BrightnessHigh {
		return fmt.Errorf("BRIGHTNESS_LOW (%g) must be below BRIGHTNESS_HIGH (%g)", c.BrightnessLow, c.BrightnessHigh)
	}
	if c.SteeringChannel == c.ThrottleChannel {
		return fmt.Errorf("STEERING_CHANNEL and THROTTLE_CHANNEL must differ")
	}
	return nil
}

// Ms converts a millisecond config value to a time.Duration.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
