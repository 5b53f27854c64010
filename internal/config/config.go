// Package config loads the typed configuration surface enumerated in
// spec §9: stream sources, motion detection, recording, the HTTP
// server, and the stream pause password.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"camfeed/internal/motion"
	"camfeed/internal/recorder"
)

// StreamSource is one entry of the streamSources list.
type StreamSource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	IsDefault bool   `json:"isDefault"`
}

// WorkerPoolConfig sizes the shared motion worker pool.
type WorkerPoolConfig struct {
	PoolSize      int `json:"poolSize"`
	MaxQueueSize  int `json:"maxQueueSize"`
	TaskTimeoutMs int `json:"taskTimeoutMs"`
}

// MotionDetectionConfig is the motionDetection config block.
type MotionDetectionConfig struct {
	Enabled        bool                          `json:"enabled"`
	FPS            int                           `json:"fps"`
	Threshold      float64                       `json:"threshold"`
	CooldownMs     int                           `json:"cooldownMs"`
	Width          int                           `json:"width"`
	Height         int                           `json:"height"`
	IgnoredYRanges []motion.YRange               `json:"ignoredYRanges"`
	ShadowRemoval  motion.ShadowRemovalConfig     `json:"shadowRemoval"`
	ColorDetection motion.ColorDetectionConfig    `json:"colorDetection"`
	DetectionMode  motion.DetectionMode           `json:"detectionMode"`
	Region         motion.RegionConfig           `json:"region"`
	TemporalShadow bool                           `json:"temporalShadow"`
	WorkerPool     WorkerPoolConfig               `json:"workerPool"`
}

// ServerConfig is the server config block.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Config is the complete process configuration.
type Config struct {
	StreamSources        []StreamSource        `json:"streamSources"`
	MotionDetection      MotionDetectionConfig `json:"motionDetection"`
	Recording            recorder.Config       `json:"recording"`
	Server               ServerConfig          `json:"server"`
	StreamPausePassword  string                `json:"streamPausePassword"`
	MotionHistoryDBPath  string                `json:"motionHistoryDbPath"`
}

// Load reads a JSON config file at path, then applies environment
// variable overrides for the handful of secrets and deploy-time knobs
// that shouldn't live in a checked-in file.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("CAMFEED_STREAM_PAUSE_PASSWORD"); v != "" {
		c.StreamPausePassword = v
	}
	if v := os.Getenv("CAMFEED_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CAMFEED_SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("CAMFEED_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CAMFEED_OUTPUT_DIR"); v != "" {
		c.Recording.OutputDir = v
	}
	if v := os.Getenv("CAMFEED_MOTION_DB_PATH"); v != "" {
		c.MotionHistoryDBPath = v
	}
	return nil
}

// validate enforces spec §9's "exactly one default" streamSources
// invariant and a sane server port before anything downstream
// constructs components from this config.
func (c *Config) validate() error {
	if len(c.StreamSources) == 0 {
		return fmt.Errorf("config: streamSources must have at least one entry")
	}
	defaults := 0
	for _, s := range c.StreamSources {
		if s.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		return fmt.Errorf("config: streamSources must have exactly one isDefault entry, found %d", defaults)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("config: server.port must be positive")
	}
	return nil
}
