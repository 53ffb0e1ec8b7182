package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const (
	DefaultConfigPath      string = "config.json"
	DefaultModel           string = "gemini-1.5-flash"
	DefaultMimeType        string = "image/png"
	DefaultRefreshInterval int    = 30
	DefaultProbeCount      int    = 4
	DefaultProbeDelay      int    = 100
)

// APIKeyEnvVars are consulted in order when no key is configured.
var APIKeyEnvVars = [...]string{
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
}

type CameraConfig struct {
	DeviceID     int `json:"device_id"`
	ProbeCount   int `json:"probe_count"`
	ProbeDelayMs int `json:"probe_delay_ms"`
	Width        int `json:"width"`
	Height       int `json:"height"`
}

type AnalysisConfig struct {
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	MimeType   string `json:"mime_type"`
	TimeoutSec int    `json:"timeout_sec"`
}

type Config struct {
	mu   sync.RWMutex
	path string

	RefreshIntervalMs int    `json:"refresh_interval_ms"`
	LogLevel          string `json:"log_level"`

	Camera   CameraConfig   `json:"camera"`
	Analysis AnalysisConfig `json:"analysis"`
}

func (c *Config) GetRefreshInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.RefreshIntervalMs) * time.Millisecond
}

func (c *Config) GetDeviceID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Camera.DeviceID
}

func (c *Config) SetDeviceID(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Camera.DeviceID = id
}

func (c *Config) GetProbeDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Camera.ProbeDelayMs) * time.Millisecond
}

// GetAnalysisTimeout returns zero when remote calls are unbounded.
func (c *Config) GetAnalysisTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Analysis.TimeoutSec) * time.Second
}

// GetAPIKey falls back to the environment when the file carries no key.
func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	key := c.Analysis.APIKey
	c.mu.RUnlock()

	if key != "" {
		return key
	}

	for _, name := range APIKeyEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}

	return ""
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var err error

	if c.RefreshIntervalMs <= 0 {
		err = multierr.Append(err, fmt.Errorf("refresh_interval_ms must be positive, got %d", c.RefreshIntervalMs))
	}
	if c.Camera.ProbeCount <= 0 {
		err = multierr.Append(err, fmt.Errorf("camera.probe_count must be positive, got %d", c.Camera.ProbeCount))
	}
	if c.Camera.ProbeDelayMs < 0 {
		err = multierr.Append(err, fmt.Errorf("camera.probe_delay_ms must not be negative, got %d", c.Camera.ProbeDelayMs))
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		err = multierr.Append(err, errors.New("camera.width and camera.height must not be negative"))
	}
	if c.Analysis.TimeoutSec < 0 {
		err = multierr.Append(err, fmt.Errorf("analysis.timeout_sec must not be negative, got %d", c.Analysis.TimeoutSec))
	}
	if m := c.Analysis.MimeType; m != "image/png" && m != "image/jpeg" {
		err = multierr.Append(err, fmt.Errorf("analysis.mime_type must be image/png or image/jpeg, got %q", m))
	}
	if c.Analysis.Model == "" {
		err = multierr.Append(err, errors.New("analysis.model is required"))
	}

	return err
}

// Save writes the config as held in memory, API key included.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	out := &Config{
		RefreshIntervalMs: c.RefreshIntervalMs,
		LogLevel:          c.LogLevel,
		Camera:            c.Camera,
		Analysis:          c.Analysis,
	}
	c.mu.RUnlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return nil
}

// SaveByDefault writes back to the file the config was loaded from.
func (c *Config) SaveByDefault() error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()

	if path == "" {
		path = DefaultConfigPath
	}

	return c.Save(path)
}

// LoadConfigFile returns defaults when path does not exist.
func LoadConfigFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	cfg.path = path

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	return cfg, nil
}

func NewDefaultConfig() *Config {
	return &Config{
		RefreshIntervalMs: DefaultRefreshInterval,
		LogLevel:          "info",
		Camera: CameraConfig{
			DeviceID:     0,
			ProbeCount:   DefaultProbeCount,
			ProbeDelayMs: DefaultProbeDelay,
		},
		Analysis: AnalysisConfig{
			Model:    DefaultModel,
			MimeType: DefaultMimeType,
		},
	}
}
