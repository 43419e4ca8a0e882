// Package config loads the camera server configuration from a YAML file and
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/gps"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/relay"
)

type Config struct {
	LogLevel     string `yaml:"log_level"`
	DataDir      string `yaml:"data_dir"`
	Ports        []int  `yaml:"ports"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	Camera    CameraConfig    `yaml:"camera"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Detection DetectionConfig `yaml:"detection"`
	Cloud     CloudConfig     `yaml:"cloud"`
	GPS       GPSConfig       `yaml:"gps"`
	Alarm     AlarmConfig     `yaml:"alarm"`
	Events    EventsConfig    `yaml:"events"`
}

type CameraConfig struct {
	Command   string        `yaml:"command"`
	Width     int           `yaml:"width"`
	Height    int           `yaml:"height"`
	Framerate int           `yaml:"framerate"`
	Quality   int           `yaml:"quality"`
	Watchdog  time.Duration `yaml:"watchdog"`
}

type OverlayConfig struct {
	ColorEnabled bool   `yaml:"color_enabled"`
	ColorMode    string `yaml:"color_mode"`
}

type DetectionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Label         string        `yaml:"label"`
	MinConfidence float64       `yaml:"min_confidence"`
	Timeout       time.Duration `yaml:"timeout"`
}

type CloudConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Transport  string          `yaml:"transport"` // http or mqtt
	URL        string          `yaml:"url"`
	Secret     string          `yaml:"secret"`
	MQTTBroker string          `yaml:"mqtt_broker"`
	MQTTPrefix string          `yaml:"mqtt_prefix"`
	Timeout    time.Duration   `yaml:"timeout"`
	Intervals  relay.Intervals `yaml:"intervals"`
}

type GPSConfig struct {
	Port   string          `yaml:"port"`
	Baud   int             `yaml:"baud"`
	Static *gps.Coordinate `yaml:"static"`
}

type AlarmConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Chip     string        `yaml:"chip"`
	Line     int           `yaml:"line"`
	Sound    string        `yaml:"sound"`
	Hold     time.Duration `yaml:"hold"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type EventsConfig struct {
	Retention time.Duration `yaml:"retention"`
	Prune     string        `yaml:"prune"` // cron spec
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  "./data",
		Ports:    []int{5000, 5001, 8000, 8080},
		Camera: CameraConfig{
			Width:     640,
			Height:    480,
			Framerate: 15,
			Quality:   50,
			Watchdog:  10 * time.Second,
		},
		Overlay: OverlayConfig{ColorMode: "center"},
		Detection: DetectionConfig{
			URL:           "http://localhost:9000/detect",
			Label:         "motor_crash",
			MinConfidence: 0.90,
			Timeout:       5 * time.Second,
		},
		Cloud: CloudConfig{
			Transport:  "http",
			MQTTPrefix: "pistream",
			Timeout:    3 * time.Second,
			Intervals:  relay.DefaultIntervals(),
		},
		GPS: GPSConfig{Baud: 9600},
		Alarm: AlarmConfig{
			Chip:     "gpiochip0",
			Line:     17,
			Hold:     5 * time.Second,
			Cooldown: 30 * time.Second,
		},
		Events: EventsConfig{
			Retention: 24 * time.Hour,
			Prune:     "@hourly",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("CLOUD_URL"); v != "" {
		c.Cloud.URL = v
	}
	if v := getenv("PUSH_SECRET"); v != "" {
		c.Cloud.Secret = v
	}
	if v := getenv("CLOUD_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CLOUD_ENABLED: %w", err)
		}
		c.Cloud.Enabled = b
	}
	if v := getenv("DETECTOR_URL"); v != "" {
		c.Detection.URL = v
	}
	if v := getenv("GPS_PORT"); v != "" {
		c.GPS.Port = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = strings.TrimPrefix(strings.TrimPrefix(v, "http://"), "https://")
	}
	if v := getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	return nil
}

// Validate checks the configuration for values the workers cannot run with.
func (c *Config) Validate() error {
	if c.Overlay.ColorMode != "center" && c.Overlay.ColorMode != "grid" {
		return fmt.Errorf("overlay.color_mode must be 'center' or 'grid', got %q", c.Overlay.ColorMode)
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("ports must list at least one port")
	}
	for _, p := range c.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid port %d", p)
		}
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 || c.Camera.Framerate <= 0 {
		return fmt.Errorf("camera width, height and framerate must be > 0")
	}
	if c.Camera.Quality < 1 || c.Camera.Quality > 100 {
		return fmt.Errorf("camera.quality must be in 1..100, got %d", c.Camera.Quality)
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("detection.min_confidence must be in [0,1], got %v", c.Detection.MinConfidence)
	}
	if c.Detection.Enabled && c.Detection.URL == "" {
		return fmt.Errorf("detection.url is required when detection is enabled")
	}
	if c.Detection.Timeout <= 0 {
		return fmt.Errorf("detection.timeout must be > 0")
	}
	if c.Cloud.Timeout <= 0 {
		return fmt.Errorf("cloud.timeout must be > 0")
	}
	iv := c.Cloud.Intervals
	for name, d := range map[string]time.Duration{
		"frame":      iv.Frame,
		"detections": iv.Detections,
		"status":     iv.Status,
		"gps":        iv.GPS,
	} {
		if d <= 0 {
			return fmt.Errorf("cloud.intervals.%s must be > 0", name)
		}
	}
	if c.Cloud.Enabled {
		switch c.Cloud.Transport {
		case "http":
			if c.Cloud.URL == "" {
				return fmt.Errorf("cloud.url is required for the http transport")
			}
		case "mqtt":
			if c.Cloud.MQTTBroker == "" {
				return fmt.Errorf("cloud.mqtt_broker is required for the mqtt transport")
			}
		default:
			return fmt.Errorf("cloud.transport must be 'http' or 'mqtt', got %q", c.Cloud.Transport)
		}
	}
	if c.Events.Retention <= 0 {
		return fmt.Errorf("events.retention must be > 0")
	}
	return nil
}
