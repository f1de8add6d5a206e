// Package config handles configuration for flutter-control.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment sets a
// value. The observatory ports match the conventional adb forward setup.
const (
	DefaultLocalPortAndroid = 9223
	DefaultLocalPortIOS     = 9224
	DefaultTimeout          = 30 * time.Second
)

// Config represents the runtime configuration (config.yaml).
type Config struct {
	// Target selection
	Platform string `yaml:"platform"` // android or ios
	Device   string `yaml:"device"`   // device serial / simulator UDID
	AppID    string `yaml:"appId"`    // application bundle id

	// Driver connection
	LocalPort int `yaml:"localPort"` // host-side forwarded VM service port
	TimeoutMs int `yaml:"timeoutMs"` // per-attempt timeout

	// Diagnostics
	LogDir   string `yaml:"logDir"`
	TraceDir string `yaml:"traceDir"`
	Verbose  bool   `yaml:"verbose"`
}

// Load loads configuration from a file and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory. A missing
// file is not an error; defaults and environment still apply.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"config.yaml", "config.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// Timeout returns the per-attempt timeout as a duration.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// applyEnv overlays FLUTTER_CONTROL_* environment variables. Environment
// wins over the file so CI can retarget without editing configs.
func (c *Config) applyEnv() {
	if v := os.Getenv("FLUTTER_CONTROL_PLATFORM"); v != "" {
		c.Platform = v
	}
	if v := os.Getenv("FLUTTER_CONTROL_DEVICE"); v != "" {
		c.Device = v
	}
	if v := os.Getenv("FLUTTER_CONTROL_APP_ID"); v != "" {
		c.AppID = v
	}
	if v := os.Getenv("FLUTTER_CONTROL_LOCAL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.LocalPort = port
		}
	}
	if v := os.Getenv("FLUTTER_CONTROL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.TimeoutMs = ms
		}
	}
	if v := os.Getenv("FLUTTER_CONTROL_VERBOSE"); v == "1" || v == "true" {
		c.Verbose = true
	}
}

func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "android"
	}
	if c.LocalPort == 0 {
		if c.Platform == "ios" {
			c.LocalPort = DefaultLocalPortIOS
		} else {
			c.LocalPort = DefaultLocalPortAndroid
		}
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(GetHome(), "logs")
	}
	if c.TraceDir == "" {
		c.TraceDir = filepath.Join(GetHome(), "traces")
	}
}
