// Package config holds the typed configuration for the playback client.
// Policy values that tune the session state machine (retry bounds, grace
// windows, reporting thresholds) live here rather than as constants in the
// playback code.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Scrobble ScrobbleConfig `yaml:"scrobble"`
	Playback PlaybackConfig `yaml:"playback"`
	Store    StoreConfig    `yaml:"store"`
}

// ServerConfig points at the media server.
type ServerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// ScrobbleConfig points at the watch-history service.
type ScrobbleConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	Token       string `yaml:"token"`
	ClientID    string `yaml:"client_id"`
	RatePerMin  int    `yaml:"rate_per_min"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PlaybackConfig tunes the session state machine.
type PlaybackConfig struct {
	// Backend selects the playback engine: "mpv" or "cast".
	Backend   string `yaml:"backend"`
	MPVSocket string `yaml:"mpv_socket"`
	CastURL   string `yaml:"cast_url"`

	// MaxDirectRetries bounds direct-play reloads before escalating to
	// transcode.
	MaxDirectRetries int `yaml:"max_direct_retries"`

	// PrematureEndWindow: an end-file signal this soon after load is a
	// load failure, not a finished playback.
	PrematureEndWindow time.Duration `yaml:"premature_end_window"`

	// Progress reporting.
	ProgressInterval       time.Duration `yaml:"progress_interval"`
	ProgressDeltaThreshold time.Duration `yaml:"progress_delta_threshold"`

	// Resume policy.
	ResumeMinimum   time.Duration `yaml:"resume_minimum"`
	NearEndWindow   time.Duration `yaml:"near_end_window"`
	NearEndFraction float64       `yaml:"near_end_fraction"`

	// Quality-change seek restore.
	SeekBackThreshold time.Duration `yaml:"seek_back_threshold"`
	DirectSettle      time.Duration `yaml:"direct_settle"`
	TranscodeSettle   time.Duration `yaml:"transcode_settle"`

	// CountdownLead is the next-up trigger distance from the end when no
	// credits marker exists.
	CountdownLead time.Duration `yaml:"countdown_lead"`
}

// StoreConfig locates the local play-state database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns a configuration with all default values set.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Timeout: 15 * time.Second,
		},
		Scrobble: ScrobbleConfig{
			Enabled:     true,
			RatePerMin:  30,
			TimeoutSecs: 10,
		},
		Playback: PlaybackConfig{
			Backend:                "mpv",
			MPVSocket:              "/tmp/flixor-mpv.sock",
			MaxDirectRetries:       2,
			PrematureEndWindow:     3 * time.Second,
			ProgressInterval:       10 * time.Second,
			ProgressDeltaThreshold: 5 * time.Second,
			ResumeMinimum:          2 * time.Second,
			NearEndWindow:          30 * time.Second,
			NearEndFraction:        0.95,
			SeekBackThreshold:      2 * time.Second,
			DirectSettle:           500 * time.Millisecond,
			TranscodeSettle:        2 * time.Second,
			CountdownLead:          30 * time.Second,
		},
		Store: StoreConfig{
			Path: "flixor.db",
		},
	}
}

// Load reads a YAML file over the defaults and then applies environment
// overrides. A missing file is not an error; env-only setups are common.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLIXOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLIXOR_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("FLIXOR_SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("FLIXOR_SCROBBLE_URL"); v != "" {
		cfg.Scrobble.BaseURL = v
	}
	if v := os.Getenv("FLIXOR_SCROBBLE_TOKEN"); v != "" {
		cfg.Scrobble.Token = v
	}
	if v := os.Getenv("FLIXOR_BACKEND"); v != "" {
		cfg.Playback.Backend = v
	}
	if v := os.Getenv("FLIXOR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FLIXOR_MAX_DIRECT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Playback.MaxDirectRetries = n
		}
	}
}

// Validate rejects configurations the session machine cannot run with.
func (c *Config) Validate() error {
	if c.Playback.MaxDirectRetries < 0 {
		return fmt.Errorf("playback.max_direct_retries must be >= 0")
	}
	if c.Playback.ProgressInterval <= 0 {
		return fmt.Errorf("playback.progress_interval must be positive")
	}
	if c.Playback.NearEndFraction <= 0 || c.Playback.NearEndFraction > 1 {
		return fmt.Errorf("playback.near_end_fraction must be in (0, 1]")
	}
	switch c.Playback.Backend {
	case "mpv", "cast":
	default:
		return fmt.Errorf("playback.backend must be mpv or cast, got %q", c.Playback.Backend)
	}
	return nil
}

var (
	globalMu  sync.RWMutex
	globalCfg *Config
)

// Get returns the process configuration, defaulting if Set was never
// called.
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalCfg == nil {
		return Default()
	}
	return globalCfg
}

// Set installs the process configuration.
func Set(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCfg = cfg
}
