package config

import (
	"time"
)

// Config groups the knobs of the tactic board engine and CLI.
type Config struct {
	LogLevel string `koanf:"log_level"`
	// MetricsAddr serves Prometheus metrics on /metrics when set.
	MetricsAddr string `koanf:"metrics_addr"`

	// Board input and page service
	BoardPath  string `koanf:"board_path"`
	BoardsDir  string `koanf:"boards_dir"`
	DBPath     string `koanf:"db_path"`
	APIBaseURL string `koanf:"api_base_url"`
	APIToken   string `koanf:"api_token"`

	// Canvas
	Width      int    `koanf:"width"`
	Height     int    `koanf:"height"`
	Background string `koanf:"background"`
	PDFDPI     int    `koanf:"pdf_dpi"`

	// Pool
	PoolMaxSize int `koanf:"pool_max_size"`

	// Page manager
	SaveRetries        int           `koanf:"save_retries"`
	SaveRetryBase      time.Duration `koanf:"save_retry_base"`
	BlockingNavigation bool          `koanf:"blocking_navigation"`
	SaveIndexing       string        `koanf:"save_indexing"` // legacy | leaving

	// Cycler
	Interval      time.Duration `koanf:"interval"`
	TweenDuration time.Duration `koanf:"tween_duration"`
	TweenFPS      int           `koanf:"tween_fps"`

	// Recording
	OutputDir string        `koanf:"output_dir"`
	FPS       int           `koanf:"fps"`
	Timeslice time.Duration `koanf:"timeslice"`
	ShareURL  string        `koanf:"share_url"`
}

// New returns a Config filled with defaults.
func New() *Config {
	return &Config{
		LogLevel:      "info",
		BoardsDir:     "input/boards",
		Width:         1280,
		Height:        720,
		Background:    "#3a7d44",
		PDFDPI:        96,
		PoolMaxSize:   64,
		SaveRetries:   2,
		SaveRetryBase: 500 * time.Millisecond,
		SaveIndexing:  "legacy",
		Interval:      2000 * time.Millisecond,
		TweenDuration: 1000 * time.Millisecond,
		TweenFPS:      60,
		OutputDir:     "output",
		FPS:           60,
		Timeslice:     200 * time.Millisecond,
	}
}
