package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g. TACTICBOARD_FPS.
const EnvPrefix = "TACTICBOARD_"

var (
	ErrInvalidSize     = errors.New("canvas width and height must be positive")
	ErrInvalidCadence  = errors.New("tween duration must be shorter than the page interval")
	ErrInvalidIndexing = errors.New("save_indexing must be legacy or leaving")
)

// Load builds a Config by layering, low to high precedence:
//  1. defaults (New)
//  2. YAML file: path argument, else TACTICBOARD_CONFIG
//  3. env (prefix TACTICBOARD_)
func Load(path string) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// TACTICBOARD_TWEEN_DURATION -> tween_duration (flat keys)
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return ErrInvalidSize
	}
	if c.TweenDuration >= c.Interval {
		return ErrInvalidCadence
	}
	switch c.SaveIndexing {
	case "legacy", "leaving":
	default:
		return ErrInvalidIndexing
	}
	return nil
}
