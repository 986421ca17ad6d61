package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if SLINGBOT_CONFIG is set
//  3. env (prefix SLINGBOT_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("SLINGBOT_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: SLINGBOT_ADDR, SLINGBOT_WAKE_WORD, ...
	// Map env keys like SLINGBOT_WAKE_WORD -> wake_word (flat keys).
	// Underscores are preserved to match koanf tags on the struct.
	envProvider := env.Provider("SLINGBOT_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "slingbot_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.WakeWord) == "":
		return fmt.Errorf("%w: wake_word must not be empty", ErrInvalidConfig)
	case c.ActuatorBaseURL == "":
		return fmt.Errorf("%w: actuator_base_url must not be empty", ErrInvalidConfig)
	case c.VisionBaseURL == "":
		return fmt.Errorf("%w: vision_base_url must not be empty", ErrInvalidConfig)
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("%w: min_confidence must be within [0, 1]", ErrInvalidConfig)
	case !c.AuthDisabled && c.AuthSecret == "":
		return fmt.Errorf("%w: auth_secret is required unless auth_disabled is set", ErrInvalidConfig)
	}
	return nil
}
