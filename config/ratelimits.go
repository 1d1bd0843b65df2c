package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vnmchuo/crypto-bench/pkg/ratelimit"
)

// rateLimitFile is the RATE_LIMITS_FILE layout:
//
//	window: 60s
//	default: {max_rpm: 12}
//	providers:
//	  gemini: {max_rpm: 15}
//	models:
//	  openrouter/gpt-oss-20b: {max_rpm: 8, min_interval: 4s}
type rateLimitFile struct {
	Window    string                `yaml:"window"`
	Default   *limitEntry           `yaml:"default"`
	Providers map[string]limitEntry `yaml:"providers"`
	Models    map[string]limitEntry `yaml:"models"`
}

type limitEntry struct {
	MaxRPM      *int   `yaml:"max_rpm"`
	MinInterval string `yaml:"min_interval"`
}

func (e limitEntry) apply(base ratelimit.Limit) (ratelimit.Limit, error) {
	if e.MaxRPM != nil {
		if *e.MaxRPM < 0 {
			return base, fmt.Errorf("max_rpm must not be negative")
		}
		base.MaxRequests = *e.MaxRPM
	}
	if e.MinInterval != "" {
		d, err := parseDuration(e.MinInterval)
		if err != nil {
			return base, fmt.Errorf("min_interval: %w", err)
		}
		base.MinInterval = d
	}
	return base, nil
}

// loadRateLimitFile overlays the file onto cfg. Fields the file leaves out keep their values.
func loadRateLimitFile(path string, cfg *ratelimit.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f rateLimitFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	return f.overlay(cfg)
}

func (f rateLimitFile) overlay(cfg *ratelimit.Config) error {
	if f.Window != "" {
		d, err := parseDuration(f.Window)
		if err != nil {
			return fmt.Errorf("window: %w", err)
		}
		cfg.Window = d
	}
	if f.Default != nil {
		l, err := f.Default.apply(cfg.Default)
		if err != nil {
			return fmt.Errorf("default: %w", err)
		}
		cfg.Default = l
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ratelimit.Limit)
	}
	for name, e := range f.Providers {
		base, ok := cfg.Providers[name]
		if !ok {
			base = cfg.Default
		}
		l, err := e.apply(base)
		if err != nil {
			return fmt.Errorf("providers.%s: %w", name, err)
		}
		cfg.Providers[name] = l
	}
	if cfg.Models == nil {
		cfg.Models = make(map[ratelimit.Key]ratelimit.Limit)
	}
	for name, e := range f.Models {
		provider, model, ok := strings.Cut(name, "/")
		if !ok || provider == "" || model == "" {
			return fmt.Errorf("models.%s: key must be provider/model", name)
		}
		key := ratelimit.Key{Provider: provider, Model: model}
		l, err := e.apply(cfg.LimitFor(key))
		if err != nil {
			return fmt.Errorf("models.%s: %w", name, err)
		}
		cfg.Models[key] = l
	}
	return nil
}
