package autoflow

import (
	"fmt"
	"strconv"
	"time"

	"github.com/randalmurphal/autoflow/config"
)

// Config controls engine behavior. Zero values are invalid; start from
// DefaultConfig and override fields.
type Config struct {
	// Ceiling is the refinement iteration budget for refinable stages.
	Ceiling int

	// Threshold is the acceptance score on the 0-5 review scale.
	Threshold float64

	// ContextCeiling is the session entry count that triggers compaction
	// before the next level dispatch.
	ContextCeiling int

	// KeepRecent is how many entries compaction retains.
	KeepRecent int

	// StageTimeout is the default per-stage deadline. A stage can
	// override it through its pipeline definition.
	StageTimeout time.Duration

	// Workers bounds how many parallel stages run at once within a level.
	Workers int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Ceiling:        3,
		Threshold:      4.0,
		ContextCeiling: 12,
		KeepRecent:     5,
		StageTimeout:   2 * time.Minute,
		Workers:        4,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Ceiling < 1 {
		return &ValidationError{Field: "config.Ceiling",
			Reason: fmt.Sprintf("must be at least 1, got %d", c.Ceiling)}
	}
	if c.Threshold < 0 || c.Threshold > 5 {
		return &ValidationError{Field: "config.Threshold",
			Reason: fmt.Sprintf("must be within [0, 5], got %g", c.Threshold)}
	}
	if c.ContextCeiling < 1 {
		return &ValidationError{Field: "config.ContextCeiling",
			Reason: fmt.Sprintf("must be at least 1, got %d", c.ContextCeiling)}
	}
	if c.KeepRecent < 1 {
		return &ValidationError{Field: "config.KeepRecent",
			Reason: fmt.Sprintf("must be at least 1, got %d", c.KeepRecent)}
	}
	if c.StageTimeout <= 0 {
		return &ValidationError{Field: "config.StageTimeout",
			Reason: fmt.Sprintf("must be positive, got %s", c.StageTimeout)}
	}
	if c.Workers < 1 {
		return &ValidationError{Field: "config.Workers",
			Reason: fmt.Sprintf("must be at least 1, got %d", c.Workers)}
	}
	return nil
}

// ConfigResolver returns the hierarchical resolver for autoflow settings:
// defaults, then ~/.config/autoflow/config.yaml, then .autoflow.yaml in the
// git root, then AUTOFLOW_* environment variables, then flags.
func ConfigResolver() *config.Resolver {
	return config.NewResolver(config.ResolverConfig{
		EnvPrefix:       "AUTOFLOW_",
		GlobalConfigDir: "autoflow",
		LocalConfigName: ".autoflow.yaml",
		Defaults:        configDefaults(),
	})
}

func configDefaults() map[string]string {
	def := DefaultConfig()
	return map[string]string{
		"ceiling":         strconv.Itoa(def.Ceiling),
		"threshold":       strconv.FormatFloat(def.Threshold, 'g', -1, 64),
		"context_ceiling": strconv.Itoa(def.ContextCeiling),
		"keep_recent":     strconv.Itoa(def.KeepRecent),
		"stage_timeout":   def.StageTimeout.String(),
		"workers":         strconv.Itoa(def.Workers),
		// Not engine settings, but resolved alongside them so files,
		// env, and flags can all supply them.
		"base_dir": ".autoflow",
		"model":    "",
	}
}

// ConfigFromResolved builds an engine Config from resolved settings.
func ConfigFromResolved(res *config.Resolved) (Config, error) {
	cfg := DefaultConfig()

	intKeys := []struct {
		key string
		dst *int
	}{
		{"ceiling", &cfg.Ceiling},
		{"context_ceiling", &cfg.ContextCeiling},
		{"keep_recent", &cfg.KeepRecent},
		{"workers", &cfg.Workers},
	}
	for _, k := range intKeys {
		v := res.Get(k.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, &ValidationError{Field: k.key,
				Reason: fmt.Sprintf("not an integer: %q", v), Err: err}
		}
		*k.dst = n
	}

	if v := res.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, &ValidationError{Field: "threshold",
				Reason: fmt.Sprintf("not a number: %q", v), Err: err}
		}
		cfg.Threshold = f
	}

	if v := res.Get("stage_timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, &ValidationError{Field: "stage_timeout",
				Reason: fmt.Sprintf("not a duration: %q", v), Err: err}
		}
		cfg.StageTimeout = d
	}

	return cfg, cfg.Validate()
}
