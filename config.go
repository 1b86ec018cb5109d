package tiercache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/tiercache/local"
)

// Config is the file form of the tunable Options. Stores, logger and hooks
// are wired in code.
//
//	enabled: true
//	default_timeout: 5m
//	tier: local
//	sliding: false
//	throw_on_failure: false
//	priority: normal
//	analytics: keys_and_hits
//	cleanup_interval: 1m
//	max_key_length: 200
type Config struct {
	Enabled         *bool           `yaml:"enabled"`
	DefaultTimeout  *time.Duration  `yaml:"default_timeout"`
	Tier            *Tier           `yaml:"tier"`
	Sliding         *bool           `yaml:"sliding"`
	ThrowOnFailure  *bool           `yaml:"throw_on_failure"`
	Priority        *local.Priority `yaml:"priority"`
	Analytics       *AnalyticsMode  `yaml:"analytics"`
	CleanupInterval *time.Duration  `yaml:"cleanup_interval"`
	MaxKeyLength    *int            `yaml:"max_key_length"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("tiercache: read config: %w", err)
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML. Unknown fields are rejected; an empty document
// yields the zero Config.
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: parse config: %w", ErrValidation, err)
	}
	if cfg.MaxKeyLength != nil && *cfg.MaxKeyLength < 0 {
		return Config{}, fmt.Errorf("%w: max_key_length must be >= 0", ErrValidation)
	}
	return cfg, nil
}

// Apply copies the fields set in c into o. Absent fields leave o unchanged;
// a field set to its zero value (tier: local, sliding: false) overrides.
func (c Config) Apply(o *Options) {
	if c.Enabled != nil {
		o.Disabled = !*c.Enabled
	}
	if c.DefaultTimeout != nil {
		o.DefaultTTL = *c.DefaultTimeout
	}
	if c.Tier != nil {
		o.DefaultTier = *c.Tier
	}
	if c.Sliding != nil {
		o.Sliding = *c.Sliding
	}
	if c.ThrowOnFailure != nil {
		o.ThrowOnFailure = *c.ThrowOnFailure
	}
	if c.Priority != nil {
		o.Priority = *c.Priority
	}
	if c.Analytics != nil {
		o.Analytics = *c.Analytics
	}
	if c.CleanupInterval != nil {
		o.CleanupInterval = *c.CleanupInterval
	}
	if c.MaxKeyLength != nil {
		o.MaxKeyLength = *c.MaxKeyLength
	}
}
