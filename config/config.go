package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/D2dProtocol/d2d-program/native/treasury"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk representation of the treasury engine parameters.
type Config struct {
	Fees         Fees         `toml:"Fees"`
	Limits       Limits       `toml:"Limits"`
	Curve        Curve        `toml:"Curve"`
	Distribution Distribution `toml:"Distribution"`
}

// Load loads the configuration from the given path. A missing file is created
// with the protocol defaults. Keys absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := FromParams(treasury.DefaultParams())
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	if err := ValidateConfig(*cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadParams loads the file at path and returns the engine parameters.
func LoadParams(path string) (treasury.Params, error) {
	cfg, err := Load(path)
	if err != nil {
		return treasury.Params{}, err
	}
	return cfg.Params(), nil
}

// FromParams renders engine parameters as a configuration document.
func FromParams(p treasury.Params) *Config {
	return &Config{
		Fees: Fees{
			RewardFeeBps:   p.RewardFeeBps,
			PlatformFeeBps: p.PlatformFeeBps,
		},
		Limits: Limits{
			MaxUtilizationBps:              p.MaxUtilizationBps,
			MaxSubscriptionExtensionMonths: p.MaxSubscriptionExtensionMonths,
		},
		Curve: Curve{
			BaseAPYBps:            p.BaseAPYBps,
			TargetUtilizationBps:  p.TargetUtilizationBps,
			MidpointMultiplierBps: p.MidpointMultiplierBps,
			MaxMultiplierBps:      p.MaxMultiplierBps,
		},
		Distribution: Distribution{
			MaxBatch:           p.MaxDistributionBatch,
			MinIntervalSeconds: p.MinDistributionInterval,
		},
	}
}

// Params converts the document into engine parameters.
func (c Config) Params() treasury.Params {
	return treasury.Params{
		RewardFeeBps:                   c.Fees.RewardFeeBps,
		PlatformFeeBps:                 c.Fees.PlatformFeeBps,
		MaxUtilizationBps:              c.Limits.MaxUtilizationBps,
		BaseAPYBps:                     c.Curve.BaseAPYBps,
		TargetUtilizationBps:           c.Curve.TargetUtilizationBps,
		MidpointMultiplierBps:          c.Curve.MidpointMultiplierBps,
		MaxMultiplierBps:               c.Curve.MaxMultiplierBps,
		MaxSubscriptionExtensionMonths: c.Limits.MaxSubscriptionExtensionMonths,
		MaxDistributionBatch:           c.Distribution.MaxBatch,
		MinDistributionInterval:        c.Distribution.MinIntervalSeconds,
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := FromParams(treasury.DefaultParams())
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
