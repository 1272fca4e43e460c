package config

import "fmt"

// MaxDistributionIntervalSeconds bounds the configurable distribution
// cadence to one week.
var MaxDistributionIntervalSeconds = uint64(7 * 24 * 3600)

func ValidateConfig(c Config) error {
	if c.Distribution.MinIntervalSeconds > MaxDistributionIntervalSeconds {
		return fmt.Errorf("distribution: min_interval_seconds above %d", MaxDistributionIntervalSeconds)
	}
	return c.Params().Validate()
}
