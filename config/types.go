package config

// Fees captures the deposit fee rates skimmed into the reward and platform
// pools.
type Fees struct {
	RewardFeeBps   uint64 `toml:"RewardFeeBps"`
	PlatformFeeBps uint64 `toml:"PlatformFeeBps"`
}

// Curve parameterises the informational utilisation/APY curve.
type Curve struct {
	BaseAPYBps            uint64 `toml:"BaseAPYBps"`
	TargetUtilizationBps  uint64 `toml:"TargetUtilizationBps"`
	MidpointMultiplierBps uint64 `toml:"MidpointMultiplierBps"`
	MaxMultiplierBps      uint64 `toml:"MaxMultiplierBps"`
}

// Distribution bounds the gradual release of parked rewards.
type Distribution struct {
	MaxBatch           uint64 `toml:"MaxBatch"`
	MinIntervalSeconds uint64 `toml:"MinIntervalSeconds"`
}

// Limits groups the risk limits applied to pool capital and deployments.
type Limits struct {
	MaxUtilizationBps              uint64 `toml:"MaxUtilizationBps"`
	MaxSubscriptionExtensionMonths uint64 `toml:"MaxSubscriptionExtensionMonths"`
}
