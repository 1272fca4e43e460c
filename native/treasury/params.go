package treasury

import "fmt"

// Params groups the policy constants fixed at initialisation and adjustable
// only through explicit admin operations. Rates are expressed in basis points.
type Params struct {
	// RewardFeeBps is skimmed from every deposit into the reward pool.
	RewardFeeBps uint64
	// PlatformFeeBps is skimmed from every deposit into the platform pool.
	PlatformFeeBps uint64
	// MaxUtilizationBps caps borrowed / (borrowed + liquid) after every
	// mutation.
	MaxUtilizationBps uint64
	// BaseAPYBps is the informational rate at zero utilisation.
	BaseAPYBps uint64
	// TargetUtilizationBps is the kink of the utilisation curve.
	TargetUtilizationBps uint64
	// MidpointMultiplierBps is the curve multiplier reached at the target.
	MidpointMultiplierBps uint64
	// MaxMultiplierBps is the curve multiplier reached at full utilisation.
	MaxMultiplierBps uint64
	// MaxSubscriptionExtensionMonths bounds a single subscription payment.
	MaxSubscriptionExtensionMonths uint64
	// MaxDistributionBatch caps the pending rewards released per
	// distribution. Zero disables the cap.
	MaxDistributionBatch uint64
	// MinDistributionInterval is the number of seconds that must separate
	// two distributions.
	MinDistributionInterval uint64
}

// DefaultParams returns the protocol defaults.
func DefaultParams() Params {
	return Params{
		RewardFeeBps:                   100,
		PlatformFeeBps:                 10,
		MaxUtilizationBps:              8_000,
		BaseAPYBps:                     500,
		TargetUtilizationBps:           6_000,
		MidpointMultiplierBps:          15_000,
		MaxMultiplierBps:               30_000,
		MaxSubscriptionExtensionMonths: 120,
		MaxDistributionBatch:           1_000_000_000,
		MinDistributionInterval:        3_600,
	}
}

// Validate ensures the parameters describe a usable pool.
func (p Params) Validate() error {
	if p.RewardFeeBps > basisPoints || p.PlatformFeeBps > basisPoints {
		return fmt.Errorf("%w: fee rates must not exceed %d bps", ErrInvalidParams, basisPoints)
	}
	if p.RewardFeeBps+p.PlatformFeeBps > basisPoints {
		return fmt.Errorf("%w: combined fee rate %d exceeds %d bps", ErrInvalidParams, p.RewardFeeBps+p.PlatformFeeBps, basisPoints)
	}
	if p.MaxUtilizationBps == 0 || p.MaxUtilizationBps > basisPoints {
		return fmt.Errorf("%w: max utilization must be within (0, %d] bps", ErrInvalidParams, basisPoints)
	}
	if err := p.validateCurve(); err != nil {
		return err
	}
	if p.MaxSubscriptionExtensionMonths == 0 {
		return fmt.Errorf("%w: max subscription extension must be positive", ErrInvalidParams)
	}
	return nil
}

func (p Params) validateCurve() error {
	if p.BaseAPYBps > basisPoints {
		return fmt.Errorf("%w: base apy must not exceed %d bps", ErrInvalidParams, basisPoints)
	}
	if p.TargetUtilizationBps == 0 || p.TargetUtilizationBps >= basisPoints {
		return fmt.Errorf("%w: target utilization must be within (0, %d) bps", ErrInvalidParams, basisPoints)
	}
	if p.MidpointMultiplierBps < basisPoints {
		return fmt.Errorf("%w: midpoint multiplier must be at least %d bps", ErrInvalidParams, basisPoints)
	}
	if p.MaxMultiplierBps < p.MidpointMultiplierBps || p.MaxMultiplierBps > 100*basisPoints {
		return fmt.Errorf("%w: max multiplier must be within [midpoint, 100x]", ErrInvalidParams)
	}
	return nil
}
