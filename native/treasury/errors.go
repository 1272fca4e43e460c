package treasury

import "errors"

var (
	ErrArithmeticOverflow          = errors.New("treasury: arithmetic overflow")
	ErrInsufficientLiquidBalance   = errors.New("treasury: insufficient liquid balance")
	ErrUtilizationExceeded         = errors.New("treasury: utilization ceiling exceeded")
	ErrInvalidQueuePosition        = errors.New("treasury: invalid queue position")
	ErrAlreadyFulfilledOrCancelled = errors.New("treasury: queue entry already fulfilled or cancelled")
	ErrZeroDenominator             = errors.New("treasury: zero denominator")
	ErrInvalidStateTransition      = errors.New("treasury: invalid deployment state transition")
	ErrNothingToClaim              = errors.New("treasury: nothing to claim")

	ErrNotInitialized           = errors.New("treasury: ledger not initialised")
	ErrAlreadyInitialized       = errors.New("treasury: ledger already initialised")
	ErrLedgerClosed             = errors.New("treasury: ledger closed")
	ErrLedgerNotEmpty           = errors.New("treasury: ledger still holds deposits, debt or rewards")
	ErrInvalidAmount            = errors.New("treasury: amount must be positive")
	ErrInvalidParams            = errors.New("treasury: invalid parameters")
	ErrInsufficientStake        = errors.New("treasury: amount exceeds unqueued stake")
	ErrLiquidityAvailable       = errors.New("treasury: liquidity available, withdraw directly")
	ErrNotQueueOwner            = errors.New("treasury: queue entry belongs to another staker")
	ErrNothingToDistribute      = errors.New("treasury: nothing to distribute")
	ErrDistributionTooSoon      = errors.New("treasury: distribution interval not elapsed")
	ErrInsufficientPlatformFees = errors.New("treasury: insufficient platform pool balance")
	ErrProtectedRewards         = errors.New("treasury: amount exceeds unprotected reward pool")
	ErrInvalidFeeDestination    = errors.New("treasury: unknown fee destination")
	ErrInvalidDeploymentID      = errors.New("treasury: deployment identifier required")
	ErrDeploymentExists         = errors.New("treasury: deployment already recorded")
	ErrUnknownDeployment        = errors.New("treasury: unknown deployment")
	ErrUnknownStaker            = errors.New("treasury: unknown staker")
	ErrGracePeriodActive        = errors.New("treasury: grace period still active")
	ErrSubscriptionTooLong      = errors.New("treasury: subscription extension exceeds maximum")
	ErrInvariantViolated        = errors.New("treasury: invariant violated")

	errNilState = errors.New("treasury: state not configured")
)

// IsFatal reports whether err represents a failed operation. Informational
// outcomes are returned as errors so callers can distinguish them, but they
// carry no failure semantics.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNothingToClaim) && !errors.Is(err, ErrNothingToDistribute)
}
