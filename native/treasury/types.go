package treasury

import "github.com/holiman/uint256"

// Ledger is the single owning aggregate for pool-level totals. Amounts are
// denominated in the smallest unit of the native asset.
type Ledger struct {
	// LiquidBalance is capital held by the pool and not lent out.
	LiquidBalance uint64
	// TotalBorrowed is capital disbursed to deployments and not yet repaid.
	TotalBorrowed uint64
	// QueuedWithdrawals is the unfulfilled remainder of every open queue
	// entry. It is reserved for the queue and unavailable to direct
	// withdrawals.
	QueuedWithdrawals uint64
	// RewardPerShare accumulates fee inflow per staked unit, scaled by
	// Precision. It never decreases.
	RewardPerShare *uint256.Int
	// PendingRewards holds fee inflow not yet folded into the accumulator.
	PendingRewards uint64
	// BonusReserve holds pending rewards released to closed duration epochs
	// and not yet claimed.
	BonusReserve uint64
	// TotalDeposited is the sum of every staker's deposited amount.
	TotalDeposited uint64
	// TotalDurationWeight is deposited amount times seconds accrued in the
	// current epoch.
	TotalDurationWeight *uint256.Int
	// LastWeightUpdate is the last time TotalDurationWeight accrued.
	LastWeightUpdate uint64
	// Epoch is the index of the open duration epoch.
	Epoch uint64
	// EpochStart is the time the open duration epoch began.
	EpochStart uint64
	// RewardPool is the balance backing every reward obligation.
	RewardPool uint64
	// PlatformPool accumulates platform fees until swept by an admin.
	PlatformPool uint64
	// TotalFeesCredited counts every fee routed into the reward pool.
	TotalFeesCredited uint64
	// TotalRewardsClaimed counts every reward paid out of the reward pool.
	TotalRewardsClaimed uint64
	// TotalRepaid counts principal returned by deployments.
	TotalRepaid uint64
	// QueueHead is the lowest queue position that may still be open.
	QueueHead uint64
	// QueueTail is the position assigned to the next queue entry.
	QueueTail uint64
	// LastDistributionAt is the time of the last pending reward release.
	LastDistributionAt uint64
	// LastObservedTime is the largest clock value seen by the engine.
	LastObservedTime uint64
	// Closed marks a torn-down ledger.
	Closed bool
	Params Params
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	clone := *l
	clone.RewardPerShare = new(uint256.Int).Set(zeroIfNil(l.RewardPerShare))
	clone.TotalDurationWeight = new(uint256.Int).Set(zeroIfNil(l.TotalDurationWeight))
	return &clone
}

// StakerPosition tracks a single staker's stake and reward state.
type StakerPosition struct {
	ID        string
	Deposited uint64
	// RewardDebt snapshots RewardPerShare at the last settlement.
	RewardDebt *uint256.Int
	// UnclaimedRewards is settled accumulator reward awaiting a claim.
	UnclaimedRewards uint64
	// BonusRewards is materialised duration bonus awaiting a claim.
	BonusRewards uint64
	// DurationWeight is deposited amount times seconds accrued in
	// WeightEpoch.
	DurationWeight *uint256.Int
	WeightEpoch    uint64
	LastUpdateTime uint64
	QueuedAmount   uint64
	TotalClaimed   uint64
	CreatedAt      uint64
}

// Clone returns a deep copy of the position.
func (s *StakerPosition) Clone() *StakerPosition {
	if s == nil {
		return nil
	}
	clone := *s
	clone.RewardDebt = new(uint256.Int).Set(zeroIfNil(s.RewardDebt))
	clone.DurationWeight = new(uint256.Int).Set(zeroIfNil(s.DurationWeight))
	return &clone
}

// QueueStatus enumerates withdrawal queue entry states.
type QueueStatus uint8

const (
	QueuePending QueueStatus = iota + 1
	QueuePartiallyFulfilled
	QueueFulfilled
	QueueCancelled
)

func (s QueueStatus) String() string {
	switch s {
	case QueuePending:
		return "pending"
	case QueuePartiallyFulfilled:
		return "partially_fulfilled"
	case QueueFulfilled:
		return "fulfilled"
	case QueueCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retired reports whether the entry is logically closed.
func (s QueueStatus) Retired() bool { return s == QueueFulfilled || s == QueueCancelled }

// QueueEntry is a withdrawal request awaiting liquidity.
type QueueEntry struct {
	Position  uint64
	StakerID  string
	Requested uint64
	Fulfilled uint64
	Status    QueueStatus
	CreatedAt uint64
	UpdatedAt uint64
}

// Remaining returns the unfulfilled portion of the request.
func (q *QueueEntry) Remaining() uint64 {
	if q == nil || q.Status.Retired() || q.Fulfilled >= q.Requested {
		return 0
	}
	return q.Requested - q.Fulfilled
}

// Clone returns a copy of the entry.
func (q *QueueEntry) Clone() *QueueEntry {
	if q == nil {
		return nil
	}
	clone := *q
	return &clone
}

// DebtStatus enumerates the deployment lifecycle.
type DebtStatus uint8

const (
	DebtPending DebtStatus = iota + 1
	DebtActive
	DebtSubscriptionExpired
	DebtInGracePeriod
	DebtFailed
	DebtCancelled
	DebtClosed
)

func (s DebtStatus) String() string {
	switch s {
	case DebtPending:
		return "pending"
	case DebtActive:
		return "active"
	case DebtSubscriptionExpired:
		return "subscription_expired"
	case DebtInGracePeriod:
		return "in_grace_period"
	case DebtFailed:
		return "failed"
	case DebtCancelled:
		return "cancelled"
	case DebtClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further lifecycle transition is possible.
func (s DebtStatus) Terminal() bool {
	return s == DebtFailed || s == DebtCancelled || s == DebtClosed
}

// DebtRecord tracks capital lent to a single deployment.
type DebtRecord struct {
	DeploymentID    string
	BorrowedAmount  uint64
	DebtOutstanding uint64
	// RepaidAmount is principal returned to the pool.
	RepaidAmount uint64
	// RecoveredTotal is repayment in excess of principal routed to rewards.
	RecoveredTotal uint64
	Status         DebtStatus
	// TerminalCause keeps the status that ended the lifecycle once the
	// record closes.
	TerminalCause DebtStatus
	// SubscriptionPaidUntil is zero for deployments without a subscription.
	SubscriptionPaidUntil uint64
	GracePeriodEnd        uint64
	TotalSubscribedMonths uint64
	OpenedAt              uint64
	UpdatedAt             uint64
}

// Clone returns a copy of the record.
func (d *DebtRecord) Clone() *DebtRecord {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}

// DistributionEpoch records a closed duration epoch and the bonus rate paid to
// weight accrued within it.
type DistributionEpoch struct {
	Index       uint64
	Start       uint64
	End         uint64
	TotalWeight *uint256.Int
	// RatePerWeight is released bonus per unit of duration weight, scaled by
	// Precision.
	RatePerWeight *uint256.Int
	// CumulativeRate sums (End-Start)*RatePerWeight over every epoch up to and
	// including this one.
	CumulativeRate *uint256.Int
	Released       uint64
}

// Clone returns a deep copy of the epoch.
func (e *DistributionEpoch) Clone() *DistributionEpoch {
	if e == nil {
		return nil
	}
	clone := *e
	clone.TotalWeight = new(uint256.Int).Set(zeroIfNil(e.TotalWeight))
	clone.RatePerWeight = new(uint256.Int).Set(zeroIfNil(e.RatePerWeight))
	clone.CumulativeRate = new(uint256.Int).Set(zeroIfNil(e.CumulativeRate))
	return &clone
}

// FeeDestination selects the pool credited by an external fee inflow.
type FeeDestination uint8

const (
	FeeToRewards FeeDestination = iota + 1
	FeeToPlatform
)
