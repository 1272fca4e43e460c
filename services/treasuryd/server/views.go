package server

import (
	"github.com/holiman/uint256"

	"github.com/D2dProtocol/d2d-program/native/treasury"
)

// 256-bit accumulators are rendered as decimal strings.
func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

type paramsView struct {
	RewardFeeBps                   uint64 `json:"reward_fee_bps"`
	PlatformFeeBps                 uint64 `json:"platform_fee_bps"`
	MaxUtilizationBps              uint64 `json:"max_utilization_bps"`
	BaseAPYBps                     uint64 `json:"base_apy_bps"`
	TargetUtilizationBps           uint64 `json:"target_utilization_bps"`
	MidpointMultiplierBps          uint64 `json:"midpoint_multiplier_bps"`
	MaxMultiplierBps               uint64 `json:"max_multiplier_bps"`
	MaxSubscriptionExtensionMonths uint64 `json:"max_subscription_extension_months"`
	MaxDistributionBatch           uint64 `json:"max_distribution_batch"`
	MinDistributionInterval        uint64 `json:"min_distribution_interval"`
}

type ledgerView struct {
	LiquidBalance       uint64     `json:"liquid_balance"`
	TotalBorrowed       uint64     `json:"total_borrowed"`
	QueuedWithdrawals   uint64     `json:"queued_withdrawals"`
	TotalDeposited      uint64     `json:"total_deposited"`
	RewardPerShare      string     `json:"reward_per_share"`
	PendingRewards      uint64     `json:"pending_rewards"`
	BonusReserve        uint64     `json:"bonus_reserve"`
	TotalDurationWeight string     `json:"total_duration_weight"`
	Epoch               uint64     `json:"epoch"`
	EpochStart          uint64     `json:"epoch_start"`
	RewardPool          uint64     `json:"reward_pool"`
	PlatformPool        uint64     `json:"platform_pool"`
	TotalFeesCredited   uint64     `json:"total_fees_credited"`
	TotalRewardsClaimed uint64     `json:"total_rewards_claimed"`
	TotalRepaid         uint64     `json:"total_repaid"`
	QueueHead           uint64     `json:"queue_head"`
	QueueTail           uint64     `json:"queue_tail"`
	LastDistributionAt  uint64     `json:"last_distribution_at"`
	LastObservedTime    uint64     `json:"last_observed_time"`
	Closed              bool       `json:"closed"`
	Params              paramsView `json:"params"`
}

func newLedgerView(l *treasury.Ledger) ledgerView {
	p := l.Params
	return ledgerView{
		LiquidBalance:       l.LiquidBalance,
		TotalBorrowed:       l.TotalBorrowed,
		QueuedWithdrawals:   l.QueuedWithdrawals,
		TotalDeposited:      l.TotalDeposited,
		RewardPerShare:      dec(l.RewardPerShare),
		PendingRewards:      l.PendingRewards,
		BonusReserve:        l.BonusReserve,
		TotalDurationWeight: dec(l.TotalDurationWeight),
		Epoch:               l.Epoch,
		EpochStart:          l.EpochStart,
		RewardPool:          l.RewardPool,
		PlatformPool:        l.PlatformPool,
		TotalFeesCredited:   l.TotalFeesCredited,
		TotalRewardsClaimed: l.TotalRewardsClaimed,
		TotalRepaid:         l.TotalRepaid,
		QueueHead:           l.QueueHead,
		QueueTail:           l.QueueTail,
		LastDistributionAt:  l.LastDistributionAt,
		LastObservedTime:    l.LastObservedTime,
		Closed:              l.Closed,
		Params: paramsView{
			RewardFeeBps:                   p.RewardFeeBps,
			PlatformFeeBps:                 p.PlatformFeeBps,
			MaxUtilizationBps:              p.MaxUtilizationBps,
			BaseAPYBps:                     p.BaseAPYBps,
			TargetUtilizationBps:           p.TargetUtilizationBps,
			MidpointMultiplierBps:          p.MidpointMultiplierBps,
			MaxMultiplierBps:               p.MaxMultiplierBps,
			MaxSubscriptionExtensionMonths: p.MaxSubscriptionExtensionMonths,
			MaxDistributionBatch:           p.MaxDistributionBatch,
			MinDistributionInterval:        p.MinDistributionInterval,
		},
	}
}

type stakerView struct {
	ID               string     `json:"id"`
	Deposited        uint64     `json:"deposited"`
	RewardDebt       string     `json:"reward_debt"`
	UnclaimedRewards uint64     `json:"unclaimed_rewards"`
	BonusRewards     uint64     `json:"bonus_rewards"`
	DurationWeight   string     `json:"duration_weight"`
	WeightEpoch      uint64     `json:"weight_epoch"`
	LastUpdateTime   uint64     `json:"last_update_time"`
	QueuedAmount     uint64     `json:"queued_amount"`
	TotalClaimed     uint64     `json:"total_claimed"`
	CreatedAt        uint64     `json:"created_at"`
	Claimable        *claimView `json:"claimable,omitempty"`
}

type claimView struct {
	Base  uint64 `json:"base"`
	Bonus uint64 `json:"bonus"`
	Total uint64 `json:"total"`
}

func newStakerView(s *treasury.StakerPosition, claimable *treasury.ClaimResult) stakerView {
	view := stakerView{
		ID:               s.ID,
		Deposited:        s.Deposited,
		RewardDebt:       dec(s.RewardDebt),
		UnclaimedRewards: s.UnclaimedRewards,
		BonusRewards:     s.BonusRewards,
		DurationWeight:   dec(s.DurationWeight),
		WeightEpoch:      s.WeightEpoch,
		LastUpdateTime:   s.LastUpdateTime,
		QueuedAmount:     s.QueuedAmount,
		TotalClaimed:     s.TotalClaimed,
		CreatedAt:        s.CreatedAt,
	}
	if claimable != nil {
		view.Claimable = &claimView{Base: claimable.Base, Bonus: claimable.Bonus, Total: claimable.Total}
	}
	return view
}

type queueView struct {
	Position  uint64 `json:"position"`
	StakerID  string `json:"staker_id"`
	Requested uint64 `json:"requested"`
	Fulfilled uint64 `json:"fulfilled"`
	Remaining uint64 `json:"remaining"`
	Status    string `json:"status"`
	CreatedAt uint64 `json:"created_at"`
	UpdatedAt uint64 `json:"updated_at"`
}

func newQueueView(e *treasury.QueueEntry) queueView {
	return queueView{
		Position:  e.Position,
		StakerID:  e.StakerID,
		Requested: e.Requested,
		Fulfilled: e.Fulfilled,
		Remaining: e.Remaining(),
		Status:    e.Status.String(),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

type deploymentView struct {
	DeploymentID          string `json:"deployment_id"`
	BorrowedAmount        uint64 `json:"borrowed_amount"`
	DebtOutstanding       uint64 `json:"debt_outstanding"`
	RepaidAmount          uint64 `json:"repaid_amount"`
	RecoveredTotal        uint64 `json:"recovered_total"`
	Status                string `json:"status"`
	TerminalCause         string `json:"terminal_cause,omitempty"`
	SubscriptionPaidUntil uint64 `json:"subscription_paid_until"`
	GracePeriodEnd        uint64 `json:"grace_period_end"`
	TotalSubscribedMonths uint64 `json:"total_subscribed_months"`
	OpenedAt              uint64 `json:"opened_at"`
	UpdatedAt             uint64 `json:"updated_at"`
}

func newDeploymentView(d *treasury.DebtRecord) deploymentView {
	view := deploymentView{
		DeploymentID:          d.DeploymentID,
		BorrowedAmount:        d.BorrowedAmount,
		DebtOutstanding:       d.DebtOutstanding,
		RepaidAmount:          d.RepaidAmount,
		RecoveredTotal:        d.RecoveredTotal,
		Status:                d.Status.String(),
		SubscriptionPaidUntil: d.SubscriptionPaidUntil,
		GracePeriodEnd:        d.GracePeriodEnd,
		TotalSubscribedMonths: d.TotalSubscribedMonths,
		OpenedAt:              d.OpenedAt,
		UpdatedAt:             d.UpdatedAt,
	}
	if d.TerminalCause != 0 {
		view.TerminalCause = d.TerminalCause.String()
	}
	return view
}

type liquidityView struct {
	LiquidBalance     uint64 `json:"liquid_balance"`
	TotalBorrowed     uint64 `json:"total_borrowed"`
	QueuedWithdrawals uint64 `json:"queued_withdrawals"`
	Withdrawable      uint64 `json:"withdrawable"`
	Direct            uint64 `json:"direct"`
	Disbursable       uint64 `json:"disbursable"`
	UtilizationBps    uint64 `json:"utilization_bps"`
}

func newLiquidityView(v treasury.LiquidityView) liquidityView {
	return liquidityView(v)
}

type apyView struct {
	UtilizationBps uint64 `json:"utilization_bps"`
	MultiplierBps  uint64 `json:"multiplier_bps"`
	APYBps         uint64 `json:"apy_bps"`
}
