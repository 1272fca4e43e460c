package treasury

import (
	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
	"github.com/holiman/uint256"
)

// ClaimResult splits a claim into accumulator reward and duration bonus.
type ClaimResult struct {
	Base  uint64
	Bonus uint64
	Total uint64
}

// DistributionResult describes a closed duration epoch.
type DistributionResult struct {
	Epoch         uint64
	Released      uint64
	TotalWeight   *uint256.Int
	RatePerWeight *uint256.Int
}

// touchStaker brings a position up to date with the ledger before its stake
// changes: duration weight first, then accumulator settlement.
func (tx *txn) touchStaker(s *StakerPosition) error {
	if err := tx.syncDuration(s); err != nil {
		return err
	}
	return tx.settle(s)
}

// settle credits deposited x (reward_per_share - reward_debt) / Precision and
// snapshots the accumulator.
func (tx *txn) settle(s *StakerPosition) error {
	base, err := tx.accruedReward(s)
	if err != nil {
		return err
	}
	if s.UnclaimedRewards, err = add64(s.UnclaimedRewards, base); err != nil {
		return err
	}
	s.RewardDebt = new(uint256.Int).Set(zeroIfNil(tx.ledger.RewardPerShare))
	return nil
}

// accruedReward is the accumulator reward settle would credit to s now.
func (tx *txn) accruedReward(s *StakerPosition) (uint64, error) {
	delta, err := subWord(zeroIfNil(tx.ledger.RewardPerShare), zeroIfNil(s.RewardDebt))
	if err != nil {
		return 0, err
	}
	if delta.IsZero() || s.Deposited == 0 {
		return 0, nil
	}
	return shareOf(s.Deposited, delta)
}

// rewardObligations sums the reward pool balance owed or parked for stakers:
// pending and reserved rewards plus every position's settled and unsettled
// accumulator reward.
func (tx *txn) rewardObligations() (uint64, error) {
	owed, err := add64(tx.ledger.PendingRewards, tx.ledger.BonusReserve)
	if err != nil {
		return 0, err
	}
	err = tx.state.ForEachStaker(func(stored *StakerPosition) error {
		s := stored
		if cached, ok := tx.stakers[stored.ID]; ok {
			s = cached
		}
		accrued, err := tx.accruedReward(s)
		if err != nil {
			return err
		}
		if owed, err = add64(owed, s.UnclaimedRewards); err != nil {
			return err
		}
		owed, err = add64(owed, accrued)
		return err
	})
	if err != nil {
		return 0, err
	}
	return owed, nil
}

// excessRewards is the part of the reward pool no staker obligation covers.
func (tx *txn) excessRewards() (uint64, error) {
	owed, err := tx.rewardObligations()
	if err != nil {
		return 0, err
	}
	if tx.ledger.RewardPool <= owed {
		return 0, nil
	}
	return tx.ledger.RewardPool - owed, nil
}

// ExcessRewards reports how much of the reward pool an admin may sweep.
func (e *Engine) ExcessRewards() (uint64, error) {
	var out uint64
	err := e.view(func(tx *txn) error {
		var err error
		out, err = tx.excessRewards()
		return err
	})
	return out, err
}

// WithdrawExcessRewards debits the reward pool for an admin sweep bounded by
// the unprotected balance.
func (e *Engine) WithdrawExcessRewards(capability *nativecommon.Capability, amount uint64) error {
	return e.execute("withdraw_excess_rewards", capability, adminRoles, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		excess, err := tx.excessRewards()
		if err != nil {
			return err
		}
		if amount > excess {
			return ErrProtectedRewards
		}
		tx.ledger.RewardPool -= amount
		return nil
	})
}

// syncDuration materialises bonus from closed epochs the position has not yet
// seen and accrues its weight in the open epoch.
func (tx *txn) syncDuration(s *StakerPosition) error {
	weight := zeroIfNil(s.DurationWeight)
	if s.WeightEpoch < tx.ledger.Epoch {
		first, err := tx.epoch(s.WeightEpoch)
		if err != nil {
			return err
		}
		if first.End > s.LastUpdateTime {
			tail, err := mulWord(u256(s.Deposited), u256(first.End-s.LastUpdateTime))
			if err != nil {
				return err
			}
			if weight, err = addWord(weight, tail); err != nil {
				return err
			}
		}
		owed, err := mulWord(weight, zeroIfNil(first.RatePerWeight))
		if err != nil {
			return err
		}
		if s.WeightEpoch+1 < tx.ledger.Epoch && s.Deposited > 0 {
			// Every later closed epoch saw the position's full stake for its
			// whole length.
			last, err := tx.epoch(tx.ledger.Epoch - 1)
			if err != nil {
				return err
			}
			span, err := subWord(zeroIfNil(last.CumulativeRate), zeroIfNil(first.CumulativeRate))
			if err != nil {
				return err
			}
			full, err := mulWord(u256(s.Deposited), span)
			if err != nil {
				return err
			}
			if owed, err = addWord(owed, full); err != nil {
				return err
			}
		}
		bonus, err := narrow(new(uint256.Int).Div(owed, precisionWord))
		if err != nil {
			return err
		}
		if s.BonusRewards, err = add64(s.BonusRewards, bonus); err != nil {
			return err
		}
		weight = new(uint256.Int)
		s.WeightEpoch = tx.ledger.Epoch
		if s.LastUpdateTime < tx.ledger.EpochStart {
			s.LastUpdateTime = tx.ledger.EpochStart
		}
	}
	if tx.now > s.LastUpdateTime {
		accrued, err := mulWord(u256(s.Deposited), u256(tx.now-s.LastUpdateTime))
		if err != nil {
			return err
		}
		if weight, err = addWord(weight, accrued); err != nil {
			return err
		}
		s.LastUpdateTime = tx.now
	}
	s.DurationWeight = weight
	return nil
}

// Claim pays the caller's settled reward and duration bonus. A claim with
// nothing owed returns ErrNothingToClaim and commits nothing.
func (e *Engine) Claim(capability *nativecommon.Capability) (ClaimResult, error) {
	var result ClaimResult
	err := e.execute("claim", capability, stakerRoles, func(tx *txn) error {
		s, err := tx.staker(capability.Caller, false)
		if err != nil {
			return err
		}
		if err := tx.touchStaker(s); err != nil {
			return err
		}
		total, err := add64(s.UnclaimedRewards, s.BonusRewards)
		if err != nil {
			return err
		}
		if total == 0 {
			return ErrNothingToClaim
		}
		l := tx.ledger
		if l.RewardPool, err = sub64(l.RewardPool, total); err != nil {
			return err
		}
		if l.BonusReserve, err = sub64(l.BonusReserve, s.BonusRewards); err != nil {
			return err
		}
		if l.TotalRewardsClaimed, err = add64(l.TotalRewardsClaimed, total); err != nil {
			return err
		}
		if s.TotalClaimed, err = add64(s.TotalClaimed, total); err != nil {
			return err
		}
		result = ClaimResult{Base: s.UnclaimedRewards, Bonus: s.BonusRewards, Total: total}
		s.UnclaimedRewards = 0
		s.BonusRewards = 0
		tx.putStaker(s)
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	return result, nil
}

// DistributePendingRewards releases at most maxBatch of the parked pending
// rewards to the open duration epoch, pro rata to duration weight, and opens a
// new epoch. A zero maxBatch defers to the configured cap.
func (e *Engine) DistributePendingRewards(capability *nativecommon.Capability, maxBatch uint64) (DistributionResult, error) {
	var result DistributionResult
	err := e.execute("distribute_pending_rewards", capability, adminRoles, func(tx *txn) error {
		l := tx.ledger
		if l.LastDistributionAt != 0 && l.Params.MinDistributionInterval > 0 {
			next, err := add64(l.LastDistributionAt, l.Params.MinDistributionInterval)
			if err != nil {
				return err
			}
			if tx.now < next {
				return ErrDistributionTooSoon
			}
		}
		amount := l.PendingRewards
		if maxBatch > 0 {
			amount = min64(amount, maxBatch)
		}
		if l.Params.MaxDistributionBatch > 0 {
			amount = min64(amount, l.Params.MaxDistributionBatch)
		}
		weight := zeroIfNil(l.TotalDurationWeight)
		if amount == 0 || weight.IsZero() {
			return ErrNothingToDistribute
		}
		rate, err := mulDiv(u256(amount), precisionWord, weight)
		if err != nil {
			return err
		}
		if rate.IsZero() {
			return ErrNothingToDistribute
		}
		// Reserve rounds up so that epoch shares never exceed the reserve.
		reservedWord, err := mulDivUp(rate, weight, precisionWord)
		if err != nil {
			return err
		}
		reserved, err := narrow(reservedWord)
		if err != nil {
			return err
		}
		cumulative := new(uint256.Int)
		if l.Epoch > 0 {
			prev, err := tx.epoch(l.Epoch - 1)
			if err != nil {
				return err
			}
			cumulative.Set(zeroIfNil(prev.CumulativeRate))
		}
		span, err := mulWord(u256(tx.now-l.EpochStart), rate)
		if err != nil {
			return err
		}
		if cumulative, err = addWord(cumulative, span); err != nil {
			return err
		}
		if l.PendingRewards, err = sub64(l.PendingRewards, reserved); err != nil {
			return err
		}
		if l.BonusReserve, err = add64(l.BonusReserve, reserved); err != nil {
			return err
		}
		epoch := &DistributionEpoch{
			Index:          l.Epoch,
			Start:          l.EpochStart,
			End:            tx.now,
			TotalWeight:    new(uint256.Int).Set(weight),
			RatePerWeight:  rate,
			CumulativeRate: cumulative,
			Released:       reserved,
		}
		tx.putEpoch(epoch)
		l.Epoch++
		l.EpochStart = tx.now
		l.TotalDurationWeight = new(uint256.Int)
		l.LastDistributionAt = tx.now
		result = DistributionResult{
			Epoch:         epoch.Index,
			Released:      reserved,
			TotalWeight:   new(uint256.Int).Set(weight),
			RatePerWeight: new(uint256.Int).Set(rate),
		}
		return nil
	})
	if err != nil {
		return DistributionResult{}, err
	}
	return result, nil
}

// Claimable previews what a claim by the staker would pay now.
func (e *Engine) Claimable(stakerID string) (ClaimResult, error) {
	var result ClaimResult
	err := e.view(func(tx *txn) error {
		if err := tx.accrueWeight(); err != nil {
			return err
		}
		s, err := tx.staker(stakerID, false)
		if err != nil {
			return err
		}
		if err := tx.touchStaker(s); err != nil {
			return err
		}
		total, err := add64(s.UnclaimedRewards, s.BonusRewards)
		if err != nil {
			return err
		}
		result = ClaimResult{Base: s.UnclaimedRewards, Bonus: s.BonusRewards, Total: total}
		return nil
	})
	return result, err
}
