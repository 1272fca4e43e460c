package treasury

import (
	"fmt"

	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
	"github.com/holiman/uint256"
)

var (
	adminRoles  = []nativecommon.Role{nativecommon.RoleAdmin}
	stakerRoles = []nativecommon.Role{nativecommon.RoleStaker}
)

// DepositResult reports how a deposit was split.
type DepositResult struct {
	Net         uint64
	RewardFee   uint64
	PlatformFee uint64
}

// CloseResult reports the pool balances swept at teardown.
type CloseResult struct {
	RewardPoolSwept   uint64
	PlatformPoolSwept uint64
}

// Initialize creates the ledger with the supplied parameters.
func (e *Engine) Initialize(capability *nativecommon.Capability, params Params) error {
	if e == nil {
		return errNilState
	}
	if err := params.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	caller := callerOf(capability)
	if err := nativecommon.Guard(capability, nativecommon.RoleAdmin); err != nil {
		e.notify("initialize", caller, err, nil, 0)
		return err
	}
	if _, ok, err := e.state.GetLedger(); err != nil {
		return err
	} else if ok {
		e.notify("initialize", caller, ErrAlreadyInitialized, nil, 0)
		return ErrAlreadyInitialized
	}
	now := e.nowUnix()
	ledger := &Ledger{
		RewardPerShare:      new(uint256.Int),
		TotalDurationWeight: new(uint256.Int),
		LastWeightUpdate:    now,
		EpochStart:          now,
		QueueHead:           1,
		QueueTail:           1,
		LastObservedTime:    now,
		Params:              params,
	}
	if err := e.state.Commit(&ChangeSet{Ledger: ledger}); err != nil {
		err = fmt.Errorf("treasury: commit initialize: %w", err)
		e.notify("initialize", caller, err, nil, now)
		return err
	}
	e.logger.Info("treasury ledger initialised",
		"reward_fee_bps", params.RewardFeeBps,
		"platform_fee_bps", params.PlatformFeeBps,
		"max_utilization_bps", params.MaxUtilizationBps)
	e.notify("initialize", caller, nil, ledger.Clone(), now)
	return nil
}

// CloseLedger tears the ledger down once no capital, debt, queued withdrawal
// or staker reward obligation remains. The residual pool balances are swept
// and reported for the transfer executor.
func (e *Engine) CloseLedger(capability *nativecommon.Capability) (CloseResult, error) {
	var result CloseResult
	err := e.execute("close_ledger", capability, adminRoles, func(tx *txn) error {
		l := tx.ledger
		if l.TotalDeposited != 0 || l.TotalBorrowed != 0 || l.QueuedWithdrawals != 0 {
			return ErrLedgerNotEmpty
		}
		var ids []string
		if err := tx.state.ForEachStaker(func(s *StakerPosition) error {
			ids = append(ids, s.ID)
			return nil
		}); err != nil {
			return err
		}
		for _, id := range ids {
			s, err := tx.staker(id, false)
			if err != nil {
				return err
			}
			if err := tx.touchStaker(s); err != nil {
				return err
			}
			if s.UnclaimedRewards != 0 || s.BonusRewards != 0 {
				return ErrLedgerNotEmpty
			}
		}
		result = CloseResult{RewardPoolSwept: l.RewardPool, PlatformPoolSwept: l.PlatformPool}
		l.RewardPool = 0
		l.PlatformPool = 0
		l.PendingRewards = 0
		l.BonusReserve = 0
		l.Closed = true
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	return result, nil
}

// Deposit stakes amount for the capability's caller and returns the net
// amount credited after fees.
func (e *Engine) Deposit(capability *nativecommon.Capability, amount uint64) (DepositResult, error) {
	var result DepositResult
	err := e.execute("deposit", capability, stakerRoles, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		rewardFee, err := feeHalfUp(amount, tx.ledger.Params.RewardFeeBps)
		if err != nil {
			return err
		}
		platformFee, err := feeHalfUp(amount, tx.ledger.Params.PlatformFeeBps)
		if err != nil {
			return err
		}
		fees, err := add64(rewardFee, platformFee)
		if err != nil {
			return err
		}
		net, err := sub64(amount, fees)
		if err != nil {
			return err
		}
		if net == 0 {
			return ErrInvalidAmount
		}
		// Fees accrue to the stake present before this deposit.
		if err := tx.creditRewardFee(rewardFee); err != nil {
			return err
		}
		if err := tx.creditPlatformFee(platformFee); err != nil {
			return err
		}
		s, err := tx.staker(capability.Caller, true)
		if err != nil {
			return err
		}
		if err := tx.touchStaker(s); err != nil {
			return err
		}
		if s.Deposited, err = add64(s.Deposited, net); err != nil {
			return err
		}
		if tx.ledger.TotalDeposited, err = add64(tx.ledger.TotalDeposited, net); err != nil {
			return err
		}
		if tx.ledger.LiquidBalance, err = add64(tx.ledger.LiquidBalance, net); err != nil {
			return err
		}
		tx.putStaker(s)
		result = DepositResult{Net: net, RewardFee: rewardFee, PlatformFee: platformFee}
		return nil
	})
	if err != nil {
		return DepositResult{}, err
	}
	return result, nil
}

// Withdraw unstakes amount directly from direct liquidity.
func (e *Engine) Withdraw(capability *nativecommon.Capability, amount uint64) (uint64, error) {
	err := e.execute("withdraw", capability, stakerRoles, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		s, err := tx.staker(capability.Caller, false)
		if err != nil {
			return err
		}
		free, err := sub64(s.Deposited, s.QueuedAmount)
		if err != nil {
			return err
		}
		if amount > free {
			return ErrInsufficientStake
		}
		direct, err := tx.directLiquidity()
		if err != nil {
			return err
		}
		if amount > direct {
			return ErrInsufficientLiquidBalance
		}
		if err := tx.touchStaker(s); err != nil {
			return err
		}
		if err := tx.removeStake(s, amount); err != nil {
			return err
		}
		tx.putStaker(s)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// EmergencyWithdraw unstakes as much of amount as direct liquidity covers and
// returns the amount paid. Rewards are settled before the stake changes. It
// fails with ErrInsufficientLiquidBalance only when nothing can be paid.
func (e *Engine) EmergencyWithdraw(capability *nativecommon.Capability, amount uint64) (uint64, error) {
	var paid uint64
	err := e.execute("emergency_withdraw", capability, stakerRoles, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		s, err := tx.staker(capability.Caller, false)
		if err != nil {
			return err
		}
		free, err := sub64(s.Deposited, s.QueuedAmount)
		if err != nil {
			return err
		}
		if amount > free {
			return ErrInsufficientStake
		}
		direct, err := tx.directLiquidity()
		if err != nil {
			return err
		}
		paid = min64(amount, direct)
		if paid == 0 {
			return ErrInsufficientLiquidBalance
		}
		if err := tx.touchStaker(s); err != nil {
			return err
		}
		if err := tx.removeStake(s, paid); err != nil {
			return err
		}
		tx.putStaker(s)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return paid, nil
}

// CreditFee routes an external fee inflow into the reward or platform pool.
func (e *Engine) CreditFee(capability *nativecommon.Capability, amount uint64, destination FeeDestination) error {
	return e.execute("credit_fee", capability, adminRoles, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		switch destination {
		case FeeToRewards:
			return tx.creditRewardFee(amount)
		case FeeToPlatform:
			return tx.creditPlatformFee(amount)
		default:
			return ErrInvalidFeeDestination
		}
	})
}

// WithdrawPlatformFees debits the platform pool for an admin sweep.
func (e *Engine) WithdrawPlatformFees(capability *nativecommon.Capability, amount uint64) error {
	return e.execute("withdraw_platform_fees", capability, adminRoles, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		if amount > tx.ledger.PlatformPool {
			return ErrInsufficientPlatformFees
		}
		tx.ledger.PlatformPool -= amount
		return nil
	})
}

// SetFeeRates updates the deposit fee rates.
func (e *Engine) SetFeeRates(capability *nativecommon.Capability, rewardFeeBps, platformFeeBps uint64) error {
	return e.updateParams("set_fee_rates", capability, func(p *Params) {
		p.RewardFeeBps = rewardFeeBps
		p.PlatformFeeBps = platformFeeBps
	})
}

// SetCurveParams updates the informational utilisation curve.
func (e *Engine) SetCurveParams(capability *nativecommon.Capability, baseAPYBps, targetUtilizationBps, midpointMultiplierBps, maxMultiplierBps uint64) error {
	return e.updateParams("set_curve_params", capability, func(p *Params) {
		p.BaseAPYBps = baseAPYBps
		p.TargetUtilizationBps = targetUtilizationBps
		p.MidpointMultiplierBps = midpointMultiplierBps
		p.MaxMultiplierBps = maxMultiplierBps
	})
}

// SetDistributionPolicy updates the batch cap and minimum interval of pending
// reward releases.
func (e *Engine) SetDistributionPolicy(capability *nativecommon.Capability, maxBatch, minIntervalSeconds uint64) error {
	return e.updateParams("set_distribution_policy", capability, func(p *Params) {
		p.MaxDistributionBatch = maxBatch
		p.MinDistributionInterval = minIntervalSeconds
	})
}

// SetMaxUtilization updates the utilisation ceiling. The new ceiling must
// already hold for the current pool.
func (e *Engine) SetMaxUtilization(capability *nativecommon.Capability, maxUtilizationBps uint64) error {
	return e.updateParams("set_max_utilization", capability, func(p *Params) {
		p.MaxUtilizationBps = maxUtilizationBps
	})
}

func (e *Engine) updateParams(op string, capability *nativecommon.Capability, mutate func(*Params)) error {
	return e.execute(op, capability, adminRoles, func(tx *txn) error {
		params := tx.ledger.Params
		mutate(&params)
		if err := params.Validate(); err != nil {
			return err
		}
		ok, err := withinCeiling(tx.ledger.TotalBorrowed, tx.ledger.LiquidBalance, params.MaxUtilizationBps)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUtilizationExceeded
		}
		tx.ledger.Params = params
		return nil
	})
}

// accrueWeight folds total_deposited x elapsed into the open epoch.
func (tx *txn) accrueWeight() error {
	l := tx.ledger
	if tx.now <= l.LastWeightUpdate {
		return nil
	}
	elapsed := tx.now - l.LastWeightUpdate
	added, err := mulWord(u256(l.TotalDeposited), u256(elapsed))
	if err != nil {
		return err
	}
	if l.TotalDurationWeight, err = addWord(zeroIfNil(l.TotalDurationWeight), added); err != nil {
		return err
	}
	l.LastWeightUpdate = tx.now
	return nil
}

// creditRewardFee routes a fee into the reward pool and the accumulator. With
// no stake present the fee is parked in pending rewards. Otherwise the part
// the accumulator cannot represent exactly is parked.
func (tx *txn) creditRewardFee(amount uint64) error {
	if amount == 0 {
		return nil
	}
	l := tx.ledger
	var err error
	if l.RewardPool, err = add64(l.RewardPool, amount); err != nil {
		return err
	}
	if l.TotalFeesCredited, err = add64(l.TotalFeesCredited, amount); err != nil {
		return err
	}
	if l.TotalDeposited == 0 {
		l.PendingRewards, err = add64(l.PendingRewards, amount)
		return err
	}
	total := u256(l.TotalDeposited)
	delta, err := mulDiv(u256(amount), precisionWord, total)
	if err != nil {
		return err
	}
	// Rounded up so that stakers can never be owed more than was credited.
	distributedWord, err := mulDivUp(delta, total, precisionWord)
	if err != nil {
		return err
	}
	distributed, err := narrow(distributedWord)
	if err != nil {
		return err
	}
	remainder, err := sub64(amount, distributed)
	if err != nil {
		return err
	}
	if l.RewardPerShare, err = addWord(zeroIfNil(l.RewardPerShare), delta); err != nil {
		return err
	}
	l.PendingRewards, err = add64(l.PendingRewards, remainder)
	return err
}

func (tx *txn) creditPlatformFee(amount uint64) error {
	var err error
	tx.ledger.PlatformPool, err = add64(tx.ledger.PlatformPool, amount)
	return err
}

// removeStake reduces a touched staker's stake and the matching pool totals
// for an outflow to the staker.
func (tx *txn) removeStake(s *StakerPosition, amount uint64) error {
	var err error
	if s.Deposited, err = sub64(s.Deposited, amount); err != nil {
		return err
	}
	l := tx.ledger
	if l.TotalDeposited, err = sub64(l.TotalDeposited, amount); err != nil {
		return err
	}
	l.LiquidBalance, err = sub64(l.LiquidBalance, amount)
	return err
}

// withdrawableLiquidity is the largest outflow that keeps utilisation within
// the ceiling.
func (tx *txn) withdrawableLiquidity() (uint64, error) {
	l := tx.ledger
	if l.TotalBorrowed == 0 {
		return l.LiquidBalance, nil
	}
	reserve, err := mulDivUp(u256(l.TotalBorrowed), basisPointsWord, u256(l.Params.MaxUtilizationBps))
	if err != nil {
		return 0, err
	}
	capital := new(uint256.Int).Add(u256(l.TotalBorrowed), u256(l.LiquidBalance))
	if reserve.Cmp(capital) >= 0 {
		return 0, nil
	}
	available, err := narrow(new(uint256.Int).Sub(capital, reserve))
	if err != nil {
		return 0, err
	}
	return min64(available, l.LiquidBalance), nil
}

// directLiquidity is withdrawable liquidity not reserved for the queue.
func (tx *txn) directLiquidity() (uint64, error) {
	withdrawable, err := tx.withdrawableLiquidity()
	if err != nil {
		return 0, err
	}
	if withdrawable <= tx.ledger.QueuedWithdrawals {
		return 0, nil
	}
	return withdrawable - tx.ledger.QueuedWithdrawals, nil
}

// disbursableLiquidity is liquid balance not reserved for the queue.
func (tx *txn) disbursableLiquidity() uint64 {
	if tx.ledger.LiquidBalance <= tx.ledger.QueuedWithdrawals {
		return 0
	}
	return tx.ledger.LiquidBalance - tx.ledger.QueuedWithdrawals
}

// releaseFunds moves liquid capital to borrowed capital.
func (tx *txn) releaseFunds(amount uint64) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	l := tx.ledger
	if amount > tx.disbursableLiquidity() {
		return ErrInsufficientLiquidBalance
	}
	borrowed, err := add64(l.TotalBorrowed, amount)
	if err != nil {
		return err
	}
	ok, err := withinCeiling(borrowed, l.LiquidBalance-amount, l.Params.MaxUtilizationBps)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUtilizationExceeded
	}
	l.LiquidBalance -= amount
	l.TotalBorrowed = borrowed
	return nil
}

// withinCeiling compares borrowed / (borrowed + liquid) against ceilingBps
// without rounding.
func withinCeiling(borrowed, liquid, ceilingBps uint64) (bool, error) {
	lhs, err := mulWord(u256(borrowed), basisPointsWord)
	if err != nil {
		return false, err
	}
	capital := new(uint256.Int).Add(u256(borrowed), u256(liquid))
	rhs, err := mulWord(u256(ceilingBps), capital)
	if err != nil {
		return false, err
	}
	return lhs.Cmp(rhs) <= 0, nil
}

// repayDebt restores up to outstanding as liquid capital and routes any excess
// to the reward pool as a fee inflow.
func (tx *txn) repayDebt(amount, outstanding uint64) (principal, excess uint64, err error) {
	principal = min64(amount, outstanding)
	excess = amount - principal
	l := tx.ledger
	if l.TotalBorrowed, err = sub64(l.TotalBorrowed, principal); err != nil {
		return 0, 0, err
	}
	if l.LiquidBalance, err = add64(l.LiquidBalance, principal); err != nil {
		return 0, 0, err
	}
	if l.TotalRepaid, err = add64(l.TotalRepaid, principal); err != nil {
		return 0, 0, err
	}
	if err := tx.creditRewardFee(excess); err != nil {
		return 0, 0, err
	}
	return principal, excess, nil
}
