package treasury

import "fmt"

// LiquidityView summarises the pool's capital as of the last operation.
type LiquidityView struct {
	LiquidBalance     uint64
	TotalBorrowed     uint64
	QueuedWithdrawals uint64
	Withdrawable      uint64
	Direct            uint64
	Disbursable       uint64
	UtilizationBps    uint64
}

// Ledger returns a snapshot of the pool aggregate.
func (e *Engine) Ledger() (*Ledger, error) {
	var out *Ledger
	err := e.view(func(tx *txn) error {
		out = tx.ledger.Clone()
		return nil
	})
	return out, err
}

// Staker returns a snapshot of a staker position.
func (e *Engine) Staker(id string) (*StakerPosition, error) {
	var out *StakerPosition
	err := e.view(func(tx *txn) error {
		s, err := tx.staker(id, false)
		if err != nil {
			return err
		}
		out = s.Clone()
		return nil
	})
	return out, err
}

// QueueEntry returns the queue entry at position.
func (e *Engine) QueueEntry(position uint64) (*QueueEntry, error) {
	var out *QueueEntry
	err := e.view(func(tx *txn) error {
		entry, err := tx.queueEntry(position)
		if err != nil {
			return err
		}
		out = entry.Clone()
		return nil
	})
	return out, err
}

// Deployment returns a deployment's debt record with time-driven status
// changes applied as of the current clock.
func (e *Engine) Deployment(id string) (*DebtRecord, error) {
	var out *DebtRecord
	err := e.view(func(tx *txn) error {
		record, err := tx.loadDeployment(id)
		if err != nil {
			return err
		}
		out = record.Clone()
		return nil
	})
	return out, err
}

// Liquidity reports the pool's liquidity views.
func (e *Engine) Liquidity() (LiquidityView, error) {
	var out LiquidityView
	err := e.view(func(tx *txn) error {
		withdrawable, err := tx.withdrawableLiquidity()
		if err != nil {
			return err
		}
		direct, err := tx.directLiquidity()
		if err != nil {
			return err
		}
		l := tx.ledger
		out = LiquidityView{
			LiquidBalance:     l.LiquidBalance,
			TotalBorrowed:     l.TotalBorrowed,
			QueuedWithdrawals: l.QueuedWithdrawals,
			Withdrawable:      withdrawable,
			Direct:            direct,
			Disbursable:       tx.disbursableLiquidity(),
			UtilizationBps:    UtilizationBps(l.TotalBorrowed, l.LiquidBalance),
		}
		return nil
	})
	return out, err
}

// APY quotes the informational utilisation curve for the current pool.
func (e *Engine) APY() (APYQuote, error) {
	var out APYQuote
	err := e.view(func(tx *txn) error {
		out = QuoteAPY(tx.ledger.Params, tx.ledger.TotalBorrowed, tx.ledger.LiquidBalance)
		return nil
	})
	return out, err
}

// CheckInvariants reconciles every record against the ledger.
func (e *Engine) CheckInvariants() error {
	return e.view(func(tx *txn) error { return tx.checkInvariants() })
}

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolated, fmt.Sprintf(format, args...))
}

func (tx *txn) checkInvariants() error {
	l := tx.ledger
	capital, err := add64(l.LiquidBalance, l.TotalBorrowed)
	if err != nil {
		return err
	}
	if capital != l.TotalDeposited {
		return violation("liquid %d + borrowed %d != deposited %d", l.LiquidBalance, l.TotalBorrowed, l.TotalDeposited)
	}
	within, err := withinCeiling(l.TotalBorrowed, l.LiquidBalance, l.Params.MaxUtilizationBps)
	if err != nil {
		return err
	}
	if !within {
		return violation("utilization of borrowed %d over liquid %d above %d bps", l.TotalBorrowed, l.LiquidBalance, l.Params.MaxUtilizationBps)
	}
	if l.QueuedWithdrawals > l.LiquidBalance+l.TotalBorrowed {
		return violation("queued %d exceeds pool capital", l.QueuedWithdrawals)
	}

	var deposited, stakerQueued uint64
	if err := tx.state.ForEachStaker(func(s *StakerPosition) error {
		if s.QueuedAmount > s.Deposited {
			return violation("staker %s queued %d above deposit %d", s.ID, s.QueuedAmount, s.Deposited)
		}
		if zeroIfNil(s.RewardDebt).Cmp(zeroIfNil(l.RewardPerShare)) > 0 {
			return violation("staker %s reward debt ahead of accumulator", s.ID)
		}
		deposited += s.Deposited
		stakerQueued += s.QueuedAmount
		return nil
	}); err != nil {
		return err
	}
	if deposited != l.TotalDeposited {
		return violation("staker deposits %d != total deposited %d", deposited, l.TotalDeposited)
	}
	if stakerQueued != l.QueuedWithdrawals {
		return violation("staker queued %d != ledger queued %d", stakerQueued, l.QueuedWithdrawals)
	}

	var open uint64
	var lastPosition uint64
	if err := tx.state.ForEachQueueEntry(func(q *QueueEntry) error {
		if q.Position <= lastPosition || q.Position >= l.QueueTail {
			return violation("queue position %d out of order", q.Position)
		}
		lastPosition = q.Position
		if q.Fulfilled > q.Requested {
			return violation("queue entry %d over-fulfilled", q.Position)
		}
		if !q.Status.Retired() && q.Position < l.QueueHead {
			return violation("open queue entry %d behind head %d", q.Position, l.QueueHead)
		}
		open += q.Remaining()
		return nil
	}); err != nil {
		return err
	}
	if open != l.QueuedWithdrawals {
		return violation("open queue remainder %d != queued %d", open, l.QueuedWithdrawals)
	}

	var outstanding uint64
	if err := tx.state.ForEachDebtRecord(func(d *DebtRecord) error {
		if d.DebtOutstanding > d.BorrowedAmount {
			return violation("deployment %s outstanding above borrowed", d.DeploymentID)
		}
		outstanding += d.DebtOutstanding
		return nil
	}); err != nil {
		return err
	}
	if outstanding != l.TotalBorrowed {
		return violation("deployment debt %d != borrowed %d", outstanding, l.TotalBorrowed)
	}

	obligations, err := tx.rewardObligations()
	if err != nil {
		return err
	}
	if l.RewardPool < obligations {
		return violation("reward pool %d below obligations %d", l.RewardPool, obligations)
	}
	return nil
}
