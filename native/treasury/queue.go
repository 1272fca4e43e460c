package treasury

import (
	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
)

// Payout is a queue fulfilment the transfer executor must pay out.
type Payout struct {
	Position uint64
	StakerID string
	Amount   uint64
	Status   QueueStatus
}

// Enqueue records a withdrawal request that direct liquidity cannot serve.
func (e *Engine) Enqueue(capability *nativecommon.Capability, amount uint64) (*QueueEntry, error) {
	var entry *QueueEntry
	err := e.execute("enqueue_withdrawal", capability, stakerRoles, func(tx *txn) error {
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
		if amount <= direct {
			return ErrLiquidityAvailable
		}
		l := tx.ledger
		position := l.QueueTail
		if l.QueueTail, err = add64(l.QueueTail, 1); err != nil {
			return err
		}
		if l.QueuedWithdrawals, err = add64(l.QueuedWithdrawals, amount); err != nil {
			return err
		}
		if s.QueuedAmount, err = add64(s.QueuedAmount, amount); err != nil {
			return err
		}
		entry = &QueueEntry{
			Position:  position,
			StakerID:  s.ID,
			Requested: amount,
			Status:    QueuePending,
			CreatedAt: tx.now,
			UpdatedAt: tx.now,
		}
		tx.putQueueEntry(entry)
		tx.putStaker(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// ProcessQueue fulfils open entries strictly in position order from
// withdrawable liquidity. It stops once liquidity runs out or maxEntries open
// entries were served, and never skips past a partially served entry.
func (e *Engine) ProcessQueue(capability *nativecommon.Capability, maxEntries uint64) ([]Payout, error) {
	var payouts []Payout
	err := e.execute("process_queue", capability, adminRoles, func(tx *txn) error {
		if maxEntries == 0 {
			return ErrInvalidAmount
		}
		available, err := tx.withdrawableLiquidity()
		if err != nil {
			return err
		}
		l := tx.ledger
		var served uint64
		for position := l.QueueHead; position < l.QueueTail; position++ {
			entry, err := tx.queueEntry(position)
			if err != nil {
				return err
			}
			if entry.Status.Retired() {
				if position == l.QueueHead {
					l.QueueHead++
				}
				continue
			}
			if available == 0 || served == maxEntries {
				break
			}
			fill := min64(entry.Remaining(), available)
			if err := tx.fulfil(entry, fill); err != nil {
				return err
			}
			available -= fill
			served++
			payouts = append(payouts, Payout{Position: position, StakerID: entry.StakerID, Amount: fill, Status: entry.Status})
			if entry.Status.Retired() && position == l.QueueHead {
				l.QueueHead++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

// fulfil pays fill out of the pool against an open entry.
func (tx *txn) fulfil(entry *QueueEntry, fill uint64) error {
	s, err := tx.staker(entry.StakerID, false)
	if err != nil {
		return err
	}
	if err := tx.touchStaker(s); err != nil {
		return err
	}
	if err := tx.removeStake(s, fill); err != nil {
		return err
	}
	if s.QueuedAmount, err = sub64(s.QueuedAmount, fill); err != nil {
		return err
	}
	if tx.ledger.QueuedWithdrawals, err = sub64(tx.ledger.QueuedWithdrawals, fill); err != nil {
		return err
	}
	if entry.Fulfilled, err = add64(entry.Fulfilled, fill); err != nil {
		return err
	}
	if entry.Fulfilled == entry.Requested {
		entry.Status = QueueFulfilled
	} else {
		entry.Status = QueuePartiallyFulfilled
	}
	entry.UpdatedAt = tx.now
	tx.putQueueEntry(entry)
	tx.putStaker(s)
	return nil
}

// CancelQueued cancels the unfulfilled remainder of the caller's entry and
// returns the released amount.
func (e *Engine) CancelQueued(capability *nativecommon.Capability, position uint64) (uint64, error) {
	var released uint64
	err := e.execute("cancel_withdrawal", capability, stakerRoles, func(tx *txn) error {
		l := tx.ledger
		if position == 0 || position >= l.QueueTail {
			return ErrInvalidQueuePosition
		}
		entry, err := tx.queueEntry(position)
		if err != nil {
			return err
		}
		if entry.StakerID != capability.Caller {
			return ErrNotQueueOwner
		}
		if entry.Status.Retired() {
			return ErrAlreadyFulfilledOrCancelled
		}
		released = entry.Remaining()
		s, err := tx.staker(entry.StakerID, false)
		if err != nil {
			return err
		}
		if s.QueuedAmount, err = sub64(s.QueuedAmount, released); err != nil {
			return err
		}
		if l.QueuedWithdrawals, err = sub64(l.QueuedWithdrawals, released); err != nil {
			return err
		}
		entry.Status = QueueCancelled
		entry.UpdatedAt = tx.now
		if position == l.QueueHead {
			l.QueueHead++
		}
		tx.putQueueEntry(entry)
		tx.putStaker(s)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}
