package treasury

import (
	"errors"
	"strings"

	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
)

const (
	secondsPerDay   uint64 = 86_400
	secondsPerMonth        = 30 * secondsPerDay
)

var (
	deploymentRoles = []nativecommon.Role{nativecommon.RoleAdmin, nativecommon.RoleDeployer}

	legalTransitions = map[DebtStatus][]DebtStatus{
		DebtPending:             {DebtActive, DebtFailed},
		DebtActive:              {DebtSubscriptionExpired, DebtCancelled},
		DebtSubscriptionExpired: {DebtActive, DebtInGracePeriod},
		DebtInGracePeriod:       {DebtActive, DebtClosed},
	}
)

// CanTransition reports whether the lifecycle table allows from -> to.
func CanTransition(from, to DebtStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GracePeriodSeconds returns the grace window granted to a deployment that has
// paid for the given number of months: 3 days, 5 days from 3 months, 7 days
// from 6 months.
func GracePeriodSeconds(subscribedMonths uint64) uint64 {
	switch {
	case subscribedMonths >= 6:
		return 7 * secondsPerDay
	case subscribedMonths >= 3:
		return 5 * secondsPerDay
	default:
		return 3 * secondsPerDay
	}
}

// DeploymentOptions configures a new debt record.
type DeploymentOptions struct {
	// AwaitConfirmation opens the record as Pending until ConfirmDeployment.
	AwaitConfirmation bool
	// SubscriptionMonths prepaid at disbursement. Zero tracks no
	// subscription.
	SubscriptionMonths uint64
}

// RepaymentResult reports how a repayment was split.
type RepaymentResult struct {
	Principal   uint64
	Excess      uint64
	Outstanding uint64
	Status      DebtStatus
}

// refreshStatus applies time-driven status changes to a record as of now.
func (tx *txn) refreshStatus(record *DebtRecord) {
	if record.Status == DebtActive && record.SubscriptionPaidUntil != 0 && tx.now >= record.SubscriptionPaidUntil {
		record.Status = DebtSubscriptionExpired
		record.UpdatedAt = tx.now
	}
}

// closeIfSettled closes a terminal record once nothing is outstanding.
func (tx *txn) closeIfSettled(record *DebtRecord) {
	if record.DebtOutstanding != 0 || !record.Status.Terminal() || record.Status == DebtClosed {
		return
	}
	record.TerminalCause = record.Status
	record.Status = DebtClosed
}

func (tx *txn) loadDeployment(id string) (*DebtRecord, error) {
	record, err := tx.debt(id)
	if err != nil {
		return nil, err
	}
	tx.refreshStatus(record)
	return record, nil
}

func extendSeconds(months uint64) (uint64, error) {
	if months > ^uint64(0)/secondsPerMonth {
		return 0, ErrArithmeticOverflow
	}
	return months * secondsPerMonth, nil
}

// OpenDeployment disburses amount from the pool to fund a deployment and
// records the resulting debt.
func (e *Engine) OpenDeployment(capability *nativecommon.Capability, deploymentID string, amount uint64, opts DeploymentOptions) (*DebtRecord, error) {
	deploymentID = strings.TrimSpace(deploymentID)
	var record *DebtRecord
	err := e.execute("open_deployment", capability, adminRoles, func(tx *txn) error {
		if deploymentID == "" {
			return ErrInvalidDeploymentID
		}
		if _, err := tx.debt(deploymentID); err == nil {
			return ErrDeploymentExists
		} else if !errors.Is(err, ErrUnknownDeployment) {
			return err
		}
		if opts.SubscriptionMonths > tx.ledger.Params.MaxSubscriptionExtensionMonths {
			return ErrSubscriptionTooLong
		}
		if err := tx.releaseFunds(amount); err != nil {
			return err
		}
		record = &DebtRecord{
			DeploymentID:          deploymentID,
			BorrowedAmount:        amount,
			DebtOutstanding:       amount,
			Status:                DebtActive,
			TotalSubscribedMonths: opts.SubscriptionMonths,
			OpenedAt:              tx.now,
			UpdatedAt:             tx.now,
		}
		if opts.AwaitConfirmation {
			record.Status = DebtPending
		}
		if opts.SubscriptionMonths > 0 {
			span, err := extendSeconds(opts.SubscriptionMonths)
			if err != nil {
				return err
			}
			if record.SubscriptionPaidUntil, err = add64(tx.now, span); err != nil {
				return err
			}
		}
		tx.putDebt(record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// ConfirmDeployment resolves a Pending record. A failed deployment returns its
// full disbursement to the pool and closes.
func (e *Engine) ConfirmDeployment(capability *nativecommon.Capability, deploymentID string, success bool) (*DebtRecord, error) {
	to := DebtActive
	if !success {
		to = DebtFailed
	}
	return e.transition("confirm_deployment", capability, deploymentID, to)
}

// StartGracePeriod moves an expired subscription into its grace window.
func (e *Engine) StartGracePeriod(capability *nativecommon.Capability, deploymentID string) (*DebtRecord, error) {
	return e.transition("start_grace_period", capability, deploymentID, DebtInGracePeriod)
}

// TransitionDeployment applies an explicit lifecycle transition.
func (e *Engine) TransitionDeployment(capability *nativecommon.Capability, deploymentID string, to DebtStatus) (*DebtRecord, error) {
	return e.transition("transition_deployment", capability, deploymentID, to)
}

func (e *Engine) transition(op string, capability *nativecommon.Capability, deploymentID string, to DebtStatus) (*DebtRecord, error) {
	var out *DebtRecord
	err := e.execute(op, capability, adminRoles, func(tx *txn) error {
		record, err := tx.loadDeployment(deploymentID)
		if err != nil {
			return err
		}
		if !CanTransition(record.Status, to) {
			return ErrInvalidStateTransition
		}
		switch to {
		case DebtActive:
			// Leaving an expired state requires a paid subscription.
			if record.Status != DebtPending && record.SubscriptionPaidUntil != 0 && tx.now >= record.SubscriptionPaidUntil {
				return ErrInvalidStateTransition
			}
			record.GracePeriodEnd = 0
		case DebtInGracePeriod:
			if record.GracePeriodEnd, err = add64(tx.now, GracePeriodSeconds(record.TotalSubscribedMonths)); err != nil {
				return err
			}
		case DebtClosed:
			if tx.now < record.GracePeriodEnd {
				return ErrGracePeriodActive
			}
			record.TerminalCause = DebtClosed
		case DebtFailed:
			// Full refund of the disbursement.
			principal, _, err := tx.repayDebt(record.DebtOutstanding, record.DebtOutstanding)
			if err != nil {
				return err
			}
			record.DebtOutstanding = 0
			if record.RepaidAmount, err = add64(record.RepaidAmount, principal); err != nil {
				return err
			}
		}
		record.Status = to
		record.UpdatedAt = tx.now
		tx.closeIfSettled(record)
		tx.putDebt(record)
		out = record.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PaySubscription extends a deployment's subscription by months. The payment
// is a fee inflow to the reward pool.
func (e *Engine) PaySubscription(capability *nativecommon.Capability, deploymentID string, months, payment uint64) (*DebtRecord, error) {
	var out *DebtRecord
	err := e.execute("pay_subscription", capability, deploymentRoles, func(tx *txn) error {
		if months == 0 {
			return ErrInvalidAmount
		}
		if months > tx.ledger.Params.MaxSubscriptionExtensionMonths {
			return ErrSubscriptionTooLong
		}
		record, err := tx.loadDeployment(deploymentID)
		if err != nil {
			return err
		}
		switch record.Status {
		case DebtActive, DebtSubscriptionExpired, DebtInGracePeriod:
		default:
			return ErrInvalidStateTransition
		}
		span, err := extendSeconds(months)
		if err != nil {
			return err
		}
		base := record.SubscriptionPaidUntil
		if base < tx.now {
			base = tx.now
		}
		if record.SubscriptionPaidUntil, err = add64(base, span); err != nil {
			return err
		}
		if record.TotalSubscribedMonths, err = add64(record.TotalSubscribedMonths, months); err != nil {
			return err
		}
		if err := tx.creditRewardFee(payment); err != nil {
			return err
		}
		record.Status = DebtActive
		record.GracePeriodEnd = 0
		record.UpdatedAt = tx.now
		tx.putDebt(record)
		out = record.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RepayDeployment applies a repayment to a deployment's debt. Principal is
// restored first and any excess is routed to the reward pool.
func (e *Engine) RepayDeployment(capability *nativecommon.Capability, deploymentID string, amount uint64) (RepaymentResult, error) {
	var result RepaymentResult
	err := e.execute("repay_deployment", capability, deploymentRoles, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		record, err := tx.loadDeployment(deploymentID)
		if err != nil {
			return err
		}
		principal, excess, err := tx.repayDebt(amount, record.DebtOutstanding)
		if err != nil {
			return err
		}
		record.DebtOutstanding -= principal
		if record.RepaidAmount, err = add64(record.RepaidAmount, principal); err != nil {
			return err
		}
		if record.RecoveredTotal, err = add64(record.RecoveredTotal, excess); err != nil {
			return err
		}
		record.UpdatedAt = tx.now
		tx.closeIfSettled(record)
		tx.putDebt(record)
		result = RepaymentResult{Principal: principal, Excess: excess, Outstanding: record.DebtOutstanding, Status: record.Status}
		return nil
	})
	if err != nil {
		return RepaymentResult{}, err
	}
	return result, nil
}
