package treasury

import (
	"errors"
	"testing"
	"time"
)

func TestDistributePendingRewardsByDurationWeight(t *testing.T) {
	f := newFixture(t, feeFreeParams())
	f.creditRewards(1_000)
	f.deposit("alice", 1_000)
	f.advance(100 * time.Second)
	f.deposit("bob", 1_000)
	f.advance(100 * time.Second)

	result, err := f.engine.DistributePendingRewards(f.admin, 0)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	f.checkInvariants()
	if result.Released != 1_000 || result.Epoch != 0 {
		t.Fatalf("unexpected distribution %+v", result)
	}
	if result.TotalWeight.Uint64() != 300_000 {
		t.Fatalf("expected total weight 300000, got %s", result.TotalWeight)
	}
	ledger := f.ledger()
	if ledger.PendingRewards != 0 || ledger.BonusReserve != 1_000 || ledger.Epoch != 1 {
		t.Fatalf("unexpected ledger after distribution: pending %d reserve %d epoch %d", ledger.PendingRewards, ledger.BonusReserve, ledger.Epoch)
	}
	if !ledger.TotalDurationWeight.IsZero() {
		t.Fatalf("epoch weight should reset")
	}

	alice, err := f.engine.Claim(stakerCap("alice"))
	if err != nil {
		t.Fatalf("claim alice: %v", err)
	}
	bob, err := f.engine.Claim(stakerCap("bob"))
	if err != nil {
		t.Fatalf("claim bob: %v", err)
	}
	if alice.Bonus != 666 || bob.Bonus != 333 {
		t.Fatalf("expected bonus split 666/333, got %d/%d", alice.Bonus, bob.Bonus)
	}
	if alice.Base != 0 || bob.Base != 0 {
		t.Fatalf("parked rewards must not reach the accumulator")
	}
	f.checkInvariants()
	if reserve := f.ledger().BonusReserve; reserve != 1 {
		t.Fatalf("expected rounding dust of 1 in reserve, got %d", reserve)
	}
}

func TestDistributionIsCappedAndRateLimited(t *testing.T) {
	params := feeFreeParams()
	params.MaxDistributionBatch = 400
	params.MinDistributionInterval = 3_600
	f := newFixture(t, params)
	f.creditRewards(1_000)
	f.deposit("alice", 1_000)
	f.advance(100 * time.Second)

	first, err := f.engine.DistributePendingRewards(f.admin, 0)
	if err != nil {
		t.Fatalf("first distribution: %v", err)
	}
	if first.Released != 400 {
		t.Fatalf("expected the batch cap to bound the release, got %d", first.Released)
	}
	if _, err := f.engine.DistributePendingRewards(f.admin, 0); !errors.Is(err, ErrDistributionTooSoon) {
		t.Fatalf("expected ErrDistributionTooSoon, got %v", err)
	}

	f.advance(time.Hour)
	second, err := f.engine.DistributePendingRewards(f.admin, 100)
	if err != nil {
		t.Fatalf("second distribution: %v", err)
	}
	if second.Released != 100 || second.Epoch != 1 {
		t.Fatalf("unexpected second distribution %+v", second)
	}
	f.checkInvariants()
	if pending := f.ledger().PendingRewards; pending != 500 {
		t.Fatalf("expected 500 still parked, got %d", pending)
	}

	claim, err := f.engine.Claim(stakerCap("alice"))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.Bonus != 499 {
		t.Fatalf("expected bonus across both epochs of 499, got %d", claim.Bonus)
	}
	f.checkInvariants()
}

func TestLateDepositorCannotCaptureBonus(t *testing.T) {
	f := newFixture(t, feeFreeParams())
	f.creditRewards(1_000)
	f.deposit("alice", 1_000)
	f.advance(1_000 * time.Second)
	f.deposit("bob", 1_000_000)

	if _, err := f.engine.DistributePendingRewards(f.admin, 0); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if _, err := f.engine.Claim(stakerCap("bob")); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("late depositor should have nothing to claim, got %v", err)
	}
	claim, err := f.engine.Claim(stakerCap("alice"))
	if err != nil {
		t.Fatalf("claim alice: %v", err)
	}
	if claim.Bonus != 1_000 {
		t.Fatalf("expected the long-term staker to receive the full release, got %d", claim.Bonus)
	}
	f.checkInvariants()
}

func TestDistributeWithoutWeightOrPending(t *testing.T) {
	f := newFixture(t, feeFreeParams())
	f.creditRewards(1_000)
	_, err := f.engine.DistributePendingRewards(f.admin, 0)
	if !errors.Is(err, ErrNothingToDistribute) {
		t.Fatalf("expected ErrNothingToDistribute without duration weight, got %v", err)
	}
	if IsFatal(err) {
		t.Fatalf("nothing to distribute must not be fatal")
	}

	g := newFixture(t, feeFreeParams())
	g.deposit("alice", 1_000)
	g.advance(time.Hour)
	if _, err := g.engine.DistributePendingRewards(g.admin, 0); !errors.Is(err, ErrNothingToDistribute) {
		t.Fatalf("expected ErrNothingToDistribute without pending rewards, got %v", err)
	}
}

func TestClaimCombinesBaseAndBonus(t *testing.T) {
	f := newFixture(t, feeFreeParams())
	f.creditRewards(500)
	f.deposit("alice", 1_000)
	f.advance(100 * time.Second)
	f.creditRewards(50)
	if _, err := f.engine.DistributePendingRewards(f.admin, 0); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	preview, err := f.engine.Claimable("alice")
	if err != nil {
		t.Fatalf("claimable: %v", err)
	}
	claim, err := f.engine.Claim(stakerCap("alice"))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim != preview {
		t.Fatalf("preview %+v differs from claim %+v", preview, claim)
	}
	if claim.Base != 50 || claim.Bonus != 500 || claim.Total != 550 {
		t.Fatalf("unexpected claim %+v", claim)
	}
	if staker := f.staker("alice"); staker.TotalClaimed != 550 {
		t.Fatalf("expected lifetime claimed 550, got %d", staker.TotalClaimed)
	}
	f.checkInvariants()
}
