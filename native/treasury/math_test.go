package treasury

import (
	"errors"
	"math"
	"testing"

	"github.com/holiman/uint256"
)

func TestFeeHalfUp(t *testing.T) {
	cases := []struct {
		amount, bps, want uint64
	}{
		{999, 100, 10},
		{50, 100, 1},
		{49, 100, 0},
		{10_000, 100, 100},
		{999, 10, 1},
		{0, 100, 0},
		{123, 0, 0},
		{math.MaxUint64, 10_000, math.MaxUint64},
	}
	for _, tc := range cases {
		got, err := feeHalfUp(tc.amount, tc.bps)
		if err != nil {
			t.Fatalf("fee(%d, %d): %v", tc.amount, tc.bps, err)
		}
		if got != tc.want {
			t.Fatalf("fee(%d, %d): expected %d, got %d", tc.amount, tc.bps, tc.want, got)
		}
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if _, err := add64(math.MaxUint64, 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := sub64(1, 2); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if _, err := narrow(new(uint256.Int).Lsh(uint256.NewInt(1), 64)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected narrowing overflow, got %v", err)
	}
	ceiling := new(uint256.Int).SetAllOne()
	if _, err := mulWord(ceiling, uint256.NewInt(2)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected multiplication overflow, got %v", err)
	}
	if _, err := mulDiv(uint256.NewInt(1), uint256.NewInt(1), new(uint256.Int)); !errors.Is(err, ErrZeroDenominator) {
		t.Fatalf("expected ErrZeroDenominator, got %v", err)
	}
}

func TestMulDivRounding(t *testing.T) {
	down, err := mulDiv(uint256.NewInt(10), uint256.NewInt(1), uint256.NewInt(3))
	if err != nil || down.Uint64() != 3 {
		t.Fatalf("expected floor 3, got %v %v", down, err)
	}
	up, err := mulDivUp(uint256.NewInt(10), uint256.NewInt(1), uint256.NewInt(3))
	if err != nil || up.Uint64() != 4 {
		t.Fatalf("expected ceil 4, got %v %v", up, err)
	}
	exact, err := mulDivUp(uint256.NewInt(9), uint256.NewInt(1), uint256.NewInt(3))
	if err != nil || exact.Uint64() != 3 {
		t.Fatalf("expected exact 3, got %v %v", exact, err)
	}
}

func TestDepositOverflowFailsWholeOperation(t *testing.T) {
	f := newFixture(t, feeFreeParams())
	f.deposit("alice", math.MaxUint64-10)
	if _, err := f.engine.Deposit(stakerCap("bob"), 11); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	if _, err := f.engine.Staker("bob"); !errors.Is(err, ErrUnknownStaker) {
		t.Fatalf("overflowing deposit must not persist a position: %v", err)
	}
	f.checkInvariants()
}
