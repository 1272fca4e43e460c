package treasury

import "github.com/holiman/uint256"

// Precision scales every fractional accumulator (reward per share, bonus rate
// per unit of duration weight).
const Precision uint64 = 1_000_000_000_000

const basisPoints uint64 = 10_000

var (
	precisionWord   = uint256.NewInt(Precision)
	basisPointsWord = uint256.NewInt(basisPoints)
	halfBasisPoints = uint256.NewInt(basisPoints / 2)
)

func u256(v uint64) *uint256.Int { return uint256.NewInt(v) }

// zeroIfNil returns a fresh zero word for nil inputs so decoded records never
// leak nil pointers into arithmetic.
func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func add64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func sub64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

func min64(values ...uint64) uint64 {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}

// narrow converts a 256-bit intermediate back to a 64-bit amount.
func narrow(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return v.Uint64(), nil
}

func mulWord(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func addWord(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func subWord(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// mulDiv computes floor(a*b/denominator) with the division deferred to the
// last step.
func mulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrZeroDenominator
	}
	product, err := mulWord(a, b)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(product, denominator), nil
}

// mulDivUp computes ceil(a*b/denominator).
func mulDivUp(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrZeroDenominator
	}
	product, err := mulWord(a, b)
	if err != nil {
		return nil, err
	}
	quotient, remainder := new(uint256.Int).DivMod(product, denominator, new(uint256.Int))
	if !remainder.IsZero() {
		return addWord(quotient, u256(1))
	}
	return quotient, nil
}

// feeHalfUp applies a basis point rate with round-half-up:
// (amount*bps + 5000) / 10000.
func feeHalfUp(amount, bps uint64) (uint64, error) {
	if amount == 0 || bps == 0 {
		return 0, nil
	}
	scaled, err := mulWord(u256(amount), u256(bps))
	if err != nil {
		return 0, err
	}
	scaled, err = addWord(scaled, halfBasisPoints)
	if err != nil {
		return 0, err
	}
	return narrow(new(uint256.Int).Div(scaled, basisPointsWord))
}

// shareOf returns floor(units*rate/Precision) as an amount.
func shareOf(units uint64, rate *uint256.Int) (uint64, error) {
	share, err := mulDiv(u256(units), rate, precisionWord)
	if err != nil {
		return 0, err
	}
	return narrow(share)
}
