// Package fixedpoint provides checked arithmetic over 18-decimal scaled
// integers. Every money computation in the matching engine routes through
// these helpers; overflow and division by zero surface as errors instead of
// silently truncated values.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// WAD is the 18-decimal fixed-point scale shared by prices and amounts.
// A price of 0.1 quote per base is stored as 1e17.
var WAD = uint256.NewInt(1e18)

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10000

var (
	ErrOverflow  = errors.New("fixedpoint: overflow")
	ErrUnderflow = errors.New("fixedpoint: underflow")
	ErrDivByZero = errors.New("fixedpoint: division by zero")
	ErrFeeRange  = errors.New("fixedpoint: fee bps out of range")
)

// MulDiv computes a*b/den with a full 512-bit intermediate product, so
// amounts up to 1e27 at WAD scale never lose precision mid-computation.
func MulDiv(a, b, den *uint256.Int) (*uint256.Int, error) {
	if den.IsZero() {
		return nil, ErrDivByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, den)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulWad returns a*b/1e18.
func MulWad(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, WAD)
}

// DivWad returns a*1e18/b.
func DivWad(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, WAD, b)
}

// ApplyFeeBps splits amount into (net, fee) where fee = amount*bps/10000
// rounded down and net = amount - fee. The split is exact: net+fee == amount
// for every amount and every bps in [0, 10000].
func ApplyFeeBps(amount *uint256.Int, bps uint64) (net, fee *uint256.Int, err error) {
	if bps > BpsDenominator {
		return nil, nil, ErrFeeRange
	}
	fee, err = MulDiv(amount, uint256.NewInt(bps), uint256.NewInt(BpsDenominator))
	if err != nil {
		return nil, nil, err
	}
	net = new(uint256.Int).Sub(amount, fee)
	return net, fee, nil
}

// Add returns a+b, failing on 256-bit overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, carry := new(uint256.Int).AddOverflow(a, b)
	if carry {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns a-b, failing when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, borrow := new(uint256.Int).SubOverflow(a, b)
	if borrow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// Min returns the smaller of a and b (no copy).
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}
