package power

import "math/bits"

// MulChecked multiplies a by b, failing with ErrArithmeticOverflow instead of
// wrapping.
func MulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrArithmeticOverflow
	}
	return lo, nil
}

// AddChecked adds a and b, failing with ErrArithmeticOverflow instead of
// wrapping.
func AddChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}
