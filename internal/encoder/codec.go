package encoder

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// parseDigits validates digits and returns their unsigned value. Fields of
// any width are accepted.
func parseDigits(digits string) (*big.Int, error) {
	if digits == "" {
		return nil, &DecodeError{Digits: digits, Err: ErrMalformedDigits}
	}
	for i := 0; i < len(digits); i++ {
		if !isHexDigit(digits[i]) {
			return nil, &DecodeError{Digits: digits, Err: ErrMalformedDigits}
		}
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, &DecodeError{Digits: digits, Err: ErrMalformedDigits}
	}
	return v, nil
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// modulus returns 2^(4*width), one past the largest value a field holds.
func modulus(width int) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 4*uint(width))
}

// DecodeMagnitude treats digits as a two's-complement value whose width is
// 4*len(digits) bits. When the most significant bit is set it returns the
// complemented magnitude, rendered upper case at the same width, and
// negative=true. Otherwise the digits are returned upper cased.
func DecodeMagnitude(digits string) (magnitude string, negative bool, err error) {
	v, err := parseDigits(digits)
	if err != nil {
		return "", false, err
	}
	width := len(digits)
	if v.Bit(4*width-1) == 0 {
		return strings.ToUpper(digits), false, nil
	}
	complement := new(big.Int).Sub(modulus(width), v)
	return fmt.Sprintf("%0*X", width, complement), true, nil
}

// ToSignedAngle converts a magnitude in counts to degrees given the number of
// counts per revolution, negating when negative is set. The result is not
// range reduced.
func ToSignedAngle(digits string, negative bool, fullScale float64) (float64, error) {
	if !(fullScale > 0) || math.IsInf(fullScale, 0) {
		return 0, ErrInvalidFullScale
	}
	v, err := parseDigits(digits)
	if err != nil {
		return 0, err
	}
	counts, _ := new(big.Float).SetInt(v).Float64()
	angle := (counts / fullScale) * 360
	if negative {
		angle = -angle
	}
	return angle, nil
}

// ToSignedCommand returns the unsigned value of digits, negated when
// negative is set. Results outside the int64 range fail with
// ErrValueOutOfRange.
func ToSignedCommand(digits string, negative bool) (int64, error) {
	v, err := parseDigits(digits)
	if err != nil {
		return 0, err
	}
	if negative {
		v.Neg(v)
	}
	if !v.IsInt64() {
		return 0, &DecodeError{Digits: digits, Err: ErrValueOutOfRange}
	}
	return v.Int64(), nil
}

// DecodeAngle runs DecodeMagnitude followed by ToSignedAngle.
func DecodeAngle(digits string, fullScale float64) (float64, error) {
	magnitude, negative, err := DecodeMagnitude(digits)
	if err != nil {
		return 0, err
	}
	return ToSignedAngle(magnitude, negative, fullScale)
}

// DecodeCommand runs DecodeMagnitude followed by ToSignedCommand.
func DecodeCommand(digits string) (int64, error) {
	magnitude, negative, err := DecodeMagnitude(digits)
	if err != nil {
		return 0, err
	}
	return ToSignedCommand(magnitude, negative)
}

// EncodeDigits renders v as a two's-complement hex string of the given width.
// It is the inverse of DecodeCommand for values that fit the field.
func EncodeDigits(v int64, width int) (string, error) {
	if width < 1 {
		return "", fmt.Errorf("%w: width %d", ErrInvalidWidth, width)
	}
	n := big.NewInt(v)
	limit := new(big.Int).Lsh(big.NewInt(1), 4*uint(width)-1)
	if n.Cmp(new(big.Int).Neg(limit)) < 0 || n.Cmp(limit) >= 0 {
		return "", fmt.Errorf("%w: %d does not fit %d digits", ErrValueOutOfRange, v, width)
	}
	if n.Sign() < 0 {
		n.Add(n, modulus(width))
	}
	return fmt.Sprintf("%0*X", width, n), nil
}
