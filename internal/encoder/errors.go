package encoder

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedDigits is returned when a field contains a byte that is not
	// an ASCII hexadecimal digit.
	ErrMalformedDigits = errors.New("encoder: malformed hex digits")
	// ErrInvalidWidth is returned when a field width is less than one digit.
	ErrInvalidWidth = errors.New("encoder: field width must be at least one digit")
	// ErrInvalidFullScale is returned when a full-scale count is not positive.
	ErrInvalidFullScale = errors.New("encoder: full-scale count must be positive")
	// ErrInvalidFrame is returned when bytes do not form a RawFrame.
	ErrInvalidFrame = errors.New("encoder: invalid frame")
	// ErrValueOutOfRange is returned when a value does not fit a field width.
	ErrValueOutOfRange = errors.New("encoder: value out of range for field width")
)

// DecodeError reports a sub-field that could not be decoded.
type DecodeError struct {
	// Field is the sub-field name, empty when the codec was called directly.
	Field string
	// Digits is the offending text after byte reversal.
	Digits string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %q: %v", e.Digits, e.Err)
	}
	return fmt.Sprintf("decode %s field %q: %v", e.Field, e.Digits, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError returns true if err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
