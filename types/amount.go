package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
)

// MaxPrecision is the largest number of fraction digits an asset may declare.
const MaxPrecision = 32

var (
	ErrAmountOverflow     = errors.New("amount overflow")
	ErrAmountUnderflow    = errors.New("amount underflow")
	ErrPrecisionMismatch  = errors.New("precision mismatch")
	ErrPrecisionTooLarge  = errors.New("precision too large")
	errInvalidAmountInput = errors.New("invalid amount")
)

// Amount is a fixed-precision unsigned decimal: value / 10^precision.
type Amount struct {
	value     uint256.Int
	precision uint8
}

type amountCBOR struct {
	_         struct{} `cbor:",toarray"`
	Value     []byte
	Precision uint8
}

func NewAmount(value uint64, precision uint8) Amount {
	a := Amount{precision: precision}
	a.value.SetUint64(value)
	return a
}

// ParseAmount parses decimal string like "12.340". Number of digits after the
// decimal point determines the precision of the amount.
func ParseAmount(s string) (Amount, error) {
	intPart, fracPart, hasPoint := strings.Cut(s, ".")
	if intPart == "" || (hasPoint && fracPart == "") {
		return Amount{}, fmt.Errorf("%w: %q", errInvalidAmountInput, s)
	}
	if len(fracPart) > MaxPrecision {
		return Amount{}, fmt.Errorf("%w: %q has %d fraction digits", ErrPrecisionTooLarge, s, len(fracPart))
	}
	digits := intPart + fracPart
	for _, c := range digits {
		if c < '0' || c > '9' {
			return Amount{}, fmt.Errorf("%w: %q", errInvalidAmountInput, s)
		}
	}
	// FromDecimal rejects leading zeros
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %w", errInvalidAmountInput, s, err)
	}
	return Amount{value: *v, precision: uint8(len(fracPart))}, nil
}

func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Precision() uint8 { return a.precision }

func (a Amount) IsZero() bool { return a.value.IsZero() }

func (a Amount) String() string {
	s := a.value.Dec()
	if a.precision == 0 {
		return s
	}
	p := int(a.precision)
	if len(s) <= p {
		s = strings.Repeat("0", p-len(s)+1) + s
	}
	return s[:len(s)-p] + "." + s[len(s)-p:]
}

// Rescale returns the same amount expressed with the given precision. Only
// increasing the precision is allowed as decreasing would lose digits.
func (a Amount) Rescale(precision uint8) (Amount, error) {
	if precision == a.precision {
		return a, nil
	}
	if precision < a.precision {
		return Amount{}, fmt.Errorf("%w: can't rescale amount %s to precision %d", ErrPrecisionMismatch, a, precision)
	}
	if precision > MaxPrecision {
		return Amount{}, fmt.Errorf("%w: %d", ErrPrecisionTooLarge, precision)
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(precision-a.precision)))
	res := Amount{precision: precision}
	if _, overflow := res.value.MulOverflow(&a.value, scale); overflow {
		return Amount{}, ErrAmountOverflow
	}
	return res, nil
}

func (a Amount) Add(b Amount) (Amount, error) {
	if a.precision != b.precision {
		return Amount{}, fmt.Errorf("%w: %d != %d", ErrPrecisionMismatch, a.precision, b.precision)
	}
	res := Amount{precision: a.precision}
	if _, overflow := res.value.AddOverflow(&a.value, &b.value); overflow {
		return Amount{}, ErrAmountOverflow
	}
	return res, nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	if a.precision != b.precision {
		return Amount{}, fmt.Errorf("%w: %d != %d", ErrPrecisionMismatch, a.precision, b.precision)
	}
	res := Amount{precision: a.precision}
	if _, underflow := res.value.SubOverflow(&a.value, &b.value); underflow {
		return Amount{}, ErrAmountUnderflow
	}
	return res, nil
}

// Cmp compares amounts of the same precision, returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.value.Cmp(&b.value)
}

func (a Amount) Equal(b Amount) bool {
	return a.precision == b.precision && a.value.Eq(&b.value)
}

func (a Amount) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(&amountCBOR{Value: a.value.Bytes(), Precision: a.precision})
}

func (a *Amount) UnmarshalCBOR(data []byte) error {
	var v amountCBOR
	if err := cbor.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding amount: %w", err)
	}
	if len(v.Value) > 32 {
		return fmt.Errorf("decoding amount: value is %d bytes", len(v.Value))
	}
	a.value.SetBytes(v.Value)
	a.precision = v.Precision
	return nil
}
