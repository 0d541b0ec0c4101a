package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	var cases = []struct {
		in        string
		str       string
		precision uint8
	}{
		{"0", "0", 0},
		{"10", "10", 0},
		{"1.5", "1.5", 1},
		{"0.001", "0.001", 3},
		{"012.340", "12.340", 3},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", "115792089237316195423570985008687907853269984665640564039457584007913129639935", 0},
	}
	for _, tc := range cases {
		a, err := ParseAmount(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.str, a.String(), tc.in)
		require.Equal(t, tc.precision, a.Precision(), tc.in)
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", ".", "1.", ".5", "-1", "1e5", "1,5", "1.2.3", "0.123456789012345678901234567890123"} {
		_, err := ParseAmount(in)
		require.Error(t, err, in)
	}
	// 2^256
	_, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639936")
	require.Error(t, err)
}

func TestAmount_Rescale(t *testing.T) {
	a := MustParseAmount("1.5")
	b, err := a.Rescale(3)
	require.NoError(t, err)
	require.Equal(t, "1.500", b.String())
	require.Equal(t, uint8(3), b.Precision())

	_, err = b.Rescale(1)
	require.ErrorIs(t, err, ErrPrecisionMismatch)

	same, err := a.Rescale(1)
	require.NoError(t, err)
	require.True(t, same.Equal(a))
}

func TestAmount_AddSub(t *testing.T) {
	a := MustParseAmount("10.00")
	b := MustParseAmount("2.50")

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, "12.50", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	require.Equal(t, "7.50", diff.String())

	_, err = b.Sub(a)
	require.ErrorIs(t, err, ErrAmountUnderflow)

	_, err = a.Add(MustParseAmount("1.5"))
	require.ErrorIs(t, err, ErrPrecisionMismatch)

	max := MustParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	_, err = max.Add(NewAmount(1, 0))
	require.ErrorIs(t, err, ErrAmountOverflow)

	require.Equal(t, 1, a.Cmp(b))
	require.Equal(t, -1, b.Cmp(a))
	require.Equal(t, 0, a.Cmp(a))
}

func TestAmount_CBOR(t *testing.T) {
	a := MustParseAmount("123.456")
	data, err := Cbor.Marshal(a)
	require.NoError(t, err)
	var b Amount
	require.NoError(t, Cbor.Unmarshal(data, &b))
	require.True(t, a.Equal(b))
	require.Equal(t, "123.456", b.String())
}
