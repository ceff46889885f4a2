package amount

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatUint(t *testing.T) {
	cases := []struct {
		value    uint64
		decimals int
		want     string
	}{
		{24981836, 9, "0.024981836"},
		{1000000000, 9, "1.000000000"},
		{0, 9, "0.000000000"},
		{1, 6, "0.000001"},
		{2500000, 6, "2.500000"},
		{42, 0, "42"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, FormatUint(tc.value, tc.decimals))
	}
}

func TestParseUint(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     uint64
	}{
		{"0.024981836", 9, 24981836},
		{"1", 9, 1000000000},
		{"1.5", 9, 1500000000},
		{"0", 9, 0},
		{"0.000001", 6, 1},
		{"  2.5 ", 6, 2500000},
		{"25.", 9, 25000000000},
		{".5", 9, 500000000},
	}
	for _, tc := range cases {
		got, err := ParseUint(tc.in, tc.decimals)
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestParseUintRejectsMalformed(t *testing.T) {
	bad := []string{"", " ", "1.2.3", "abc", "1,5", "-1", "+1", "-0.5", "1e9", "."}
	for _, in := range bad {
		_, err := ParseUint(in, 9)
		require.Error(t, err, "input %q", in)
	}
}

func TestParseUintRejectsOverflow(t *testing.T) {
	// 2^64 lamports does not fit
	_, err := ParseUint("18446744073709.709551616", 9)
	require.Error(t, err)

	// whole-number path must not wrap either
	_, err = ParseUint("99999999999999999999", 9)
	require.Error(t, err)
}

func TestParseUintRejectsExcessPrecision(t *testing.T) {
	// sub-lamport amounts cannot be represented; truncating would send a
	// different amount than the user typed
	_, err := ParseUint("0.0000000001", 9)
	require.Error(t, err)

	_, err = ParseUint("1.1234567", 6)
	require.Error(t, err)
}

func TestParseBigWei(t *testing.T) {
	got, err := ParseBig("1.5", WeiDecimals)
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	require.Zero(t, want.Cmp(got))

	// amounts beyond uint64 parse fine
	got, err = ParseBig("1000000", WeiDecimals)
	require.NoError(t, err)
	want, _ = new(big.Int).SetString("1000000000000000000000000", 10)
	require.Zero(t, want.Cmp(got))
}

func TestFormatBig(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	require.Equal(t, "1.500000000000000000", FormatBig(v, WeiDecimals))
	require.Equal(t, "0.000000000000000000", FormatBig(big.NewInt(0), WeiDecimals))
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0.000000001", "12.345678900", "999.999999999"} {
		n, err := ParseUint(s, 9)
		require.NoError(t, err)
		require.Equal(t, s, FormatUint(n, 9))
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.5", "1.5", 0},
		{"1.5", "2", -1},
		{"2", "1.5", 1},
		{"0.000001", "0", 1},
	}
	for _, tc := range cases {
		got, err := Compare(tc.a, tc.b, 6)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := Compare("abc", "1", 6)
	require.Error(t, err)
}
