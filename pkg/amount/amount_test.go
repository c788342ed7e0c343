package amount

import (
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"50.5", 18, "50500000000000000000"},
		{"0", 18, "0"},
		{"0.000000000000000001", 18, "1"},
		{"100000", 0, "100000"},
		{"12.34", 2, "1234"},
		{"1.5", 1, "15"},
	}
	for _, tt := range tests {
		got, err := ToBaseUnits(tt.in, tt.decimals)
		if err != nil {
			t.Errorf("ToBaseUnits(%q, %d) failed: %v", tt.in, tt.decimals, err)
			continue
		}
		want := uint256.MustFromDecimal(tt.want)
		if !got.Eq(want) {
			t.Errorf("ToBaseUnits(%q, %d) = %s, want %s", tt.in, tt.decimals, got, tt.want)
		}
	}
}

func TestToBaseUnits_Negative(t *testing.T) {
	_, err := ToBaseUnits("-1", 18)
	if !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("ToBaseUnits(-1) error = %v, want ErrNegativeAmount", err)
	}
}

func TestToBaseUnits_TooManyDecimalPlaces(t *testing.T) {
	_, err := ToBaseUnits("1.234", 2)
	if err == nil || !strings.Contains(err.Error(), "decimal places") {
		t.Fatalf("ToBaseUnits(1.234, 2) error = %v, want decimal places error", err)
	}
}

func TestToBaseUnits_Overflow(t *testing.T) {
	// 2^256 is one past the maximum representable value
	_, err := ToBaseUnits("115792089237316195423570985008687907853269984665640564039457584007913129639936", 0)
	if !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("overflow error = %v, want ErrAmountTooLarge", err)
	}
}

func TestToBaseUnits_Unparseable(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3"} {
		if _, err := ToBaseUnits(in, 18); err == nil {
			t.Errorf("ToBaseUnits(%q) succeeded, want error", in)
		}
	}
}

func TestFromBaseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1000000000000000000", 18, "1"},
		{"50500000000000000000", 18, "50.5"},
		{"0", 18, "0"},
		{"1", 18, "0.000000000000000001"},
		{"1234", 2, "12.34"},
	}
	for _, tt := range tests {
		got := FromBaseUnits(uint256.MustFromDecimal(tt.in), tt.decimals)
		if got != tt.want {
			t.Errorf("FromBaseUnits(%s, %d) = %q, want %q", tt.in, tt.decimals, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"1", "0.5", "123456.789", "0"} {
		v, err := ToBaseUnits(s, 18)
		if err != nil {
			t.Fatalf("ToBaseUnits(%q) failed: %v", s, err)
		}
		if got := FromBaseUnits(v, 18); got != s {
			t.Errorf("round trip of %q = %q", s, got)
		}
	}
}
