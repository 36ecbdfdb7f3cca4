package decstr

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func TestGreaterOrEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"5.0", "5", true},
		{"5.10", "5.2", false},
		{"10", "9.999", true},
		{"3.50", "3.5", true},
		{"3.5", "3.50", false},
		{"5", "5.0", false},
		{"5", "5", true},
		{"42", "41", true},
		{"41", "42", false},
		{"100", "99", true},
		{"99", "100", false},
		{"0.1", "0.09", true},
		{"0.09", "0.1", false},
		{"1.234", "1.235", false},
		{"1.235", "1.234", true},
		{"43210.55", "43210.55", true},
		{"43210.5", "43210.49", true},
		{"9", "10", false},
		{"0", "0", true},
		{"0", "0.0", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s>=%s", tt.a, tt.b), func(t *testing.T) {
			if got := GreaterOrEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("GreaterOrEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestGreaterOrEqual_IdenticalStringsAlwaysTrue(t *testing.T) {
	for _, s := range []string{"0", "1", "12.5", "0.000001", "99999999.99999999"} {
		if !GreaterOrEqual(s, s) {
			t.Errorf("GreaterOrEqual(%q, %q) = false, want true", s, s)
		}
	}
}

// With equal fractional width the comparison must agree with exact decimal
// arithmetic.
func TestGreaterOrEqual_MatchesDecimalAtEqualPrecision(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		scale := rng.Intn(5)
		a := randomDecimal(rng, scale)
		b := randomDecimal(rng, scale)

		want := decimal.RequireFromString(a).GreaterThanOrEqual(decimal.RequireFromString(b))
		if got := GreaterOrEqual(a, b); got != want {
			t.Fatalf("GreaterOrEqual(%q, %q) = %v, decimal says %v", a, b, got, want)
		}
	}
}

func randomDecimal(rng *rand.Rand, scale int) string {
	s := fmt.Sprintf("%d", rng.Intn(100000))
	if scale == 0 {
		return s
	}
	frac := make([]byte, scale)
	for i := range frac {
		frac[i] = byte('0' + rng.Intn(10))
	}
	return s + "." + string(frac)
}

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0", true},
		{"5", true},
		{"5.0", true},
		{"0.25", true},
		{"43210.55", true},
		{"", false},
		{".5", false},
		{"5.", false},
		{"05", false},
		{"1.2.3", false},
		{"-1", false},
		{"1e5", false},
		{" 1", false},
		{"Error", false},
	}

	for _, tt := range tests {
		if got := Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
