// Package decstr compares non-negative decimal numbers kept as ASCII strings.
//
// Prices arrive from the oracle as text and strikes are stored as text. They
// are compared digit by digit so that the winner of a pool never depends on
// binary floating point rounding.
package decstr

// GreaterOrEqual reports whether a >= b, where both are non-negative base-10
// numbers with at most one decimal point and no superfluous leading zeros.
//
// Inputs are assumed to be well formed; the result for anything else is
// unspecified. Use Valid to check a value before it is stored.
//
// When every compared digit is equal, the operand with more fractional digits
// wins, so GreaterOrEqual("5.0", "5") is true while GreaterOrEqual("5", "5.0")
// is false. Identical strings always compare true.
func GreaterOrEqual(a, b string) bool {
	pointA := pointIndex(a)
	pointB := pointIndex(b)

	// Longer integer part is the larger number.
	if pointA != pointB {
		return pointA > pointB
	}

	// Same integer width: digit order equals numeric order.
	for i := 0; i < pointA; i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}

	// Fractional digits line up because the points share an index.
	shorter := min(len(a), len(b))
	for i := pointA + 1; i < shorter; i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}

	return len(a) >= len(b)
}

// pointIndex returns the index of the decimal point, or len(s) when s is an
// integer.
func pointIndex(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return i
		}
	}
	return len(s)
}

// Valid reports whether s is a well-formed operand for GreaterOrEqual: one or
// more digits, optionally followed by a point and one or more digits, with no
// leading zero unless the integer part is exactly "0".
func Valid(s string) bool {
	if s == "" {
		return false
	}
	point := pointIndex(s)
	if point == 0 || point == len(s)-1 {
		return false
	}
	if point > 1 && s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if i == point {
			continue
		}
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
