// Package money provides fixed-scale cents arithmetic for billing amounts.
//
// Quebec billing amounts are quoted with two fractional digits. Storing
// them as float64 reproduces the classic 97.19999999999999 drift; Cents
// stores the integer number of cents instead and only touches floating
// point at the CSV/JSON boundary.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// Cents is a monetary amount expressed in whole cents.
type Cents int64

// Zero is the neutral monetary value.
const Zero Cents = 0

// ParseQuebec parses a Quebec-locale decimal string ("32,40", "1 234,56 $")
// into Cents. Commas are the decimal separator; currency symbols and
// whitespace (including non-breaking space) are stripped first. An empty
// string parses to Zero with no error, matching the spec's treatment of
// a blank montantPaye as unpaid.
func ParseQuebec(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, nil
	}

	s = strings.NewReplacer(
		"$", "",
		" ", "", // non-breaking space
		" ", "", // narrow non-breaking space
		" ", "",
	).Replace(s)

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	s = strings.Replace(s, ",", ".", 1)
	if s == "" {
		return Zero, nil
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	frac = (frac + "00")[:2]

	wholeN, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	fracN, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}

	total := wholeN*100 + fracN
	if neg {
		total = -total
	}
	return Cents(total), nil
}

// FromFloat converts a float64 dollar amount to Cents, rounding to the
// nearest cent. Used only at boundaries (rule parameters expressed as
// Go float literals such as 59.70); internal arithmetic never uses it.
func FromFloat(f float64) Cents {
	if f >= 0 {
		return Cents(f*100 + 0.5)
	}
	return Cents(f*100 - 0.5)
}

// Float64 returns the dollar-valued float64 representation, for display
// or for external APIs that require a number rather than a string.
func (c Cents) Float64() float64 {
	return float64(c) / 100
}

// String renders the amount with exactly two fractional digits, e.g. "32.40".
func (c Cents) String() string {
	neg := c < 0
	v := int64(c)
	if neg {
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", signPrefix(neg), v/100, v%100)
}

func signPrefix(neg bool) string {
	if neg {
		return "-"
	}
	return ""
}

// MarshalJSON renders Cents as a quoted two-decimal string.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON number.
func (c *Cents) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseQuebec(strings.Replace(s, ".", ",", 1))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Add returns the sum of two amounts.
func (c Cents) Add(other Cents) Cents {
	return c + other
}

// Sub returns the difference of two amounts.
func (c Cents) Sub(other Cents) Cents {
	return c - other
}

// IsPositive reports whether the amount is strictly greater than zero,
// the definition of "paid" used throughout the rule handlers.
func (c Cents) IsPositive() bool {
	return c > 0
}
