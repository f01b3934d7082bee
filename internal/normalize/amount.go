package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxIntegerDigits keeps the value of an Amount within int64 minor units
const maxIntegerDigits = 15

// Amount is a decimal money value held in minor units (cents)
type Amount int64

// NormalizeCurrencyAmount converts comma-decimal text such as "1.234,56" to an Amount.
//
// Spaces, non-breaking spaces and apostrophes are digit group separators. When both
// '.' and ',' appear, the one that comes last is the decimal separator. A single '.'
// or ',' is always the decimal separator. Extra fractional digits are rounded half
// away from zero to the cent.
func NormalizeCurrencyAmount(text string) (Amount, error) {
	s := strings.TrimSpace(text)
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "'", "").Replace(s)

	negative := false
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		negative = s[0] == '-'
		s = s[1:]
	}

	if !strings.ContainsAny(s, "0123456789") {
		return 0, formatError(text, "no digits")
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return 0, formatError(text, "unexpected character %q", r)
		}
	}

	decimalSep, groupSep := separators(s)

	intPart, fracPart := s, ""
	if decimalSep != 0 {
		i := strings.LastIndexByte(s, decimalSep)
		intPart, fracPart = s[:i], s[i+1:]
		if fracPart == "" {
			return 0, formatError(text, "missing fractional digits")
		}
	}

	intDigits, err := ungroup(intPart, groupSep)
	if err != nil {
		return 0, formatError(text, "%s", err)
	}
	if intDigits == "" {
		intDigits = "0"
	}
	if len(strings.TrimLeft(intDigits, "0")) > maxIntegerDigits {
		return 0, formatError(text, "value too large")
	}

	units, err := strconv.ParseInt(intDigits, 10, 64)
	if err != nil {
		return 0, formatError(text, "%s", err)
	}
	cents, _ := strconv.ParseInt((fracPart + "00")[:2], 10, 64)
	if len(fracPart) > 2 && fracPart[2] >= '5' {
		cents++
	}

	amount := Amount(units*100 + cents)
	if negative {
		amount = -amount
	}
	return amount, nil
}

// separators decides which of '.' and ',' is the decimal separator in s and which
// one groups digits. A zero byte means "not present".
func separators(s string) (decimal, group byte) {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndexByte(s, ',') > strings.LastIndexByte(s, '.') {
			return ',', '.'
		}
		return '.', ','
	case commas == 1:
		return ',', 0
	case commas > 1:
		return 0, ','
	case dots == 1:
		return '.', 0
	case dots > 1:
		return 0, '.'
	}
	return 0, 0
}

// ungroup removes group separators, requiring every group after the first to hold
// exactly three digits.
func ungroup(s string, sep byte) (string, error) {
	if sep == 0 {
		if strings.ContainsAny(s, ".,") {
			return "", fmt.Errorf("misplaced separator")
		}
		return s, nil
	}
	groups := strings.Split(s, string(sep))
	for i, g := range groups {
		if strings.ContainsAny(g, ".,") {
			return "", fmt.Errorf("misplaced separator")
		}
		if i == 0 && (g == "" || len(g) > 3) && len(groups) > 1 {
			return "", fmt.Errorf("malformed digit group %q", g)
		}
		if i > 0 && len(g) != 3 {
			return "", fmt.Errorf("malformed digit group %q", g)
		}
	}
	return strings.Join(groups, ""), nil
}

// AmountFromFloat rounds f to the nearest cent. The shortest decimal form of f is
// rounded, so 1.005 gives 1.01 exactly as the text "1,005" does.
func AmountFromFloat(f float64) (Amount, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, formatError(strconv.FormatFloat(f, 'g', -1, 64), "not a finite number")
	}
	if math.Abs(f) >= 1e15 {
		return 0, formatError(strconv.FormatFloat(f, 'g', -1, 64), "value too large")
	}
	return NormalizeCurrencyAmount(strconv.FormatFloat(f, 'f', -1, 64))
}

// Float64 returns the amount in major units
func (a Amount) Float64() float64 {
	return float64(a) / 100
}

// String returns the amount with '.' as decimal separator and two fractional digits
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount as a JSON number
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON decodes a JSON number
func (a *Amount) UnmarshalJSON(data []byte) error {
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return formatError(string(data), "expected a number")
	}
	v, err := AmountFromFloat(f)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
