// Package ledger holds the primitives every other component moves value
// with: amounts, account addresses, balances and the per-command execution
// context.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is an integral number of wei. It is never negative.
type Amount = decimal.Decimal

// WeiPerEther is the number of decimal places between wei and ether.
const WeiPerEther = 18

// MaxAmountDigits is the widest amount accepted, the digits of a uint256.
const MaxAmountDigits = 78

// Zero is the empty amount.
var Zero = decimal.Zero

// Wei returns an amount of n wei.
func Wei(n int64) Amount {
	return decimal.NewFromInt(n)
}

// ParseAmount parses a wei amount. It rejects fractions and negatives.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if err := ValidateAmount(d); err != nil {
		return Zero, err
	}
	return d, nil
}

// ValidateAmount checks that a is a whole, non-negative number of wei of at
// most MaxAmountDigits digits. The range is checked on the exponent and
// coefficient alone, before a is ever rendered.
func ValidateAmount(a Amount) error {
	exp := int(a.Exponent())
	if exp < -MaxAmountDigits || a.NumDigits()+exp > MaxAmountDigits {
		return fmt.Errorf("amount is out of range: at most %d digits of wei", MaxAmountDigits)
	}
	if a.IsNegative() {
		return fmt.Errorf("amount %s is negative", a)
	}
	if !a.IsInteger() {
		return fmt.Errorf("amount %s is not a whole number of wei", a)
	}
	return nil
}

// ParseEther converts a decimal ether string such as "1.5" into wei.
func ParseEther(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid ether amount %q: %w", s, err)
	}
	wei := d.Shift(WeiPerEther)
	if err := ValidateAmount(wei); err != nil {
		return Zero, err
	}
	return wei, nil
}

// Ether is ParseEther for literals known to be valid. It panics otherwise.
func Ether(s string) Amount {
	a, err := ParseEther(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FormatEther renders a wei amount in ether without trailing zeros.
func FormatEther(a Amount) string {
	return a.Shift(-WeiPerEther).String()
}
