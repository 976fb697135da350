package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	sellerHandleRegex = regexp.MustCompile(`^@?[A-Za-z][A-Za-z0-9_]{4,31}$`)
	payCurrencyRegex  = regexp.MustCompile(`^[a-z0-9]{2,16}$`)
)

// MaxDescriptionLength bounds deal descriptions.
const MaxDescriptionLength = 500

// ValidatePositiveAmount checks that an amount is strictly positive with at most
// two fractional digits.
func ValidatePositiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("amount %s has more than 2 decimal places", amount.String())
	}
	return nil
}

// ValidateAmountRange checks min <= amount <= max. A zero max means unbounded.
func ValidateAmountRange(amount, min, max decimal.Decimal) error {
	if err := ValidatePositiveAmount(amount); err != nil {
		return err
	}
	if amount.LessThan(min) {
		return fmt.Errorf("minimum amount is %s", min.StringFixed(2))
	}
	if max.IsPositive() && amount.GreaterThan(max) {
		return fmt.Errorf("maximum amount is %s", max.StringFixed(2))
	}
	return nil
}

// ValidatePayCurrency checks a processor currency ticker against the supported set.
func ValidatePayCurrency(currency string, supported []string) error {
	if !payCurrencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	for _, c := range supported {
		if c == currency {
			return nil
		}
	}
	return fmt.Errorf("unsupported currency: %s", currency)
}

// ValidateSellerHandle checks a messenger username like "@seller_name".
func ValidateSellerHandle(handle string) error {
	if !sellerHandleRegex.MatchString(handle) {
		return fmt.Errorf("invalid seller handle: %q", handle)
	}
	return nil
}

// ValidateDescription checks a deal description.
func ValidateDescription(desc string) error {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return fmt.Errorf("description is required")
	}
	if len([]rune(desc)) > MaxDescriptionLength {
		return fmt.Errorf("description exceeds %d characters", MaxDescriptionLength)
	}
	return nil
}

// CalculateFee returns amount * percent / 100 rounded to cents.
func CalculateFee(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(decimal.NewFromInt(100)).Round(2)
}
