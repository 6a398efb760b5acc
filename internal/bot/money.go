package bot

import (
	"fmt"
	"math"
	"strings"

	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"github.com/shopspring/decimal"
)

// Amounts are stored in minor units; the chat shows and accepts two decimals.
const minorExp = -2

var maxMinor = decimal.NewFromInt(math.MaxInt64)

func formatMoney(amount int64) string {
	return decimal.New(amount, minorExp).StringFixed(2)
}

func formatSigned(amount int64) string {
	if amount > 0 {
		return "+" + formatMoney(amount)
	}
	return formatMoney(amount)
}

func parseMoney(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an amount", pkgerrors.ErrInvalidInput, s)
	}
	minor := d.Shift(-minorExp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than two decimals", pkgerrors.ErrInvalidInput, s)
	}
	if !minor.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", pkgerrors.ErrInvalidInput)
	}
	if minor.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %q is too large", pkgerrors.ErrInvalidInput, s)
	}
	return minor.IntPart(), nil
}

// parseSignedMoney accepts negative amounts for manual adjustments.
func parseSignedMoney(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		v, err := parseMoney(s[1:])
		return -v, err
	}
	return parseMoney(strings.TrimPrefix(s, "+"))
}
