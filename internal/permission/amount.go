package permission

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/expiryx/internal/common"
)

// FormatAmount renders base units as a coin amount without trailing zeros,
// e.g. 150000000 -> "1.5".
func FormatAmount(v uint64) string {
	return toCoins(v).String()
}

// FormatAmountFixed renders base units with exactly places fraction digits.
func FormatAmountFixed(v uint64, places int32) string {
	return toCoins(v).StringFixed(places)
}

func toCoins(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -common.CoinDecimals)
}

// ParseAmount converts a decimal coin string into base units. It rejects
// negative values, more than eight fraction digits and overflow.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, newError(ErrInvalidAmount, err.Error())
	}
	if d.IsNegative() {
		return 0, newError(ErrInvalidAmount, "negative amount")
	}

	units := d.Shift(common.CoinDecimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, newError(ErrInvalidAmount, "too many decimal places")
	}

	bi := units.BigInt()
	if !bi.IsUint64() {
		return 0, newError(ErrInvalidAmount, "amount too large")
	}
	return bi.Uint64(), nil
}
