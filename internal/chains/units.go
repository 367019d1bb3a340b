package chains

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a whole-unit decimal string ("0.01") into the smallest
// unit for the given decimals (wei, lamports). Negative amounts and amounts
// finer than the smallest unit are rejected.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("amount is required")
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative")
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// FormatUnits renders a smallest-unit amount as a whole-unit decimal string
// without trailing zeros.
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// ParseAmount parses amount in m's native unit.
func (m Metadata) ParseAmount(amount string) (*big.Int, error) {
	return ParseUnits(amount, m.Decimals)
}

// FormatAmount formats a smallest-unit value in m's native unit.
func (m Metadata) FormatAmount(value *big.Int) string {
	return FormatUnits(value, m.Decimals)
}
