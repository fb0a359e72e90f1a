// Package helpers provides the small encoding shims shared across the
// codebase: 0x-hex round-trips and human-readable amount formatting.
package helpers

import (
	"fmt"
	"math/big"
	"strings"
)

// FormatAmount renders an amount in a token's smallest units as a
// decimal string: FormatAmount(150000000, 8) is "1.5". Swap amounts are
// u128, so the input is a *big.Int rather than a machine word.
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	if decimals == 0 {
		return amount.String()
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(amount, divisor, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := fmt.Sprintf("%0*d", int(decimals), frac)
	fracStr = strings.TrimRight(fracStr, "0")
	return whole.String() + "." + fracStr
}
