// Package units converts between human-readable decimal currency amounts and
// the ledger's fixed-point integer representation. Conversions are exact:
// inputs that cannot be represented without truncation are rejected.
package units

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// EtherDecimals is the number of implied decimal places of a base-unit amount.
const EtherDecimals = 18

// maxBaseUnitBits is the ledger word size; amounts must fit a uint256.
const maxBaseUnitBits = 256

// numeral accepts unsigned decimal numerals: "1", "1.5", ".5", "1.".
var numeral = regexp.MustCompile(`^([0-9]+\.?[0-9]*|\.[0-9]+)$`)

// ToBaseUnits parses a non-negative decimal string into an integer scaled by
// 10^decimals. It fails with domain.ErrInvalidAmount instead of rounding.
func ToBaseUnits(s string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("units: %w: negative decimals %d", domain.ErrInvalidAmount, decimals)
	}
	if !numeral.MatchString(s) {
		return nil, fmt.Errorf("units: %w: %q is not a non-negative decimal", domain.ErrInvalidAmount, s)
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if len(fracPart) > decimals {
		return nil, fmt.Errorf("units: %w: %q has %d fractional digits, max %d",
			domain.ErrInvalidAmount, s, len(fracPart), decimals)
	}
	if intPart == "" {
		intPart = "0"
	}
	normalised := intPart
	if fracPart != "" {
		normalised += "." + fracPart
	}

	d, err := decimal.NewFromString(normalised)
	if err != nil {
		return nil, fmt.Errorf("units: %w: %v", domain.ErrInvalidAmount, err)
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("units: %w: %q is not representable with %d decimals", domain.ErrInvalidAmount, s, decimals)
	}
	base := scaled.BigInt()

	if !decimal.NewFromBigInt(base, -int32(decimals)).Equal(d) {
		return nil, fmt.Errorf("units: %w: %q does not round-trip", domain.ErrInvalidAmount, s)
	}
	if base.BitLen() > maxBaseUnitBits {
		return nil, fmt.Errorf("units: %w: %q overflows uint256", domain.ErrInvalidAmount, s)
	}
	return base, nil
}

// ToDecimalString renders v scaled down by 10^decimals in canonical form:
// no trailing fractional zeros, and at least one digit on each side of the
// point ("1.0", "0.5", "12.345"). A nil v renders as "0.0".
func ToDecimalString(v *big.Int, decimals int) string {
	if v == nil {
		v = new(big.Int)
	}
	if decimals < 0 {
		decimals = 0
	}
	out := decimal.NewFromBigInt(v, -int32(decimals)).String()
	if !strings.Contains(out, ".") {
		out += ".0"
	}
	return out
}

// Canonical returns the canonical rendering of a valid decimal string, the
// same form ToDecimalString produces.
func Canonical(s string) (string, error) {
	base, err := ToBaseUnits(s, EtherDecimals)
	if err != nil {
		return "", err
	}
	return ToDecimalString(base, EtherDecimals), nil
}
