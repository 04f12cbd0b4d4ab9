package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// MarketBuyBuffer prices the unfillable part of a market buy reservation.
	MarketBuyBuffer = decimal.RequireFromString("1.10")
	// AggressiveBuyFactor and AggressiveSellFactor reprice unfilled market
	// orders relative to the best opposite quote.
	AggressiveBuyFactor  = decimal.RequireFromString("1.10")
	AggressiveSellFactor = decimal.RequireFromString("0.90")
)

// DollarsToCents converts a float64 dollar amount to int64 cents.
// It returns an error if the value carries more than 2 decimal places.
func DollarsToCents(f float64) (int64, error) {
	d := decimal.NewFromFloat(f)
	if !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("monetary values must have at most 2 decimal places")
	}
	return d.Shift(2).IntPart(), nil
}

// ParseCents parses a decimal dollar string such as "51.50" into cents.
func ParseCents(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("monetary values must have at most 2 decimal places")
	}
	return d.Shift(2).IntPart(), nil
}

// CentsToDollars converts an int64 cents value to a float64 dollar amount.
func CentsToDollars(c int64) float64 {
	f, _ := decimal.New(c, -2).Float64()
	return f
}

// FormatCents renders cents as a fixed two-place dollar string.
func FormatCents(c int64) string {
	return decimal.New(c, -2).StringFixed(2)
}

// ScaleCents multiplies a cent amount by factor and rounds half away from
// zero to the nearest cent.
func ScaleCents(c int64, factor decimal.Decimal) int64 {
	return decimal.NewFromInt(c).Mul(factor).Round(0).IntPart()
}

// Midpoint returns (a+b)/2 rounded to the nearest cent.
func Midpoint(a, b int64) int64 {
	return decimal.NewFromInt(a).Add(decimal.NewFromInt(b)).Div(decimal.NewFromInt(2)).Round(0).IntPart()
}
