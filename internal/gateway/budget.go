package gateway

import "github.com/shopspring/decimal"

// TokenPrice is a backend's cost-per-token pair, expressed as
// fractional-currency decimals (spec §10: "token price -> survival
// micro-units uses decimal.Decimal for the fractional-currency
// intermediate step before rounding to the ledger's exact int64
// micro-units").
type TokenPrice struct {
	InputPerToken  decimal.Decimal
	OutputPerToken decimal.Decimal
	// MicroUnitsPerCurrencyUnit converts the backend's currency unit
	// into survival micro-units, e.g. 1_000_000 if one currency unit
	// of spend should cost one whole survival unit.
	MicroUnitsPerCurrencyUnit decimal.Decimal
}

// SurvivalCost converts observed token usage into exact int64
// survival micro-units, rounding at the last possible step so
// intermediate currency math stays exact.
func (p TokenPrice) SurvivalCost(inputTokens, outputTokens int64) int64 {
	cost := p.InputPerToken.Mul(decimal.NewFromInt(inputTokens)).
		Add(p.OutputPerToken.Mul(decimal.NewFromInt(outputTokens)))

	micro := cost.Mul(p.MicroUnitsPerCurrencyUnit)

	return micro.Round(0).IntPart()
}
