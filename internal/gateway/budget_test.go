package gateway_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/gateway"
)

func TestSurvivalCostExactDecimalMath(t *testing.T) {
	price := gateway.TokenPrice{
		InputPerToken:             decimal.NewFromFloat(0.000003),
		OutputPerToken:            decimal.NewFromFloat(0.000015),
		MicroUnitsPerCurrencyUnit: decimal.NewFromInt(1_000_000),
	}

	got := price.SurvivalCost(1000, 200)
	// (0.000003*1000 + 0.000015*200) * 1_000_000 = (0.003 + 0.003) * 1e6 = 6000
	require.Equal(t, int64(6000), got)
}

func TestSurvivalCostZeroUsage(t *testing.T) {
	price := gateway.TokenPrice{
		InputPerToken:             decimal.NewFromFloat(0.01),
		OutputPerToken:            decimal.NewFromFloat(0.02),
		MicroUnitsPerCurrencyUnit: decimal.NewFromInt(1_000_000),
	}

	require.Equal(t, int64(0), price.SurvivalCost(0, 0))
}
