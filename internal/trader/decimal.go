package trader

import (
	"math"

	"github.com/shopspring/decimal"
)

var decOne = decimal.NewFromInt(1)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// scaled returns price × (1 + pct).
func scaled(price, pct float64) float64 {
	return decToFloat(decFromFloat(price).Mul(decOne.Add(decFromFloat(pct))))
}

// EntryQuantity sizes an entry as capital × risk / price.
func EntryQuantity(risk RiskConfig, price float64) float64 {
	if !positive(price) {
		return 0
	}
	notional := decFromFloat(risk.MaxTotalCapital).Mul(decFromFloat(risk.RiskPerTrade))
	return decToFloat(notional.Div(decFromFloat(price)))
}
