// Package usage turns terminal request outcomes into money and records:
// cost calculation from per-direction prices, the append-only call log
// entry, and the statistics delta applied to the model registry.
package usage

import (
	"github.com/shopspring/decimal"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

var thousand = decimal.NewFromInt(1000)

// Cost computes the USD cost of one call from the model's pricing.
// Per-direction prices take precedence; the blended CostPer1K price is
// the fallback, applied to the total token count. Unpriced models cost
// zero. Decimal arithmetic keeps sub-cent prices exact until the final
// float conversion.
func Cost(cfg *types.ModelConfig, u types.Usage) float64 {
	if cfg == nil {
		return 0
	}

	if cfg.InputCostPer1K > 0 || cfg.OutputCostPer1K > 0 {
		in := decimal.NewFromInt(int64(u.PromptTokens)).
			Mul(decimal.NewFromFloat(cfg.InputCostPer1K)).
			Div(thousand)
		out := decimal.NewFromInt(int64(u.CompletionTokens)).
			Mul(decimal.NewFromFloat(cfg.OutputCostPer1K)).
			Div(thousand)
		f, _ := in.Add(out).Float64()
		return f
	}

	if cfg.CostPer1K > 0 {
		total := u.TotalTokens
		if total == 0 {
			total = u.PromptTokens + u.CompletionTokens
		}
		f, _ := decimal.NewFromInt(int64(total)).
			Mul(decimal.NewFromFloat(cfg.CostPer1K)).
			Div(thousand).
			Float64()
		return f
	}

	return 0
}
