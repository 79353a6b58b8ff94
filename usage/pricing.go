package usage

import (
	"strings"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

// FallbackModel prices models missing from the table.
const FallbackModel = "gpt-4o-mini"

// Pricing maps model names to USD per 1M tokens.
type Pricing map[string]model.ModelPricing

func DefaultPricing() Pricing {
	return Pricing{
		"gpt-3.5-turbo": {Input: 0.5, Output: 1.5},
		"gpt-4o":        {Input: 5, Output: 15},
		"gpt-4-turbo":   {Input: 10, Output: 30},
		"gpt-4o-mini":   {Input: 0.15, Output: 0.6},
		"deepseek-r1":   {Input: 0.2, Output: 0.8},
		"deepseek-v3":   {Input: 0.25, Output: 1},
		"deepseek-chat": {Input: 0.25, Output: 1},
		"qwen-max":      {Input: 1.6, Output: 6.4},
		"qwen-plus":     {Input: 0.4, Output: 1.2},
		"qwen-turbo":    {Input: 0.05, Output: 0.2},
	}
}

// WithOverrides returns a copy of p with the configured prices applied.
func (p Pricing) WithOverrides(overrides map[string]model.ModelPricing) Pricing {
	out := make(Pricing, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Lookup resolves a model by exact name, then by the longest known prefix
// (dated snapshots such as gpt-4o-2024-08-06), then the fallback model.
func (p Pricing) Lookup(modelName string) (model.ModelPricing, bool) {
	if price, ok := p[modelName]; ok {
		return price, true
	}
	best := ""
	for name := range p {
		if strings.HasPrefix(modelName, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return p[best], true
	}
	return p[FallbackModel], false
}

// Cost returns the USD cost of one completion.
func (p Pricing) Cost(modelName string, promptTokens, completionTokens int) float64 {
	price, known := p.Lookup(modelName)
	if !known {
		logger.Logger.Warn("Pricing not available, using fallback model",
			"model", modelName,
			"fallback", FallbackModel)
	}
	return float64(promptTokens)/1e6*price.Input + float64(completionTokens)/1e6*price.Output
}
