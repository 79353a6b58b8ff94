// Package llm translates neutral chat messages to each text-generation
// backend and maps the replies back to model.NeutralResponse.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/AI-driven-ST-Foundation/agent/model"
)

// Adapter is implemented once per backend family. Callers never see
// provider SDK types.
type Adapter interface {
	Name() string
	Model() string
	Complete(ctx context.Context, messages []model.NeutralMessage, opts CompletionOptions) (model.NeutralResponse, error)
}

// CompletionOptions carries sampling parameters. Nil pointers leave the
// backend default in place.
type CompletionOptions struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	// JSON asks the backend for a JSON object reply where it supports it.
	JSON bool
}

func Float(v float64) *float64 {
	return &v
}

// samplingLimits are the backend's accepted parameter ranges.
type samplingLimits struct {
	maxTemperature float64
	// exclusive backends accept only one of temperature and top_p.
	exclusive bool
}

var (
	limitsOpenAI    = samplingLimits{maxTemperature: 2}
	limitsAnthropic = samplingLimits{maxTemperature: 1, exclusive: true}
	limitsGemini    = samplingLimits{maxTemperature: 2}
)

// validate rejects out-of-range values; nothing is clamped.
func (l samplingLimits) validate(opts CompletionOptions) error {
	if t := opts.Temperature; t != nil && (*t < 0 || *t > l.maxTemperature) {
		return fmt.Errorf("%w: temperature %.2f outside [0, %.0f]", model.ErrInvalidSampling, *t, l.maxTemperature)
	}
	if p := opts.TopP; p != nil && (*p < 0 || *p > 1) {
		return fmt.Errorf("%w: top_p %.2f outside [0, 1]", model.ErrInvalidSampling, *p)
	}
	if opts.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens %d is negative", model.ErrInvalidSampling, opts.MaxTokens)
	}
	return nil
}

// ============================================================================
// FINISH REASONS AND CONTENT FILTERS
// ============================================================================

const (
	PlaceholderSafety     = "[Content blocked by safety filters]"
	PlaceholderRecitation = "[Content blocked by recitation filter]"
)

func noContentPlaceholder(reason string) string {
	return fmt.Sprintf("[No content available - finish_reason: %s]", reason)
}

// normalizeFinish maps backend stop reasons (OpenAI finish_reason, Anthropic
// stop_reason, Gemini FinishReason names) onto the neutral set.
func normalizeFinish(raw string) model.FinishReason {
	r := strings.ToLower(raw)
	switch {
	case isFilterReason(r):
		return model.FinishContentFilter
	case strings.Contains(r, "length"), strings.Contains(r, "max_tokens"), strings.Contains(r, "maxtokens"):
		return model.FinishLength
	case r == "", strings.Contains(r, "stop"), strings.Contains(r, "end_turn"):
		return model.FinishStop
	default:
		return model.FinishOther
	}
}

func isFilterReason(lower string) bool {
	for _, marker := range []string{"content_filter", "safety", "recitation", "blocklist", "prohibited", "spii", "refusal"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func filterPlaceholder(raw string) string {
	if strings.Contains(strings.ToLower(raw), "recitation") {
		return PlaceholderRecitation
	}
	return PlaceholderSafety
}

// finalize applies the content-filter and empty-content rules shared by
// every adapter.
func finalize(resp model.NeutralResponse, rawFinish string) model.NeutralResponse {
	resp.FinishReason = normalizeFinish(rawFinish)
	switch {
	case resp.FinishReason == model.FinishContentFilter:
		resp.FilterReason = rawFinish
		resp.Text = filterPlaceholder(rawFinish)
	case strings.TrimSpace(resp.Text) == "" && resp.FinishReason != model.FinishStop:
		resp.Text = noContentPlaceholder(rawFinish)
	}
	if resp.TotalTokens == 0 {
		resp.TotalTokens = resp.PromptTokens + resp.CompletionTokens
	}
	return resp
}

func requestError(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrProviderRequest, provider, err)
}
