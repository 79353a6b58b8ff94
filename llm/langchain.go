package llm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

// lcBase holds what the langchaingo-backed adapters share: the wrapped
// model, the response mapping and usage extraction.
type lcBase struct {
	provider  string
	modelName string
	llm       llms.Model
	fetcher   ImageFetcher
}

func (b *lcBase) Name() string  { return b.provider }
func (b *lcBase) Model() string { return b.modelName }

func (b *lcBase) generate(ctx context.Context, prompt []model.NeutralMessage, msgs []llms.MessageContent, callOpts []llms.CallOption) (model.NeutralResponse, error) {
	start := time.Now()
	resp, err := b.llm.GenerateContent(ctx, msgs, callOpts...)
	if err != nil {
		logger.Logger.Error("Completion request failed",
			"provider", b.provider,
			"model", b.modelName,
			"error", err)
		return model.NeutralResponse{}, requestError(b.provider, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return model.NeutralResponse{}, requestError(b.provider, fmt.Errorf("empty response"))
	}

	choice := resp.Choices[0]
	promptTokens, completionTokens, totalTokens := usageFromInfo(choice.GenerationInfo)
	if promptTokens == 0 && completionTokens == 0 {
		promptTokens = estimateTokens(b.modelName, promptText(prompt))
		completionTokens = estimateTokens(b.modelName, choice.Content)
		totalTokens = 0
	}

	out := finalize(model.NeutralResponse{
		Text:             choice.Content,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		Provider:         b.provider,
		Model:            b.modelName,
	}, choice.StopReason)

	logger.Logger.Debug("Completion received",
		"provider", b.provider,
		"model", b.modelName,
		"finish_reason", out.FinishReason,
		"prompt_tokens", out.PromptTokens,
		"completion_tokens", out.CompletionTokens,
		"duration", time.Since(start))
	return out, nil
}

// callOptions converts sampling settings into langchaingo call options.
func callOptions(opts CompletionOptions) []llms.CallOption {
	var out []llms.CallOption
	if opts.Temperature != nil {
		out = append(out, llms.WithTemperature(*opts.Temperature))
	}
	if opts.TopP != nil {
		out = append(out, llms.WithTopP(*opts.TopP))
	}
	if opts.MaxTokens > 0 {
		out = append(out, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.JSON {
		out = append(out, llms.WithJSONMode())
	}
	return out
}

func chatRole(r model.Role) llms.ChatMessageType {
	switch r {
	case model.RoleSystem:
		return llms.ChatMessageTypeSystem
	case model.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// ============================================================================
// TOKEN USAGE
// ============================================================================

// usageFromInfo reads token counts from GenerationInfo. Key names differ
// between the langchaingo backends.
func usageFromInfo(info map[string]any) (prompt, completion, total int) {
	if info == nil {
		return 0, 0, 0
	}
	prompt = firstInt(info, "PromptTokens", "prompt_tokens", "InputTokens", "input_tokens")
	completion = firstInt(info, "CompletionTokens", "completion_tokens", "OutputTokens", "output_tokens")
	total = firstInt(info, "TotalTokens", "total_tokens")
	return prompt, completion, total
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		if v := toInt(info[k]); v > 0 {
			return v
		}
	}
	return 0
}

func toInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case float64:
		return int(val)
	case float32:
		return int(val)
	case string:
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return 0
}

func promptText(msgs []model.NeutralMessage) string {
	var total string
	for _, m := range msgs {
		total += m.Text()
	}
	return total
}

// estimateTokens counts tokens with tiktoken when the model has a known
// encoding, otherwise approximates four characters per token.
func estimateTokens(modelName, text string) int {
	if text == "" {
		return 0
	}
	if tkm, err := tiktoken.EncodingForModel(modelName); err == nil {
		return len(tkm.Encode(text, nil, nil))
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
