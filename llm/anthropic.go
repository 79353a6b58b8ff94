package llm

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

const DefaultAnthropicMaxTokens = 1400

// anthropicAdapter serves Anthropic, DeepSeek's Anthropic-compatible
// endpoint and Claude on Bedrock. All system text is merged into a single
// leading system message, which the SDK sends as the top-level system
// field. Images must be inline base64.
type anthropicAdapter struct {
	lcBase
	maxTokens int
}

func NewAnthropicAdapter(provider, modelName string, llm llms.Model, fetcher ImageFetcher, maxTokens int) Adapter {
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	return &anthropicAdapter{
		lcBase:    lcBase{provider: provider, modelName: modelName, llm: llm, fetcher: fetcher},
		maxTokens: maxTokens,
	}
}

func (a *anthropicAdapter) Complete(ctx context.Context, messages []model.NeutralMessage, opts CompletionOptions) (model.NeutralResponse, error) {
	if err := limitsAnthropic.validate(opts); err != nil {
		return model.NeutralResponse{}, err
	}
	opts = a.exclusiveSampling(opts)
	if opts.MaxTokens == 0 {
		opts.MaxTokens = a.maxTokens
	}
	// JSON mode is not a request field here; the prompt carries the schema.
	opts.JSON = false

	msgs, err := a.translate(ctx, messages)
	if err != nil {
		return model.NeutralResponse{}, requestError(a.provider, err)
	}
	return a.generate(ctx, messages, msgs, callOptions(opts))
}

// exclusiveSampling keeps temperature when both are set.
func (a *anthropicAdapter) exclusiveSampling(opts CompletionOptions) CompletionOptions {
	if opts.Temperature != nil && opts.TopP != nil {
		logger.Logger.Debug("Backend accepts only one of temperature and top_p, dropping top_p",
			"provider", a.provider,
			"temperature", *opts.Temperature,
			"top_p", *opts.TopP)
		opts.TopP = nil
	}
	return opts
}

func (a *anthropicAdapter) translate(ctx context.Context, messages []model.NeutralMessage) ([]llms.MessageContent, error) {
	var system []string
	out := make([]llms.MessageContent, 0, len(messages)+1)

	for _, m := range messages {
		if m.Role == model.RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, text)
			}
			continue
		}
		mc := llms.MessageContent{Role: chatRole(m.Role)}
		for _, part := range m.Parts {
			switch p := part.(type) {
			case model.TextPart:
				mc.Parts = append(mc.Parts, llms.TextContent{Text: p.Text})
			case model.ImagePart:
				mediaType, data, err := inlineImage(ctx, p, a.fetcher)
				if err != nil {
					return nil, err
				}
				mc.Parts = append(mc.Parts, llms.BinaryContent{MIMEType: mediaType, Data: data})
			}
		}
		out = append(out, mc)
	}

	if len(system) > 0 {
		head := llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: strings.Join(system, "\n\n")}},
		}
		out = append([]llms.MessageContent{head}, out...)
	}
	return out, nil
}
