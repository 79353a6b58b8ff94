package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	"github.com/AI-driven-ST-Foundation/agent/model"
)

// openAIAdapter serves OpenAI, Azure OpenAI and Groq. System prompts stay
// as messages and image URLs (remote or data URI) pass through unchanged.
type openAIAdapter struct {
	lcBase
}

func NewOpenAIAdapter(provider, modelName string, llm llms.Model) Adapter {
	return &openAIAdapter{lcBase{provider: provider, modelName: modelName, llm: llm}}
}

func (a *openAIAdapter) Complete(ctx context.Context, messages []model.NeutralMessage, opts CompletionOptions) (model.NeutralResponse, error) {
	if err := limitsOpenAI.validate(opts); err != nil {
		return model.NeutralResponse{}, err
	}
	msgs, err := a.translate(messages)
	if err != nil {
		return model.NeutralResponse{}, requestError(a.provider, err)
	}
	return a.generate(ctx, messages, msgs, callOptions(opts))
}

func (a *openAIAdapter) translate(messages []model.NeutralMessage) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		mc := llms.MessageContent{Role: chatRole(m.Role)}
		for _, part := range m.Parts {
			switch p := part.(type) {
			case model.TextPart:
				mc.Parts = append(mc.Parts, llms.TextContent{Text: p.Text})
			case model.ImagePart:
				url, err := imageURL(p)
				if err != nil {
					return nil, err
				}
				mc.Parts = append(mc.Parts, llms.ImageURLContent{URL: url})
			}
		}
		out = append(out, mc)
	}
	return out, nil
}
