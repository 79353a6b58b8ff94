package llm

import (
	"context"
	"errors"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"github.com/google/generative-ai-go/genai"
	"github.com/tmc/langchaingo/llms"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

// geminiAdapter serves Google AI and Vertex. Gemini has no system role in
// the chat history, so system text is prepended to the first user turn.
type geminiAdapter struct {
	lcBase
}

func NewGeminiAdapter(provider, modelName string, llm llms.Model, fetcher ImageFetcher) Adapter {
	return &geminiAdapter{lcBase{provider: provider, modelName: modelName, llm: llm, fetcher: fetcher}}
}

func (a *geminiAdapter) Complete(ctx context.Context, messages []model.NeutralMessage, opts CompletionOptions) (model.NeutralResponse, error) {
	if err := limitsGemini.validate(opts); err != nil {
		return model.NeutralResponse{}, err
	}
	msgs, err := a.translate(ctx, messages)
	if err != nil {
		return model.NeutralResponse{}, requestError(a.provider, err)
	}

	resp, err := a.generate(ctx, messages, msgs, callOptions(opts))
	if err == nil {
		return resp, nil
	}
	// The SDKs report safety and recitation stops as a BlockedError
	// instead of a candidate.
	if reason, ok := blockReason(err); ok {
		logger.Logger.Warn("Response blocked by content filters",
			"provider", a.provider,
			"reason", reason)
		return finalize(model.NeutralResponse{Provider: a.provider, Model: a.modelName}, reason), nil
	}
	return resp, err
}

// blockReason returns the finish or block reason name carried by a Google AI
// or Vertex BlockedError.
func blockReason(err error) (string, bool) {
	var gerr *genai.BlockedError
	if errors.As(err, &gerr) {
		switch {
		case gerr.Candidate != nil:
			return gerr.Candidate.FinishReason.String(), true
		case gerr.PromptFeedback != nil:
			return gerr.PromptFeedback.BlockReason.String(), true
		}
		return genai.FinishReasonSafety.String(), true
	}
	var verr *vertexgenai.BlockedError
	if errors.As(err, &verr) {
		switch {
		case verr.Candidate != nil:
			return verr.Candidate.FinishReason.String(), true
		case verr.PromptFeedback != nil:
			return verr.PromptFeedback.BlockReason.String(), true
		}
		return vertexgenai.FinishReasonSafety.String(), true
	}
	return "", false
}

func (a *geminiAdapter) translate(ctx context.Context, messages []model.NeutralMessage) ([]llms.MessageContent, error) {
	var system []llms.ContentPart
	out := make([]llms.MessageContent, 0, len(messages))

	for _, m := range messages {
		if m.Role == model.RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, llms.TextContent{Text: text})
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

	if len(system) == 0 {
		return out, nil
	}
	for i := range out {
		if out[i].Role == llms.ChatMessageTypeHuman {
			out[i].Parts = append(append([]llms.ContentPart{}, system...), out[i].Parts...)
			return out, nil
		}
	}
	// No user turn at all: the system text becomes one.
	return append([]llms.MessageContent{{Role: llms.ChatMessageTypeHuman, Parts: system}}, out...), nil
}
