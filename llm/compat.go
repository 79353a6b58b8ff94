package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

// ChatCompleter is the part of the go-openai client the compat adapter uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// compatAdapter talks the OpenAI chat wire format directly to servers that
// implement it without being OpenAI: Ollama, vLLM, LM Studio.
type compatAdapter struct {
	provider  string
	modelName string
	client    ChatCompleter
}

func NewCompatAdapter(provider, modelName string, client ChatCompleter) Adapter {
	return &compatAdapter{provider: provider, modelName: modelName, client: client}
}

// NewCompatClient builds a go-openai client for baseURL. Local servers
// accept any token.
func NewCompatClient(baseURL, token string, doer goopenai.HTTPDoer) *goopenai.Client {
	if token == "" {
		token = "ollama"
	}
	cfg := goopenai.DefaultConfig(token)
	cfg.BaseURL = baseURL
	if doer != nil {
		cfg.HTTPClient = doer
	}
	return goopenai.NewClientWithConfig(cfg)
}

func (a *compatAdapter) Name() string  { return a.provider }
func (a *compatAdapter) Model() string { return a.modelName }

func (a *compatAdapter) Complete(ctx context.Context, messages []model.NeutralMessage, opts CompletionOptions) (model.NeutralResponse, error) {
	if err := limitsOpenAI.validate(opts); err != nil {
		return model.NeutralResponse{}, err
	}
	msgs, err := a.translate(messages)
	if err != nil {
		return model.NeutralResponse{}, requestError(a.provider, err)
	}

	req := goopenai.ChatCompletionRequest{
		Model:     a.modelName,
		Messages:  msgs,
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
		if req.Temperature == 0 {
			// omitempty would drop an explicit zero.
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if opts.TopP != nil {
		req.TopP = float32(*opts.TopP)
	}
	if opts.JSON {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		logger.Logger.Error("Completion request failed",
			"provider", a.provider,
			"model", a.modelName,
			"error", err)
		return model.NeutralResponse{}, requestError(a.provider, err)
	}
	if len(resp.Choices) == 0 {
		return model.NeutralResponse{}, requestError(a.provider, fmt.Errorf("empty response"))
	}

	choice := resp.Choices[0]
	out := model.NeutralResponse{
		Text:             choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Provider:         a.provider,
		Model:            a.modelName,
	}
	if out.PromptTokens == 0 && out.CompletionTokens == 0 {
		out.PromptTokens = estimateTokens(a.modelName, promptText(messages))
		out.CompletionTokens = estimateTokens(a.modelName, out.Text)
		out.TotalTokens = 0
	}
	out = finalize(out, string(choice.FinishReason))

	logger.Logger.Debug("Completion received",
		"provider", a.provider,
		"model", a.modelName,
		"finish_reason", out.FinishReason,
		"prompt_tokens", out.PromptTokens,
		"completion_tokens", out.CompletionTokens,
		"duration", time.Since(start))
	return out, nil
}

func (a *compatAdapter) translate(messages []model.NeutralMessage) ([]goopenai.ChatCompletionMessage, error) {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := goopenai.ChatCompletionMessage{Role: compatRole(m.Role)}

		hasImage := false
		for _, part := range m.Parts {
			if _, ok := part.(model.ImagePart); ok {
				hasImage = true
				break
			}
		}
		if !hasImage {
			msg.Content = m.Text()
			out = append(out, msg)
			continue
		}

		for _, part := range m.Parts {
			switch p := part.(type) {
			case model.TextPart:
				msg.MultiContent = append(msg.MultiContent, goopenai.ChatMessagePart{
					Type: goopenai.ChatMessagePartTypeText,
					Text: p.Text,
				})
			case model.ImagePart:
				url, err := imageURL(p)
				if err != nil {
					return nil, err
				}
				msg.MultiContent = append(msg.MultiContent, goopenai.ChatMessagePart{
					Type:     goopenai.ChatMessagePartTypeImageURL,
					ImageURL: &goopenai.ChatMessageImageURL{URL: url, Detail: goopenai.ImageURLDetailAuto},
				})
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func compatRole(r model.Role) string {
	switch r {
	case model.RoleSystem:
		return goopenai.ChatMessageRoleSystem
	case model.RoleAssistant:
		return goopenai.ChatMessageRoleAssistant
	default:
		return goopenai.ChatMessageRoleUser
	}
}
