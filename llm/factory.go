package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/googleai/vertex"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

const azureScope = "https://cognitiveservices.azure.com/.default"

// NewAdapter builds the backend for a provider entry and wraps it in the
// adapter for its message format. Callers never switch on provider type.
func NewAdapter(ctx context.Context, p model.Provider) (Adapter, error) {
	if p.Model == "" {
		return nil, fmt.Errorf("provider %q: model is empty", p.Name)
	}
	if needsToken(p) && p.Token == "" {
		return nil, fmt.Errorf("provider %q: token is empty", p.Name)
	}

	var httpClient *RetryAfterHTTPClient
	if p.Retry.RetryOn429 {
		httpClient = NewRetryAfterHTTPClient(nil)
	}
	var throttle *Throttle
	if NeedsThrottle(p.RateLimits, p.Retry) {
		throttle = NewThrottle(p.RateLimits, p.Retry)
		if httpClient != nil {
			throttle.SetRetryAfterProvider(httpClient)
		}
	}

	name := p.Name
	if name == "" {
		name = strings.ToLower(string(p.Type))
	}
	fetcher := NewHTTPImageFetcher()

	logger.Logger.Debug("Creating provider adapter",
		"name", name,
		"type", p.Type,
		"model", p.Model,
		"rate_limited", throttle != nil)

	switch p.Type {
	case model.ProviderOllama, model.ProviderOpenAICompatible:
		if p.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: base URL is required", name)
		}
		var client ChatCompleter
		if httpClient != nil {
			client = NewCompatClient(p.BaseURL, p.Token, httpClient)
		} else {
			client = NewCompatClient(p.BaseURL, p.Token, nil)
		}
		if throttle != nil {
			client = &throttledCompleter{wrapped: client, throttle: throttle, modelName: p.Model}
		}
		return NewCompatAdapter(name, p.Model, client), nil
	}

	backend, err := newBackend(ctx, p, httpClient)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}
	if throttle != nil {
		logger.Logger.Info("Wrapping provider with rate limiter/retry handler",
			"name", name,
			"tpm", p.RateLimits.TPM,
			"rpm", p.RateLimits.RPM,
			"retry_on_429", p.Retry.RetryOn429)
		backend = NewRateLimitedLLM(backend, throttle, p.Model)
	}

	switch p.Type {
	case model.ProviderAnthropic, model.ProviderDeepSeek, model.ProviderAmazonAnthropic:
		return NewAnthropicAdapter(name, p.Model, backend, fetcher, p.MaxTokens), nil
	case model.ProviderGoogle, model.ProviderVertex:
		return NewGeminiAdapter(name, p.Model, backend, fetcher), nil
	default:
		return NewOpenAIAdapter(name, p.Model, backend), nil
	}
}

func needsToken(p model.Provider) bool {
	switch p.Type {
	case model.ProviderVertex, model.ProviderOllama, model.ProviderOpenAICompatible:
		return false
	case model.ProviderAzure:
		return !isEntraID(p)
	}
	return true
}

func isEntraID(p model.Provider) bool {
	return strings.EqualFold(p.AuthType, "entra_id")
}

func newBackend(ctx context.Context, p model.Provider, httpClient *RetryAfterHTTPClient) (llms.Model, error) {
	switch p.Type {
	case model.ProviderOpenAI, model.ProviderGroq:
		opts := []openai.Option{openai.WithToken(p.Token), openai.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		if httpClient != nil {
			opts = append(opts, openai.WithHTTPClient(httpClient))
		}
		return openai.New(opts...)

	case model.ProviderAzure:
		return newAzure(ctx, p, httpClient)

	case model.ProviderAnthropic, model.ProviderDeepSeek:
		opts := []anthropic.Option{anthropic.WithToken(p.Token), anthropic.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		if httpClient != nil {
			opts = append(opts, anthropic.WithHTTPClient(httpClient))
		}
		return anthropic.New(opts...)

	case model.ProviderAmazonAnthropic:
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(p.Location),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(p.Token, p.Secret, "")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(cfg)),
			bedrock.WithModel(p.Model),
		)

	case model.ProviderGoogle:
		opts := []googleai.Option{googleai.WithAPIKey(p.Token), googleai.WithDefaultModel(p.Model)}
		if httpClient != nil {
			opts = append(opts, googleai.WithHTTPClient(httpClient.HTTPClient()))
		}
		return googleai.New(ctx, opts...)

	case model.ProviderVertex:
		return vertex.New(ctx,
			googleai.WithDefaultModel(p.Model),
			googleai.WithCloudProject(p.ProjectID),
			googleai.WithCloudLocation(p.Location),
			googleai.WithCredentialsFile(p.CredentialsPath),
		)
	}
	return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
}

func newAzure(ctx context.Context, p model.Provider, httpClient *RetryAfterHTTPClient) (llms.Model, error) {
	if p.Version == "" {
		return nil, fmt.Errorf("azure provider requires version")
	}
	if p.BaseURL == "" {
		return nil, fmt.Errorf("azure provider requires base URL")
	}
	opts := []openai.Option{
		openai.WithModel(p.Model),
		openai.WithAPIVersion(p.Version),
		openai.WithBaseURL(p.BaseURL),
	}
	if httpClient != nil {
		opts = append(opts, openai.WithHTTPClient(httpClient))
	}

	if isEntraID(p) {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
		token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{azureScope}})
		if err != nil {
			return nil, fmt.Errorf("failed to get Azure token: %w", err)
		}
		opts = append(opts, openai.WithAPIType(openai.APITypeAzureAD), openai.WithToken(token.Token))
	} else {
		opts = append(opts, openai.WithAPIType(openai.APITypeAzure), openai.WithToken(p.Token))
	}
	return openai.New(opts...)
}
