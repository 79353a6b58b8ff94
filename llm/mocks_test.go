package llm

import (
	"context"
	"sync"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/mock"
	"github.com/tmc/langchaingo/llms"

	"github.com/AI-driven-ST-Foundation/agent/model"
)

// MockLLMModel mocks the llms.Model interface
type MockLLMModel struct {
	mock.Mock
}

func (m *MockLLMModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	args := m.Called(ctx, messages, options)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llms.ContentResponse), args.Error(1)
}

func (m *MockLLMModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	args := m.Called(ctx, prompt, options)
	return args.String(0), args.Error(1)
}

// capturedMessages returns the messages of the n-th GenerateContent call.
func (m *MockLLMModel) capturedMessages(n int) []llms.MessageContent {
	return m.Calls[n].Arguments.Get(1).([]llms.MessageContent)
}

func (m *MockLLMModel) capturedOptions(n int) llms.CallOptions {
	var opts llms.CallOptions
	for _, o := range m.Calls[n].Arguments.Get(2).([]llms.CallOption) {
		o(&opts)
	}
	return opts
}

func textResponse(text, stop string, info map[string]any) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text, StopReason: stop, GenerationInfo: info}},
	}
}

type stubFetcher struct {
	mediaType string
	data      []byte
	urls      []string
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (string, []byte, error) {
	f.urls = append(f.urls, url)
	return f.mediaType, f.data, nil
}

type fakeCompleter struct {
	resp goopenai.ChatCompletionResponse
	err  error
	reqs []goopenai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

type stubAdapter struct {
	name, model string
	resp        model.NeutralResponse
	err         error
}

func (s *stubAdapter) Name() string  { return s.name }
func (s *stubAdapter) Model() string { return s.model }

func (s *stubAdapter) Complete(context.Context, []model.NeutralMessage, CompletionOptions) (model.NeutralResponse, error) {
	return s.resp, s.err
}

type usageCall struct {
	model              string
	prompt, completion int
}

type recordingUsage struct {
	mu    sync.Mutex
	calls []usageCall
	err   error
}

func (r *recordingUsage) Record(_ context.Context, modelName string, prompt, completion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, usageCall{modelName, prompt, completion})
	return r.err
}
