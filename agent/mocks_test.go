package agent

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/AI-driven-ST-Foundation/agent/llm"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

// MockExecutor mocks the driver keyword executor
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, keyword string, args ...string) (any, error) {
	called := m.Called(ctx, keyword, args)
	return called.Get(0), called.Error(1)
}

// scriptedLLM replies with a fixed response and keeps the prompts it saw.
type scriptedLLM struct {
	resp     model.NeutralResponse
	err      error
	messages [][]model.NeutralMessage
	opts     []llm.CompletionOptions
}

func reply(text string) *scriptedLLM {
	return &scriptedLLM{resp: model.NeutralResponse{Text: text, FinishReason: model.FinishStop, PromptTokens: 200, CompletionTokens: 20}}
}

func (s *scriptedLLM) Complete(_ context.Context, messages []model.NeutralMessage, opts llm.CompletionOptions) (model.NeutralResponse, error) {
	s.messages = append(s.messages, messages)
	s.opts = append(s.opts, opts)
	return s.resp, s.err
}

type stubUploader struct {
	url   string
	err   error
	calls int
}

func (u *stubUploader) UploadBase64(context.Context, string, string) (string, error) {
	u.calls++
	return u.url, u.err
}
