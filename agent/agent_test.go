package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AI-driven-ST-Foundation/agent/catalog"
	"github.com/AI-driven-ST-Foundation/agent/model"
	"github.com/AI-driven-ST-Foundation/agent/prompt"
)

const consentScreen = `<?xml version="1.0" encoding="UTF-8"?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" package="com.news" clickable="false" enabled="true" bounds="[0,0][1080,2400]">
    <node class="android.widget.TextView" text="Nous respectons votre vie privée" package="com.news" clickable="false" enabled="true" bounds="[40,300][1040,400]"/>
    <node class="android.widget.Button" text="J'accepte" resource-id="com.news:id/accept" package="com.news" clickable="true" enabled="true" bounds="[40,2000][520,2100]"/>
    <node class="android.widget.Button" text="Refuser" resource-id="com.news:id/refuse" package="com.news" clickable="true" enabled="true" bounds="[560,2000][1040,2100]"/>
  </node>
</hierarchy>`

func newTestAgent(completer Completer, exec Executor) *Agent {
	return New(completer, exec)
}

func userPrompt(t *testing.T, s *scriptedLLM) string {
	t.Helper()
	require.NotEmpty(t, s.messages)
	msgs := s.messages[len(s.messages)-1]
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
	return msgs[1].Text()
}

func TestAgent_AcceptCookies(t *testing.T) {
	llmStub := reply(`{"action":"tap","locator":{"strategy":"xpath","value":"//*[@text='J'accepte']"}}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Click Element", []string{"//*[@text='J'accepte']"}).Return(nil, nil)

	out, err := newTestAgent(llmStub, exec).Do(context.Background(), "accepte les cookies", Snapshot{Tree: consentScreen})
	require.NoError(t, err)
	exec.AssertExpectations(t)

	assert.Equal(t, catalog.KindDo, out.Kind)
	assert.Equal(t, 2, out.Candidates)
	assert.Equal(t, "Click Element", out.Call.Keyword)
	assert.Equal(t, 200, out.PromptTokens)
	assert.Equal(t, 20, out.OutputTokens)

	user := userPrompt(t, llmStub)
	assert.Contains(t, user, "Instruction: accepte les cookies")
	assert.Contains(t, user, "text='J'accepte'")
	assert.NotContains(t, user, "vie privée", "non-clickable text is not an action candidate")

	require.Len(t, llmStub.opts, 1)
	assert.True(t, llmStub.opts[0].JSON)
	require.NotNil(t, llmStub.opts[0].Temperature)
	assert.Equal(t, 0.0, *llmStub.opts[0].Temperature)
}

func TestAgent_TypeTextFromInstruction(t *testing.T) {
	llmStub := reply(`{"action":"type","locator":{"strategy":"id","value":"com.app:id/email"}}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Input Text", []string{"id=com.app:id/email", "hello@test.com"}).Return(nil, nil)

	err := newTestAgent(llmStub, exec).ResolveDo(context.Background(), "input: hello@test.com", consentScreen)
	require.NoError(t, err)
	exec.AssertExpectations(t)
}

func TestAgent_ReplyWrappedInProse(t *testing.T) {
	llmStub := reply("Here is the answer:\n```json\n{\"action\":\"tap\",\"locator\":{\"strategy\":\"id\",\"value\":\"com.news:id/refuse\"}}\n```\nGood luck!")
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Click Element", []string{"id=com.news:id/refuse"}).Return(nil, nil)

	require.NoError(t, newTestAgent(llmStub, exec).ResolveDo(context.Background(), "refuse cookies", consentScreen))
	exec.AssertExpectations(t)
}

func TestAgent_OpenApplication(t *testing.T) {
	llmStub := reply(`{"action":"open"}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Open Application", []string(nil)).Return(nil, nil)

	require.NoError(t, newTestAgent(llmStub, exec).ResolveDo(context.Background(), "open the app", ""))
	exec.AssertExpectations(t)
}

func TestAgent_NeverDispatchesOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{"swipe", `{"action":"swipe"}`, model.ErrUnsupportedOperation},
		{"no locator", `{"action":"tap"}`, model.ErrNoLocator},
		{"empty locator", `{"action":"tap","locator":{}}`, model.ErrNoLocator},
		{"bad strategy", `{"action":"tap","locator":{"strategy":"css","value":".ok"}}`, model.ErrInvalidLocator},
		{"type without text", `{"action":"type","locator":{"strategy":"id","value":"q"}}`, model.ErrMissingPayload},
		{"not json", "I am not sure what to do", model.ErrMalformedResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := new(MockExecutor)
			_, err := newTestAgent(reply(tt.reply), exec).Do(context.Background(), "do something", Snapshot{})

			require.ErrorIs(t, err, tt.wantErr)
			var stepErr *model.StepError
			require.True(t, errors.As(err, &stepErr))
			assert.Equal(t, "do something", stepErr.Instruction)
			assert.Equal(t, tt.reply, stepErr.RawReply)
			exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAgent_CandidateFallback(t *testing.T) {
	llmStub := reply(`{"action":"tap","candidates":[{"strategy":"accessibility_id","value":"Accept"},{"strategy":"id","value":"accept"}]}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Click Element", []string{"accessibility_id=Accept"}).Return(nil, nil)

	require.NoError(t, newTestAgent(llmStub, exec).ResolveDo(context.Background(), "accept", consentScreen))
	exec.AssertExpectations(t)
}

func TestAgent_ProviderError(t *testing.T) {
	llmStub := &scriptedLLM{err: errors.New("connection refused")}
	exec := new(MockExecutor)

	err := newTestAgent(llmStub, exec).ResolveDo(context.Background(), "tap ok", consentScreen)
	assert.ErrorIs(t, err, model.ErrProviderRequest)
	assert.Contains(t, err.Error(), "connection refused")
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestAgent_InvalidSamplingIsKeptDistinct(t *testing.T) {
	llmStub := &scriptedLLM{err: errors.Join(model.ErrInvalidSampling, errors.New("temperature 3"))}

	err := newTestAgent(llmStub, new(MockExecutor)).ResolveDo(context.Background(), "tap ok", consentScreen)
	assert.ErrorIs(t, err, model.ErrInvalidSampling)
	var stepErr *model.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, model.ErrInvalidSampling, stepErr.Kind)
}

func TestAgent_ContentFiltered(t *testing.T) {
	llmStub := &scriptedLLM{resp: model.NeutralResponse{
		Text:         "[content filtered]",
		FinishReason: model.FinishContentFilter,
		FilterReason: "SAFETY",
	}}
	exec := new(MockExecutor)

	err := newTestAgent(llmStub, exec).ResolveCheck(context.Background(), "the title is visible", consentScreen)
	require.ErrorIs(t, err, model.ErrContentFiltered)
	var stepErr *model.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "SAFETY", stepErr.Detail)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestAgent_ExecutorErrorReturnedUnchanged(t *testing.T) {
	driverErr := errors.New("no such element")
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Click Element", []string{"id=com.news:id/accept"}).Return(nil, driverErr)

	out, err := newTestAgent(reply(`{"action":"tap","locator":{"strategy":"id","value":"com.news:id/accept"}}`), exec).
		Do(context.Background(), "accept", Snapshot{Tree: consentScreen})
	assert.Same(t, driverErr, err)
	assert.Equal(t, "Click Element", out.Call.Keyword)
}

func TestAgent_CheckUsesDescriptiveCandidates(t *testing.T) {
	llmStub := reply(`{"assertion":"page_text_contains","expected":"vie privée"}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Page Should Contain Text", []string{"vie privée"}).Return(nil, nil)

	out, err := newTestAgent(llmStub, exec).Check(context.Background(), "the privacy notice is shown", Snapshot{Tree: consentScreen})
	require.NoError(t, err)
	exec.AssertExpectations(t)

	assert.Equal(t, catalog.KindCheck, out.Kind)
	assert.Equal(t, 3, out.Candidates)
	assert.Contains(t, userPrompt(t, llmStub), "vie privée")
	assert.Contains(t, llmStub.messages[0][0].Text(), "verification engine")
}

func TestAgent_CheckNumericExpected(t *testing.T) {
	llmStub := reply(`{"assertion":"text_contains","locator":{"strategy":"id","value":"cart_count"},"expected":3}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Element Should Contain Text", []string{"id=cart_count", "3"}).Return(nil, nil)

	require.NoError(t, newTestAgent(llmStub, exec).ResolveCheck(context.Background(), "cart shows 3 items", ""))
	exec.AssertExpectations(t)
}

func TestAgent_UploadedScreenshot(t *testing.T) {
	llmStub := reply(`{"action":"open"}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Open Application", []string(nil)).Return(nil, nil)
	up := &stubUploader{url: "https://i.example.com/shot.png"}

	a := newTestAgent(llmStub, exec)
	a.Uploader = up
	out, err := a.Do(context.Background(), "open", Snapshot{Screenshot: []byte{0x89, 'P', 'N', 'G'}})
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls)
	assert.Equal(t, "https://i.example.com/shot.png", out.ImageURL)

	parts := llmStub.messages[0][1].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, model.ImagePart{URL: "https://i.example.com/shot.png"}, parts[1])
}

func TestAgent_UploadFailureContinuesWithoutImage(t *testing.T) {
	llmStub := reply(`{"action":"open"}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Open Application", []string(nil)).Return(nil, nil)

	a := newTestAgent(llmStub, exec)
	a.Uploader = &stubUploader{err: errors.New("quota exceeded")}
	out, err := a.Do(context.Background(), "open", Snapshot{Screenshot: []byte("png")})
	require.NoError(t, err)
	assert.Empty(t, out.ImageURL)
	assert.Len(t, llmStub.messages[0][1].Parts, 1)
}

func TestAgent_InlineScreenshot(t *testing.T) {
	llmStub := reply(`{"action":"open"}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Open Application", []string(nil)).Return(nil, nil)

	a := newTestAgent(llmStub, exec)
	a.InlineScreenshots = true
	out, err := a.Do(context.Background(), "open", Snapshot{Screenshot: []byte("png")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.ImageURL, "data:image/png;base64,"))
}

func TestAgent_NoScreenshotWithoutUploaderOrInline(t *testing.T) {
	llmStub := reply(`{"action":"open"}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Open Application", []string(nil)).Return(nil, nil)

	out, err := newTestAgent(llmStub, exec).Do(context.Background(), "open", Snapshot{Screenshot: []byte("png")})
	require.NoError(t, err)
	assert.Empty(t, out.ImageURL)
}

func TestAgent_FrenchComposer(t *testing.T) {
	llmStub := reply(`{"action":"open"}`)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Open Application", []string(nil)).Return(nil, nil)

	a := newTestAgent(llmStub, exec)
	a.Composer = prompt.NewComposer(prompt.LocaleFR)
	require.NoError(t, a.ResolveDo(context.Background(), "ouvre l'application", ""))
	user := userPrompt(t, llmStub)
	assert.Contains(t, user, "ouvre l'application")
	assert.Contains(t, user, "aucun élément UI interactif")
}
