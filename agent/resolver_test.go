package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AI-driven-ST-Foundation/agent/model"
)

func strPtr(s string) *string { return &s }

func TestPlanDo(t *testing.T) {
	xpathOK := &model.Locator{Strategy: model.StrategyXPath, Value: "//*[@text='OK']"}

	tests := []struct {
		name        string
		instruction string
		result      model.DoResult
		want        Call
		wantErr     error
	}{
		{
			name:   "tap with xpath",
			result: model.DoResult{Action: "tap", Locator: xpathOK},
			want:   Call{Operation: "tap", Keyword: "Click Element", Args: []string{"//*[@text='OK']"}},
		},
		{
			name:   "open needs nothing",
			result: model.DoResult{Action: "open"},
			want:   Call{Operation: "open", Keyword: "Open Application"},
		},
		{
			name:   "type with text",
			result: model.DoResult{Action: "type", Locator: &model.Locator{Strategy: model.StrategyID, Value: "com.app:id/email"}, Text: strPtr("a@b.c")},
			want:   Call{Operation: "type", Keyword: "Input Text", Args: []string{"id=com.app:id/email", "a@b.c"}},
		},
		{
			name:   "empty text is still a payload",
			result: model.DoResult{Action: "type", Locator: xpathOK, Text: strPtr("")},
			want:   Call{Operation: "type", Keyword: "Input Text", Args: []string{"//*[@text='OK']", ""}},
		},
		{
			name:        "text recovered from instruction",
			instruction: "input: hello@test.com",
			result:      model.DoResult{Action: "type", Locator: xpathOK},
			want:        Call{Operation: "type", Keyword: "Input Text", Args: []string{"//*[@text='OK']", "hello@test.com"}},
		},
		{
			name:        "text missing everywhere",
			instruction: "fill the email field",
			result:      model.DoResult{Action: "type", Locator: xpathOK},
			wantErr:     model.ErrMissingPayload,
		},
		{
			name: "first candidate used when locator absent",
			result: model.DoResult{Action: "clear", Candidates: []model.Locator{
				{Strategy: model.StrategyAccessibilityID, Value: "search"},
				{Strategy: model.StrategyID, Value: "com.app:id/search"},
			}},
			want: Call{Operation: "clear", Keyword: "Clear Text", Args: []string{"accessibility_id=search"}},
		},
		{
			name: "locator wins over candidates",
			result: model.DoResult{Action: "tap", Locator: xpathOK, Candidates: []model.Locator{
				{Strategy: model.StrategyID, Value: "ignored"},
			}},
			want: Call{Operation: "tap", Keyword: "Click Element", Args: []string{"//*[@text='OK']"}},
		},
		{
			name:    "no locator at all",
			result:  model.DoResult{Action: "tap"},
			wantErr: model.ErrNoLocator,
		},
		{
			name:    "unknown strategy",
			result:  model.DoResult{Action: "tap", Locator: &model.Locator{Strategy: "css", Value: ".btn"}},
			wantErr: model.ErrInvalidLocator,
		},
		{
			name:    "empty locator value",
			result:  model.DoResult{Action: "tap", Locator: &model.Locator{Strategy: model.StrategyID}},
			wantErr: model.ErrInvalidLocator,
		},
		{
			name:    "swipe is not implemented",
			result:  model.DoResult{Action: "swipe", Locator: xpathOK},
			wantErr: model.ErrUnsupportedOperation,
		},
		{
			name:    "unknown action",
			result:  model.DoResult{Action: "long_press", Locator: xpathOK},
			wantErr: model.ErrUnsupportedOperation,
		},
		{
			name:    "assertion name is not an action",
			result:  model.DoResult{Action: "visible", Locator: xpathOK},
			wantErr: model.ErrUnsupportedOperation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanDo(tt.instruction, "raw", tt.result)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var stepErr *model.StepError
				require.True(t, errors.As(err, &stepErr))
				assert.Equal(t, tt.instruction, stepErr.Instruction)
				assert.Equal(t, "raw", stepErr.RawReply)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanCheck(t *testing.T) {
	loc := &model.Locator{Strategy: model.StrategyID, Value: "com.app:id/title"}

	tests := []struct {
		name    string
		result  model.CheckResult
		want    Call
		wantErr error
	}{
		{
			name:   "visible",
			result: model.CheckResult{Assertion: "visible", Locator: loc},
			want:   Call{Operation: "visible", Keyword: "Page Should Contain Element", Args: []string{"id=com.app:id/title"}},
		},
		{
			name:   "exists aliases visible",
			result: model.CheckResult{Assertion: "exists", Locator: loc},
			want:   Call{Operation: "exists", Keyword: "Page Should Contain Element", Args: []string{"id=com.app:id/title"}},
		},
		{
			name:   "text contains",
			result: model.CheckResult{Assertion: "text_contains", Locator: loc, Expected: strPtr("Welcome")},
			want:   Call{Operation: "text_contains", Keyword: "Element Should Contain Text", Args: []string{"id=com.app:id/title", "Welcome"}},
		},
		{
			name:   "page text needs no locator",
			result: model.CheckResult{Assertion: "page_text_contains", Expected: strPtr("Bonjour")},
			want:   Call{Operation: "page_text_contains", Keyword: "Page Should Contain Text", Args: []string{"Bonjour"}},
		},
		{
			name:   "disabled",
			result: model.CheckResult{Assertion: "disabled", Locator: loc},
			want:   Call{Operation: "disabled", Keyword: "Element Should Be Disabled", Args: []string{"id=com.app:id/title"}},
		},
		{
			name:    "expected missing",
			result:  model.CheckResult{Assertion: "text_contains", Locator: loc},
			wantErr: model.ErrMissingPayload,
		},
		{
			name:    "no locator",
			result:  model.CheckResult{Assertion: "enabled"},
			wantErr: model.ErrNoLocator,
		},
		{
			name:    "unknown assertion",
			result:  model.CheckResult{Assertion: "color_is", Locator: loc},
			wantErr: model.ErrUnsupportedOperation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanCheck("check it", "raw", tt.result)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanCheck_ExpectedNotRecoveredFromInstruction(t *testing.T) {
	_, err := PlanCheck(`the title says "Welcome"`, "raw", model.CheckResult{
		Assertion: "text_contains",
		Locator:   &model.Locator{Strategy: model.StrategyID, Value: "title"},
	})
	assert.ErrorIs(t, err, model.ErrMissingPayload)
}

func TestDecodeDo(t *testing.T) {
	obj, err := Extract(`{"action":" tap ","locator":{"strategy":"xpath","value":"//a"},"candidates":[{"strategy":"id","value":"x"},"junk",{}]}`)
	require.NoError(t, err)

	res := DecodeDo(obj)
	assert.Equal(t, "tap", res.Action)
	require.NotNil(t, res.Locator)
	assert.Equal(t, model.Locator{Strategy: model.StrategyXPath, Value: "//a"}, *res.Locator)
	assert.Nil(t, res.Text)
	assert.Equal(t, []model.Locator{{Strategy: model.StrategyID, Value: "x"}}, res.Candidates)
}

func TestDecodeDo_EmptyAndNullLocator(t *testing.T) {
	for _, raw := range []string{`{"action":"tap","locator":{}}`, `{"action":"tap","locator":null}`, `{"action":"tap"}`} {
		obj, err := Extract(raw)
		require.NoError(t, err)
		assert.Nil(t, DecodeDo(obj).Locator, raw)
	}
}

func TestDecodeCheck_StringifiesScalars(t *testing.T) {
	tests := []struct {
		raw  string
		want *string
	}{
		{`{"assertion":"text_contains","expected":42}`, strPtr("42")},
		{`{"assertion":"text_contains","expected":3.5}`, strPtr("3.5")},
		{`{"assertion":"text_contains","expected":true}`, strPtr("true")},
		{`{"assertion":"text_contains","expected":"ok"}`, strPtr("ok")},
		{`{"assertion":"text_contains","expected":null}`, nil},
		{`{"assertion":"text_contains","expected":["a"]}`, nil},
	}
	for _, tt := range tests {
		obj, err := Extract(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, DecodeCheck(obj).Expected, tt.raw)
	}
}

func TestCallRun(t *testing.T) {
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Input Text", []string{"id=email", "x"}).Return(nil, nil)

	call := Call{Operation: "type", Keyword: "Input Text", Args: []string{"id=email", "x"}}
	require.NoError(t, call.Run(context.Background(), exec))
	exec.AssertExpectations(t)
	assert.Equal(t, "Input Text  id=email  x", call.String())
}

func TestCallRun_ReturnsExecutorErrorUnchanged(t *testing.T) {
	driverErr := errors.New("element not found")
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "Click Element", []string{"//a"}).Return(nil, driverErr)

	err := Call{Keyword: "Click Element", Args: []string{"//a"}}.Run(context.Background(), exec)
	assert.Same(t, driverErr, err)
}
