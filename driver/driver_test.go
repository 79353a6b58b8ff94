package driver

import (
	"context"
	"encoding/base64"
	"errors"
	"runtime"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AI-driven-ST-Foundation/agent/model"
	"github.com/AI-driven-ST-Foundation/agent/server"
)

type MockToolClient struct {
	mock.Mock
}

func (m *MockToolClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mcp.CallToolResult), args.Error(1)
}

func (m *MockToolClient) Close() error {
	return m.Called().Error(0)
}

func toolNamed(name string) any {
	return mock.MatchedBy(func(req mcp.CallToolRequest) bool { return req.Params.Name == name })
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}
}

func newDriver(client server.ToolClient) *Driver {
	return New(client, model.DriverConfig{Name: "appium"})
}

func TestExecute(t *testing.T) {
	client := new(MockToolClient)
	client.On("CallTool", mock.Anything, mock.MatchedBy(func(req mcp.CallToolRequest) bool {
		args, ok := req.Params.Arguments.(map[string]any)
		return ok &&
			req.Params.Name == model.DefaultKeywordTool &&
			args["keyword"] == "Click Element" &&
			assert.ObjectsAreEqual([]string{"//*[@text='OK']"}, args["args"])
	})).Return(textResult(`{"status":"PASS"}`), nil)

	got, err := newDriver(client).Execute(context.Background(), "Click Element", "//*[@text='OK']")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "PASS"}, got)
	client.AssertExpectations(t)
}

func TestExecute_NoArgsSendsEmptyList(t *testing.T) {
	client := new(MockToolClient)
	client.On("CallTool", mock.Anything, mock.MatchedBy(func(req mcp.CallToolRequest) bool {
		args := req.Params.Arguments.(map[string]any)
		return assert.ObjectsAreEqual([]string{}, args["args"])
	})).Return(textResult("done"), nil)

	got, err := newDriver(client).Execute(context.Background(), "Open Application")
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestExecute_ToolError(t *testing.T) {
	client := new(MockToolClient)
	client.On("CallTool", mock.Anything, toolNamed(model.DefaultKeywordTool)).
		Return(mcp.NewToolResultError("Element '//a' did not match any elements"), nil)

	_, err := newDriver(client).Execute(context.Background(), "Click Element", "//a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not match any elements")
	assert.Contains(t, err.Error(), "Click Element")
}

func TestExecute_TransportError(t *testing.T) {
	client := new(MockToolClient)
	client.On("CallTool", mock.Anything, mock.Anything).Return(nil, errors.New("broken pipe"))

	_, err := newDriver(client).Execute(context.Background(), "Click Element", "//a")
	assert.ErrorContains(t, err, "broken pipe")
}

func TestCustomToolNames(t *testing.T) {
	client := new(MockToolClient)
	client.On("CallTool", mock.Anything, toolNamed("appium_keyword")).Return(textResult("ok"), nil)

	d := New(client, model.DriverConfig{Name: "x", KeywordTool: "appium_keyword"})
	_, err := d.Execute(context.Background(), "Clear Text", "id=q")
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestPageSource(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"raw xml", "  <hierarchy><node/></hierarchy>\n", "<hierarchy><node/></hierarchy>"},
		{"appium value envelope", `{"value":"<hierarchy/>","sessionId":"abc"}`, "<hierarchy/>"},
		{"source field", `{"source":"<AppiumAUT/>"}`, "<AppiumAUT/>"},
		{"unknown json kept", `{"other":1}`, `{"other":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockToolClient)
			client.On("CallTool", mock.Anything, toolNamed(model.DefaultPageSourceTool)).Return(textResult(tt.reply), nil)

			got, err := newDriver(client).PageSource(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScreenshot(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	encoded := base64.StdEncoding.EncodeToString(png)

	t.Run("image content", func(t *testing.T) {
		client := new(MockToolClient)
		client.On("CallTool", mock.Anything, toolNamed(model.DefaultScreenshotTool)).Return(&mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent("captured"), mcp.NewImageContent(encoded, "image/png")},
		}, nil)

		got, err := newDriver(client).Screenshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, png, got)
	})

	t.Run("base64 text", func(t *testing.T) {
		client := new(MockToolClient)
		client.On("CallTool", mock.Anything, toolNamed(model.DefaultScreenshotTool)).Return(textResult(encoded), nil)

		got, err := newDriver(client).Screenshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, png, got)
	})

	t.Run("json envelope", func(t *testing.T) {
		client := new(MockToolClient)
		client.On("CallTool", mock.Anything, toolNamed(model.DefaultScreenshotTool)).Return(textResult(`{"value":"`+encoded+`"}`), nil)

		got, err := newDriver(client).Screenshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, png, got)
	})

	t.Run("empty", func(t *testing.T) {
		client := new(MockToolClient)
		client.On("CallTool", mock.Anything, mock.Anything).Return(&mcp.CallToolResult{}, nil)

		_, err := newDriver(client).Screenshot(context.Background())
		assert.ErrorContains(t, err, "returned no image")
	})

	t.Run("not base64", func(t *testing.T) {
		client := new(MockToolClient)
		client.On("CallTool", mock.Anything, mock.Anything).Return(textResult("%%%"), nil)

		_, err := newDriver(client).Screenshot(context.Background())
		assert.ErrorContains(t, err, "not valid base64")
	})
}

func TestClose(t *testing.T) {
	client := new(MockToolClient)
	client.On("Close").Return(nil)

	require.NoError(t, newDriver(client).Close())
	client.AssertExpectations(t)
}

func TestDriverOverCLI(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}

	d, err := Open(context.Background(), model.DriverConfig{
		Name:              "cli",
		Type:              model.CLI,
		Command:           "echo",
		Shell:             "sh",
		KeywordTool:       model.DefaultKeywordTool,
		PageSourceTool:    model.DefaultPageSourceTool,
		PageSourceCommand: "printf '<hierarchy/>'",
	})
	require.NoError(t, err)
	defer d.Close()

	got, err := d.Execute(context.Background(), "Input Text", "id=email", "it's me")
	require.NoError(t, err)
	result, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Input Text id=email it's me\n", result["stdout"])
	assert.Equal(t, float64(0), result["exit_code"])

	source, err := d.PageSource(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<hierarchy/>", source)

	_, err = d.Screenshot(context.Background())
	assert.Error(t, err)
}

func TestDriverOverCLI_FailingKeyword(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}

	d, err := Open(context.Background(), model.DriverConfig{
		Name:        "cli",
		Type:        model.CLI,
		Command:     "false",
		Shell:       "sh",
		KeywordTool: model.DefaultKeywordTool,
	})
	require.NoError(t, err)

	_, err = d.Execute(context.Background(), "Click Element", "//a")
	assert.ErrorContains(t, err, `"exit_code":1`)
}
