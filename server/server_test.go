package server

import (
	"context"
	"runtime"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AI-driven-ST-Foundation/agent/model"
)

// ============================================================================
// MCP bridge configuration
// ============================================================================

func TestNewMCPServer_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     model.DriverConfig
		wantErr string
	}{
		{"missing name", model.DriverConfig{Type: model.Stdio, Command: "bridge"}, "driver name cannot be empty"},
		{"stdio without command", model.DriverConfig{Name: "a", Type: model.Stdio, Command: "   "}, "command is required"},
		{"sse without url", model.DriverConfig{Name: "a", Type: model.SSE}, "URL is required"},
		{"http bad scheme", model.DriverConfig{Name: "a", Type: model.Http, URL: "ftp://host"}, "must start with http://"},
		{"url with spaces", model.DriverConfig{Name: "a", Type: model.SSE, URL: " http://host"}, "whitespace"},
		{"bad header", model.DriverConfig{Name: "a", Type: model.SSE, URL: "http://host", Headers: []string{"Authorization Bearer x"}}, "invalid header format at index 0"},
		{"unknown type", model.DriverConfig{Name: "a", Type: "grpc"}, "unsupported driver type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMCPServer(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewMCPServer_NilContext(t *testing.T) {
	//nolint:staticcheck
	_, err := NewMCPServer(nil, model.DriverConfig{Name: "a", Type: model.Stdio, Command: "bridge"})
	assert.ErrorContains(t, err, "context cannot be nil")
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders([]string{
		"Authorization: Bearer abc:def",
		"X-Empty:",
		": no key",
		"garbage",
	})
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer abc:def",
		"X-Empty":       "",
	}, got)
}

func TestParseDelay(t *testing.T) {
	d, err := parseDelay("", ProcessStartupDelay)
	require.NoError(t, err)
	assert.Equal(t, ProcessStartupDelay, d)

	d, err = parseDelay("2s", ProcessStartupDelay)
	require.NoError(t, err)
	assert.Equal(t, "2s", d.String())

	_, err = parseDelay("soon", ProcessStartupDelay)
	assert.Error(t, err)
}

func TestMCPServer_ClosedClient(t *testing.T) {
	s := &MCPServer{Name: "gone"}
	_, err := s.CallTool(context.Background(), mcp.CallToolRequest{})
	assert.ErrorContains(t, err, "is closed")
	assert.Error(t, s.Close())
	assert.False(t, s.IsHealthy(context.Background()))
}

// ============================================================================
// CLI bridge
// ============================================================================

func cliConfig(command string) model.DriverConfig {
	return model.DriverConfig{
		Name:           "cli",
		Type:           model.CLI,
		Command:        command,
		Shell:          "sh",
		KeywordTool:    model.DefaultKeywordTool,
		PageSourceTool: model.DefaultPageSourceTool,
	}
}

func keywordRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = model.DefaultKeywordTool
	req.Params.Arguments = args
	return req
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
}

func TestNewCLIServer(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := cliConfig("echo")
		cfg.Shell = ""
		srv, err := NewCLIServer(context.Background(), cfg)
		require.NoError(t, err)
		assert.NotEmpty(t, srv.Shell)
		assert.NotEmpty(t, srv.WorkingDir)
	})

	t.Run("connect picks the CLI bridge", func(t *testing.T) {
		client, err := Connect(context.Background(), cliConfig("echo"))
		require.NoError(t, err)
		_, ok := client.(*CLIServer)
		assert.True(t, ok)
	})

	invalid := []struct {
		name    string
		mutate  func(*model.DriverConfig)
		wantErr string
	}{
		{"no command", func(c *model.DriverConfig) { c.Command = "" }, "command is required"},
		{"no name", func(c *model.DriverConfig) { c.Name = "" }, "driver name cannot be empty"},
		{"bad shell", func(c *model.DriverConfig) { c.Shell = "fish" }, "unsupported shell"},
		{"missing dir", func(c *model.DriverConfig) { c.WorkingDir = "/definitely/not/here" }, "working directory does not exist"},
		{"no keyword tool", func(c *model.DriverConfig) { c.KeywordTool = "" }, "keyword tool name"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cliConfig("echo")
			tt.mutate(&cfg)
			_, err := NewCLIServer(context.Background(), cfg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCLIServer_Keyword(t *testing.T) {
	skipOnWindows(t)
	srv, err := NewCLIServer(context.Background(), cliConfig("echo"))
	require.NoError(t, err)

	result, err := srv.CallTool(context.Background(), keywordRequest(map[string]any{
		"keyword": "Input Text",
		"args":    []any{"id=search", "café; rm -rf /"},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	execs := srv.GetExecutions()
	require.Len(t, execs, 1)
	assert.Equal(t, "Input Text id=search café; rm -rf /\n", execs[0].Stdout)
	assert.Equal(t, 0, execs[0].ExitCode)
	assert.Equal(t, model.DefaultKeywordTool, execs[0].Tool)
}

func TestCLIServer_KeywordFailure(t *testing.T) {
	skipOnWindows(t)
	srv, err := NewCLIServer(context.Background(), cliConfig("sh -c 'echo nope >&2; exit 3' --"))
	require.NoError(t, err)

	result, err := srv.CallTool(context.Background(), keywordRequest(map[string]any{"keyword": "Click Element"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	execs := srv.GetExecutions()
	require.Len(t, execs, 1)
	assert.Equal(t, 3, execs[0].ExitCode)
	assert.Equal(t, "nope\n", execs[0].Stderr)
}

func TestCLIServer_BadArguments(t *testing.T) {
	srv, err := NewCLIServer(context.Background(), cliConfig("echo"))
	require.NoError(t, err)

	for _, args := range []map[string]any{
		{},
		{"keyword": "Click Element", "args": "//a"},
	} {
		result, err := srv.CallTool(context.Background(), keywordRequest(args))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	}
	assert.Empty(t, srv.GetExecutions())
}

func TestCLIServer_PageSource(t *testing.T) {
	skipOnWindows(t)
	cfg := cliConfig("echo")
	cfg.PageSourceCommand = "printf '<hierarchy/>'"
	srv, err := NewCLIServer(context.Background(), cfg)
	require.NoError(t, err)

	req := mcp.CallToolRequest{}
	req.Params.Name = model.DefaultPageSourceTool
	result, err := srv.CallTool(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "<hierarchy/>", result.Content[0].(mcp.TextContent).Text)
}

func TestCLIServer_UnknownTool(t *testing.T) {
	srv, err := NewCLIServer(context.Background(), cliConfig("echo"))
	require.NoError(t, err)

	req := mcp.CallToolRequest{}
	req.Params.Name = model.DefaultPageSourceTool
	result, err := srv.CallTool(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError, "page source without a command")

	req.Params.Name = "swipe"
	result, err = srv.CallTool(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, quote("bash", "it's"))
	assert.Equal(t, `'it''s'`, quote("powershell", "it's"))
	assert.Equal(t, `"say ""hi"""`, quote("cmd", `say "hi"`))
}

func TestCLIServer_Close(t *testing.T) {
	skipOnWindows(t)
	srv, err := NewCLIServer(context.Background(), cliConfig("true"))
	require.NoError(t, err)
	srv.Execute(context.Background(), "manual", "true")
	require.Len(t, srv.GetExecutions(), 1)

	require.NoError(t, srv.Close())
	assert.Empty(t, srv.GetExecutions())
}
