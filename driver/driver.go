// Package driver executes AppiumLibrary keywords and reads the screen state
// through an automation bridge reached via package server.
package driver

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/yalp/jsonpath"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
	"github.com/AI-driven-ST-Foundation/agent/server"
)

// sourcePaths are tried in order when a page source tool answers with JSON
// instead of the bare XML document.
var sourcePaths = []string{"$.source", "$.value", "$.page_source"}

var screenshotPaths = []string{"$.screenshot", "$.value", "$.data"}

// Driver implements agent.Executor on top of a tool-calling bridge.
type Driver struct {
	name           string
	client         server.ToolClient
	keywordTool    string
	pageSourceTool string
	screenshotTool string
}

// Open connects to the bridge described by cfg.
func Open(ctx context.Context, cfg model.DriverConfig) (*Driver, error) {
	client, err := server.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(client, cfg), nil
}

// New wraps an already connected client. Empty tool names in cfg fall back
// to the configuration defaults.
func New(client server.ToolClient, cfg model.DriverConfig) *Driver {
	d := &Driver{
		name:           cfg.Name,
		client:         client,
		keywordTool:    cfg.KeywordTool,
		pageSourceTool: cfg.PageSourceTool,
		screenshotTool: cfg.ScreenshotTool,
	}
	if d.keywordTool == "" {
		d.keywordTool = model.DefaultKeywordTool
	}
	if d.pageSourceTool == "" {
		d.pageSourceTool = model.DefaultPageSourceTool
	}
	if d.screenshotTool == "" {
		d.screenshotTool = model.DefaultScreenshotTool
	}
	return d
}

// Execute runs one keyword. The returned value is the decoded JSON result
// when the bridge answers with JSON, otherwise its text.
func (d *Driver) Execute(ctx context.Context, keyword string, args ...string) (any, error) {
	if args == nil {
		args = []string{}
	}
	result, err := d.call(ctx, d.keywordTool, map[string]any{
		"keyword": keyword,
		"args":    args,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword %q failed: %w", keyword, err)
	}

	text := resultText(result)
	var decoded any
	if err := sonic.UnmarshalString(text, &decoded); err == nil {
		return decoded, nil
	}
	return text, nil
}

// PageSource returns the current UI tree as XML.
func (d *Driver) PageSource(ctx context.Context) (string, error) {
	result, err := d.call(ctx, d.pageSourceTool, map[string]any{})
	if err != nil {
		return "", fmt.Errorf("failed to read page source: %w", err)
	}
	text := strings.TrimSpace(resultText(result))
	if strings.HasPrefix(text, "{") {
		if v, ok := lookupString(text, sourcePaths); ok {
			return v, nil
		}
	}
	return text, nil
}

// Screenshot returns the current screen as PNG bytes. Image content is
// preferred; a base64 text answer is accepted as well.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	result, err := d.call(ctx, d.screenshotTool, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}

	encoded := ""
	for _, c := range result.Content {
		if img, ok := c.(mcp.ImageContent); ok {
			encoded = img.Data
			break
		}
	}
	if encoded == "" {
		text := strings.TrimSpace(resultText(result))
		if strings.HasPrefix(text, "{") {
			text, _ = lookupString(text, screenshotPaths)
		}
		encoded = text
	}
	if encoded == "" {
		return nil, fmt.Errorf("screenshot tool %q returned no image", d.screenshotTool)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("screenshot is not valid base64: %w", err)
	}
	return data, nil
}

func (d *Driver) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *Driver) call(ctx context.Context, tool string, arguments map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = arguments

	logger.Logger.Debug("Calling bridge tool", "driver", d.name, "tool", tool, "arguments", arguments)
	result, err := d.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool '%s' on driver '%s': %w", tool, d.name, err)
	}
	if result == nil {
		return nil, fmt.Errorf("tool '%s' returned no result", tool)
	}
	if result.IsError {
		return nil, fmt.Errorf("tool '%s' reported an error: %s", tool, resultText(result))
	}
	return result, nil
}

// resultText joins the text parts of a tool result.
func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if t, ok := c.(mcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func lookupString(doc string, paths []string) (string, bool) {
	var data any
	if err := sonic.UnmarshalString(doc, &data); err != nil {
		return "", false
	}
	for _, path := range paths {
		v, err := jsonpath.Read(data, path)
		if err != nil {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
