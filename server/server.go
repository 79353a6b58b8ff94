// Package server connects to the automation bridge that executes keywords:
// an MCP server over stdio, SSE or streamable HTTP, or a local command.
package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
	"github.com/AI-driven-ST-Foundation/agent/version"
)

const (
	DefaultServerInitDelay = 30 * time.Second
	ProcessStartupDelay    = 300 * time.Millisecond
	MCPClientName          = "mobile-agent"
	URLSchemeHTTP          = "http://"
	URLSchemeHTTPS         = "https://"
)

// ToolClient is the part of an MCP client the driver needs.
type ToolClient interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Connect opens the bridge described by cfg.
func Connect(ctx context.Context, cfg model.DriverConfig) (ToolClient, error) {
	if cfg.Type == model.CLI {
		return NewCLIServer(ctx, cfg)
	}
	return NewMCPServer(ctx, cfg)
}

type MCPServer struct {
	Name         string              `json:"name"`
	Type         model.ServerType    `json:"type"`
	Command      string              `json:"command,omitempty"`
	URL          string              `json:"url,omitempty"`
	Headers      []string            `json:"headers,omitempty"`
	Client       mcpclient.MCPClient `json:"-"`
	ServerDelay  string              `json:"-"`
	ProcessDelay string              `json:"-"`
}

func NewMCPServer(ctx context.Context, cfg model.DriverConfig) (*MCPServer, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	logger.Logger.Info("Connecting to automation bridge",
		"driver", cfg.Name,
		"transport", cfg.Type)

	s := &MCPServer{
		Name:         cfg.Name,
		Type:         cfg.Type,
		Command:      cfg.Command,
		URL:          cfg.URL,
		Headers:      cfg.Headers,
		ServerDelay:  cfg.ServerDelay,
		ProcessDelay: cfg.ProcessDelay,
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid driver configuration for %s: %w", cfg.Name, err)
	}

	cli, err := s.createMCPClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client for %s: %w", cfg.Name, err)
	}
	s.Client = cli

	initDelay, err := parseDelay(s.ServerDelay, DefaultServerInitDelay)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("invalid server_delay: %w", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, initDelay)
	defer cancel()

	if err := s.initializeClient(initCtx); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize MCP client for %s: %w", cfg.Name, err)
	}
	return s, nil
}

func (s *MCPServer) validate() error {
	if s.Name == "" {
		return fmt.Errorf("driver name cannot be empty")
	}

	switch s.Type {
	case model.Stdio:
		if len(strings.Fields(s.Command)) == 0 {
			return fmt.Errorf("command is required for stdio driver type")
		}
	case model.SSE, model.Http:
		if s.URL == "" {
			return fmt.Errorf("URL is required for %s driver type", s.Type)
		}
		if strings.TrimSpace(s.URL) != s.URL {
			return fmt.Errorf("URL contains leading or trailing whitespace")
		}
		if !strings.HasPrefix(s.URL, URLSchemeHTTP) && !strings.HasPrefix(s.URL, URLSchemeHTTPS) {
			return fmt.Errorf("invalid URL format: must start with http:// or https://, got: %s", s.URL)
		}
		for i, header := range s.Headers {
			if !strings.Contains(header, ":") {
				return fmt.Errorf("invalid header format at index %d: must contain ':' separator", i)
			}
		}
	default:
		return fmt.Errorf("unsupported driver type: %s (expected: stdio, sse, http or cli)", s.Type)
	}
	return nil
}

func (s *MCPServer) initializeClient(ctx context.Context) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    MCPClientName,
		Version: version.Version,
	}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	resp, err := s.Client.Initialize(ctx, req)
	if err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("initialize response is nil")
	}
	if resp.Capabilities.Tools == nil {
		logger.Logger.Warn("Bridge does not advertise tools", "driver", s.Name)
	}

	logger.Logger.Info("Automation bridge ready",
		"driver", s.Name,
		"server_name", resp.ServerInfo.Name,
		"server_version", resp.ServerInfo.Version,
		"protocol_version", resp.ProtocolVersion)
	return nil
}

func (s *MCPServer) createMCPClient(ctx context.Context) (mcpclient.MCPClient, error) {
	switch s.Type {
	case model.Stdio:
		return s.createStdioClient()
	case model.SSE:
		return s.createSSEClient(ctx)
	case model.Http:
		return s.createStreamableHTTPClient()
	}
	return nil, fmt.Errorf("unsupported transport type '%s' for driver %s", s.Type, s.Name)
}

func (s *MCPServer) createStdioClient() (mcpclient.MCPClient, error) {
	parts := strings.Fields(s.Command)
	logger.Logger.Debug("Starting bridge process",
		"driver", s.Name,
		"command", parts[0],
		"args", parts[1:])

	cli, err := mcpclient.NewStdioMCPClient(parts[0], nil, parts[1:]...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdio client: %w", err)
	}
	if err := s.waitForProcess(); err != nil {
		return nil, err
	}
	return cli, nil
}

func (s *MCPServer) createSSEClient(ctx context.Context) (mcpclient.MCPClient, error) {
	var options []transport.ClientOption
	if headers := parseHeaders(s.Headers); len(headers) > 0 {
		options = append(options, transport.WithHeaders(headers))
	}

	cli, err := mcpclient.NewSSEMCPClient(s.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE client: %w", err)
	}
	if err := cli.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start SSE client: %w", err)
	}
	return cli, nil
}

func (s *MCPServer) createStreamableHTTPClient() (mcpclient.MCPClient, error) {
	var options []transport.StreamableHTTPCOption
	if headers := parseHeaders(s.Headers); len(headers) > 0 {
		options = append(options, transport.WithHTTPHeaders(headers))
	}

	cli, err := mcpclient.NewStreamableHttpClient(s.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable HTTP client: %w", err)
	}
	if err := s.waitForProcess(); err != nil {
		return nil, err
	}
	return cli, nil
}

func (s *MCPServer) waitForProcess() error {
	delay, err := parseDelay(s.ProcessDelay, ProcessStartupDelay)
	if err != nil {
		return fmt.Errorf("invalid process_delay: %w", err)
	}
	time.Sleep(delay)
	return nil
}

// CallTool forwards to the underlying MCP client.
func (s *MCPServer) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("driver %s is closed", s.Name)
	}
	return s.Client.CallTool(ctx, request)
}

func (s *MCPServer) cleanup() {
	if s.Client == nil {
		return
	}
	if err := s.Client.Close(); err != nil {
		logger.Logger.Warn("Error closing client", "driver", s.Name, "error", err)
	}
}

func (s *MCPServer) Close() error {
	if s.Client == nil {
		return fmt.Errorf("client is nil, already closed or never initialized")
	}
	logger.Logger.Info("Closing automation bridge", "driver", s.Name)
	if err := s.Client.Close(); err != nil {
		return fmt.Errorf("failed to close driver %s: %w", s.Name, err)
	}
	s.Client = nil
	return nil
}

// IsHealthy lists the bridge tools with a short timeout.
func (s *MCPServer) IsHealthy(ctx context.Context) bool {
	if s.Client == nil {
		return false
	}
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.Client.ListTools(healthCtx, mcp.ListToolsRequest{}); err != nil {
		logger.Logger.Warn("Health check failed", "driver", s.Name, "error", err)
		return false
	}
	return true
}

// parseHeaders turns "Key: Value" lines into a map, skipping malformed ones.
func parseHeaders(lines []string) map[string]string {
	headers := make(map[string]string, len(lines))
	for i, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			logger.Logger.Warn("Invalid header format, skipping", "header_index", i)
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}

func parseDelay(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
