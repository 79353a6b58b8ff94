package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

// CLIServer runs a local command per keyword and answers the same tool
// calls as an MCP bridge. The keyword tool runs `Command <keyword> <args...>`
// with every word quoted for the configured shell; the page source tool runs
// PageSourceCommand and returns its stdout.
type CLIServer struct {
	Name              string           `json:"name"`
	Type              model.ServerType `json:"type"`
	Command           string           `json:"command"`
	PageSourceCommand string           `json:"page_source_command,omitempty"`
	Shell             string           `json:"shell"`
	WorkingDir        string           `json:"working_dir"`

	keywordTool    string
	pageSourceTool string

	mu         sync.Mutex
	executions []CLIExecution
}

// CLIExecution records one command run.
type CLIExecution struct {
	Tool       string    `json:"tool"`
	FullCmd    string    `json:"full_cmd"`
	ExitCode   int       `json:"exit_code"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

var validShells = map[string]bool{
	"powershell": true,
	"pwsh":       true,
	"cmd":        true,
	"bash":       true,
	"sh":         true,
	"zsh":        true,
}

func NewCLIServer(ctx context.Context, cfg model.DriverConfig) (*CLIServer, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}

	s := &CLIServer{
		Name:              cfg.Name,
		Type:              cfg.Type,
		Command:           cfg.Command,
		PageSourceCommand: cfg.PageSourceCommand,
		Shell:             cfg.Shell,
		WorkingDir:        cfg.WorkingDir,
		keywordTool:       cfg.KeywordTool,
		pageSourceTool:    cfg.PageSourceTool,
	}
	if s.Shell == "" {
		if runtime.GOOS == "windows" {
			s.Shell = "powershell"
		} else {
			s.Shell = "bash"
		}
	}
	if s.WorkingDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		s.WorkingDir = cwd
	}

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid CLI driver configuration for %s: %w", cfg.Name, err)
	}

	logger.Logger.Info("CLI driver ready",
		"driver", s.Name,
		"shell", s.Shell,
		"working_dir", s.WorkingDir)
	return s, nil
}

func (s *CLIServer) validate() error {
	if s.Name == "" {
		return fmt.Errorf("driver name cannot be empty")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("command is required for CLI driver type")
	}
	if s.keywordTool == "" {
		return fmt.Errorf("keyword tool name cannot be empty")
	}
	if !validShells[strings.ToLower(s.Shell)] {
		return fmt.Errorf("unsupported shell: %s (supported: powershell, pwsh, cmd, bash, sh, zsh)", s.Shell)
	}
	if _, err := os.Stat(s.WorkingDir); os.IsNotExist(err) {
		return fmt.Errorf("working directory does not exist: %s", s.WorkingDir)
	}
	return nil
}

// CallTool dispatches on the tool name. Command failures are reported in
// the result with IsError set, like a remote bridge would.
func (s *CLIServer) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch request.Params.Name {
	case s.keywordTool:
		keyword, args, err := keywordArguments(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		words := append([]string{keyword}, args...)
		exe := s.Execute(ctx, request.Params.Name, s.Command+" "+s.quoteAll(words))

		body, err := sonic.MarshalString(map[string]any{
			"exit_code": exe.ExitCode,
			"stdout":    exe.Stdout,
			"stderr":    exe.Stderr,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal CLI result: %w", err)
		}
		result := mcp.NewToolResultText(body)
		result.IsError = exe.ExitCode != 0
		return result, nil

	case s.pageSourceTool:
		if s.PageSourceCommand == "" {
			return mcp.NewToolResultError("page_source_command is not configured"), nil
		}
		exe := s.Execute(ctx, request.Params.Name, s.PageSourceCommand)
		if exe.ExitCode != 0 {
			return mcp.NewToolResultError(fmt.Sprintf("page source command exited with %d: %s", exe.ExitCode, exe.Stderr)), nil
		}
		return mcp.NewToolResultText(exe.Stdout), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("tool %q is not available on CLI driver %s", request.Params.Name, s.Name)), nil
}

// Execute runs fullCmd in the configured shell. It never fails: a command
// that cannot start is recorded with exit code -1.
func (s *CLIServer) Execute(ctx context.Context, tool, fullCmd string) CLIExecution {
	start := time.Now()
	logger.Logger.Debug("Executing CLI command",
		"driver", s.Name,
		"full_cmd", fullCmd,
		"shell", s.Shell)

	var cmd *exec.Cmd
	switch strings.ToLower(s.Shell) {
	case "powershell", "pwsh":
		cmd = exec.CommandContext(ctx, strings.ToLower(s.Shell), "-NoProfile", "-NonInteractive", "-Command", fullCmd)
	case "cmd":
		cmd = exec.CommandContext(ctx, "cmd", "/C", fullCmd)
	default:
		cmd = exec.CommandContext(ctx, s.Shell, "-c", fullCmd)
	}
	cmd.Dir = s.WorkingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exe := CLIExecution{
		Tool:       tool,
		FullCmd:    fullCmd,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  start,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exe.ExitCode = exitErr.ExitCode()
		} else {
			exe.ExitCode = -1
			exe.Stderr = err.Error()
		}
	}

	s.mu.Lock()
	s.executions = append(s.executions, exe)
	s.mu.Unlock()

	logger.Logger.Debug("CLI command completed",
		"driver", s.Name,
		"exit_code", exe.ExitCode,
		"duration_ms", exe.DurationMs)
	return exe
}

func (s *CLIServer) GetExecutions() []CLIExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CLIExecution(nil), s.executions...)
}

func (s *CLIServer) Close() error {
	logger.Logger.Info("Closing CLI driver", "driver", s.Name)
	s.mu.Lock()
	s.executions = nil
	s.mu.Unlock()
	return nil
}

func (s *CLIServer) quoteAll(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = quote(strings.ToLower(s.Shell), w)
	}
	return strings.Join(quoted, " ")
}

func quote(shell, word string) string {
	switch shell {
	case "cmd":
		return `"` + strings.ReplaceAll(word, `"`, `""`) + `"`
	case "powershell", "pwsh":
		return "'" + strings.ReplaceAll(word, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
	}
}

// keywordArguments reads {"keyword": "...", "args": [...]}.
func keywordArguments(raw any) (string, []string, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("keyword call arguments must be an object")
	}
	keyword, _ := m["keyword"].(string)
	if keyword == "" {
		return "", nil, fmt.Errorf("keyword is required")
	}

	var args []string
	switch v := m["args"].(type) {
	case nil:
	case []string:
		args = v
	case []any:
		for _, a := range v {
			args = append(args, fmt.Sprint(a))
		}
	default:
		return "", nil, fmt.Errorf("args must be a list, got %T", v)
	}
	return keyword, args, nil
}
