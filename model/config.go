package model

import (
	"fmt"
	"os"
	"strings"

	"github.com/aymerick/raymond"
	"gopkg.in/yaml.v3"

	"github.com/AI-driven-ST-Foundation/agent/logger"
)

// ============================================================================
// ROOT CONFIGURATION
// ============================================================================

type Config struct {
	Providers []Provider     `yaml:"providers"`
	Agent     AgentSettings  `yaml:"agent"`
	Driver    DriverConfig   `yaml:"driver"`
	Usage     UsageConfig    `yaml:"usage"`
	Uploader  UploaderConfig `yaml:"uploader"`
}

// ============================================================================
// PROVIDER CONFIGURATION
// ============================================================================

// RateLimitConfig throttles requests before they are sent.
type RateLimitConfig struct {
	TPM int `yaml:"tpm"`
	RPM int `yaml:"rpm"`
}

// RetryConfig is the only retry policy in the pipeline. It is off unless
// enabled per provider and always bounded by MaxRetries.
type RetryConfig struct {
	RetryOn429 bool `yaml:"retry_on_429"`
	MaxRetries int  `yaml:"max_retries"`
}

type RateLimitStats struct {
	ThrottleCount      int   `json:"throttleCount"`
	ThrottleWaitTimeMs int64 `json:"throttleWaitTimeMs"`
	RateLimitHits      int   `json:"rateLimitHits"`
	RetryCount         int   `json:"retryCount"`
	RetryWaitTimeMs    int64 `json:"retryWaitTimeMs"`
	RetrySuccessCount  int   `json:"retrySuccessCount"`
}

type Provider struct {
	Name            string          `yaml:"name"`
	Type            ProviderType    `yaml:"type"`
	Token           string          `yaml:"token"`
	Secret          string          `yaml:"secret"`
	Model           string          `yaml:"model"`
	BaseURL         string          `yaml:"baseUrl"`
	Version         string          `yaml:"version"`          // Azure API version, e.g. 2025-01-01-preview
	ProjectID       string          `yaml:"project_id"`       // Vertex
	Location        string          `yaml:"location"`         // Vertex location or AWS region
	CredentialsPath string          `yaml:"credentials_path"` // Vertex service account file
	AuthType        string          `yaml:"auth_type"`        // Azure: "api_key" (default) or "entra_id"
	MaxTokens       int             `yaml:"max_tokens"`
	RateLimits      RateLimitConfig `yaml:"rate_limits"`
	Retry           RetryConfig     `yaml:"retry"`
}

type ProviderType string

const (
	ProviderGroq             ProviderType = "GROQ"
	ProviderGoogle           ProviderType = "GOOGLE"
	ProviderVertex           ProviderType = "VERTEX"
	ProviderAnthropic        ProviderType = "ANTHROPIC"
	ProviderAmazonAnthropic  ProviderType = "AMAZON-ANTHROPIC"
	ProviderOpenAI           ProviderType = "OPENAI"
	ProviderAzure            ProviderType = "AZURE"
	ProviderDeepSeek         ProviderType = "DEEPSEEK"
	ProviderOllama           ProviderType = "OLLAMA"
	ProviderOpenAICompatible ProviderType = "OPENAI-COMPATIBLE"
)

const (
	GroqBaseURL     = "https://api.groq.com/openai/v1"
	DeepSeekBaseURL = "https://api.deepseek.com/anthropic"
	OllamaBaseURL   = "http://localhost:11434/v1"
)

// DefaultModels holds the model used when a provider entry leaves it empty.
var DefaultModels = map[ProviderType]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderGroq:      "llama-3.3-70b-versatile",
	ProviderAnthropic: "claude-sonnet-4-5-20250929",
	ProviderGoogle:    "gemini-2.5-flash",
	ProviderVertex:    "gemini-2.5-flash",
	ProviderDeepSeek:  "deepseek-chat",
	ProviderOllama:    "llama3.2",
}

// Render substitutes {{VAR}} placeholders using the given context.
func (p Provider) Render(ctx map[string]string) Provider {
	p.Name = RenderTemplate(p.Name, ctx)
	p.Token = RenderTemplate(p.Token, ctx)
	p.Secret = RenderTemplate(p.Secret, ctx)
	p.Model = RenderTemplate(p.Model, ctx)
	p.BaseURL = RenderTemplate(p.BaseURL, ctx)
	p.Version = RenderTemplate(p.Version, ctx)
	p.ProjectID = RenderTemplate(p.ProjectID, ctx)
	p.Location = RenderTemplate(p.Location, ctx)
	p.CredentialsPath = RenderTemplate(p.CredentialsPath, ctx)
	p.AuthType = RenderTemplate(p.AuthType, ctx)
	return p
}

func (p *Provider) applyDefaults() {
	p.Type = ProviderType(strings.ToUpper(string(p.Type)))
	if p.Model == "" {
		p.Model = DefaultModels[p.Type]
	}
	if p.BaseURL == "" {
		switch p.Type {
		case ProviderGroq:
			p.BaseURL = GroqBaseURL
		case ProviderDeepSeek:
			p.BaseURL = DeepSeekBaseURL
		case ProviderOllama:
			p.BaseURL = OllamaBaseURL
		}
	}
}

// ============================================================================
// AGENT / DRIVER / USAGE / UPLOADER
// ============================================================================

type AgentSettings struct {
	Provider      string  `yaml:"provider"`
	MaxCandidates int     `yaml:"max_candidates"`
	MaxDepth      int     `yaml:"max_depth"`
	Temperature   float64 `yaml:"temperature"`
	ImageGrounded bool    `yaml:"image_grounded"`
	Timeout       string  `yaml:"timeout"`
	Locale        string  `yaml:"locale"` // prompt language: en (default) or fr
}

type ServerType string

const (
	Stdio ServerType = "stdio"
	SSE   ServerType = "sse"
	Http  ServerType = "http"
	CLI   ServerType = "cli"
)

// DriverConfig describes how keywords reach the UI automation layer.
// MCP transports (stdio, sse, http) call tools on an automation bridge; the
// cli type runs a command per keyword.
type DriverConfig struct {
	Name         string     `yaml:"name"`
	Type         ServerType `yaml:"type"`
	Command      string     `yaml:"command,omitempty"`
	URL          string     `yaml:"url,omitempty"`
	Headers      []string   `yaml:"headers,omitempty"`
	ServerDelay  string     `yaml:"server_delay,omitempty"`
	ProcessDelay string     `yaml:"process_delay,omitempty"`
	Shell        string     `yaml:"shell,omitempty"`
	WorkingDir   string     `yaml:"working_dir,omitempty"`
	// MCP tool names on the automation bridge.
	KeywordTool    string `yaml:"keyword_tool,omitempty"`
	PageSourceTool string `yaml:"page_source_tool,omitempty"`
	ScreenshotTool string `yaml:"screenshot_tool,omitempty"`
	// CLI command used to dump the page source.
	PageSourceCommand string `yaml:"page_source_command,omitempty"`
}

func (d DriverConfig) Render(ctx map[string]string) DriverConfig {
	d.Name = RenderTemplate(d.Name, ctx)
	d.Command = RenderTemplate(d.Command, ctx)
	d.URL = RenderTemplate(d.URL, ctx)
	d.PageSourceCommand = RenderTemplate(d.PageSourceCommand, ctx)
	headers := make([]string, len(d.Headers))
	for i, h := range d.Headers {
		headers[i] = RenderTemplate(h, ctx)
	}
	d.Headers = headers
	return d
}

type ModelPricing struct {
	Input  float64 `yaml:"input"`  // USD per 1M prompt tokens
	Output float64 `yaml:"output"` // USD per 1M completion tokens
}

type UsageConfig struct {
	Store   string                  `yaml:"store"` // sqlite (default) or memory
	Path    string                  `yaml:"path"`
	Pricing map[string]ModelPricing `yaml:"pricing"`
}

type UploaderConfig struct {
	Provider   string `yaml:"provider"` // auto, imgbb, freeimagehost, magicapi, none
	ImgBBKey   string `yaml:"imgbb_key"`
	FreeImgKey string `yaml:"freeimagehost_key"`
	MagicKey   string `yaml:"magicapi_key"`
	Expiration int    `yaml:"expiration"`
	Timeout    string `yaml:"timeout"`
}

func (u UploaderConfig) Render(ctx map[string]string) UploaderConfig {
	u.ImgBBKey = RenderTemplate(u.ImgBBKey, ctx)
	u.FreeImgKey = RenderTemplate(u.FreeImgKey, ctx)
	u.MagicKey = RenderTemplate(u.MagicKey, ctx)
	return u
}

const (
	DefaultKeywordTool    = "run_keyword"
	DefaultPageSourceTool = "get_page_source"
	DefaultScreenshotTool = "get_screenshot"
)

const (
	DefaultMaxCandidates = 20
	DefaultMaxDepth      = 12
	DefaultUsagePath     = "mobile-agent-usage.db"
)

// ApplyDefaults fills the fields a minimal config leaves empty.
func (c *Config) ApplyDefaults() {
	for i := range c.Providers {
		c.Providers[i].applyDefaults()
	}
	if c.Agent.Provider == "" && len(c.Providers) > 0 {
		c.Agent.Provider = c.Providers[0].Name
	}
	if c.Agent.MaxCandidates <= 0 {
		c.Agent.MaxCandidates = DefaultMaxCandidates
	}
	if c.Agent.MaxDepth <= 0 {
		c.Agent.MaxDepth = DefaultMaxDepth
	}
	if c.Usage.Store == "" {
		c.Usage.Store = "sqlite"
	}
	if c.Usage.Path == "" {
		c.Usage.Path = DefaultUsagePath
	}
	if c.Uploader.Provider == "" {
		c.Uploader.Provider = "auto"
	}
	if c.Driver.KeywordTool == "" {
		c.Driver.KeywordTool = DefaultKeywordTool
	}
	if c.Driver.PageSourceTool == "" {
		c.Driver.PageSourceTool = DefaultPageSourceTool
	}
	if c.Driver.ScreenshotTool == "" {
		c.Driver.ScreenshotTool = DefaultScreenshotTool
	}
}

// Render resolves templates in every secret-bearing field.
func (c *Config) Render(ctx map[string]string) {
	for i := range c.Providers {
		c.Providers[i] = c.Providers[i].Render(ctx)
	}
	c.Driver = c.Driver.Render(ctx)
	c.Uploader = c.Uploader.Render(ctx)
	c.Usage.Path = RenderTemplate(c.Usage.Path, ctx)
}

func (c *Config) FindProvider(name string) (Provider, error) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, nil
		}
	}
	return Provider{}, fmt.Errorf("provider %q not found in configuration", name)
}

// ============================================================================
// SCENARIO
// ============================================================================

// Scenario is an ordered list of independent steps. Each step is resolved
// on its own; nothing is carried from one step to the next.
type Scenario struct {
	Name            string            `yaml:"name"`
	Provider        string            `yaml:"provider,omitempty"`
	ContinueOnError bool              `yaml:"continue_on_error"`
	StepDelay       string            `yaml:"step_delay,omitempty"`
	Variables       map[string]string `yaml:"variables,omitempty"`
	Steps           []Step            `yaml:"steps"`
}

type Step struct {
	Name  string `yaml:"name,omitempty"`
	Do    string `yaml:"do,omitempty"`
	Check string `yaml:"check,omitempty"`
}

func (s Step) Kind() string {
	if s.Do != "" {
		return "do"
	}
	return "check"
}

func (s Step) Instruction() string {
	if s.Do != "" {
		return s.Do
	}
	return s.Check
}

// ============================================================================
// YAML PARSER
// ============================================================================

func ParseConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseConfigFromString(string(data))
}

func ParseConfigFromString(definition string) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal([]byte(definition), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	config.Render(GetAllEnv())
	config.ApplyDefaults()
	return &config, nil
}

func ParseScenario(filename string) (*Scenario, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseScenarioFromString(string(data))
}

func ParseScenarioFromString(definition string) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal([]byte(definition), &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML scenario: %w", err)
	}
	for i, step := range scenario.Steps {
		if (step.Do == "") == (step.Check == "") {
			return nil, fmt.Errorf("step %d must set exactly one of 'do' or 'check'", i+1)
		}
	}
	return &scenario, nil
}

// ============================================================================
// TEMPLATES
// ============================================================================

func GetAllEnv() map[string]string {
	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}
	return envMap
}

// RenderTemplate executes a raymond template. Values are not HTML-escaped.
// On any failure the input is returned unchanged.
func RenderTemplate(input string, context map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	tmpl, err := raymond.Parse(input)
	if err != nil {
		logger.Logger.Warn("Failed to parse template", "error", err)
		return input
	}

	values := make(map[string]any, len(context))
	for k, v := range context {
		values[k] = raymond.SafeString(v)
	}
	output, err := tmpl.Exec(values)
	if err != nil {
		logger.Logger.Warn("Failed to execute template", "error", err)
		return input
	}

	return output
}
