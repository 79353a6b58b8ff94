package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/AI-driven-ST-Foundation/agent/agent"
	"github.com/AI-driven-ST-Foundation/agent/driver"
	"github.com/AI-driven-ST-Foundation/agent/imgupload"
	"github.com/AI-driven-ST-Foundation/agent/llm"
	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
	"github.com/AI-driven-ST-Foundation/agent/prompt"
	"github.com/AI-driven-ST-Foundation/agent/usage"
)

// session holds everything one command invocation needs. Close releases the
// driver and the usage store.
type session struct {
	cfg    *model.Config
	usage  *usage.Accumulator
	llm    *llm.Facade
	agent  *agent.Agent
	driver *driver.Driver
}

type sessionOptions struct {
	provider   string
	needDriver bool
	dryRun     bool
}

func loadConfig() (*model.Config, error) {
	path := viper.GetString("config")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	cfg, err := model.ParseConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("config %s defines no providers", path)
	}
	return cfg, nil
}

func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg}

	s.usage, err = usage.Init(ctx, cfg.Usage)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage store: %w", err)
	}

	providerName := cfg.Agent.Provider
	if opts.provider != "" {
		providerName = opts.provider
	}
	provider, err := cfg.FindProvider(providerName)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.llm, err = llm.NewFacadeFromProvider(ctx, provider, s.usage)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize provider %s: %w", provider.Name, err)
	}

	var exec agent.Executor = dryRunExecutor{}
	if opts.needDriver || !opts.dryRun {
		s.driver, err = driver.Open(ctx, cfg.Driver)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect driver: %w", err)
		}
		if !opts.dryRun {
			exec = s.driver
		}
	}

	s.agent = newAgent(cfg.Agent, s.llm, exec, selectUploader(cfg))
	return s, nil
}

func (s *session) Close() {
	if s.driver != nil {
		if err := s.driver.Close(); err != nil {
			logger.Logger.Warn("Error closing driver", "error", err)
		}
	}
	if s.usage != nil {
		if err := s.usage.Close(); err != nil {
			logger.Logger.Warn("Error closing usage store", "error", err)
		}
	}
}

// newAgent applies the agent settings. With image grounding on and no
// uploader, screenshots are sent inline.
func newAgent(settings model.AgentSettings, completer agent.Completer, exec agent.Executor, up imgupload.Uploader) *agent.Agent {
	a := agent.New(completer, exec)
	a.Composer = prompt.NewComposer(prompt.Locale(strings.ToLower(settings.Locale)))
	if settings.MaxCandidates > 0 {
		a.MaxCandidates = settings.MaxCandidates
	}
	if settings.MaxDepth > 0 {
		a.MaxDepth = settings.MaxDepth
	}
	a.Temperature = settings.Temperature
	if settings.ImageGrounded {
		if up != nil {
			a.Uploader = up
		} else {
			a.InlineScreenshots = true
		}
	}
	return a
}

// selectUploader returns nil when image grounding is off or no upload
// service is usable.
func selectUploader(cfg *model.Config) imgupload.Uploader {
	if !cfg.Agent.ImageGrounded {
		return nil
	}
	up, err := imgupload.NewFromConfig(cfg.Uploader)
	if err != nil {
		if errors.Is(err, imgupload.ErrNotConfigured) {
			logger.Logger.Info("No image upload service configured, screenshots are sent inline")
		} else {
			logger.Logger.Warn("Image uploader disabled", "error", err)
		}
		return nil
	}
	return up
}

// dryRunExecutor prints the resolved keyword instead of running it.
type dryRunExecutor struct{}

func (dryRunExecutor) Execute(_ context.Context, keyword string, args ...string) (any, error) {
	logger.Logger.Info("Dry run, keyword not executed", "keyword", keyword, "args", args)
	return nil, nil
}
