package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

var ErrNoAdapter = errors.New("no provider configured")

// UsageRecorder receives the token counts of every successful completion.
type UsageRecorder interface {
	Record(ctx context.Context, modelName string, promptTokens, completionTokens int) error
}

// Facade is the single entry point for completions. The active adapter can
// be swapped at runtime; in-flight calls keep the adapter they started with.
type Facade struct {
	mu      sync.RWMutex
	adapter Adapter
	usage   UsageRecorder

	newAdapter func(context.Context, model.Provider) (Adapter, error)
}

func NewFacade(adapter Adapter, usage UsageRecorder) *Facade {
	return &Facade{adapter: adapter, usage: usage, newAdapter: NewAdapter}
}

// NewFacadeFromProvider builds the adapter for p and returns a facade over it.
func NewFacadeFromProvider(ctx context.Context, p model.Provider, usage UsageRecorder) (*Facade, error) {
	f := NewFacade(nil, usage)
	if err := f.SwitchProvider(ctx, p); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Facade) current() Adapter {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.adapter
}

// Provider returns the name and model of the active adapter.
func (f *Facade) Provider() (string, string) {
	a := f.current()
	if a == nil {
		return "", ""
	}
	return a.Name(), a.Model()
}

func (f *Facade) Complete(ctx context.Context, messages []model.NeutralMessage, opts CompletionOptions) (model.NeutralResponse, error) {
	a := f.current()
	if a == nil {
		return model.NeutralResponse{}, ErrNoAdapter
	}

	resp, err := a.Complete(ctx, messages, opts)
	if err != nil {
		return model.NeutralResponse{}, err
	}

	if f.usage != nil {
		if recErr := f.usage.Record(ctx, resp.Model, resp.PromptTokens, resp.CompletionTokens); recErr != nil {
			logger.Logger.Warn("Failed to record token usage",
				"provider", resp.Provider,
				"model", resp.Model,
				"error", recErr)
		}
	}
	return resp, nil
}

// SwitchProvider builds a new adapter and makes it active. On error the
// previous adapter stays in place.
func (f *Facade) SwitchProvider(ctx context.Context, p model.Provider) error {
	a, err := f.newAdapter(ctx, p)
	if err != nil {
		return err
	}
	f.SwitchAdapter(a)
	return nil
}

func (f *Facade) SwitchAdapter(a Adapter) {
	f.mu.Lock()
	f.adapter = a
	f.mu.Unlock()
	if a != nil {
		logger.Logger.Info("Provider switched", "provider", a.Name(), "model", a.Model())
	}
}
