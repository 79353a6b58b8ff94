// Package usage accumulates token counts and cost per model. The
// accumulator is the only state shared across steps; it is set up
// explicitly with Init and lives until Close.
package usage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Totals is a snapshot of everything recorded so far.
type Totals struct {
	PromptTokens     int64        `json:"promptTokens"`
	CompletionTokens int64        `json:"completionTokens"`
	TotalTokens      int64        `json:"totalTokens"`
	Calls            int64        `json:"calls"`
	Cost             float64      `json:"cost"`
	Models           []ModelUsage `json:"models"`
}

type Accumulator struct {
	store   Store
	pricing Pricing
}

func NewAccumulator(store Store, pricing Pricing) *Accumulator {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	return &Accumulator{store: store, pricing: pricing}
}

// Record adds one completion to the totals. It is safe to call from
// several goroutines and from several processes sharing a SQLite store.
func (a *Accumulator) Record(ctx context.Context, modelName string, promptTokens, completionTokens int) error {
	if promptTokens < 0 || completionTokens < 0 {
		return fmt.Errorf("negative token count for %s: prompt=%d completion=%d", modelName, promptTokens, completionTokens)
	}
	if modelName == "" {
		modelName = "unknown"
	}
	cost := a.pricing.Cost(modelName, promptTokens, completionTokens)
	err := a.store.Add(ctx, ModelUsage{
		Model:            modelName,
		PromptTokens:     int64(promptTokens),
		CompletionTokens: int64(completionTokens),
		Calls:            1,
		Cost:             cost,
	})
	if err != nil {
		return err
	}
	logger.Logger.Debug("Token usage recorded",
		"model", modelName,
		"prompt_tokens", promptTokens,
		"completion_tokens", completionTokens,
		"cost", cost)
	return nil
}

func (a *Accumulator) Totals(ctx context.Context) (Totals, error) {
	models, err := a.store.Load(ctx)
	if err != nil {
		return Totals{}, err
	}
	t := Totals{Models: models}
	for _, m := range models {
		t.PromptTokens += m.PromptTokens
		t.CompletionTokens += m.CompletionTokens
		t.Calls += m.Calls
		t.Cost += m.Cost
	}
	t.TotalTokens = t.PromptTokens + t.CompletionTokens
	return t, nil
}

func (a *Accumulator) Reset(ctx context.Context) error {
	if err := a.store.Reset(ctx); err != nil {
		return err
	}
	logger.Logger.Info("Token usage reset")
	return nil
}

func (a *Accumulator) Close() error {
	return a.store.Close()
}

// ============================================================================
// PROCESS-WIDE ACCUMULATOR
// ============================================================================

var (
	defaultMu  sync.RWMutex
	defaultAcc *Accumulator
)

// Open builds an accumulator from configuration without installing it.
func Open(ctx context.Context, cfg model.UsageConfig) (*Accumulator, error) {
	pricing := DefaultPricing().WithOverrides(cfg.Pricing)

	switch strings.ToLower(cfg.Store) {
	case StoreMemory:
		return NewAccumulator(NewMemoryStore(), pricing), nil
	case StoreSQLite, "":
		path := cfg.Path
		if path == "" {
			path = model.DefaultUsagePath
		}
		store, err := OpenSQLiteStore(ctx, path)
		if err != nil {
			return nil, err
		}
		logger.Logger.Debug("Usage store opened", "path", path)
		return NewAccumulator(store, pricing), nil
	default:
		return nil, fmt.Errorf("unknown usage store %q (use sqlite or memory)", cfg.Store)
	}
}

// Init opens the accumulator described by cfg and makes it the process-wide
// default. A previous default is closed.
func Init(ctx context.Context, cfg model.UsageConfig) (*Accumulator, error) {
	acc, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defaultMu.Lock()
	prev := defaultAcc
	defaultAcc = acc
	defaultMu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			logger.Logger.Warn("Failed to close previous usage store", "error", err)
		}
	}
	return acc, nil
}

// Default returns the accumulator installed by Init, or nil before Init.
func Default() *Accumulator {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultAcc
}
