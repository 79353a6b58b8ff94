// Package agent resolves one natural-language instruction against a UI
// snapshot into exactly one driver keyword call.
package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/AI-driven-ST-Foundation/agent/catalog"
	"github.com/AI-driven-ST-Foundation/agent/llm"
	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
	"github.com/AI-driven-ST-Foundation/agent/prompt"
	"github.com/AI-driven-ST-Foundation/agent/uitree"
)

// Completer is satisfied by *llm.Facade.
type Completer interface {
	Complete(ctx context.Context, messages []model.NeutralMessage, opts llm.CompletionOptions) (model.NeutralResponse, error)
}

// Uploader publishes a screenshot and returns a URL the model can fetch.
type Uploader interface {
	UploadBase64(ctx context.Context, data, name string) (string, error)
}

// Snapshot is the UI state a step is resolved against.
type Snapshot struct {
	Tree       string
	Screenshot []byte
}

type Agent struct {
	LLM      Completer
	Executor Executor
	Composer *prompt.Composer
	// Uploader is optional. Without it screenshots are sent inline when
	// InlineScreenshots is set and dropped otherwise.
	Uploader          Uploader
	InlineScreenshots bool
	MaxCandidates     int
	MaxDepth          int
	Temperature       float64
}

func New(completer Completer, executor Executor) *Agent {
	return &Agent{
		LLM:           completer,
		Executor:      executor,
		Composer:      prompt.NewComposer(prompt.LocaleEN),
		MaxCandidates: uitree.DefaultMaxItems,
		MaxDepth:      uitree.DefaultMaxDepth,
	}
}

// Outcome describes a resolved step. It is returned alongside the error so
// callers can report what was attempted.
type Outcome struct {
	Kind         catalog.Kind          `json:"kind"`
	Instruction  string                `json:"instruction"`
	Candidates   int                   `json:"candidates"`
	ImageURL     string                `json:"imageUrl,omitempty"`
	RawReply     string                `json:"rawReply,omitempty"`
	Call         Call                  `json:"call"`
	Response     model.NeutralResponse `json:"-"`
	PromptTokens int                   `json:"promptTokens"`
	OutputTokens int                   `json:"completionTokens"`
	Duration     time.Duration         `json:"duration"`
}

// ResolveDo performs one action described by instruction.
func (a *Agent) ResolveDo(ctx context.Context, instruction, uiTree string) error {
	_, err := a.Do(ctx, instruction, Snapshot{Tree: uiTree})
	return err
}

// ResolveCheck verifies one assertion described by instruction.
func (a *Agent) ResolveCheck(ctx context.Context, instruction, uiTree string) error {
	_, err := a.Check(ctx, instruction, Snapshot{Tree: uiTree})
	return err
}

// ResolveDoSnapshot is ResolveDo with the screenshot used for grounding.
func (a *Agent) ResolveDoSnapshot(ctx context.Context, instruction string, snap Snapshot) error {
	_, err := a.Do(ctx, instruction, snap)
	return err
}

func (a *Agent) ResolveCheckSnapshot(ctx context.Context, instruction string, snap Snapshot) error {
	_, err := a.Check(ctx, instruction, snap)
	return err
}

func (a *Agent) Do(ctx context.Context, instruction string, snap Snapshot) (Outcome, error) {
	return a.run(ctx, catalog.KindDo, instruction, snap)
}

func (a *Agent) Check(ctx context.Context, instruction string, snap Snapshot) (Outcome, error) {
	return a.run(ctx, catalog.KindCheck, instruction, snap)
}

func (a *Agent) run(ctx context.Context, kind catalog.Kind, instruction string, snap Snapshot) (Outcome, error) {
	start := time.Now()
	out := Outcome{Kind: kind, Instruction: instruction}
	logger.Logger.Info("Resolving instruction", "kind", kind, "instruction", instruction)

	mode := uitree.ModeAction
	if kind == catalog.KindCheck {
		mode = uitree.ModeCheck
	}
	candidates := uitree.Parse(snap.Tree, uitree.Options{
		MaxItems: a.MaxCandidates,
		MaxDepth: a.MaxDepth,
		Mode:     mode,
	})
	out.Candidates = len(candidates)
	logger.Logger.Debug("UI candidates extracted",
		"tree_bytes", len(snap.Tree),
		"candidates", len(candidates))

	out.ImageURL = a.imageRef(ctx, snap.Screenshot)

	composer := a.Composer
	if composer == nil {
		composer = prompt.NewComposer(prompt.LocaleEN)
	}
	var messages []model.NeutralMessage
	if kind == catalog.KindCheck {
		messages = composer.ComposeCheck(instruction, candidates, out.ImageURL)
	} else {
		messages = composer.ComposeDo(instruction, candidates, out.ImageURL)
	}

	resp, err := a.LLM.Complete(ctx, messages, llm.CompletionOptions{
		Temperature: llm.Float(a.Temperature),
		JSON:        true,
	})
	out.Duration = time.Since(start)
	if err != nil {
		errKind := model.ErrProviderRequest
		if errors.Is(err, model.ErrInvalidSampling) {
			errKind = model.ErrInvalidSampling
		}
		return out, model.NewStepError(errKind, instruction, "", "", err)
	}
	out.Response = resp
	out.RawReply = resp.Text
	out.PromptTokens = resp.PromptTokens
	out.OutputTokens = resp.CompletionTokens
	logger.Logger.Debug("Model reply received",
		"reply", resp.Text,
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens)

	if resp.Filtered() {
		logger.Logger.Warn("Provider withheld the reply", "reason", resp.FilterReason)
		return out, model.NewStepError(model.ErrContentFiltered, instruction, resp.Text, resp.FilterReason, nil)
	}

	obj, detail := extract(resp.Text)
	if obj == nil {
		return out, model.NewStepError(model.ErrMalformedResult, instruction, resp.Text, detail, nil)
	}

	var call Call
	if kind == catalog.KindCheck {
		call, err = PlanCheck(instruction, resp.Text, DecodeCheck(obj))
	} else {
		call, err = PlanDo(instruction, resp.Text, DecodeDo(obj))
	}
	if err != nil {
		logger.Logger.Error("Instruction could not be resolved",
			"instruction", instruction,
			"error", err)
		return out, err
	}
	out.Call = call

	err = call.Run(ctx, a.Executor)
	out.Duration = time.Since(start)
	if err == nil {
		logger.Logger.Info("Instruction resolved",
			"kind", kind,
			"keyword", call.Keyword,
			"duration", out.Duration)
	}
	return out, err
}

// imageRef returns the image reference for the prompt, or "" when the step
// runs without image grounding. Upload failures only disable grounding.
func (a *Agent) imageRef(ctx context.Context, screenshot []byte) string {
	if len(screenshot) == 0 {
		return ""
	}
	if a.Uploader != nil {
		name := fmt.Sprintf("screenshot-%d", time.Now().UnixNano())
		url, err := a.Uploader.UploadBase64(ctx, base64.StdEncoding.EncodeToString(screenshot), name)
		if err == nil {
			return url
		}
		logger.Logger.Warn("Screenshot upload failed, continuing without image", "error", err)
		return ""
	}
	if a.InlineScreenshots {
		return llm.DataURI("image/png", screenshot)
	}
	return ""
}
