// Package engine runs scenarios: ordered do/check steps, each resolved on
// its own against a fresh UI snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/AI-driven-ST-Foundation/agent/agent"
	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
	"github.com/AI-driven-ST-Foundation/agent/templates"
	"github.com/AI-driven-ST-Foundation/agent/usage"
)

const (
	DefaultStepDelay = 0 * time.Second
	DefaultTimeout   = 0 * time.Second
)

// Resolver is satisfied by *agent.Agent.
type Resolver interface {
	Do(ctx context.Context, instruction string, snap agent.Snapshot) (agent.Outcome, error)
	Check(ctx context.Context, instruction string, snap agent.Snapshot) (agent.Outcome, error)
}

// Screen is satisfied by *driver.Driver.
type Screen interface {
	PageSource(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

type UsageReader interface {
	Totals(ctx context.Context) (usage.Totals, error)
}

type Runner struct {
	Resolver Resolver
	Screen   Screen
	// Usage is optional; when set the report carries the accumulated totals.
	Usage UsageReader
	// Screenshots enables image grounding. A failed capture only drops the
	// image for that step.
	Screenshots bool
	// StepTimeout bounds each step when positive.
	StepTimeout time.Duration
}

// ============================================================================
// REPORT
// ============================================================================

type StepResult struct {
	Index            int      `json:"index"`
	Name             string   `json:"name,omitempty"`
	Kind             string   `json:"kind"`
	Instruction      string   `json:"instruction"`
	Passed           bool     `json:"passed"`
	Skipped          bool     `json:"skipped,omitempty"`
	Keyword          string   `json:"keyword,omitempty"`
	Args             []string `json:"args,omitempty"`
	ErrorKind        string   `json:"errorKind,omitempty"`
	Error            string   `json:"error,omitempty"`
	RawReply         string   `json:"rawReply,omitempty"`
	ImageURL         string   `json:"imageUrl,omitempty"`
	Candidates       int      `json:"candidates"`
	PromptTokens     int      `json:"promptTokens"`
	CompletionTokens int      `json:"completionTokens"`
	DurationMs       int64    `json:"durationMs"`
}

type RunReport struct {
	RunID            string        `json:"runId"`
	Scenario         string        `json:"scenario"`
	StartTime        time.Time     `json:"startTime"`
	EndTime          time.Time     `json:"endTime"`
	DurationMs       int64         `json:"durationMs"`
	Passed           int           `json:"passed"`
	Failed           int           `json:"failed"`
	Skipped          int           `json:"skipped"`
	PromptTokens     int           `json:"promptTokens"`
	CompletionTokens int           `json:"completionTokens"`
	Usage            *usage.Totals `json:"usage,omitempty"`
	Steps            []StepResult  `json:"steps"`
}

func (r *RunReport) HasFailures() bool {
	return r.Failed > 0
}

// ============================================================================
// RUN
// ============================================================================

// Run executes the scenario steps in order. Step failures are recorded in
// the report; the returned error is only set when the run itself could not
// proceed (nil scenario, cancelled context).
func (r *Runner) Run(ctx context.Context, scenario *model.Scenario) (*RunReport, error) {
	if scenario == nil {
		return nil, fmt.Errorf("scenario cannot be nil")
	}
	if r.Resolver == nil || r.Screen == nil {
		return nil, fmt.Errorf("runner needs both a resolver and a screen")
	}

	report := &RunReport{
		RunID:     uuid.New().String(),
		Scenario:  scenario.Name,
		StartTime: time.Now(),
		Steps:     make([]StepResult, 0, len(scenario.Steps)),
	}
	vars := CreateTemplateContext(report.RunID, scenario)
	delay := ParseDelay(scenario.StepDelay)

	logger.Logger.Info("Running scenario",
		"scenario", scenario.Name,
		"run_id", report.RunID,
		"steps", len(scenario.Steps),
		"continue_on_error", scenario.ContinueOnError)

	var runErr error
	stopped := false
	for i, step := range scenario.Steps {
		result := StepResult{Index: i + 1, Name: step.Name, Kind: step.Kind(), Instruction: step.Instruction()}

		if stopped {
			result.Skipped = true
			report.add(result)
			continue
		}
		if i > 0 && delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				runErr = err
				stopped = true
				result.Skipped = true
				report.add(result)
				continue
			}
		}

		start := time.Now()
		result = r.runStep(ctx, result, vars)
		result.DurationMs = time.Since(start).Milliseconds()
		report.add(result)

		if !result.Passed {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				stopped = true
			} else if !scenario.ContinueOnError {
				logger.Logger.Warn("Stopping scenario after failed step", "step", result.Index)
				stopped = true
			}
		}
	}

	report.EndTime = time.Now()
	report.DurationMs = report.EndTime.Sub(report.StartTime).Milliseconds()

	if r.Usage != nil {
		totals, err := r.Usage.Totals(ctx)
		if err != nil {
			logger.Logger.Warn("Failed to read token usage", "error", err)
		} else {
			report.Usage = &totals
		}
	}

	logger.Logger.Info("Scenario finished",
		"scenario", scenario.Name,
		"passed", report.Passed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration_ms", report.DurationMs)
	return report, runErr
}

func (r *Runner) runStep(ctx context.Context, result StepResult, vars map[string]string) StepResult {
	if r.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.StepTimeout)
		defer cancel()
	}

	instruction, err := templates.Render(result.Instruction, vars)
	if err != nil {
		return failStep(result, "template", err)
	}
	result.Instruction = instruction
	logger.Logger.Info("Running step",
		"step", result.Index,
		"kind", result.Kind,
		"instruction", instruction)

	snap, err := r.snapshot(ctx)
	if err != nil {
		return failStep(result, "page_source", err)
	}

	var outcome agent.Outcome
	if result.Kind == "check" {
		outcome, err = r.Resolver.Check(ctx, instruction, snap)
	} else {
		outcome, err = r.Resolver.Do(ctx, instruction, snap)
	}
	result.Keyword = outcome.Call.Keyword
	result.Args = outcome.Call.Args
	result.RawReply = outcome.RawReply
	result.ImageURL = outcome.ImageURL
	result.Candidates = outcome.Candidates
	result.PromptTokens = outcome.PromptTokens
	result.CompletionTokens = outcome.OutputTokens
	if err != nil {
		return failStep(result, ErrorKind(err), err)
	}
	result.Passed = true
	return result
}

func (r *Runner) snapshot(ctx context.Context) (agent.Snapshot, error) {
	tree, err := r.Screen.PageSource(ctx)
	if err != nil {
		return agent.Snapshot{}, fmt.Errorf("failed to read page source: %w", err)
	}
	snap := agent.Snapshot{Tree: tree}
	if r.Screenshots {
		img, err := r.Screen.Screenshot(ctx)
		if err != nil {
			logger.Logger.Warn("Screenshot failed, continuing without image", "error", err)
		} else {
			snap.Screenshot = img
		}
	}
	return snap, nil
}

func failStep(result StepResult, kind string, err error) StepResult {
	result.Passed = false
	result.ErrorKind = kind
	result.Error = err.Error()
	logger.Logger.Error("Step failed",
		"step", result.Index,
		"instruction", result.Instruction,
		"kind", kind,
		"error", err)
	return result
}

func (r *RunReport) add(result StepResult) {
	switch {
	case result.Skipped:
		r.Skipped++
	case result.Passed:
		r.Passed++
	default:
		r.Failed++
	}
	r.PromptTokens += result.PromptTokens
	r.CompletionTokens += result.CompletionTokens
	r.Steps = append(r.Steps, result)
}

// ErrorKind names the failure class of a step error: the StepError kind
// when the resolver failed, "execution" when the driver rejected the call.
func ErrorKind(err error) string {
	var stepErr *model.StepError
	if errors.As(err, &stepErr) {
		return stepErr.Kind.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "execution"
}

// ============================================================================
// TEMPLATE CONTEXT
// ============================================================================

// CreateTemplateContext returns the variables available to step
// instructions: the environment, RUN_ID, SCENARIO_NAME, TEMP_DIR and the
// scenario variables. Scenario variables may themselves use templates.
func CreateTemplateContext(runID string, scenario *model.Scenario) map[string]string {
	templateCtx := model.GetAllEnv()
	templateCtx["RUN_ID"] = runID
	templateCtx["TEMP_DIR"] = os.TempDir()
	templateCtx["SCENARIO_NAME"] = scenario.Name

	rendered := make(map[string]string, len(scenario.Variables))
	for k, v := range scenario.Variables {
		out, err := templates.Render(v, templateCtx)
		if err != nil {
			logger.Logger.Warn("Failed to render scenario variable", "name", k, "error", err)
			out = v
		}
		rendered[k] = out
	}
	return MergeVariables(rendered, templateCtx)
}

// MergeVariables returns a new map with secondary overridden by primary.
func MergeVariables(primary map[string]string, secondary map[string]string) map[string]string {
	merged := make(map[string]string, len(primary)+len(secondary))
	for key, value := range secondary {
		merged[key] = value
	}
	for key, value := range primary {
		merged[key] = value
	}
	return merged
}

func ParseDelay(delayStr string) time.Duration {
	return parseDuration("delay", delayStr, DefaultStepDelay)
}

func ParseTimeout(timeoutStr string) time.Duration {
	return parseDuration("timeout", timeoutStr, DefaultTimeout)
}

func parseDuration(name, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		logger.Logger.Warn("Invalid "+name+", using default",
			name, value,
			"default", fallback,
			"error", err)
		return fallback
	}
	if dur < 0 {
		logger.Logger.Warn("Negative "+name+", using 0", name, dur)
		return 0
	}
	return dur
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ============================================================================
// OUTPUT
// ============================================================================

func WriteJSON(report *RunReport, outputPath string) error {
	data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	if err := os.WriteFile(outputPath, data, logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	logger.Logger.Info("Run report written", "path", outputPath)
	return nil
}

func PrintSummary(report *RunReport) {
	if report == nil || len(report.Steps) == 0 {
		logger.Logger.Info("No steps were run")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("[Summary] %s (run %s)\n", report.Scenario, report.RunID)
	fmt.Println(strings.Repeat("=", 80))
	for _, s := range report.Steps {
		status := "PASS"
		switch {
		case s.Skipped:
			status = "SKIP"
		case !s.Passed:
			status = "FAIL"
		}
		fmt.Printf("  [%s] %d. %s: %s\n", status, s.Index, s.Kind, s.Instruction)
		if s.Keyword != "" {
			fmt.Printf("         -> %s\n", agent.Call{Keyword: s.Keyword, Args: s.Args})
		}
		if s.Error != "" {
			fmt.Printf("         !! %s\n", s.Error)
		}
	}
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("  Passed:           %d\n", report.Passed)
	fmt.Printf("  Failed:           %d\n", report.Failed)
	fmt.Printf("  Skipped:          %d\n", report.Skipped)
	fmt.Printf("  Duration:         %dms\n", report.DurationMs)
	fmt.Printf("  Tokens:           %d prompt / %d completion\n", report.PromptTokens, report.CompletionTokens)
	if report.Usage != nil {
		fmt.Printf("  Accumulated cost: $%.4f over %d calls\n", report.Usage.Cost, report.Usage.Calls)
	}
	fmt.Println(strings.Repeat("=", 80))
}
