package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/AI-driven-ST-Foundation/agent/catalog"
	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

// Executor runs one AppiumLibrary keyword. Implementations live in driver.
type Executor interface {
	Execute(ctx context.Context, keyword string, args ...string) (any, error)
}

// Call is a single resolved keyword invocation.
type Call struct {
	Operation string   `json:"operation"`
	Keyword   string   `json:"keyword"`
	Args      []string `json:"args,omitempty"`
}

func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Keyword
	}
	return c.Keyword + "  " + strings.Join(c.Args, "  ")
}

// PlanDo turns a decoded action into a keyword call. instruction and
// rawReply are only used for error context and the text fallback.
func PlanDo(instruction, rawReply string, res model.DoResult) (Call, error) {
	return plan(catalog.KindDo, instruction, rawReply, res.Action, res.Locator, res.Candidates,
		map[string]*string{catalog.PayloadText: res.Text})
}

func PlanCheck(instruction, rawReply string, res model.CheckResult) (Call, error) {
	return plan(catalog.KindCheck, instruction, rawReply, res.Assertion, res.Locator, res.Candidates,
		map[string]*string{catalog.PayloadExpected: res.Expected})
}

func plan(
	kind catalog.Kind,
	instruction, rawReply, op string,
	locator *model.Locator,
	candidates []model.Locator,
	payload map[string]*string,
) (Call, error) {
	fail := func(errKind error, detail string, err error) (Call, error) {
		return Call{}, model.NewStepError(errKind, instruction, rawReply, detail, err)
	}

	entry, ok := catalog.Lookup(kind, op)
	if !ok {
		return fail(model.ErrUnsupportedOperation, fmt.Sprintf("%s operation %q is not in the catalog", kind, op), nil)
	}
	if !entry.Implemented {
		return fail(model.ErrUnsupportedOperation, fmt.Sprintf("%s operation %q is not implemented", kind, op), nil)
	}

	call := Call{Operation: entry.Name, Keyword: entry.Keyword}

	if entry.RequiresLocator {
		if locator == nil && len(candidates) > 0 {
			locator = &candidates[0]
			logger.Logger.Info("No primary locator, using first candidate",
				"operation", op,
				"locator", locator.String())
		}
		if locator == nil {
			return fail(model.ErrNoLocator, fmt.Sprintf("%q needs a locator and the reply has none", op), nil)
		}
		driverLocator, err := catalog.ToDriverLocator(*locator)
		if err != nil {
			return fail(model.ErrInvalidLocator, "", err)
		}
		call.Args = append(call.Args, driverLocator)
	}

	for _, field := range entry.Payload {
		value := payload[field]
		if value == nil && field == catalog.PayloadText {
			if text, found := TextFromInstruction(instruction); found {
				logger.Logger.Info("Text extracted from instruction", "text", text)
				value = &text
			}
		}
		if value == nil {
			return fail(model.ErrMissingPayload, fmt.Sprintf("%q requires %q", op, field), nil)
		}
		call.Args = append(call.Args, *value)
	}

	return call, nil
}

// Run hands the call to the executor. Executor errors are returned
// unchanged.
func (c Call) Run(ctx context.Context, exec Executor) error {
	logger.Logger.Info("Executing keyword", "keyword", c.Keyword, "args", c.Args)
	if _, err := exec.Execute(ctx, c.Keyword, c.Args...); err != nil {
		logger.Logger.Error("Keyword failed",
			"keyword", c.Keyword,
			"args", c.Args,
			"error", err)
		return err
	}
	logger.Logger.Debug("Keyword succeeded", "keyword", c.Keyword)
	return nil
}
