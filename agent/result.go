package agent

import (
	"strconv"
	"strings"

	"github.com/AI-driven-ST-Foundation/agent/model"
)

// DecodeDo maps an extracted reply object onto a DoResult. Missing or
// mistyped fields are left empty; the resolver decides what that means.
func DecodeDo(obj map[string]any) model.DoResult {
	return model.DoResult{
		Action:     stringField(obj, "action"),
		Locator:    locatorField(obj["locator"]),
		Text:       payloadField(obj, "text"),
		Candidates: candidatesField(obj["candidates"]),
	}
}

// DecodeCheck maps an extracted reply object onto a CheckResult. Numeric
// expected values are stringified.
func DecodeCheck(obj map[string]any) model.CheckResult {
	return model.CheckResult{
		Assertion:  stringField(obj, "assertion"),
		Locator:    locatorField(obj["locator"]),
		Expected:   payloadField(obj, "expected"),
		Candidates: candidatesField(obj["candidates"]),
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// payloadField returns nil for absent or null values so the resolver can
// tell "not given" from "empty".
func payloadField(obj map[string]any, key string) *string {
	switch v := obj[key].(type) {
	case string:
		return &v
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(v)
		return &s
	}
	return nil
}

// locatorField returns nil for an absent, null or empty locator object. A
// non-empty object is returned as is, even with missing fields, so that
// validation reports it as invalid rather than absent.
func locatorField(v any) *model.Locator {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	strategy, _ := m["strategy"].(string)
	value, _ := m["value"].(string)
	return &model.Locator{
		Strategy: model.LocatorStrategy(strings.TrimSpace(strategy)),
		Value:    value,
	}
}

func candidatesField(v any) []model.Locator {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]model.Locator, 0, len(items))
	for _, item := range items {
		if l := locatorField(item); l != nil {
			out = append(out, *l)
		}
	}
	return out
}
