package agent

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/AI-driven-ST-Foundation/agent/model"
)

// Extract returns the JSON object in a model reply. The whole reply is tried
// first, then the span from the first '{' to the last '}'. Anything else is
// ErrMalformedResult; there is no partial recovery.
func Extract(reply string) (map[string]any, error) {
	obj, detail := extract(reply)
	if obj == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrMalformedResult, detail)
	}
	return obj, nil
}

func extract(reply string) (map[string]any, string) {
	if obj, ok := parseObject(reply); ok {
		return obj, ""
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, "no JSON object found"
	}
	if obj, ok := parseObject(reply[start : end+1]); ok {
		return obj, ""
	}
	return nil, "extracted content is not valid JSON"
}

func parseObject(s string) (map[string]any, bool) {
	var v any
	if err := sonic.ConfigStd.UnmarshalFromString(strings.TrimSpace(s), &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}
