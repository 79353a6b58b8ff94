package model

import (
	"fmt"
	"strings"
)

// ============================================================================
// UI CANDIDATES
// ============================================================================

// UiElement is one interactive node extracted from a UI snapshot. It lives for
// a single resolution call.
type UiElement struct {
	Text               string `json:"text,omitempty"`
	ResourceID         string `json:"resource_id,omitempty"`
	ClassName          string `json:"class_name,omitempty"`
	ContentDescription string `json:"content_desc,omitempty"`
	Package            string `json:"package,omitempty"`
	Bounds             string `json:"bounds,omitempty"`
	Clickable          bool   `json:"clickable"`
	Enabled            bool   `json:"enabled"`
	Depth              int    `json:"depth"`
	Index              int    `json:"index"`
}

// ============================================================================
// LOCATORS
// ============================================================================

type LocatorStrategy string

const (
	StrategyID                 LocatorStrategy = "id"
	StrategyAccessibilityID    LocatorStrategy = "accessibility_id"
	StrategyXPath              LocatorStrategy = "xpath"
	StrategyClassName          LocatorStrategy = "class_name"
	StrategyAndroidUiAutomator LocatorStrategy = "android_uiautomator"
	StrategyIOSPredicate       LocatorStrategy = "ios_predicate"
)

// LocatorStrategies lists the accepted strategies in prompt preference order.
var LocatorStrategies = []LocatorStrategy{
	StrategyXPath,
	StrategyID,
	StrategyAccessibilityID,
	StrategyAndroidUiAutomator,
	StrategyIOSPredicate,
	StrategyClassName,
}

func (s LocatorStrategy) Valid() bool {
	for _, known := range LocatorStrategies {
		if s == known {
			return true
		}
	}
	return false
}

type Locator struct {
	Strategy LocatorStrategy `json:"strategy"`
	Value    string          `json:"value"`
}

func (l Locator) Validate() error {
	if strings.TrimSpace(string(l.Strategy)) == "" {
		return fmt.Errorf("locator strategy is empty")
	}
	if strings.TrimSpace(l.Value) == "" {
		return fmt.Errorf("locator value is empty for strategy %q", l.Strategy)
	}
	if !l.Strategy.Valid() {
		return fmt.Errorf("unknown locator strategy %q", l.Strategy)
	}
	return nil
}

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.Strategy, l.Value)
}

// ============================================================================
// NEUTRAL CHAT MODEL
// ============================================================================

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is either a TextPart or an ImagePart.
type ContentPart interface {
	isContentPart()
}

type TextPart struct {
	Text string
}

// ImagePart references an image by URL (remote or data URI) or carries the
// bytes inline together with their media type.
type ImagePart struct {
	URL       string
	MediaType string
	Data      []byte
}

func (TextPart) isContentPart()  {}
func (ImagePart) isContentPart() {}

type NeutralMessage struct {
	Role  Role
	Parts []ContentPart
}

// Text concatenates the text parts of the message.
func (m NeutralMessage) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func SystemMessage(text string) NeutralMessage {
	return NeutralMessage{Role: RoleSystem, Parts: []ContentPart{TextPart{Text: text}}}
}

func UserMessage(parts ...ContentPart) NeutralMessage {
	return NeutralMessage{Role: RoleUser, Parts: parts}
}

type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishOther         FinishReason = "other"
)

// NeutralResponse is the backend-independent result of one completion.
type NeutralResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     FinishReason
	// FilterReason is the backend's own reason when FinishReason is content_filter.
	FilterReason string
	Provider     string
	Model        string
}

func (r NeutralResponse) Filtered() bool {
	return r.FinishReason == FinishContentFilter
}

// ============================================================================
// AGENT RESULTS
// ============================================================================

type DoResult struct {
	Action     string
	Locator    *Locator
	Text       *string
	Candidates []Locator
}

type CheckResult struct {
	Assertion  string
	Locator    *Locator
	Expected   *string
	Candidates []Locator
}
