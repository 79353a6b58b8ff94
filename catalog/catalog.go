// Package catalog holds the closed set of operations the model may choose
// from and their mapping onto AppiumLibrary keywords.
package catalog

import (
	"fmt"

	"github.com/life4/genesis/slices"

	"github.com/AI-driven-ST-Foundation/agent/model"
)

type Kind string

const (
	KindDo    Kind = "do"
	KindCheck Kind = "check"
)

// Entry describes one operation. Payload lists the result fields that are
// passed to the keyword after the locator, in argument order.
type Entry struct {
	Name            string
	Keyword         string
	RequiresLocator bool
	Payload         []string
	Description     string
	Implemented     bool
}

const (
	ActionOpen  = "open"
	ActionTap   = "tap"
	ActionType  = "type"
	ActionClear = "clear"
	ActionSwipe = "swipe"

	AssertVisible          = "visible"
	AssertExists           = "exists"
	AssertTextContains     = "text_contains"
	AssertPageTextContains = "page_text_contains"
	AssertEnabled          = "enabled"
	AssertDisabled         = "disabled"

	PayloadText     = "text"
	PayloadExpected = "expected"
)

var doEntries = []Entry{
	{Name: ActionOpen, Keyword: "Open Application", Description: "Open the application session (uses the configured capabilities).", Implemented: true},
	{Name: ActionTap, Keyword: "Click Element", RequiresLocator: true, Description: "Tap the element designated by the locator.", Implemented: true},
	{Name: ActionType, Keyword: "Input Text", RequiresLocator: true, Payload: []string{PayloadText}, Description: "Type 'text' into the field designated by the locator.", Implemented: true},
	{Name: ActionClear, Keyword: "Clear Text", RequiresLocator: true, Description: "Clear the field designated by the locator.", Implemented: true},
	{Name: ActionSwipe, Keyword: "Swipe By Percent", Description: "Swipe the screen (not available yet).", Implemented: false},
}

var checkEntries = []Entry{
	{Name: AssertVisible, Keyword: "Page Should Contain Element", RequiresLocator: true, Description: "The element is displayed.", Implemented: true},
	{Name: AssertExists, Keyword: "Page Should Contain Element", RequiresLocator: true, Description: "The element exists in the page (alias of visible).", Implemented: true},
	{Name: AssertTextContains, Keyword: "Element Should Contain Text", RequiresLocator: true, Payload: []string{PayloadExpected}, Description: "The element's text contains 'expected'.", Implemented: true},
	{Name: AssertPageTextContains, Keyword: "Page Should Contain Text", Payload: []string{PayloadExpected}, Description: "The page contains the text 'expected' anywhere.", Implemented: true},
	{Name: AssertEnabled, Keyword: "Element Should Be Enabled", RequiresLocator: true, Description: "The element is enabled.", Implemented: true},
	{Name: AssertDisabled, Keyword: "Element Should Be Disabled", RequiresLocator: true, Description: "The element is disabled.", Implemented: true},
}

// Do returns a copy of the action catalog in prompt order.
func Do() []Entry {
	return clone(doEntries)
}

// Check returns a copy of the assertion catalog in prompt order.
func Check() []Entry {
	return clone(checkEntries)
}

func Entries(kind Kind) []Entry {
	if kind == KindCheck {
		return Check()
	}
	return Do()
}

func Names(kind Kind) []string {
	return slices.Map(Entries(kind), func(e Entry) string { return e.Name })
}

// Lookup finds an entry by operation name in the catalog of the given kind.
func Lookup(kind Kind, name string) (Entry, bool) {
	entry, err := slices.Find(Entries(kind), func(e Entry) bool { return e.Name == name })
	if err != nil {
		return Entry{}, false
	}
	return entry, true
}

func LookupDo(name string) (Entry, bool) {
	return Lookup(KindDo, name)
}

func LookupCheck(name string) (Entry, bool) {
	return Lookup(KindCheck, name)
}

func clone(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Payload = append([]string(nil), e.Payload...)
		out[i] = e
	}
	return out
}

// ToDriverLocator formats a locator in AppiumLibrary syntax.
func ToDriverLocator(l model.Locator) (string, error) {
	if err := l.Validate(); err != nil {
		return "", err
	}
	switch l.Strategy {
	case model.StrategyID:
		return "id=" + l.Value, nil
	case model.StrategyAccessibilityID:
		return "accessibility_id=" + l.Value, nil
	case model.StrategyXPath:
		return l.Value, nil
	case model.StrategyClassName:
		return "class=" + l.Value, nil
	case model.StrategyAndroidUiAutomator:
		return "android=uiautomator=" + l.Value, nil
	case model.StrategyIOSPredicate:
		return "-ios predicate string:" + l.Value, nil
	}
	return "", fmt.Errorf("unknown locator strategy %q", l.Strategy)
}
