// Package uitree turns a raw UI hierarchy dump into a short, ranked list of
// candidate elements for the prompt.
package uitree

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/life4/genesis/slices"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

const (
	DefaultMaxItems = 20
	DefaultMaxDepth = 12
)

type Mode int

const (
	// ModeAction keeps nodes that are both clickable and enabled.
	ModeAction Mode = iota
	// ModeCheck keeps nodes carrying visible text or a content description.
	ModeCheck
)

type Options struct {
	MaxItems int
	MaxDepth int
	Mode     Mode
}

func (o Options) withDefaults() Options {
	if o.MaxItems <= 0 {
		o.MaxItems = DefaultMaxItems
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	return o
}

// Node is a generic attributed tree node.
type Node struct {
	Tag      string
	Attrs    map[string]string
	Children []*Node
}

func (n *Node) attr(names ...string) string {
	for _, name := range names {
		if v, ok := n.Attrs[name]; ok && v != "" {
			return v
		}
	}
	return ""
}

func (n *Node) flag(names ...string) bool {
	return strings.EqualFold(n.attr(names...), "true")
}

// Parse decodes an XML page source and returns ranked candidates.
// Malformed input yields an empty list; the failure is only logged.
func Parse(raw string, opts Options) []model.UiElement {
	root, err := ParseTree(raw)
	if err != nil {
		logger.Logger.Warn("UI tree parsing failed, continuing without candidates",
			"error", err,
			"tree_length", len(raw))
		return []model.UiElement{}
	}
	return Candidates(root, opts)
}

// ParseTree decodes raw XML into a Node tree. Errors wrap model.ErrUiParse.
func ParseTree(raw string) (*Node, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty document", model.ErrUiParse)
	}

	dec := xml.NewDecoder(strings.NewReader(raw))
	var root *Node
	var stack []*Node

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrUiParse, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &Node{Tag: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				node.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: multiple root elements", model.ErrUiParse)
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("%w: no root element", model.ErrUiParse)
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unclosed element %q", model.ErrUiParse, stack[len(stack)-1].Tag)
	}
	return root, nil
}

// Candidates walks the tree depth-first and ranks the qualifying nodes.
func Candidates(root *Node, opts Options) []model.UiElement {
	opts = opts.withDefaults()
	if root == nil {
		return []model.UiElement{}
	}

	var all []model.UiElement
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		if depth > opts.MaxDepth {
			return
		}
		all = append(all, toElement(n, depth))
		for _, child := range n.Children {
			walk(child, depth+1)
		}
	}
	walk(root, 0)

	keep := actionable
	if opts.Mode == ModeCheck {
		keep = descriptive
	}
	candidates := slices.Filter(all, keep)

	sort.SliceStable(candidates, func(i, j int) bool {
		return Score(candidates[i]) > Score(candidates[j])
	})

	if len(candidates) > opts.MaxItems {
		candidates = candidates[:opts.MaxItems]
	}
	return candidates
}

// Score ranks an element by how identifiable it is for the model.
func Score(e model.UiElement) int {
	score := 0
	if e.Text != "" {
		score += 3
	}
	if e.ContentDescription != "" {
		score += 2
	}
	if e.ResourceID != "" {
		score += 1
	}
	return score
}

func actionable(e model.UiElement) bool {
	return e.Clickable && e.Enabled
}

func descriptive(e model.UiElement) bool {
	return e.Text != "" || e.ContentDescription != ""
}

// toElement maps Android UiAutomator2 attributes, falling back to the
// XCUITest names used in iOS page sources.
func toElement(n *Node, depth int) model.UiElement {
	className := n.attr("class", "type")
	if className == "" {
		className = n.Tag
	}
	index, _ := strconv.Atoi(n.attr("index"))

	clickable := n.flag("clickable")
	if _, android := n.Attrs["clickable"]; !android {
		clickable = n.flag("accessible")
	}

	return model.UiElement{
		Text:               n.attr("text", "value"),
		ResourceID:         n.attr("resource-id", "name"),
		ClassName:          className,
		ContentDescription: n.attr("content-desc", "label"),
		Package:            n.attr("package"),
		Bounds:             n.attr("bounds"),
		Clickable:          clickable,
		Enabled:            n.flag("enabled"),
		Depth:              depth,
		Index:              index,
	}
}
