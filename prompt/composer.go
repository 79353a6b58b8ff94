// Package prompt renders the catalog, the output schema and the UI candidates
// into the messages sent to the model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/AI-driven-ST-Foundation/agent/catalog"
	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

const MaxRenderedCandidates = 30

type Locale string

const (
	LocaleEN Locale = "en"
	LocaleFR Locale = "fr"
)

type phrases struct {
	catalogDo    string
	catalogCheck string
	strategies   string
	uiContext    string
	answer       string
	noCandidates string
}

var localized = map[Locale]phrases{
	LocaleEN: {
		catalogDo:    "Allowed actions (mapped to AppiumLibrary):",
		catalogCheck: "Allowed assertions (mapped to AppiumLibrary):",
		strategies:   "Allowed locator strategies:",
		uiContext:    "UI context (top elements):",
		answer:       "Answer in strict JSON (single line), schema:",
		noCandidates: "(no interactive UI element found - check that the app is open)",
	},
	LocaleFR: {
		catalogDo:    "Actions autorisées (mapping vers AppiumLibrary):",
		catalogCheck: "Assertions autorisées (mapping vers AppiumLibrary):",
		strategies:   "Stratégies de locator permises:",
		uiContext:    "Contexte UI (top éléments):",
		answer:       "Répondez en JSON strict (une ligne), schéma:",
		noCandidates: "(aucun élément UI interactif trouvé - vérifiez que l'app est bien ouverte)",
	},
}

// Composer builds do/check prompts. The zero value uses English phrasing.
// Output depends only on the arguments.
type Composer struct {
	Locale Locale
}

func NewComposer(locale Locale) *Composer {
	return &Composer{Locale: locale}
}

func (c *Composer) phrases() phrases {
	if p, ok := localized[c.Locale]; ok {
		return p
	}
	return localized[LocaleEN]
}

func (c *Composer) ComposeDo(instruction string, candidates []model.UiElement, imageRef string) []model.NeutralMessage {
	return c.compose(catalog.KindDo, instruction, candidates, imageRef)
}

func (c *Composer) ComposeCheck(instruction string, candidates []model.UiElement, imageRef string) []model.NeutralMessage {
	return c.compose(catalog.KindCheck, instruction, candidates, imageRef)
}

func (c *Composer) compose(kind catalog.Kind, instruction string, candidates []model.UiElement, imageRef string) []model.NeutralMessage {
	p := c.phrases()
	schema := SchemaJSON(kind)

	user := strings.Join([]string{
		"Instruction: " + instruction,
		p.uiContext,
		RenderCandidates(candidates, p.noCandidates),
		p.answer,
		schema,
	}, "\n\n")

	parts := []model.ContentPart{model.TextPart{Text: user}}
	if imageRef != "" {
		parts = append(parts, model.ImagePart{URL: imageRef})
	}

	logger.Logger.Debug("Composed prompt",
		"kind", kind,
		"candidates", len(candidates),
		"with_image", imageRef != "")

	return []model.NeutralMessage{
		model.SystemMessage(c.systemPrompt(kind, schema)),
		model.UserMessage(parts...),
	}
}

func (c *Composer) systemPrompt(kind catalog.Kind, schema string) string {
	var sb strings.Builder
	if kind == catalog.KindCheck {
		sb.WriteString("You are a mobile test verification engine. ")
		sb.WriteString("Your task is to select a single valid assertion and a locator, ")
	} else {
		sb.WriteString("You are a mobile test execution engine. ")
		sb.WriteString("Your task is to select a single valid action and a locator, ")
	}
	sb.WriteString("strictly adhering to the JSON output schema. ")
	sb.WriteString("No step-by-step reasoning, only the JSON response.\n\n")

	sb.WriteString(c.RenderCatalog(kind))
	sb.WriteString("\n\n")

	sb.WriteString("CRITICAL INSTRUCTIONS:\n")
	sb.WriteString("- ALWAYS PRIORITIZE the 'xpath' strategy when it is available in the UI context, then 'id', then 'accessibility_id'\n")
	sb.WriteString("- Use 'xpath' for precise and reliable localization\n")
	sb.WriteString("- Avoid generic 'class_name' values like 'android.widget.Button' that match many elements\n")
	sb.WriteString("- Choose the first element that matches the instruction\n")
	sb.WriteString("- Put alternative locators in 'candidates', best first\n\n")

	if kind == catalog.KindCheck {
		sb.WriteString("Constraints: one assertion only. ")
		sb.WriteString("If the information is uncertain, choose the most precise assertion possible.\n\n")
	} else {
		sb.WriteString("Constraints: one action only, no multiple attempts. ")
		sb.WriteString("If the screen does not allow the requested action, choose the best locator according to the UI context.\n\n")
	}

	sb.WriteString("Output JSON schema:\n")
	sb.WriteString(schema)
	return sb.String()
}

// RenderCatalog lists the operations with their keyword and description,
// followed by the allowed locator strategies.
func (c *Composer) RenderCatalog(kind catalog.Kind) string {
	p := c.phrases()
	header := p.catalogDo
	if kind == catalog.KindCheck {
		header = p.catalogCheck
	}

	lines := []string{header}
	for _, e := range catalog.Entries(kind) {
		lines = append(lines, fmt.Sprintf("- %s → %s: %s", e.Name, e.Keyword, e.Description))
	}
	lines = append(lines, fmt.Sprintf("%s %s", p.strategies, strings.Join(strategyNames(), ", ")))
	return strings.Join(lines, "\n")
}

// RenderCandidates renders one numbered line per element, omitting empty
// fields, capped at MaxRenderedCandidates rows.
func RenderCandidates(candidates []model.UiElement, emptyText string) string {
	if len(candidates) == 0 {
		return emptyText
	}
	if len(candidates) > MaxRenderedCandidates {
		candidates = candidates[:MaxRenderedCandidates]
	}

	rows := make([]string, 0, len(candidates))
	for i, e := range candidates {
		var fields []string
		if e.Text != "" {
			fields = append(fields, fmt.Sprintf("text='%s'", e.Text))
		}
		if e.ResourceID != "" {
			fields = append(fields, fmt.Sprintf("id='%s'", e.ResourceID))
		}
		if e.ContentDescription != "" {
			fields = append(fields, fmt.Sprintf("desc='%s'", e.ContentDescription))
		}
		if e.ClassName != "" {
			fields = append(fields, fmt.Sprintf("class='%s'", e.ClassName))
		}
		if len(fields) == 0 {
			fields = append(fields, "class=''")
		}
		rows = append(rows, fmt.Sprintf("%d. %s", i+1, strings.Join(fields, " | ")))
	}
	return strings.Join(rows, "\n")
}
