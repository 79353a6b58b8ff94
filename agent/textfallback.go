package agent

import (
	"regexp"
	"strings"
)

// typedTextPatterns recover the text to type from the instruction when the
// model omits it. Order matters: the first non-empty capture wins.
var typedTextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)input this text[^:]*:\s*(.+)$`),
	regexp.MustCompile(`(?i)type this text[^:]*:\s*(.+)$`),
	regexp.MustCompile(`(?i)enter this text[^:]*:\s*(.+)$`),
	regexp.MustCompile(`(?i)write this text[^:]*:\s*(.+)$`),
	regexp.MustCompile(`(?i)input\s*:\s*(.+)$`),
	regexp.MustCompile(`(?i)type\s*:\s*(.+)$`),
	regexp.MustCompile(`(?i)enter\s*:\s*(.+)$`),
	regexp.MustCompile(`(?i)with text\s*["']([^"']+)["']`),
	regexp.MustCompile(`["']([^"']+)["']`),
}

// TextFromInstruction returns the payload embedded in an instruction such
// as `type this text: hello` or `enter "Paris" in the city field`. Case is
// preserved. Surrounding whitespace, including a trailing newline from a
// YAML block scalar, is ignored.
func TextFromInstruction(instruction string) (string, bool) {
	instruction = strings.TrimSpace(instruction)
	for _, re := range typedTextPatterns {
		m := re.FindStringSubmatch(instruction)
		if len(m) < 2 {
			continue
		}
		text := strings.Trim(strings.TrimSpace(m[1]), `"'`)
		if text != "" {
			return text, true
		}
	}
	return "", false
}
