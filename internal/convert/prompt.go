package convert

import (
	"regexp"
	"strings"

	"ollama2api/internal/core"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

var promptMarkers = strings.NewReplacer(
	core.PromptInstClose, "",
	core.PromptInstOpen, "",
	core.PromptSysOpen, "",
	core.PromptSysClose, "",
	core.PromptEOS, "",
)

// RenderPrompt flattens messages into the instruction template used by /api/generate.
func RenderPrompt(messages []core.OllamaMessage) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			parts = append(parts, core.PromptInstOpen+core.PromptSysOpen+msg.Content+core.PromptSysClose+core.PromptInstClose)
		case core.RoleUser:
			parts = append(parts, core.PromptInstOpen+msg.Content+core.PromptInstClose)
		default:
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// CleanGeneratedText strips tags and template markers and drops blank lines.
func CleanGeneratedText(text string) string {
	text = tagPattern.ReplaceAllString(strings.TrimSpace(text), "")
	text = promptMarkers.Replace(text)

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return core.EmptyResponseText
	}
	return strings.Join(kept, "\n")
}
