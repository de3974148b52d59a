package gemini

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/sjson"
)

// BuildPrompt fills a JSON prompt template with the lines to translate.
// The template is treated as opaque: every {{COUNT}} placeholder is
// replaced with the line count, then the task name and source text are set
// on the well-known paths. An empty template yields a minimal prompt with
// just those fields.
func BuildPrompt(template []byte, task string, lines []string) (string, error) {
	if len(lines) == 0 {
		return "", fmt.Errorf("gemini: no lines to translate")
	}

	doc := strings.TrimSpace(string(template))
	if doc == "" {
		doc = "{}"
	}
	doc = strings.ReplaceAll(doc, "{{COUNT}}", strconv.Itoa(len(lines)))

	doc, err := sjson.Set(doc, "task", task)
	if err != nil {
		return "", fmt.Errorf("gemini: set task: %w", err)
	}
	doc, err = sjson.Set(doc, "source_text.total_lines", strconv.Itoa(len(lines)))
	if err != nil {
		return "", fmt.Errorf("gemini: set total_lines: %w", err)
	}
	doc, err = sjson.Set(doc, "source_text.content", lines)
	if err != nil {
		return "", fmt.Errorf("gemini: set content: %w", err)
	}
	return doc, nil
}

// buildPayload wraps a prompt string into the generateContent request body.
func buildPayload(prompt string) ([]byte, error) {
	doc, err := sjson.Set("", "contents.0.parts.0.text", prompt)
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}
