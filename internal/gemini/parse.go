package gemini

import "strings"

// ParseDelimited splits the model's translation output. The expected format
// is a pipe-delimited list with leading and trailing pipes:
//
//	|segment one|segment two|segment three|
//
// Empty segments are dropped. The segment count is expected to match the
// input line count; callers decide how strictly to treat a mismatch, since
// models occasionally merge or split lines.
func ParseDelimited(text string) []string {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "|")
	clean = strings.TrimSuffix(clean, "|")

	parts := strings.Split(clean, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
