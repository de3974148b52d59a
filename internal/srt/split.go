package srt

import "fmt"

// Part is one translation chunk cut from the full line list. Start and
// End are 1-based inclusive line positions, matching the names written
// to disk (part_3_lines_201-300.txt).
type Part struct {
	Name  string
	Lines []string
	Start int
	End   int
}

// SplitByLines cuts lines into parts of at most perPart lines each.
func SplitByLines(lines []string, perPart int) []Part {
	if perPart <= 0 {
		perPart = 100
	}
	return split(lines, perPart)
}

// SplitIntoParts cuts lines into roughly numParts equal parts.
func SplitIntoParts(lines []string, numParts int) []Part {
	if numParts <= 0 {
		numParts = 1
	}
	perPart := (len(lines) + numParts - 1) / numParts
	if perPart == 0 {
		perPart = 1
	}
	return split(lines, perPart)
}

func split(lines []string, perPart int) []Part {
	var parts []Part
	total := len(lines)
	for i := 0; i*perPart < total; i++ {
		start := i * perPart
		end := start + perPart
		if end > total {
			end = total
		}
		parts = append(parts, Part{
			Name:  fmt.Sprintf("part_%d_lines_%d-%d", i+1, start+1, end),
			Lines: lines[start:end],
			Start: start + 1,
			End:   end,
		})
	}
	return parts
}

// MergeParts concatenates translated parts back into one line list, in
// part order. Parts must be passed in their original order.
func MergeParts(parts [][]string) []string {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]string, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
