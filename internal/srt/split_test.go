package srt

import (
	"strconv"
	"testing"
)

func numberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "line " + strconv.Itoa(i+1)
	}
	return lines
}

func TestSplitByLines(t *testing.T) {
	parts := SplitByLines(numberedLines(250), 100)
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}

	wantNames := []string{
		"part_1_lines_1-100",
		"part_2_lines_101-200",
		"part_3_lines_201-250",
	}
	wantLens := []int{100, 100, 50}
	for i, p := range parts {
		if p.Name != wantNames[i] {
			t.Errorf("part %d name = %s, want %s", i, p.Name, wantNames[i])
		}
		if len(p.Lines) != wantLens[i] {
			t.Errorf("part %d lines = %d, want %d", i, len(p.Lines), wantLens[i])
		}
	}
	if parts[1].Start != 101 || parts[1].End != 200 {
		t.Errorf("part 2 range = %d-%d", parts[1].Start, parts[1].End)
	}
	if parts[2].Lines[0] != "line 201" {
		t.Errorf("part 3 first line = %q", parts[2].Lines[0])
	}
}

func TestSplitByLinesExactMultiple(t *testing.T) {
	parts := SplitByLines(numberedLines(200), 100)
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2 (no empty trailing part)", len(parts))
	}
}

func TestSplitByLinesEmpty(t *testing.T) {
	if parts := SplitByLines(nil, 100); len(parts) != 0 {
		t.Errorf("parts = %v, want none", parts)
	}
}

func TestSplitIntoParts(t *testing.T) {
	parts := SplitIntoParts(numberedLines(10), 3)
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	// Ceil division: 4+4+2.
	if len(parts[0].Lines) != 4 || len(parts[2].Lines) != 2 {
		t.Errorf("part sizes = %d/%d/%d", len(parts[0].Lines), len(parts[1].Lines), len(parts[2].Lines))
	}

	// More parts than lines still yields one line per part.
	parts = SplitIntoParts(numberedLines(2), 5)
	if len(parts) != 2 {
		t.Errorf("parts = %d, want 2", len(parts))
	}
}

func TestMergePartsRoundTrip(t *testing.T) {
	lines := numberedLines(123)
	parts := SplitByLines(lines, 50)

	var translated [][]string
	for _, p := range parts {
		translated = append(translated, p.Lines)
	}
	merged := MergeParts(translated)
	if len(merged) != len(lines) {
		t.Fatalf("merged = %d lines, want %d", len(merged), len(lines))
	}
	for i := range lines {
		if merged[i] != lines[i] {
			t.Fatalf("line %d = %q, want %q", i, merged[i], lines[i])
		}
	}
}
