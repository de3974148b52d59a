// Package srt reads and writes SubRip subtitle files and prepares their
// text for batch translation. Parsing is deliberately lenient: real-world
// SRT files have stray blank lines, missing sequence numbers and
// multi-line cues.
package srt

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Entry is one subtitle cue.
type Entry struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

var timingRe = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d{2}):(\d{2}):(\d{2})[,.](\d{1,3})`)

// Parse reads SRT content. Cues without a timing line are skipped;
// multi-line cue text is joined with a single space.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var blocks [][]string
	var current []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}

	var entries []Entry
	for _, block := range blocks {
		entry, ok := parseBlock(block, len(entries)+1)
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func parseBlock(lines []string, fallbackIndex int) (Entry, bool) {
	for i, line := range lines {
		m := timingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		index := fallbackIndex
		if i > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
				index = n
			}
		}

		text := strings.TrimSpace(strings.Join(lines[i+1:], " "))
		return Entry{
			Index: index,
			Start: parseTimestamp(m[1], m[2], m[3], m[4]),
			End:   parseTimestamp(m[5], m[6], m[7], m[8]),
			Text:  text,
		}, true
	}
	return Entry{}, false
}

func parseTimestamp(h, m, s, ms string) time.Duration {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.Atoi(s)
	// Pad fractional part: "5" means 500ms, not 5ms
	for len(ms) < 3 {
		ms += "0"
	}
	mss, _ := strconv.Atoi(ms)
	return time.Duration(hh)*time.Hour +
		time.Duration(mm)*time.Minute +
		time.Duration(ss)*time.Second +
		time.Duration(mss)*time.Millisecond
}

// FormatTimestamp renders a duration as an SRT timestamp (HH:MM:SS,mmm).
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Write renders entries as an SRT document, renumbering sequentially.
func Write(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for i, e := range entries {
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n",
			i+1, FormatTimestamp(e.Start), FormatTimestamp(e.End), e.Text)
	}
	return bw.Flush()
}

// Lines extracts the cue text in order, dropping empty cues. This is the
// translation input: one line per cue, timing stripped.
func Lines(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Text) != "" {
			out = append(out, e.Text)
		}
	}
	return out
}

// ApplyTranslation replaces cue text with translated lines, keeping
// timing untouched. Lines are matched to the cues Lines selected, so
// blank cues pass through unchanged and never shift the alignment. When
// the counts differ the shorter length wins and the number of replaced
// cues is returned; leftover cues keep their original text.
func ApplyTranslation(entries []Entry, translated []string) ([]Entry, int) {
	out := make([]Entry, len(entries))
	copy(out, entries)

	n := 0
	for i := range out {
		if n == len(translated) {
			break
		}
		if strings.TrimSpace(out[i].Text) == "" {
			continue
		}
		out[i].Text = translated[n]
		n++
	}
	return out, n
}

// ScaleTiming multiplies all timestamps by factor, for matching subtitles
// to audio rendered at a different speed.
func ScaleTiming(entries []Entry, factor float64) []Entry {
	if factor <= 0 {
		factor = 1
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Start = time.Duration(float64(e.Start) * factor)
		out[i].End = time.Duration(float64(e.End) * factor)
	}
	return out
}
