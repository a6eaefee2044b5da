// Package diff renders line diffs between two document versions.
package diff

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"goalflow/internal/domain"
)

const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

// DefaultMaxLines bounds the combined size of both sides.
const DefaultMaxLines = 5000

type Line struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

type Hunk struct {
	Lines []Line `json:"lines"`
}

type Result struct {
	Hunks     []Hunk `json:"hunks"`
	Added     int    `json:"added"`
	Removed   int    `json:"removed"`
	Truncated bool   `json:"truncated"`
}

// Documents diffs the indented JSON form of two documents. Unchanged runs
// are trimmed to context lines around each change.
func Documents(before, after *domain.Document, context, maxLines int) (Result, error) {
	a, err := render(before)
	if err != nil {
		return Result{}, err
	}
	b, err := render(after)
	if err != nil {
		return Result{}, err
	}
	return Text(a, b, context, maxLines), nil
}

func render(doc *domain.Document) (string, error) {
	if doc == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return string(data) + "\n", nil
}

// Text diffs two texts line by line.
func Text(before, after string, context, maxLines int) Result {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if lineCount(before)+lineCount(after) > maxLines {
		return Result{Hunks: []Hunk{}, Truncated: true}
	}
	lines := lineDiff(before, after)
	res := Result{Hunks: group(lines, context)}
	for _, l := range lines {
		switch l.Type {
		case LineAdded:
			res.Added++
		case LineRemoved:
			res.Removed++
		}
	}
	return res
}

func lineDiff(before, after string) []Line {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeChars, afterChars, false), lineArray)

	var lines []Line
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if len(chunk) > 0 && chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		for _, text := range chunk {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: LineContext, Text: text, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: LineRemoved, Text: text, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: LineAdded, Text: text, NewLine: newLine})
				newLine++
			}
		}
	}
	return lines
}

// group splits lines into hunks, keeping up to context unchanged lines on
// each side of a change. A negative context keeps everything in one hunk.
func group(lines []Line, context int) []Hunk {
	if context < 0 {
		if len(lines) == 0 {
			return []Hunk{}
		}
		return []Hunk{{Lines: lines}}
	}
	keep := make([]bool, len(lines))
	for i, l := range lines {
		if l.Type == LineContext {
			continue
		}
		for j := max(0, i-context); j <= min(len(lines)-1, i+context); j++ {
			keep[j] = true
		}
	}
	hunks := []Hunk{}
	var cur []Line
	for i, l := range lines {
		if !keep[i] {
			if len(cur) > 0 {
				hunks = append(hunks, Hunk{Lines: cur})
				cur = nil
			}
			continue
		}
		cur = append(cur, l)
	}
	if len(cur) > 0 {
		hunks = append(hunks, Hunk{Lines: cur})
	}
	return hunks
}

func lineCount(value string) int {
	if value == "" {
		return 0
	}
	return strings.Count(value, "\n") + 1
}
