// internal/parser/patterns.go
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// lineClass is the tagged result of classifying one complete line
type lineClass struct {
	kind       Kind
	numbered   bool   // numbered-option line, buffered rather than emitted
	optionText string // text of the numbered option
	toolStart  bool   // opens a pending tool call
	toolName   string
	toolStatus string // set on tool end lines
	fileEdit   *FileEdit
	text       string
}

// lineMatcher tries one pattern category against a line. Matchers run in
// order; the first match wins.
type lineMatcher func(line string) (lineClass, bool)

// Classification order mirrors the precedence of the upstream heuristics:
// numbered option, tool start, tool end, file operation, compaction notice.
// Anything else degrades to plain text.
var lineMatchers = []lineMatcher{
	matchNumberedOption,
	matchToolStart,
	matchToolEnd,
	matchFileOperation,
	matchCompactNotice,
}

var numberedRe = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.+)$`)

func matchNumberedOption(line string) (lineClass, bool) {
	m := numberedRe.FindStringSubmatch(line)
	if m == nil {
		return lineClass{}, false
	}
	return lineClass{numbered: true, optionText: strings.TrimSpace(m[2])}, true
}

// Tool start markers: emoji or keyword prefixed lines
var toolStartRe = regexp.MustCompile(`^\s*(?:⏺|🔧|\[tool\]|Running tool:?|Calling tool:?|Using tool:?)\s*(.*)$`)

func matchToolStart(line string) (lineClass, bool) {
	m := toolStartRe.FindStringSubmatch(line)
	if m == nil {
		return lineClass{}, false
	}
	return lineClass{toolStart: true, toolName: strings.TrimSpace(m[1])}, true
}

// Tool end markers; status is inferred from the marker itself
var (
	toolEndOkRe  = regexp.MustCompile(`^\s*(?:⎿|✓|✅|Tool completed|Tool succeeded)\s*(.*)$`)
	toolEndErrRe = regexp.MustCompile(`^\s*(?:✗|❌|Tool failed|Tool error:?)\s*(.*)$`)
)

func matchToolEnd(line string) (lineClass, bool) {
	if m := toolEndErrRe.FindStringSubmatch(line); m != nil {
		return lineClass{toolStatus: "error", text: strings.TrimSpace(m[1])}, true
	}
	if m := toolEndOkRe.FindStringSubmatch(line); m != nil {
		return lineClass{toolStatus: "success", text: strings.TrimSpace(m[1])}, true
	}
	return lineClass{}, false
}

// File operation lines: verb + path with an optional "[+N -M]" diff stat
var fileOpRe = regexp.MustCompile(`^\s*(Created|Creating|Added|Wrote|Modified|Modifying|Updated|Updating|Edited|Editing|Deleted|Deleting|Removed)\s+(\S+?)(?:\s+\[\+(\d+) -(\d+)\])?\s*$`)

func matchFileOperation(line string) (lineClass, bool) {
	m := fileOpRe.FindStringSubmatch(line)
	if m == nil {
		return lineClass{}, false
	}

	var op FileOp
	switch m[1] {
	case "Created", "Creating", "Added", "Wrote":
		op = FileOpCreate
	case "Deleted", "Deleting", "Removed":
		op = FileOpDelete
	default:
		op = FileOpModify
	}

	edit := &FileEdit{Operation: op, Path: m[2]}
	if m[3] != "" {
		edit.Additions, _ = strconv.Atoi(m[3])
		edit.Deletions, _ = strconv.Atoi(m[4])
	}
	return lineClass{kind: KindFileEdit, fileEdit: edit}, true
}

// Compaction / context-trim keywords
var compactKeywords = []string{
	"compacting conversation",
	"conversation compacted",
	"context compacted",
	"auto-compact",
	"context trimmed",
	"compacted context",
}

func matchCompactNotice(line string) (lineClass, bool) {
	lower := strings.ToLower(line)
	for _, kw := range compactKeywords {
		if strings.Contains(lower, kw) {
			return lineClass{kind: KindCompactNotice, text: strings.TrimSpace(line)}, true
		}
	}
	return lineClass{}, false
}

// Buffer-level prompt markers, tested against the trailing partial buffer
// independent of newlines
var (
	yesNoRe    = regexp.MustCompile(`(?i)[\[(]\s*y(?:es)?\s*/\s*no?\s*[\])]\s*$`)
	permRe     = regexp.MustCompile(`(?i)(?:allow|permission|approve|grant)[^\n]*\?\s*$`)
	confirmRe  = regexp.MustCompile(`(?i)(?:press enter|hit enter)|(?:continue|proceed|are you sure)\?\s*$`)
	freeformRe = regexp.MustCompile(`(?i)(?:enter|type|specify|provide|input)\b[^\n]*[:>]\s*$`)
)

// detectPrompt tests text for prompt phrasing. Precedence: explicit yes/no
// markers, permission questions (answered yes/no), confirmation phrasing,
// then freeform-input phrasing.
func detectPrompt(text string) *Prompt {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	switch {
	case yesNoRe.MatchString(trimmed):
		return &Prompt{Kind: PromptYesNo, Message: trimmed}
	case permRe.MatchString(trimmed):
		return &Prompt{Kind: PromptYesNo, Message: trimmed}
	case confirmRe.MatchString(trimmed):
		return &Prompt{Kind: PromptConfirmation, Message: trimmed}
	case freeformRe.MatchString(trimmed):
		return &Prompt{Kind: PromptFreeform, Message: trimmed}
	}
	return nil
}
