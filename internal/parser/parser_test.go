// internal/parser/parser_test.go
package parser

import (
	"reflect"
	"testing"
)

func collect(p *Parser, chunks ...string) []ParsedOutput {
	var events []ParsedOutput
	for _, chunk := range chunks {
		events = append(events, p.Parse(chunk)...)
	}
	events = append(events, p.Flush()...)
	return events
}

func TestParser_PlainText(t *testing.T) {
	p := New()
	events := p.Parse("hello world\nsecond line\n")

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	for i, want := range []string{"hello world", "second line"} {
		if events[i].Kind != KindText {
			t.Errorf("Event %d: expected text, got %s", i, events[i].Kind)
		}
		if events[i].Content != want {
			t.Errorf("Event %d: expected %q, got %q", i, want, events[i].Content)
		}
	}
}

func TestParser_PartialLineBuffered(t *testing.T) {
	p := New()

	events := p.Parse("first half ")
	if len(events) != 0 {
		t.Fatalf("Expected no events for partial line, got %d", len(events))
	}

	events = p.Parse("second half\n")
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Content != "first half second half" {
		t.Errorf("Line split across chunks was lost: %q", events[0].Content)
	}
}

func TestParser_FileEdit(t *testing.T) {
	p := New()
	events := p.Parse("Modified src/main.go [+12 -3]\n")

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Kind != KindFileEdit {
		t.Fatalf("Expected file_edit, got %s", ev.Kind)
	}
	if ev.FileEdit.Operation != FileOpModify {
		t.Errorf("Expected modify, got %s", ev.FileEdit.Operation)
	}
	if ev.FileEdit.Path != "src/main.go" {
		t.Errorf("Expected src/main.go, got %s", ev.FileEdit.Path)
	}
	if ev.FileEdit.Additions != 12 || ev.FileEdit.Deletions != 3 {
		t.Errorf("Expected +12 -3, got +%d -%d", ev.FileEdit.Additions, ev.FileEdit.Deletions)
	}
}

func TestParser_FileEditVerbs(t *testing.T) {
	tests := []struct {
		line string
		op   FileOp
	}{
		{"Created app/handler.go", FileOpCreate},
		{"Wrote docs/readme.md", FileOpCreate},
		{"Updated config.yaml [+1 -1]", FileOpModify},
		{"Edited internal/store.go", FileOpModify},
		{"Deleted old/legacy.go", FileOpDelete},
	}

	for _, tt := range tests {
		p := New()
		events := p.Parse(tt.line + "\n")
		if len(events) != 1 || events[0].Kind != KindFileEdit {
			t.Errorf("%q: expected one file_edit event, got %v", tt.line, events)
			continue
		}
		if events[0].FileEdit.Operation != tt.op {
			t.Errorf("%q: expected %s, got %s", tt.line, tt.op, events[0].FileEdit.Operation)
		}
	}
}

func TestParser_ToolCall(t *testing.T) {
	p := New()
	events := p.Parse("⏺ Bash(ls -la)\nsome output\n✓ done in 0.2s\n")

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d: %v", len(events), events)
	}
	if events[0].Kind != KindText || events[0].Content != "some output" {
		t.Errorf("Expected intermediate text event, got %v", events[0])
	}
	if events[1].Kind != KindToolEnd {
		t.Fatalf("Expected tool_end, got %s", events[1].Kind)
	}
	if events[1].Tool.Name != "Bash(ls -la)" {
		t.Errorf("Expected tool name from start marker, got %q", events[1].Tool.Name)
	}
	if events[1].Tool.Status != "success" {
		t.Errorf("Expected success, got %s", events[1].Tool.Status)
	}
}

func TestParser_ToolCallError(t *testing.T) {
	p := New()
	events := p.Parse("⏺ Bash(make)\n✗ exit status 2\n")

	if len(events) != 1 || events[0].Kind != KindToolEnd {
		t.Fatalf("Expected one tool_end event, got %v", events)
	}
	if events[0].Tool.Status != "error" {
		t.Errorf("Expected error status, got %s", events[0].Tool.Status)
	}
}

func TestParser_ToolEndWithoutStart(t *testing.T) {
	p := New()
	events := p.Parse("✓ stray marker\n")

	if len(events) != 1 || events[0].Kind != KindText {
		t.Fatalf("Expected degradation to text, got %v", events)
	}
}

func TestParser_NumberedPrompt(t *testing.T) {
	p := New()
	events := p.Parse("1. Yes, apply the change\n2. No, skip it\n3) Always allow\nWhich option?\n")

	var prompts []ParsedOutput
	for _, ev := range events {
		if ev.Kind == KindPrompt {
			prompts = append(prompts, ev)
		}
	}
	if len(prompts) != 1 {
		t.Fatalf("Expected exactly 1 prompt event, got %d", len(prompts))
	}

	prompt := prompts[0].Prompt
	if prompt.Kind != PromptNumbered {
		t.Errorf("Expected numbered, got %s", prompt.Kind)
	}
	want := []string{"Yes, apply the change", "No, skip it", "Always allow"}
	if !reflect.DeepEqual(prompt.Options, want) {
		t.Errorf("Expected options %v, got %v", want, prompt.Options)
	}
}

func TestParser_NumberedPromptFlushedAtEndOfStream(t *testing.T) {
	p := New()
	events := collect(p, "1. Option one\n2. Option two\n")

	if len(events) != 1 || events[0].Kind != KindPrompt {
		t.Fatalf("Expected one prompt event at end of stream, got %v", events)
	}
	if len(events[0].Prompt.Options) != 2 {
		t.Errorf("Expected 2 options, got %d", len(events[0].Prompt.Options))
	}
}

func TestParser_YesNoPrompt(t *testing.T) {
	p := New()
	events := p.Parse("Apply this change? [Y/n]")

	if len(events) != 1 || events[0].Kind != KindPrompt {
		t.Fatalf("Expected one prompt event, got %v", events)
	}
	if events[0].Prompt.Kind != PromptYesNo {
		t.Errorf("Expected yes_no, got %s", events[0].Prompt.Kind)
	}
}

func TestParser_YesNoPromptSplitAcrossChunks(t *testing.T) {
	whole := New()
	wantEvents := collect(whole, "Apply this change? [Y/n]")

	split := New()
	gotEvents := collect(split, "Apply this change? [Y/", "n]")

	if !reflect.DeepEqual(wantEvents, gotEvents) {
		t.Errorf("Chunk-boundary dependence:\nwhole: %+v\nsplit: %+v", wantEvents, gotEvents)
	}

	if len(gotEvents) != 1 || gotEvents[0].Prompt == nil || gotEvents[0].Prompt.Kind != PromptYesNo {
		t.Fatalf("Expected a single yes_no prompt, got %v", gotEvents)
	}
}

func TestParser_ConfirmationPrompt(t *testing.T) {
	p := New()
	events := p.Parse("Press enter to continue")

	if len(events) != 1 || events[0].Kind != KindPrompt {
		t.Fatalf("Expected one prompt event, got %v", events)
	}
	if events[0].Prompt.Kind != PromptConfirmation {
		t.Errorf("Expected confirmation, got %s", events[0].Prompt.Kind)
	}
}

func TestParser_FreeformPrompt(t *testing.T) {
	p := New()
	events := p.Parse("Enter the branch name:")

	if len(events) != 1 || events[0].Kind != KindPrompt {
		t.Fatalf("Expected one prompt event, got %v", events)
	}
	if events[0].Prompt.Kind != PromptFreeform {
		t.Errorf("Expected freeform, got %s", events[0].Prompt.Kind)
	}
}

func TestParser_BufferPromptNotDuplicated(t *testing.T) {
	p := New()

	first := p.Parse("Continue? [Y/n]")
	second := p.Parse("")

	if len(first) != 1 {
		t.Fatalf("Expected 1 prompt event on first parse, got %d", len(first))
	}
	if len(second) != 0 {
		t.Errorf("Re-testing an unchanged buffer emitted duplicates: %v", second)
	}
}

func TestParser_CompactNotice(t *testing.T) {
	p := New()
	events := p.Parse("Compacting conversation to free context...\n")

	if len(events) != 1 || events[0].Kind != KindCompactNotice {
		t.Fatalf("Expected compact_notice, got %v", events)
	}
}

func TestParser_ChunkBoundaryIndependence(t *testing.T) {
	text := "Starting work\n⏺ Edit(main.go)\n✓ ok\nModified main.go [+4 -1]\n1. Keep\n2. Revert\nYour choice\nCompacting conversation\ntail"

	whole := collect(New(), text)

	// Split at every position in turn
	for i := 1; i < len(text); i++ {
		got := collect(New(), text[:i], text[i:])
		if !reflect.DeepEqual(whole, got) {
			t.Fatalf("Split at %d diverged:\nwhole: %+v\nsplit: %+v", i, whole, got)
		}
	}
}

func TestParser_Reset(t *testing.T) {
	p := New()
	p.Parse("1. Option\n")
	p.Parse("partial buffer")
	p.Reset()

	events := collect(p, "after reset\n")
	if len(events) != 1 || events[0].Content != "after reset" {
		t.Errorf("Reset did not clear state: %v", events)
	}
}

func TestParser_FlushEmitsBufferedText(t *testing.T) {
	p := New()
	p.Parse("dangling text without newline")

	events := p.Flush()
	if len(events) != 1 || events[0].Kind != KindText {
		t.Fatalf("Expected buffered text on flush, got %v", events)
	}
	if events[0].Content != "dangling text without newline" {
		t.Errorf("Unexpected flush content: %q", events[0].Content)
	}

	// Flush resets state
	if extra := p.Flush(); len(extra) != 0 {
		t.Errorf("Second flush emitted events: %v", extra)
	}
}

func TestParser_NeverDropsMalformedInput(t *testing.T) {
	p := New()
	lines := []string{
		"\x00\x01 binary garbage",
		"999999999999999999999. overflowing option",
		"[+banana -apple] not a diff stat",
	}
	for _, line := range lines {
		events := collect(New(), line+"\n")
		_ = p
		if len(events) == 0 {
			t.Errorf("Input was dropped: %q", line)
		}
	}
}
