// internal/parser/parser.go
package parser

import "strings"

// Parser converts arbitrarily-chunked raw text into ordered ParsedOutput
// events. One parser instance serves one output stream; it is not safe for
// concurrent use.
//
// A line that spans a chunk boundary is never lost: the trailing partial
// line is re-buffered and completed by a later chunk. Feeding the same text
// as one chunk or as many arbitrary splits yields the same event sequence.
type Parser struct {
	buf            strings.Builder
	pendingOptions []string
	pendingTool    *ToolCall

	// last buffer-level prompt already emitted, so re-testing a growing
	// buffer does not emit duplicates
	lastPromptKind PromptKind
	lastPromptMsg  string
}

// New creates a Parser
func New() *Parser {
	return &Parser{}
}

// Parse appends chunk to the internal buffer, processes every complete
// line, and re-buffers the trailing partial line. It never fails:
// unmatched or malformed text degrades to a text event.
func (p *Parser) Parse(chunk string) []ParsedOutput {
	p.buf.WriteString(chunk)

	var events []ParsedOutput

	data := p.buf.String()
	if i := strings.LastIndexByte(data, '\n'); i >= 0 {
		complete := data[:i]
		p.buf.Reset()
		p.buf.WriteString(data[i+1:])

		for _, line := range strings.Split(complete, "\n") {
			events = append(events, p.processLine(line)...)
		}

		// A completed line consumed whatever the buffer prompt test last
		// saw, so a repeated marker later is a new prompt
		p.lastPromptKind = ""
		p.lastPromptMsg = ""
	}

	// The trailing buffer is also tested for prompt phrasing, independent
	// of newlines and without consuming it as a completed line
	if ev, ok := p.bufferPrompt(); ok {
		events = append(events, ev)
	}

	return events
}

// processLine classifies one complete line and updates aggregation state
func (p *Parser) processLine(line string) []ParsedOutput {
	var class lineClass
	matched := false
	for _, match := range lineMatchers {
		if c, ok := match(line); ok {
			class = c
			matched = true
			break
		}
	}

	if class.numbered {
		p.pendingOptions = append(p.pendingOptions, class.optionText)
		return nil
	}

	// First non-numbered line flushes the accumulated options as a single
	// numbered prompt, in encountered order
	var events []ParsedOutput
	if ev, ok := p.flushOptions(); ok {
		events = append(events, ev)
	}

	switch {
	case !matched:
		events = append(events, ParsedOutput{Kind: KindText, Content: line})
	case class.toolStart:
		p.pendingTool = &ToolCall{Name: class.toolName}
	case class.toolStatus != "":
		if p.pendingTool != nil {
			tool := p.pendingTool
			tool.Status = class.toolStatus
			tool.Content = class.text
			p.pendingTool = nil
			events = append(events, ParsedOutput{Kind: KindToolEnd, Tool: tool})
		} else {
			// End marker with no open tool call degrades to text
			events = append(events, ParsedOutput{Kind: KindText, Content: line})
		}
	case class.kind == KindFileEdit:
		events = append(events, ParsedOutput{Kind: KindFileEdit, Content: line, FileEdit: class.fileEdit})
	case class.kind == KindCompactNotice:
		events = append(events, ParsedOutput{Kind: KindCompactNotice, Content: class.text})
	default:
		events = append(events, ParsedOutput{Kind: KindText, Content: line})
	}

	return events
}

// flushOptions emits the pending numbered options as one prompt event
func (p *Parser) flushOptions() (ParsedOutput, bool) {
	if len(p.pendingOptions) == 0 {
		return ParsedOutput{}, false
	}
	options := p.pendingOptions
	p.pendingOptions = nil
	return ParsedOutput{
		Kind: KindPrompt,
		Prompt: &Prompt{
			Kind:    PromptNumbered,
			Message: "Select an option",
			Options: options,
		},
	}, true
}

// bufferPrompt tests the trailing buffer for prompt markers
func (p *Parser) bufferPrompt() (ParsedOutput, bool) {
	prompt := detectPrompt(p.buf.String())
	if prompt == nil {
		return ParsedOutput{}, false
	}
	if prompt.Kind == p.lastPromptKind && prompt.Message == p.lastPromptMsg {
		return ParsedOutput{}, false
	}
	p.lastPromptKind = prompt.Kind
	p.lastPromptMsg = prompt.Message
	return ParsedOutput{Kind: KindPrompt, Prompt: prompt}, true
}

// Flush forces emission of any remaining buffered text and pending
// numbered options, then resets all internal state. Must be called at
// end-of-stream.
func (p *Parser) Flush() []ParsedOutput {
	var events []ParsedOutput

	rest := p.buf.String()
	if rest != "" {
		// A trailing numbered option without a newline still joins the
		// pending options
		if c, ok := matchNumberedOption(rest); ok {
			p.pendingOptions = append(p.pendingOptions, c.optionText)
			rest = ""
		}
	}

	if ev, ok := p.flushOptions(); ok {
		events = append(events, ev)
	}

	if rest != "" {
		if prompt := detectPrompt(rest); prompt != nil {
			if prompt.Kind != p.lastPromptKind || prompt.Message != p.lastPromptMsg {
				events = append(events, ParsedOutput{Kind: KindPrompt, Prompt: prompt})
			}
		} else {
			events = append(events, ParsedOutput{Kind: KindText, Content: rest})
		}
	}

	p.Reset()
	return events
}

// Reset clears all internal state. Used after a prompt has been answered,
// independent of Flush.
func (p *Parser) Reset() {
	p.buf.Reset()
	p.pendingOptions = nil
	p.pendingTool = nil
	p.lastPromptKind = ""
	p.lastPromptMsg = ""
}
