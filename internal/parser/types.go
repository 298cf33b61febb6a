// internal/parser/types.go
package parser

// Kind classifies a parsed output event
type Kind string

const (
	KindText          Kind = "text"
	KindToolEnd       Kind = "tool_end"
	KindFileEdit      Kind = "file_edit"
	KindCompactNotice Kind = "compact_notice"
	KindPrompt        Kind = "prompt"
)

// PromptKind classifies an input prompt
type PromptKind string

const (
	PromptYesNo        PromptKind = "yes_no"
	PromptNumbered     PromptKind = "numbered"
	PromptFreeform     PromptKind = "freeform"
	PromptConfirmation PromptKind = "confirmation"
)

// FileOp is the kind of file operation reported by the assistant
type FileOp string

const (
	FileOpCreate FileOp = "create"
	FileOpModify FileOp = "modify"
	FileOpDelete FileOp = "delete"
)

// ToolCall carries the result of a completed tool invocation
type ToolCall struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "success" or "error"
	Content string `json:"content,omitempty"`
}

// FileEdit carries a single file-operation line
type FileEdit struct {
	Operation FileOp `json:"operation"`
	Path      string `json:"path"`
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
}

// Prompt carries a detected input request
type Prompt struct {
	Kind    PromptKind `json:"kind"`
	Message string     `json:"message"`
	Options []string   `json:"options,omitempty"`
}

// ParsedOutput is a single structured event produced from raw text
type ParsedOutput struct {
	Kind     Kind      `json:"kind"`
	Content  string    `json:"content,omitempty"`
	Tool     *ToolCall `json:"tool,omitempty"`
	FileEdit *FileEdit `json:"file_edit,omitempty"`
	Prompt   *Prompt   `json:"prompt,omitempty"`
}
