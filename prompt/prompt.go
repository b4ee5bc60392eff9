// Package prompt produces the instruction payload for a turn.
package prompt

import (
	"strings"

	"github.com/cascadeworks/agentcore/domain"
)

// Assembler builds the instruction string for one engine iteration from the
// session mode, quality level, and the conversation so far (including tool
// results committed during the current turn). Concrete templates live
// outside the core; the engine only needs this contract.
type Assembler interface {
	Assemble(mode domain.Mode, quality domain.Quality, history []domain.ConversationEntry) string
}

// Static is a minimal assembler that renders the history as a transcript
// under a fixed instruction header. It exists so the engine is runnable and
// testable without an external template service.
type Static struct {
	// Header is prepended verbatim; empty uses a terse default.
	Header string
}

// Assemble renders the transcript.
func (s Static) Assemble(mode domain.Mode, quality domain.Quality, history []domain.ConversationEntry) string {
	var b strings.Builder
	header := s.Header
	if header == "" {
		header = "You are a coding agent. Respond with exactly one tool call block per reply."
	}
	b.WriteString(header)
	b.WriteString("\nMode: ")
	b.WriteString(string(mode))
	b.WriteString("\nQuality: ")
	b.WriteString(string(quality))
	b.WriteString("\n\n")
	for _, entry := range history {
		b.WriteString(string(entry.Role))
		if entry.ToolName != "" {
			b.WriteString(" [")
			b.WriteString(entry.ToolName)
			b.WriteString("]")
		}
		b.WriteString(": ")
		b.WriteString(entry.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Augment appends a corrective note to an assembled prompt; the engine uses
// it when an iteration ended without a terminal marker.
func Augment(assembled, note string) string {
	if note == "" {
		return assembled
	}
	return assembled + "\nsystem_note: " + note + "\n"
}
