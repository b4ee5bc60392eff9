// Package domain contains the core types shared by the agent session engine.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode controls what the assistant is allowed to do during a turn.
type Mode string

const (
	// ModePlan restricts the assistant to planning tools; mutating tools are rejected.
	ModePlan Mode = "PLAN"
	// ModeAct allows the full tool catalogue.
	ModeAct Mode = "ACT"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModePlan:
		return ModePlan, nil
	case ModeAct:
		return ModeAct, nil
	default:
		return "", Errorf(InvalidConfig, "unknown mode %q", s)
	}
}

// Quality influences prompt assembly.
type Quality string

const (
	QualityPoor     Quality = "poor"
	QualityMedium   Quality = "medium"
	QualityAdvanced Quality = "advanced"
)

// ParseQuality validates a quality level string.
func ParseQuality(s string) (Quality, error) {
	switch Quality(strings.ToLower(strings.TrimSpace(s))) {
	case QualityPoor:
		return QualityPoor, nil
	case QualityMedium:
		return QualityMedium, nil
	case QualityAdvanced:
		return QualityAdvanced, nil
	default:
		return "", Errorf(InvalidConfig, "unknown quality level %q", s)
	}
}

// Role identifies the author of a conversation entry.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
	RoleSystemNote Role = "system_note"
)

// ConversationEntry is one finalized entry in a session's history.
// Entries are appended in the order their events land on the session log
// and are never mutated afterwards.
type ConversationEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// CorrelationID links a tool_result entry to the assistant tool call
	// that produced it. Empty for plain text entries.
	CorrelationID string `json:"correlation_id,omitempty"`
	// ToolName is set on assistant tool-call entries and tool_result entries.
	ToolName string `json:"tool_name,omitempty"`
	// Seq is the session event-log position at which the entry was
	// finalized. Durable history and the event stream agree on it.
	Seq uint64 `json:"seq"`
}

// Session is a stateful multi-turn interaction context.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Mode      Mode      `json:"mode"`
	Quality   Quality   `json:"quality_level"`

	// History is append-only; entries are finalized in event order.
	History []ConversationEntry `json:"history"`

	// TurnCounter increases by one for every turn ever created on the session.
	TurnCounter int `json:"turn_counter"`

	// Current is the non-terminal turn, or nil. At most one turn per
	// session is non-terminal at any instant.
	Current *Turn `json:"current,omitempty"`

	// LastSeq is the highest sequence number appended to the session's
	// event log. It never regresses.
	LastSeq uint64 `json:"last_seq"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to callers outside the store's lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = make([]ConversationEntry, len(s.History))
	copy(out.History, s.History)
	if s.Current != nil {
		cur := s.Current.Clone()
		out.Current = &cur
	}
	return &out
}

// HistorySince returns the history entries finalized at or after event
// sequence number from.
func (s *Session) HistorySince(from uint64) []ConversationEntry {
	i := 0
	for i < len(s.History) && s.History[i].Seq < from {
		i++
	}
	if i >= len(s.History) {
		return nil
	}
	out := make([]ConversationEntry, len(s.History)-i)
	copy(out, s.History[i:])
	return out
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (mode=%s turns=%d)", s.ID, s.Mode, s.TurnCounter)
}
