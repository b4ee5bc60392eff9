package prompt

import (
	"strings"
	"testing"

	"github.com/cascadeworks/agentcore/domain"
)

func TestStaticRendersTranscript(t *testing.T) {
	history := []domain.ConversationEntry{
		{Role: domain.RoleUser, Content: "make a file"},
		{Role: domain.RoleAssistant, Content: "writing it", ToolName: "write_to_file"},
		{Role: domain.RoleToolResult, Content: "ok", ToolName: "write_to_file"},
	}
	out := Static{}.Assemble(domain.ModeAct, domain.QualityMedium, history)

	if !strings.Contains(out, "Mode: ACT") || !strings.Contains(out, "Quality: medium") {
		t.Errorf("mode/quality missing:\n%s", out)
	}
	if !strings.Contains(out, "user: make a file") {
		t.Errorf("user entry missing:\n%s", out)
	}
	if !strings.Contains(out, "assistant [write_to_file]: writing it") {
		t.Errorf("tool-call entry missing:\n%s", out)
	}
	if !strings.Contains(out, "tool_result [write_to_file]: ok") {
		t.Errorf("tool result missing:\n%s", out)
	}
}

func TestStaticCustomHeader(t *testing.T) {
	out := Static{Header: "custom header"}.Assemble(domain.ModePlan, domain.QualityPoor, nil)
	if !strings.HasPrefix(out, "custom header\n") {
		t.Errorf("header not applied:\n%s", out)
	}
}

func TestAugment(t *testing.T) {
	out := Augment("base prompt", "fix your reply")
	if !strings.Contains(out, "system_note: fix your reply") {
		t.Errorf("note missing: %q", out)
	}
	if got := Augment("base prompt", ""); got != "base prompt" {
		t.Errorf("empty note changed the prompt: %q", got)
	}
}
