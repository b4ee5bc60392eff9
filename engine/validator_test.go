package engine

import (
	"strings"
	"testing"
)

func TestCleanTextHasNoIssues(t *testing.T) {
	v := &HeuristicValidator{}
	text := "Here is the plan.\n\n```go\nfunc main() {}\n```\nDone.\n"
	if issues := v.Check(text); len(issues) != 0 {
		t.Errorf("unexpected issues %+v", issues)
	}
}

func TestRepeatedLinesAreCritical(t *testing.T) {
	v := &HeuristicValidator{MaxRepeatedLines: 4}
	text := strings.Repeat("the same line\n", 10)
	issues := v.Check(text)
	if len(issues) != 1 || !issues[0].Critical {
		t.Fatalf("expected one critical issue, got %+v", issues)
	}
}

func TestRepeatedLinesBelowThreshold(t *testing.T) {
	v := &HeuristicValidator{MaxRepeatedLines: 4}
	text := strings.Repeat("the same line\n", 4)
	if issues := v.Check(text); len(issues) != 0 {
		t.Errorf("unexpected issues %+v", issues)
	}
}

func TestBlankLinesDoNotCountAsRepeats(t *testing.T) {
	v := &HeuristicValidator{MaxRepeatedLines: 4}
	text := strings.Repeat("\n", 30)
	if issues := v.Check(text); len(issues) != 0 {
		t.Errorf("blank lines flagged: %+v", issues)
	}
}

func TestUnbrokenRunIsCritical(t *testing.T) {
	v := &HeuristicValidator{MaxRunLength: 64}
	text := "prefix " + strings.Repeat("a", 100)
	issues := v.Check(text)
	if len(issues) != 1 || !issues[0].Critical {
		t.Fatalf("expected one critical issue, got %+v", issues)
	}
}

func TestUnbalancedFenceIsRecoverable(t *testing.T) {
	v := &HeuristicValidator{}
	issues := v.Check("look:\n```go\nfunc main() {}\n")
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %+v", issues)
	}
	if issues[0].Critical {
		t.Error("unbalanced fence must be recoverable")
	}
	if issues[0].Score != 60 {
		t.Errorf("expected score 60, got %d", issues[0].Score)
	}
}
