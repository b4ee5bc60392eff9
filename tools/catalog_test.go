package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cascadeworks/agentcore/domain"
	"github.com/cascadeworks/agentcore/sandbox"
	"github.com/cascadeworks/agentcore/workspace"
)

func testCatalog(t *testing.T) (*Registry, workspace.Workspace) {
	t.Helper()
	ws, err := workspace.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	reg, err := NewCatalog(CatalogConfig{
		Workspace:      ws,
		Runner:         sandbox.NewLocalRunner(nil),
		CommandTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return reg, ws
}

func invoke(t *testing.T, reg *Registry, name string, params map[string]any) (string, error) {
	t.Helper()
	spec, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	if err := reg.Validate(name, params); err != nil {
		return "", err
	}
	return spec.Handler(context.Background(), params)
}

func TestCatalogHasFullToolTable(t *testing.T) {
	reg, _ := testCatalog(t)
	expected := []string{
		NameReadFile, NameWriteToFile, NameReplaceInFile, NameListFiles,
		NameSearchFiles, NameListCodeDefs, NameExecuteCommand,
		NameAskFollowup, NameAttemptDone, NamePlanRespond, NameNewTask,
	}
	for _, name := range expected {
		if _, ok := reg.Lookup(name); !ok {
			t.Errorf("missing tool %s", name)
		}
	}
	if got := len(reg.Names()); got != len(expected) {
		t.Errorf("expected %d tools, got %d", len(expected), got)
	}
}

func TestWriteThenRead(t *testing.T) {
	reg, _ := testCatalog(t)

	if _, err := invoke(t, reg, NameWriteToFile, map[string]any{
		"path": "sub/dir/foo.txt", "content": "hi\nthere",
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := invoke(t, reg, NameReadFile, map[string]any{"path": "sub/dir/foo.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got struct {
		Content   string `json:"content"`
		Size      int    `json:"size"`
		LineCount int    `json:"line_count"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode read result: %v", err)
	}
	if got.Content != "hi\nthere" {
		t.Errorf("expected round-tripped content, got %q", got.Content)
	}
	if got.Size != 8 || got.LineCount != 2 {
		t.Errorf("unexpected size/lines: %d/%d", got.Size, got.LineCount)
	}
}

func TestReadMissingFile(t *testing.T) {
	reg, _ := testCatalog(t)
	_, err := invoke(t, reg, NameReadFile, map[string]any{"path": "missing.txt"})
	if !domain.IsKind(err, domain.FileNotFound) {
		t.Fatalf("expected FileNotFound, got %v", err)
	}
}

func TestReplaceInFile(t *testing.T) {
	reg, ws := testCatalog(t)
	if err := ws.WriteFile(context.Background(), "a.txt", "alpha beta gamma"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	diff := "------- SEARCH\nbeta\n=======\nBETA\n+++++++ REPLACE"
	out, err := invoke(t, reg, NameReplaceInFile, map[string]any{"path": "a.txt", "diff": diff})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if !strings.Contains(out, `"blocks_applied":1`) {
		t.Errorf("unexpected result %q", out)
	}

	content, err := ws.ReadFile(context.Background(), "a.txt")
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if content != "alpha BETA gamma" {
		t.Errorf("unexpected content %q", content)
	}

	// The same diff no longer matches.
	_, err = invoke(t, reg, NameReplaceInFile, map[string]any{"path": "a.txt", "diff": diff})
	if !domain.IsKind(err, domain.SearchNotFound) {
		t.Errorf("expected SearchNotFound on re-application, got %v", err)
	}
}

func TestListFilesSkipsDotDirs(t *testing.T) {
	reg, ws := testCatalog(t)
	ctx := context.Background()
	for _, p := range []string{"a.txt", "sub/b.txt", ".git/config"} {
		if err := ws.WriteFile(ctx, p, "x"); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	out, err := invoke(t, reg, NameListFiles, map[string]any{"path": ".", "recursive": "true"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "sub/b.txt") {
		t.Errorf("recursive listing missing nested file: %q", out)
	}
	if strings.Contains(out, ".git") {
		t.Errorf("recursive listing should skip dot-directories: %q", out)
	}
}

func TestSearchFiles(t *testing.T) {
	reg, ws := testCatalog(t)
	ctx := context.Background()
	if err := ws.WriteFile(ctx, "x.go", "package x\nfunc Hello() {}\n"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := ws.WriteFile(ctx, "y.txt", "hello world\n"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := invoke(t, reg, NameSearchFiles, map[string]any{
		"path": ".", "regex": "hello", "file_pattern": "**/*.go",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// Case-insensitive match, filtered to .go files.
	if !strings.Contains(out, "x.go") {
		t.Errorf("expected match in x.go: %q", out)
	}
	if strings.Contains(out, "y.txt") {
		t.Errorf("file_pattern should exclude y.txt: %q", out)
	}

	_, err = invoke(t, reg, NameSearchFiles, map[string]any{"path": ".", "regex": "("})
	if !domain.IsKind(err, domain.InvalidToolParams) {
		t.Errorf("expected InvalidToolParams for bad regex, got %v", err)
	}
}

func TestListCodeDefinitionNames(t *testing.T) {
	reg, ws := testCatalog(t)
	ctx := context.Background()
	src := "package x\n\nfunc Hello() {}\n\ntype Greeter struct{}\n"
	if err := ws.WriteFile(ctx, "x.go", src); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := invoke(t, reg, NameListCodeDefs, map[string]any{"path": "."})
	if err != nil {
		t.Fatalf("definitions: %v", err)
	}
	if !strings.Contains(out, "Hello") || !strings.Contains(out, "Greeter") {
		t.Errorf("expected Hello and Greeter, got %q", out)
	}
}

func TestExecuteCommand(t *testing.T) {
	reg, _ := testCatalog(t)
	out, err := invoke(t, reg, NameExecuteCommand, map[string]any{
		"command": "echo hi", "requires_approval": "false",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var got struct {
		Output   string `json:"output"`
		ExitCode int    `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.TrimSpace(got.Output) != "hi" || got.ExitCode != 0 {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestNewTaskHook(t *testing.T) {
	ws, err := workspace.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	var captured string
	reg, err := NewCatalog(CatalogConfig{
		Workspace: ws,
		OnNewTask: func(ctx context.Context, taskContext string) error {
			captured = taskContext
			return nil
		},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	if _, err := invoke(t, reg, NameNewTask, map[string]any{"context": "carry on"}); err != nil {
		t.Fatalf("new_task: %v", err)
	}
	if captured != "carry on" {
		t.Errorf("hook did not receive context, got %q", captured)
	}
}

func TestTerminalSpecsAreMarked(t *testing.T) {
	reg, _ := testCatalog(t)
	for _, name := range []string{NameAskFollowup, NameAttemptDone, NamePlanRespond} {
		spec, _ := reg.Lookup(name)
		if !spec.Terminal {
			t.Errorf("%s should be terminal", name)
		}
	}
	spec, _ := reg.Lookup(NamePlanRespond)
	if !spec.PlanOnly {
		t.Error("plan_mode_respond should be PLAN-only")
	}
}
