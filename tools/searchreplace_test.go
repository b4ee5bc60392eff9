package tools

import (
	"testing"

	"github.com/cascadeworks/agentcore/domain"
)

const sampleDiff = `------- SEARCH
hello world
=======
goodbye world
+++++++ REPLACE`

func TestParseBlocks(t *testing.T) {
	blocks, err := ParseBlocks(sampleDiff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Search != "hello world" {
		t.Errorf("expected search %q, got %q", "hello world", blocks[0].Search)
	}
	if blocks[0].Replace != "goodbye world" {
		t.Errorf("expected replace %q, got %q", "goodbye world", blocks[0].Replace)
	}
}

func TestParseBlocksMultiple(t *testing.T) {
	diff := sampleDiff + "\n" + `------- SEARCH
second
=======
2nd
+++++++ REPLACE`
	blocks, err := ParseBlocks(diff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[1].Search != "second" || blocks[1].Replace != "2nd" {
		t.Errorf("unexpected second block: %+v", blocks[1])
	}
}

func TestParseBlocksUnterminated(t *testing.T) {
	diff := "------- SEARCH\nhello\n=======\nbye"
	if _, err := ParseBlocks(diff); !domain.IsKind(err, domain.MalformedOutput) {
		t.Fatalf("expected MalformedOutput, got %v", err)
	}
}

func TestParseBlocksEmpty(t *testing.T) {
	if _, err := ParseBlocks("no markers at all"); !domain.IsKind(err, domain.MalformedOutput) {
		t.Fatalf("expected MalformedOutput for diff without blocks, got %v", err)
	}
}

func TestParseBlocksInlineSentinelPassesThrough(t *testing.T) {
	diff := "------- SEARCH\nuse ======= inline\n=======\nstill ======= inline\n+++++++ REPLACE"
	blocks, err := ParseBlocks(diff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks[0].Search != "use ======= inline" {
		t.Errorf("inline sentinel should not split the block: %+v", blocks[0])
	}
}

func TestApplyBlocks(t *testing.T) {
	blocks := []Block{{Search: "hello", Replace: "goodbye"}}
	out, hits, err := ApplyBlocks("hello world, hello again", blocks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 1 {
		t.Errorf("expected 1 hit, got %d", hits)
	}
	// Only the first occurrence is replaced.
	if out != "goodbye world, hello again" {
		t.Errorf("unexpected result: %q", out)
	}
}

func TestApplyBlocksSearchNotFound(t *testing.T) {
	blocks := []Block{
		{Search: "present", Replace: "x"},
		{Search: "absent", Replace: "y"},
	}
	_, _, err := ApplyBlocks("present text", blocks)
	if !domain.IsKind(err, domain.SearchNotFound) {
		t.Fatalf("expected SearchNotFound, got %v", err)
	}
}

func TestApplyBlocksNoPartialApplication(t *testing.T) {
	content := "one two three"
	blocks := []Block{
		{Search: "one", Replace: "1"},
		{Search: "missing", Replace: "x"},
	}
	if _, _, err := ApplyBlocks(content, blocks); err == nil {
		t.Fatal("expected failure")
	}
	// Original content must be untouched by the failed application.
	if content != "one two three" {
		t.Errorf("content mutated: %q", content)
	}
}

func TestApplyBlocksSecondCallFails(t *testing.T) {
	blocks := []Block{{Search: "old", Replace: "new"}}
	once, _, err := ApplyBlocks("old value", blocks)
	if err != nil {
		t.Fatalf("first application failed: %v", err)
	}
	if once != "new value" {
		t.Fatalf("unexpected first result: %q", once)
	}
	if _, _, err := ApplyBlocks(once, blocks); !domain.IsKind(err, domain.SearchNotFound) {
		t.Fatalf("expected SearchNotFound on second application, got %v", err)
	}
}

func TestApplyBlocksEmptySearchNewFile(t *testing.T) {
	blocks := []Block{{Search: "", Replace: "fresh content"}}
	out, hits, err := ApplyBlocks("", blocks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 1 || out != "fresh content" {
		t.Errorf("expected full replacement, got %q (%d hits)", out, hits)
	}

	if _, _, err := ApplyBlocks("not empty", blocks); !domain.IsKind(err, domain.SearchNotFound) {
		t.Fatalf("empty search against non-empty document should fail, got %v", err)
	}
}
