package engine

import (
	"strings"
)

// Issue is one finding from the incremental validator. Critical issues abort
// the current stream; recoverable ones surface as ValidationFeedback and the
// stream continues. Score is advisory only.
type Issue struct {
	Message  string
	Critical bool
	Score    int
}

// Validator inspects partially accumulated assistant output at checkpoints.
type Validator interface {
	Check(text string) []Issue
}

// HeuristicValidator is the stock lightweight validator. It looks for
// unbalanced code fences and for degenerate output: long runs of a repeated
// line or an unbroken run of characters with no whitespace.
type HeuristicValidator struct {
	// MaxRepeatedLines is the consecutive-identical-line threshold treated
	// as a critical loop. Default 8.
	MaxRepeatedLines int
	// MaxRunLength is the longest tolerated whitespace-free run. Default 4096.
	MaxRunLength int
}

func (v *HeuristicValidator) Check(text string) []Issue {
	maxRepeats := v.MaxRepeatedLines
	if maxRepeats <= 0 {
		maxRepeats = 8
	}
	maxRun := v.MaxRunLength
	if maxRun <= 0 {
		maxRun = 4096
	}

	var issues []Issue
	if run := longestRun(text); run > maxRun {
		issues = append(issues, Issue{
			Message:  "output contains an unbroken character run; the stream appears degenerate",
			Critical: true,
			Score:    0,
		})
		return issues
	}
	if n := maxConsecutiveLines(text); n > maxRepeats {
		issues = append(issues, Issue{
			Message:  "output repeats the same line; the model appears to be looping",
			Critical: true,
			Score:    0,
		})
		return issues
	}
	if strings.Count(text, "```")%2 == 1 {
		issues = append(issues, Issue{
			Message: "unbalanced code fence",
			Score:   60,
		})
	}
	return issues
}

func longestRun(text string) int {
	longest, run := 0, 0
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			run = 0
			continue
		}
		run++
		if run > longest {
			longest = run
		}
	}
	return longest
}

func maxConsecutiveLines(text string) int {
	lines := strings.Split(text, "\n")
	longest, run := 0, 0
	prev := ""
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && trimmed == prev {
			run++
		} else {
			run = 0
		}
		prev = trimmed
		if run > longest {
			longest = run
		}
	}
	return longest + 1
}
