package engine

import (
	"regexp"
	"strings"
)

// ToolCall is a complete in-band tool block found in assistant output.
type ToolCall struct {
	Name   string
	Params map[string]any
	// Start and End bound the block within the scanned text.
	Start, End int
}

var openTagRe = regexp.MustCompile(`<([a-z][a-z0-9_]*)>`)

// scanToolCall finds the earliest complete tool block in text. known filters
// tag names to the registered catalogue so ordinary markup in prose is not
// mistaken for a call. The second result reports whether a block is open but
// not yet terminated at end of text; at end of stream that means
// MalformedOutput, mid-stream it means keep reading.
func scanToolCall(text string, known func(string) bool) (*ToolCall, bool) {
	offset := 0
	for {
		loc := openTagRe.FindStringSubmatchIndex(text[offset:])
		if loc == nil {
			return nil, false
		}
		name := text[offset+loc[2] : offset+loc[3]]
		start := offset + loc[0]
		if !known(name) {
			offset += loc[1]
			continue
		}
		closing := "</" + name + ">"
		rel := strings.Index(text[offset+loc[1]:], closing)
		if rel < 0 {
			return nil, true
		}
		bodyStart := offset + loc[1]
		bodyEnd := bodyStart + rel
		end := bodyEnd + len(closing)
		return &ToolCall{
			Name:   name,
			Params: parseParams(text[bodyStart:bodyEnd]),
			Start:  start,
			End:    end,
		}, false
	}
}

// parseParams extracts <param>value</param> pairs from a block body.
// Parsing is tolerant: unknown structure is skipped, a single leading and
// trailing newline inside a value is trimmed, and a repeated parameter keeps
// its last value.
func parseParams(body string) map[string]any {
	params := make(map[string]any)
	offset := 0
	for {
		loc := openTagRe.FindStringSubmatchIndex(body[offset:])
		if loc == nil {
			return params
		}
		name := body[offset+loc[2] : offset+loc[3]]
		closing := "</" + name + ">"
		rel := strings.Index(body[offset+loc[1]:], closing)
		if rel < 0 {
			// Unterminated parameter; skip past the open tag.
			offset += loc[1]
			continue
		}
		valStart := offset + loc[1]
		params[name] = trimValue(body[valStart : valStart+rel])
		offset = valStart + rel + len(closing)
	}
}

func trimValue(v string) string {
	v = strings.TrimPrefix(v, "\n")
	v = strings.TrimSuffix(v, "\n")
	return v
}
