package tools

import (
	"regexp"
	"strings"

	"github.com/cascadeworks/agentcore/domain"
)

// A diff for replace_in_file is a sequence of SEARCH/REPLACE blocks:
//
//	------- SEARCH
//	<exact original text>
//	=======
//	<replacement text>
//	+++++++ REPLACE
//
// Sentinels are line-anchored: a marker only counts when it is an entire
// trimmed line. Inline occurrences inside search or replacement text pass
// through untouched; a full-line sentinel inside replacement text breaks the
// block structure and the whole diff is rejected before anything is applied.
var (
	searchMarker  = regexp.MustCompile(`^-{3,} SEARCH$`)
	divideMarker  = regexp.MustCompile(`^={3,}$`)
	replaceMarker = regexp.MustCompile(`^\+{3,} REPLACE$`)
)

// Block is one parsed SEARCH/REPLACE pair.
type Block struct {
	Search  string
	Replace string
}

// ParseBlocks parses a diff payload into blocks. Unterminated blocks at end
// of input are MalformedOutput.
func ParseBlocks(diff string) ([]Block, error) {
	const (
		outside = iota
		inSearch
		inReplace
	)
	var (
		blocks  []Block
		state   = outside
		search  []string
		replace []string
	)

	for _, line := range strings.Split(diff, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		switch state {
		case outside:
			if searchMarker.MatchString(trimmed) {
				state = inSearch
				search = search[:0]
				replace = replace[:0]
			}
			// Text between blocks is ignored.
		case inSearch:
			if divideMarker.MatchString(trimmed) {
				state = inReplace
				continue
			}
			if searchMarker.MatchString(trimmed) || replaceMarker.MatchString(trimmed) {
				return nil, domain.Errorf(domain.MalformedOutput, "unexpected %q inside SEARCH section", trimmed)
			}
			search = append(search, trimmed)
		case inReplace:
			if replaceMarker.MatchString(trimmed) {
				blocks = append(blocks, Block{
					Search:  strings.Join(search, "\n"),
					Replace: strings.Join(replace, "\n"),
				})
				state = outside
				continue
			}
			if searchMarker.MatchString(trimmed) || divideMarker.MatchString(trimmed) {
				return nil, domain.Errorf(domain.MalformedOutput, "unexpected %q inside REPLACE section", trimmed)
			}
			replace = append(replace, trimmed)
		}
	}

	if state != outside {
		return nil, domain.Errorf(domain.MalformedOutput, "unterminated SEARCH/REPLACE block")
	}
	if len(blocks) == 0 {
		return nil, domain.Errorf(domain.MalformedOutput, "diff contains no SEARCH/REPLACE blocks")
	}
	return blocks, nil
}

// ApplyBlocks applies every block in document order against content. Any
// block whose search text is absent fails the whole application; nothing is
// partially applied. An empty search text matches an empty document and is
// replaced wholesale (new-file idiom).
func ApplyBlocks(content string, blocks []Block) (string, int, error) {
	out := content
	hits := 0
	for i, b := range blocks {
		if b.Search == "" {
			if out != "" {
				return "", 0, domain.Errorf(domain.SearchNotFound, "block %d: empty SEARCH only matches an empty file", i+1)
			}
			out = b.Replace
			hits++
			continue
		}
		idx := strings.Index(out, b.Search)
		if idx < 0 {
			return "", 0, domain.Errorf(domain.SearchNotFound, "block %d: search text not found", i+1)
		}
		out = out[:idx] + b.Replace + out[idx+len(b.Search):]
		hits++
	}
	return out, hits, nil
}
