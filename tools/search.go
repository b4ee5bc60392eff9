package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cascadeworks/agentcore/domain"
	"github.com/cascadeworks/agentcore/workspace"
)

const (
	searchMaxMatches   = 200
	searchContextLines = 1
)

// searchFiles runs a case-insensitive regex over every regular file under
// path, optionally filtered by a glob such as "**/*.go". Output is grouped
// per file with one line of surrounding context, capped at searchMaxMatches.
func searchFiles(ctx context.Context, ws workspace.Workspace, path, pattern, filePattern string) (string, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return "", domain.Errorf(domain.InvalidToolParams, "bad regex %q: %v", pattern, err)
	}
	if filePattern != "" {
		if !doublestar.ValidatePattern(filePattern) {
			return "", domain.Errorf(domain.InvalidToolParams, "bad file pattern %q", filePattern)
		}
	}

	entries, err := ws.List(ctx, path, true)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	matches := 0
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if filePattern != "" {
			ok, _ := doublestar.Match(filePattern, e.Path)
			if !ok {
				continue
			}
		}
		if matches >= searchMaxMatches {
			break
		}
		content, err := ws.ReadFile(ctx, e.Path)
		if err != nil {
			continue // unreadable files are skipped, not fatal
		}
		lines := strings.Split(content, "\n")
		wroteHeader := false
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			if !wroteHeader {
				fmt.Fprintf(&b, "%s\n", e.Path)
				wroteHeader = true
			}
			for j := max(0, i-searchContextLines); j <= min(len(lines)-1, i+searchContextLines); j++ {
				marker := " "
				if j == i {
					marker = ">"
				}
				fmt.Fprintf(&b, "%s %d | %s\n", marker, j+1, lines[j])
			}
			b.WriteString("---\n")
			matches++
			if matches >= searchMaxMatches {
				break
			}
		}
	}
	if matches == 0 {
		return "no matches found", nil
	}
	return b.String(), nil
}
