package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cascadeworks/agentcore/workspace"
)

// definitionPatterns maps file extensions to regexes whose first capture
// group is a definition name. Best effort: patterns cover the common
// declaration forms, not every grammar corner.
var definitionPatterns = map[string][]*regexp.Regexp{
	".go": {
		regexp.MustCompile(`^func\s+(?:\([^)]+\)\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*[([]`),
		regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s`),
	},
	".py": {
		regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
		regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)\s*[(:]`),
	},
	".js": {
		regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`),
		regexp.MustCompile(`^\s*(?:export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
		regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s*)?(?:\(|function)`),
	},
	".rs": {
		regexp.MustCompile(`^\s*(?:pub\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`^\s*(?:pub\s+)?(?:struct|enum|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`),
	},
	".java": {
		regexp.MustCompile(`^\s*(?:public|private|protected)?\s*(?:static\s+)?(?:final\s+)?(?:class|interface|enum)\s+([A-Za-z_][A-Za-z0-9_]*)`),
	},
}

func init() {
	definitionPatterns[".ts"] = definitionPatterns[".js"]
	definitionPatterns[".jsx"] = definitionPatterns[".js"]
	definitionPatterns[".tsx"] = definitionPatterns[".js"]
}

// listDefinitions scans source files directly under path (non-recursive,
// matching how agents use it to orient in a directory) and reports
// top-level definition names per file.
func listDefinitions(ctx context.Context, ws workspace.Workspace, path string) (string, error) {
	entries, err := ws.List(ctx, path, false)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		patterns, ok := definitionPatterns[strings.ToLower(filepath.Ext(e.Path))]
		if !ok {
			continue
		}
		content, err := ws.ReadFile(ctx, e.Path)
		if err != nil {
			continue
		}
		var names []string
		for _, line := range strings.Split(content, "\n") {
			for _, re := range patterns {
				if m := re.FindStringSubmatch(line); m != nil {
					names = append(names, m[1])
					break
				}
			}
		}
		if len(names) > 0 {
			fmt.Fprintf(&b, "%s:\n", e.Path)
			for _, n := range names {
				fmt.Fprintf(&b, "  %s\n", n)
			}
		}
	}
	if b.Len() == 0 {
		return "no definitions found", nil
	}
	return b.String(), nil
}
