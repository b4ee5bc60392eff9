// Package workspace abstracts the filesystem the agent's tools act on.
package workspace

import (
	"context"
)

// FileInfo describes one workspace entry.
type FileInfo struct {
	// Path is workspace-relative, slash-separated.
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

// Workspace is the façade the tool executor consumes. Implementations must
// serialize writes to the same path; the engine imposes no cross-session
// transaction beyond that.
type Workspace interface {
	// ReadFile returns the full contents of a file.
	ReadFile(ctx context.Context, path string) (string, error)

	// WriteFile replaces a file's contents, creating parent directories
	// as needed.
	WriteFile(ctx context.Context, path, content string) error

	// Stat describes a single entry.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the entries under path. When recursive, dot-directories
	// are skipped.
	List(ctx context.Context, path string, recursive bool) ([]FileInfo, error)

	// Diff renders a line diff between the current contents of path and
	// proposed. A missing file diffs against empty.
	Diff(ctx context.Context, path, proposed string) (string, error)

	// Commit records a snapshot of the workspace with a message and
	// returns its identifier. Implementations without version control
	// return an opaque marker.
	Commit(ctx context.Context, message string) (string, error)

	// Root returns the absolute workspace root.
	Root() string
}
