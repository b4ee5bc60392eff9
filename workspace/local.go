package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cascadeworks/agentcore/domain"
)

// Local is a plain-directory workspace. Writes to the same path are
// serialized with a per-path lock.
type Local struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocal opens (or creates) a workspace rooted at dir.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Local{root: abs, locks: make(map[string]*sync.Mutex)}, nil
}

// Root returns the absolute workspace root.
func (l *Local) Root() string { return l.root }

// resolve returns an absolute, cleaned path inside the root.
func (l *Local) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", domain.Errorf(domain.InvalidToolParams, "path is required")
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(l.root, clean)
	}
	rel, err := filepath.Rel(l.root, target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", domain.Errorf(domain.PermissionDenied, "path %q escapes workspace", path)
	}
	return target, nil
}

func (l *Local) pathLock(abs string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[abs]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[abs] = lk
	}
	return lk
}

// ReadFile returns the file contents.
func (l *Local) ReadFile(_ context.Context, path string) (string, error) {
	abs, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return "", domain.Errorf(domain.FileNotFound, "file not found: %s", path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile replaces the file, creating parent directories.
func (l *Local) WriteFile(_ context.Context, path, content string) error {
	abs, err := l.resolve(path)
	if err != nil {
		return err
	}
	lk := l.pathLock(abs)
	lk.Lock()
	defer lk.Unlock()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent directories for %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Stat describes one entry.
func (l *Local) Stat(_ context.Context, path string) (FileInfo, error) {
	abs, err := l.resolve(path)
	if err != nil {
		return FileInfo{}, err
	}
	fi, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return FileInfo{}, domain.Errorf(domain.FileNotFound, "file not found: %s", path)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	rel, err := filepath.Rel(l.root, abs)
	if err != nil {
		rel = path
	}
	return FileInfo{Path: filepath.ToSlash(rel), Size: fi.Size(), IsDir: fi.IsDir()}, nil
}

// List returns entries under path; recursive listings skip dot-directories.
func (l *Local) List(_ context.Context, path string, recursive bool) ([]FileInfo, error) {
	abs, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	var out []FileInfo
	appendEntry := func(p string, isDir bool, size int64) {
		rel, relErr := filepath.Rel(l.root, p)
		if relErr != nil {
			return
		}
		out = append(out, FileInfo{Path: filepath.ToSlash(rel), Size: size, IsDir: isDir})
	}

	if !recursive {
		entries, err := os.ReadDir(abs)
		if os.IsNotExist(err) {
			return nil, domain.Errorf(domain.FileNotFound, "directory not found: %s", path)
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, err)
		}
		for _, e := range entries {
			info, infoErr := e.Info()
			var size int64
			if infoErr == nil {
				size = info.Size()
			}
			appendEntry(filepath.Join(abs, e.Name()), e.IsDir(), size)
		}
		return out, nil
	}

	walkErr := filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && p != abs && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if p == abs {
			return nil
		}
		var size int64
		if info, infoErr := d.Info(); infoErr == nil {
			size = info.Size()
		}
		appendEntry(p, d.IsDir(), size)
		return nil
	})
	if os.IsNotExist(walkErr) {
		return nil, domain.Errorf(domain.FileNotFound, "directory not found: %s", path)
	}
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", path, walkErr)
	}
	return out, nil
}

// Diff renders a minimal line diff between the current file and proposed.
func (l *Local) Diff(ctx context.Context, path, proposed string) (string, error) {
	current, err := l.ReadFile(ctx, path)
	if err != nil && !domain.IsKind(err, domain.FileNotFound) {
		return "", err
	}
	return lineDiff(current, proposed), nil
}

// Commit has no version control backing; it returns an opaque snapshot id.
func (l *Local) Commit(_ context.Context, _ string) (string, error) {
	return uuid.NewString(), nil
}

// lineDiff is a simple prefix/suffix diff: common head and tail lines are
// elided, the changed middle is shown as removals then additions.
func lineDiff(before, after string) string {
	if before == after {
		return ""
	}
	a := strings.Split(before, "\n")
	b := strings.Split(after, "\n")

	head := 0
	for head < len(a) && head < len(b) && a[head] == b[head] {
		head++
	}
	tailA, tailB := len(a), len(b)
	for tailA > head && tailB > head && a[tailA-1] == b[tailB-1] {
		tailA--
		tailB--
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", head+1, tailA-head, head+1, tailB-head)
	for _, line := range a[head:tailA] {
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	for _, line := range b[head:tailB] {
		sb.WriteString("+ ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}
