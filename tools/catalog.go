package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cascadeworks/agentcore/domain"
	"github.com/cascadeworks/agentcore/sandbox"
	"github.com/cascadeworks/agentcore/workspace"
)

// Tool names. These are part of the prompt contract; renaming breaks prompts.
const (
	NameReadFile       = "read_file"
	NameWriteToFile    = "write_to_file"
	NameReplaceInFile  = "replace_in_file"
	NameListFiles      = "list_files"
	NameSearchFiles    = "search_files"
	NameListCodeDefs   = "list_code_definition_names"
	NameExecuteCommand = "execute_command"
	NameAskFollowup    = "ask_followup_question"
	NameAttemptDone    = "attempt_completion"
	NamePlanRespond    = "plan_mode_respond"
	NameNewTask        = "new_task"
)

// NewTaskFunc receives the context payload of a new_task invocation. The
// host decides whether and how to spawn a session from it.
type NewTaskFunc func(ctx context.Context, taskContext string) error

type ctxKey int

const workspaceKey ctxKey = 0

// WithWorkspace returns a context carrying a workspace that file tools use
// in place of the catalogue default. Sessions configured with their own
// working tree install it before each invocation.
func WithWorkspace(ctx context.Context, ws workspace.Workspace) context.Context {
	return context.WithValue(ctx, workspaceKey, ws)
}

func workspaceFrom(ctx context.Context, fallback workspace.Workspace) workspace.Workspace {
	if ws, ok := ctx.Value(workspaceKey).(workspace.Workspace); ok && ws != nil {
		return ws
	}
	return fallback
}

// CatalogConfig wires the catalogue's collaborators.
type CatalogConfig struct {
	Workspace      workspace.Workspace
	Runner         sandbox.Runner
	CommandTimeout time.Duration
	// CommandWorkdir overrides the workspace root as the command working
	// directory, e.g. when commands run inside a container whose mount
	// point differs from the host path.
	CommandWorkdir string
	OnNewTask      NewTaskFunc
}

// NewCatalog builds the full registry of the closed tool catalogue.
func NewCatalog(cfg CatalogConfig) (*Registry, error) {
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	return NewRegistry(
		&Spec{
			Name:        NameReadFile,
			Description: "Read a file and report its content, size, and line count.",
			Schema:      stringSchema([]string{"path"}),
			Idempotent:  true,
			NonRetryable: []domain.ErrorKind{
				domain.FileNotFound, domain.PermissionDenied,
			},
			Handler: func(ctx context.Context, params map[string]any) (string, error) {
				ws := workspaceFrom(ctx, cfg.Workspace)
				path := stringParam(params, "path")
				content, err := ws.ReadFile(ctx, path)
				if err != nil {
					return "", err
				}
				out, _ := json.Marshal(map[string]any{
					"content":    content,
					"size":       len(content),
					"line_count": lineCount(content),
				})
				return string(out), nil
			},
		},
		&Spec{
			Name:        NameWriteToFile,
			Description: "Write content to a file, creating parent directories.",
			Schema:      stringSchema([]string{"path", "content"}),
			Mutating:    true,
			NonRetryable: []domain.ErrorKind{
				domain.PermissionDenied,
			},
			Handler: func(ctx context.Context, params map[string]any) (string, error) {
				ws := workspaceFrom(ctx, cfg.Workspace)
				path := stringParam(params, "path")
				content := stringParam(params, "content")
				if err := ws.WriteFile(ctx, path, content); err != nil {
					return "", err
				}
				out, _ := json.Marshal(map[string]any{"path": path, "written": len(content)})
				return string(out), nil
			},
			PostCheck: func(ctx context.Context, params map[string]any, _ string) error {
				ws := workspaceFrom(ctx, cfg.Workspace)
				path := stringParam(params, "path")
				want := stringParam(params, "content")
				got, err := ws.ReadFile(ctx, path)
				if err != nil {
					return fmt.Errorf("re-read %s: %w", path, err)
				}
				if got != want {
					return fmt.Errorf("written bytes differ from declared bytes for %s", path)
				}
				return nil
			},
		},
		&Spec{
			Name:        NameReplaceInFile,
			Description: "Apply SEARCH/REPLACE blocks to a file.",
			Schema:      stringSchema([]string{"path", "diff"}),
			Mutating:    true,
			NonRetryable: []domain.ErrorKind{
				domain.FileNotFound, domain.PermissionDenied,
				domain.SearchNotFound, domain.MalformedOutput,
			},
			Handler: func(ctx context.Context, params map[string]any) (string, error) {
				ws := workspaceFrom(ctx, cfg.Workspace)
				path := stringParam(params, "path")
				blocks, err := ParseBlocks(stringParam(params, "diff"))
				if err != nil {
					return "", err
				}
				content, err := ws.ReadFile(ctx, path)
				if err != nil {
					return "", err
				}
				updated, hits, err := ApplyBlocks(content, blocks)
				if err != nil {
					return "", err
				}
				if err := ws.WriteFile(ctx, path, updated); err != nil {
					return "", err
				}
				out, _ := json.Marshal(map[string]any{"path": path, "blocks_applied": hits})
				return string(out), nil
			},
			PostCheck: func(ctx context.Context, params map[string]any, result string) error {
				var applied struct {
					BlocksApplied int `json:"blocks_applied"`
				}
				if err := json.Unmarshal([]byte(result), &applied); err != nil {
					return fmt.Errorf("unreadable replace result: %w", err)
				}
				if applied.BlocksApplied == 0 {
					return fmt.Errorf("replace reported zero applied blocks")
				}
				return nil
			},
		},
		&Spec{
			Name:        NameListFiles,
			Description: "List files under a path; recursive listings skip dot-directories.",
			Schema:      stringSchema([]string{"path"}, "recursive"),
			Idempotent:  true,
			NonRetryable: []domain.ErrorKind{
				domain.FileNotFound, domain.PermissionDenied,
			},
			Handler: func(ctx context.Context, params map[string]any) (string, error) {
				ws := workspaceFrom(ctx, cfg.Workspace)
				recursive := boolParam(params, "recursive")
				entries, err := ws.List(ctx, stringParam(params, "path"), recursive)
				if err != nil {
					return "", err
				}
				var b strings.Builder
				for _, e := range entries {
					b.WriteString(e.Path)
					if e.IsDir {
						b.WriteString("/")
					}
					b.WriteString("\n")
				}
				return b.String(), nil
			},
		},
		&Spec{
			Name:        NameSearchFiles,
			Description: "Regex search across files, case-insensitive by default.",
			Schema:      stringSchema([]string{"path", "regex"}, "file_pattern"),
			Idempotent:  true,
			NonRetryable: []domain.ErrorKind{
				domain.FileNotFound, domain.PermissionDenied, domain.InvalidToolParams,
			},
			Handler: func(ctx context.Context, params map[string]any) (string, error) {
				return searchFiles(ctx, workspaceFrom(ctx, cfg.Workspace),
					stringParam(params, "path"),
					stringParam(params, "regex"),
					stringParam(params, "file_pattern"))
			},
		},
		&Spec{
			Name:        NameListCodeDefs,
			Description: "Best-effort, language-agnostic list of code definition names.",
			Schema:      stringSchema([]string{"path"}),
			Idempotent:  true,
			NonRetryable: []domain.ErrorKind{
				domain.FileNotFound, domain.PermissionDenied,
			},
			Handler: func(ctx context.Context, params map[string]any) (string, error) {
				return listDefinitions(ctx, workspaceFrom(ctx, cfg.Workspace), stringParam(params, "path"))
			},
		},
		&Spec{
			Name:        NameExecuteCommand,
			Description: "Run a shell command in the workspace.",
			Schema:      stringSchema([]string{"command", "requires_approval"}),
			Mutating:    true,
			NonRetryable: []domain.ErrorKind{
				domain.PermissionDenied,
			},
			Handler: func(ctx context.Context, params map[string]any) (string, error) {
				if cfg.Runner == nil {
					return "", domain.Errorf(domain.PermissionDenied, "no command runner configured")
				}
				workdir := cfg.CommandWorkdir
				if workdir == "" {
					workdir = workspaceFrom(ctx, cfg.Workspace).Root()
				}
				res, err := cfg.Runner.Run(ctx, stringParam(params, "command"), workdir, cfg.CommandTimeout)
				if err != nil {
					// Preserve partial output alongside the failure.
					if res.Output != "" {
						return "", domain.WrapError(domain.KindOf(err), err, "partial output: %s", res.Output)
					}
					return "", err
				}
				out, _ := json.Marshal(map[string]any{
					"output":    res.Output,
					"exit_code": res.ExitCode,
				})
				return string(out), nil
			},
		},
		&Spec{
			Name:        NameAskFollowup,
			Description: "Ask the user a clarifying question; ends the turn awaiting their reply.",
			Schema:      stringSchema([]string{"question"}),
			Idempotent:  true,
			Terminal:    true,
		},
		&Spec{
			Name:        NameAttemptDone,
			Description: "Present the final result of the task.",
			Schema:      stringSchema([]string{"result"}, "command"),
			Idempotent:  true,
			Terminal:    true,
		},
		&Spec{
			Name:        NamePlanRespond,
			Description: "Respond with a plan; PLAN mode only.",
			Schema:      stringSchema([]string{"response"}),
			Idempotent:  true,
			Terminal:    true,
			PlanOnly:    true,
		},
		&Spec{
			Name:        NameNewTask,
			Description: "Request that a new session be spawned with the given context.",
			Schema:      stringSchema([]string{"context"}),
			Idempotent:  true,
			Handler: func(ctx context.Context, params map[string]any) (string, error) {
				taskContext := stringParam(params, "context")
				if cfg.OnNewTask != nil {
					if err := cfg.OnNewTask(ctx, taskContext); err != nil {
						return "", err
					}
				}
				out, _ := json.Marshal(map[string]any{"requested": true, "context": taskContext})
				return string(out), nil
			},
		},
	)
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

// boolParam parses string-encoded booleans tolerantly; absent or unparsable
// values are false.
func boolParam(params map[string]any, key string) bool {
	s := stringParam(params, key)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(s)))
	if err != nil {
		return false
	}
	return b
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
