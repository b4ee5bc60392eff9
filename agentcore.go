// Package agentcore assembles the session engine: tool catalogue, sandbox,
// stream hub, session store, and turn engine, wired from configuration.
//
// Transports (HTTP, WebSocket, gRPC) live outside this module; they drive
// the Core through the session store's operations and hub subscriptions.
package agentcore

import (
	"fmt"
	"log/slog"

	"github.com/cascadeworks/agentcore/config"
	"github.com/cascadeworks/agentcore/engine"
	"github.com/cascadeworks/agentcore/hub"
	"github.com/cascadeworks/agentcore/llm"
	"github.com/cascadeworks/agentcore/prompt"
	"github.com/cascadeworks/agentcore/sandbox"
	"github.com/cascadeworks/agentcore/session"
	"github.com/cascadeworks/agentcore/tools"
	"github.com/cascadeworks/agentcore/workspace"
)

// Options are the collaborators the caller supplies; everything else is
// built from Config.
type Options struct {
	// Streamer is the LLM provider adapter. Required.
	Streamer llm.Streamer
	// Assembler builds instruction payloads. Nil uses prompt.Static.
	Assembler prompt.Assembler
	// Workspace is the default workspace shared by sessions that do not
	// carry their own. Required.
	Workspace workspace.Workspace
	// Runner executes shell commands. Nil selects Docker when
	// Config.SandboxContainer is set, local execution otherwise.
	Runner sandbox.Runner
	// Persistence is the optional durability hook (see the store package).
	Persistence session.Persistence
	// OnNewTask handles new_task tool requests. Nil acknowledges them
	// without spawning anything.
	OnNewTask tools.NewTaskFunc
	Logger    *slog.Logger
}

// Core owns the assembled engine.
type Core struct {
	Sessions *session.Store
	Hub      *hub.Hub
	Registry *tools.Registry

	runner sandbox.Runner
	logger *slog.Logger
}

// New wires a Core from configuration.
func New(cfg *config.Config, opts Options) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Streamer == nil {
		return nil, fmt.Errorf("an llm streamer is required")
	}
	if opts.Workspace == nil {
		return nil, fmt.Errorf("a workspace is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	assembler := opts.Assembler
	if assembler == nil {
		assembler = prompt.Static{}
	}

	runner := opts.Runner
	if runner == nil {
		if cfg.SandboxContainer != "" {
			dr, err := sandbox.NewDockerRunner(cfg.SandboxContainer, "", logger)
			if err != nil {
				return nil, fmt.Errorf("docker sandbox: %w", err)
			}
			runner = dr
		} else {
			runner = &sandbox.LocalRunner{Logger: logger}
		}
	}

	registry, err := tools.NewCatalog(tools.CatalogConfig{
		Workspace:      opts.Workspace,
		Runner:         runner,
		CommandTimeout: cfg.ToolTimeout,
		CommandWorkdir: cfg.SandboxWorkdir,
		OnNewTask:      opts.OnNewTask,
	})
	if err != nil {
		return nil, fmt.Errorf("tool catalogue: %w", err)
	}

	executor := tools.NewExecutor(registry, tools.ExecutorConfig{
		MaxRetries:   cfg.ToolMaxRetries,
		BaseDelay:    cfg.ToolBaseDelay,
		PostValidate: cfg.PostValidate,
		Timeout:      cfg.ToolTimeout,
	}, logger)

	h := hub.New(hub.Config{
		RetentionWindow:  cfg.RetentionWindow,
		RetentionEvents:  cfg.RetentionEvents,
		SubscriberBuffer: cfg.SubscriberBuffer,
		HeartbeatEvery:   cfg.HeartbeatEvery,
		SubscriberIdle:   cfg.SubscriberIdle,
	}, logger)

	eng := engine.New(engine.FromConfig(cfg), opts.Streamer, assembler,
		registry, executor, &engine.HeuristicValidator{}, logger)

	sessions := session.New(session.Options{
		TurnBudget:    cfg.TurnBudget,
		QueueDepth:    1,
		SessionTTL:    cfg.SessionTTL,
		CancelOnEmpty: cfg.CancelOnEmpty,
	}, h, eng, opts.Persistence, logger)

	return &Core{
		Sessions: sessions,
		Hub:      h,
		Registry: registry,
		runner:   runner,
		logger:   logger,
	}, nil
}

// Close shuts down the store and hub. In-flight turns run to completion.
func (c *Core) Close() {
	c.Sessions.Close()
	c.Hub.Close()
}
