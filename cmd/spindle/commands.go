package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/spindlehq/spindle/internal/agent"
	"github.com/spindlehq/spindle/internal/agent/providers"
	"github.com/spindlehq/spindle/internal/config"
	"github.com/spindlehq/spindle/internal/hooks"
	"github.com/spindlehq/spindle/internal/observability"
	"github.com/spindlehq/spindle/internal/plugins"
	"github.com/spindlehq/spindle/internal/session"
	"github.com/spindlehq/spindle/internal/shell"
	"github.com/spindlehq/spindle/internal/stream"
	"github.com/spindlehq/spindle/internal/tools"
	"github.com/spindlehq/spindle/pkg/models"
)

func loadConfig(configPath string) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("SPINDLE_CONFIG")
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// promauto registers collectors on the default registry, which rejects
// duplicates, so the runtime's metrics are created once per process.
var (
	metricsOnce sync.Once
	metrics     *observability.Metrics
)

func runtimeMetrics() *observability.Metrics {
	metricsOnce.Do(func() { metrics = observability.NewMetrics() })
	return metrics
}

// runtime bundles the wired components a command needs to drive a run.
type runtime struct {
	runner  *agent.Runner
	sess    *models.Session
	store   session.Store
	tracer  *observability.Tracer
	cleanup func()
}

// buildRuntime wires the full runtime from config: logger, tracer,
// metrics, providers, tools, plugins, store, and the runner.
func buildRuntime(ctx context.Context, cfg *config.Config, sessionID string) (*runtime, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "spindle",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	mx := runtimeMetrics()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		_ = shutdownTracer(context.Background())
		return nil, err
	}

	cleanup := func() {
		closeStore()
		_ = shutdownTracer(context.Background())
	}

	providerRegistry := providers.NewRegistry()
	anthropicKey := firstNonEmpty(cfg.Providers.Anthropic.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
	if anthropicKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  anthropicKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
		})
		if err != nil {
			cleanup()
			return nil, err
		}
		providerRegistry.Register(p, "claude")
	}
	openaiKey := firstNonEmpty(cfg.Providers.OpenAI.APIKey, os.Getenv("OPENAI_API_KEY"))
	if openaiKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  openaiKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		})
		if err != nil {
			cleanup()
			return nil, err
		}
		providerRegistry.Register(p, "gpt", "o1", "o3", "o4")
	}

	adapters := stream.NewRegistry()
	adapters.Register(stream.NewReasoningAdapter())

	registry := agent.NewRegistry(cfg.Run.ToolTimeout, logger)
	shellMgr := shell.NewManager(cfg.Workspace.Root, logger)
	shellMgr.SetGauge(mx.BackgroundProcesses)
	builtins := []func() (models.ToolDefinition, models.ToolHandler){
		tools.ReadFileTool,
		tools.WriteFileTool,
		tools.GrepTool,
		tools.EchoTool,
		func() (models.ToolDefinition, models.ToolHandler) { return shell.BashTool(shellMgr) },
		func() (models.ToolDefinition, models.ToolHandler) { return shell.ProcessesTool(shellMgr) },
	}
	for _, builtin := range builtins {
		def, handler := builtin()
		if err := registry.Register(def, handler); err != nil {
			cleanup()
			return nil, err
		}
	}

	pipeline := hooks.NewPipeline(logger)
	loader := plugins.NewLoader(logger)
	pluginInput := plugins.Input{
		WorkspaceRoot: cfg.Workspace.Root,
		Logger:        logger,
	}
	if err := loader.LoadWorkspace(pluginInput, pipeline); err != nil {
		logger.Warn("plugin discovery failed", "error", err)
	}
	// Manifest edits reload hook callbacks live for later turns; the
	// watcher stops with the command's context.
	go func() {
		if err := loader.WatchWorkspace(ctx, pluginInput, pipeline); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("plugin watch stopped", "error", err)
		}
	}()

	runner := agent.NewRunner(providerRegistry, registry, pipeline, adapters, agent.Options{
		Model:              cfg.Model,
		SystemPrompt:       cfg.System,
		MaxTurns:           cfg.Run.MaxTurns,
		MaxTokens:          cfg.Run.MaxTokens,
		MaxRetries:         cfg.Run.MaxRetries,
		WorkspaceRoot:      cfg.Workspace.Root,
		AllowExternalPaths: cfg.Workspace.AllowExternalPaths,
		HostPermission:     hooks.Decision(firstNonEmpty(cfg.Run.HostPermission, "allow")),
		Prompt:             terminalPrompter,
		Store:              store,
		Metrics:            mx,
		Tracer:             tracer,
		Logger:             logger,
	})

	// Task tool needs the runner, so it registers after construction.
	taskDef, taskHandler := tools.TaskTool(runner)
	if err := registry.Register(taskDef, taskHandler); err != nil {
		cleanup()
		return nil, err
	}

	var sess *models.Session
	if sessionID != "" {
		sess, err = store.Load(ctx, sessionID)
		if err != nil {
			cleanup()
			return nil, err
		}
	} else {
		sess = models.NewSession(cfg.Model)
	}
	return &runtime{
		runner:  runner,
		sess:    sess,
		store:   store,
		tracer:  tracer,
		cleanup: cleanup,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return session.NewMemoryStore(), func() {}, nil
	case "sqlite":
		driver, err := session.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		store, err := session.NewSQLStore(ctx, driver, cfg.Storage.Table)
		if err != nil {
			driver.Close()
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "postgres":
		driver, err := session.OpenPostgres(cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := session.NewSQLStore(ctx, driver, cfg.Storage.Table)
		if err != nil {
			driver.Close()
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildRunCmd(configPath *string) *cobra.Command {
	var (
		model     string
		sessionID string
		planMode  bool
	)
	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Run the agent on a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if model != "" {
				cfg.Model = model
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, sessionID)
			if err != nil {
				return err
			}
			defer rt.cleanup()

			if planMode {
				rt.sess.Mode = models.ModePlan
			}

			runCtx, span := rt.tracer.Start(ctx, "agent.run",
				attribute.String("model", cfg.Model),
				attribute.String("session.id", rt.sess.ID),
			)
			defer span.End()

			run, err := rt.runner.Run(runCtx, rt.sess, strings.Join(args, " "), agent.RunCallbacks{})
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			for ev := range run.Events() {
				switch ev.Type {
				case models.AgentEventAssistantToken:
					fmt.Print(ev.Token)
				case models.AgentEventToolCall:
					fmt.Fprintf(os.Stderr, "\n[tool] %s %s\n", ev.ToolCall.Name, string(ev.ToolCall.Arguments))
				case models.AgentEventToolResult:
					status := "ok"
					if !ev.ToolResult.Success {
						status = "failed"
					}
					fmt.Fprintf(os.Stderr, "[tool] %s: %s\n", status, ev.ToolResult.Title)
				case models.AgentEventRunRetrying:
					fmt.Fprintf(os.Stderr, "[retry %d] %s\n", ev.Attempt, ev.Err)
				}
			}
			result := run.Wait()
			span.SetAttributes(
				attribute.String("run.status", string(result.Status)),
				attribute.Int("run.turns", result.Turns),
				attribute.Int("run.tool_calls", result.ToolCalls),
			)
			fmt.Println()
			switch result.Status {
			case models.RunStatusDone:
				fmt.Fprintf(os.Stderr, "session %s: %d turns, %d tool calls, %d in / %d out tokens\n",
					result.SessionID, result.Turns, result.ToolCalls,
					result.Usage.InputTokens, result.Usage.OutputTokens)
				return nil
			case models.RunStatusAborted:
				span.SetStatus(codes.Error, "aborted")
				return fmt.Errorf("run aborted")
			default:
				span.SetStatus(codes.Error, result.Err)
				return fmt.Errorf("run failed: %s", result.Err)
			}
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model id (overrides config)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session id")
	cmd.Flags().BoolVar(&planMode, "plan", false, "Start the session in plan mode")
	return cmd
}

func buildSessionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}
	cmd.AddCommand(
		buildSessionsListCmd(configPath),
		buildSessionsShowCmd(configPath),
		buildSessionsDeleteCmd(configPath),
	)
	return cmd
}

func withStore(configPath *string, fn func(ctx context.Context, store session.Store) error) error {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, store)
}

func buildSessionsListCmd(configPath *string) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(configPath, func(ctx context.Context, store session.Store) error {
				entries, err := store.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println("no sessions")
					return nil
				}
				for _, e := range entries {
					fmt.Printf("%s  %-10s %-30s %s\n",
						e.ID, e.Mode, e.ModelID, e.UpdatedAt.Local().Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum sessions to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of sessions to skip")
	return cmd
}

func buildSessionsShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(configPath, func(ctx context.Context, store session.Store) error {
				sess, err := store.Load(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("session %s  model=%s mode=%s messages=%d\n\n",
					sess.ID, sess.ModelID, sess.Mode, len(sess.History))
				for _, msg := range sess.History {
					fmt.Printf("--- %s (%s)\n", msg.Role, msg.CreatedAt.Local().Format(time.RFC3339))
					if text := msg.Text(); text != "" {
						fmt.Println(text)
					}
					for _, call := range msg.ToolCalls() {
						fmt.Printf("[tool call] %s %s\n", call.Name, string(call.Arguments))
					}
					for _, part := range msg.Parts {
						if part.Kind == models.PartToolResult && part.ToolResult != nil {
							fmt.Printf("[tool result] success=%t %s\n", part.ToolResult.Success, part.ToolResult.Title)
						}
					}
					fmt.Println()
				}
				return nil
			})
		},
	}
}

func buildSessionsDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(configPath, func(ctx context.Context, store session.Store) error {
				if err := store.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

// terminalPrompter asks the user on stderr for "ask" permission votes.
func terminalPrompter(ctx context.Context, tool models.ToolDefinition, call models.ToolCall, reason string) bool {
	fmt.Fprintf(os.Stderr, "allow tool %s? (%s) [y/N] ", tool.ID, reason)
	var answer string
	if _, err := fmt.Fscanln(os.Stdin, &answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
