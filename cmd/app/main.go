package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/fenwick/mnemon/internal"
	"github.com/fenwick/mnemon/internal/compiler"
	"github.com/fenwick/mnemon/internal/mcpserver"
	"github.com/fenwick/mnemon/internal/memoryservice"
	"github.com/fenwick/mnemon/internal/models"
	pkgconfig "github.com/fenwick/mnemon/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// withService loads config, wires the memory service, runs fn, and
// closes the store afterwards. Most subcommands are this pattern.
func withService(cmd *cli.Command, fn func(cfg *internal.Config, svc *memoryservice.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := internal.NewLogger(cfg)

	svc, cleanup, err := internal.BuildService(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(cfg, svc)
}

func runInit(ctx context.Context, cmd *cli.Command) error {
	return withService(cmd, func(cfg *internal.Config, svc *memoryservice.Service) error {
		stats, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Initialized memory engine\n")
		fmt.Printf("  State dir:  %s\n", cfg.Log.StateDir)
		fmt.Printf("  Store:      %s\n", cfg.Store.Path)
		fmt.Printf("  Embeddings: %s (%d dims)\n", stats.Model, stats.Dims)
		fmt.Printf("  Entries:    %d\n", stats.Total)
		return nil
	})
}

func runLoad(ctx context.Context, cmd *cli.Command) error {
	return withService(cmd, func(cfg *internal.Config, svc *memoryservice.Service) error {
		result, err := svc.Load(ctx, cmd.Bool("rebuild"))
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d entries from %s\n", result.Entries, cfg.Log.StateDir)
		for _, w := range result.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		if result.Rebuilt {
			fmt.Printf("Rebuilt vector store (%d entries embedded)\n", result.Indexed)
		} else {
			fmt.Printf("Indexed %d new entries\n", result.Indexed)
		}
		return nil
	})
}

func runQuery(ctx context.Context, cmd *cli.Command) error {
	return withService(cmd, func(cfg *internal.Config, svc *memoryservice.Service) error {
		envelope, err := svc.Compile(ctx, compiler.Request{
			Task:        cmd.String("task"),
			EntityID:    cmd.String("entity"),
			Scope:       cmd.StringSlice("scope"),
			TokenBudget: int(cmd.Int("budget")),
			DecayPolicy: cmd.String("decay"),
		})
		if err != nil {
			return err
		}

		fmt.Printf("Context envelope for %s (%s)\n", envelope.EntityID,
			envelope.GeneratedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Entries: %d  Tokens: %d/%d  Decay: %s\n",
			len(envelope.Entries), envelope.TotalTokens, envelope.TokenBudget, envelope.DecayPolicy)
		if envelope.Diagnostic != "" {
			fmt.Printf("  Note: %s\n", envelope.Diagnostic)
		}

		for i, e := range envelope.Entries {
			preview := strings.ReplaceAll(e.Content, "\n", " ")
			if len(preview) > 150 {
				preview = preview[:150] + "..."
			}
			fmt.Printf("\n%d. [%s...] depth=%d\n", i+1, e.EntryID[:12], e.PromotionDepth)
			fmt.Printf("   weight=%.3f similarity=%.3f date=%s\n",
				e.FinalWeight, e.Similarity, e.Timestamp.Format("2006-01-02"))
			fmt.Printf("   %s\n", preview)
		}
		return nil
	})
}

func runPromote(ctx context.Context, cmd *cli.Command) error {
	return withService(cmd, func(cfg *internal.Config, svc *memoryservice.Service) error {
		decision, err := svc.Promote(ctx, cmd.String("entry-id"), cmd.String("reason"))
		if err != nil {
			return err
		}

		fmt.Printf("Source depth: %d  Probability: %.3f  Threshold: %.3f\n",
			decision.SourceDepth, decision.Probability, cfg.Promotion.Threshold)
		if decision.Decision == models.DecisionBlocked {
			fmt.Printf("Promotion blocked: %s\n", decision.BlockReason)
			return nil
		}
		fmt.Printf("Promoted: new entry %s at depth %d\n",
			decision.NewEntry.ID[:16], decision.NewEntry.PromotionDepth)
		return nil
	})
}

func runStats(ctx context.Context, cmd *cli.Command) error {
	return withService(cmd, func(cfg *internal.Config, svc *memoryservice.Service) error {
		stats, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Memory engine statistics\n")
		fmt.Printf("  Total vectors: %d\n", stats.Total)
		fmt.Printf("  Model: %s (%d dims)\n", stats.Model, stats.Dims)
		for author, n := range stats.ByAuthor {
			fmt.Printf("  %s: %d entries\n", author, n)
		}
		for kind, n := range stats.ByKind {
			fmt.Printf("  kind %s: %d\n", kind, n)
		}
		for depth, n := range stats.ByDepth {
			fmt.Printf("  depth %d: %d\n", depth, n)
		}
		return nil
	})
}

func runDemo(ctx context.Context, cmd *cli.Command) error {
	return withService(cmd, func(cfg *internal.Config, svc *memoryservice.Service) error {
		fmt.Println("[1/4] Loading canonical log...")
		result, err := svc.Load(ctx, true)
		if err != nil {
			return err
		}
		fmt.Printf("  loaded %d entries, embedded %d\n", result.Entries, result.Indexed)
		if result.Entries == 0 {
			fmt.Println("  state dir is empty; add an author .md file first")
			return nil
		}

		entries, err := svc.List(ctx, "")
		if err != nil {
			return err
		}
		entity := entries[0].Author

		fmt.Println("[2/4] Compiling context...")
		envelope, err := svc.Compile(ctx, compiler.Request{
			Task:     "Reflect on recent collaborative work",
			EntityID: entity,
			Scope:    []string{"collaboration", "decisions"},
		})
		if err != nil {
			return err
		}
		fmt.Printf("  entity=%s entries=%d tokens=%d\n",
			envelope.EntityID, len(envelope.Entries), envelope.TotalTokens)

		if len(envelope.Entries) == 0 {
			fmt.Println("  no candidates to evaluate; demo done")
			return nil
		}

		fmt.Println("[3/4] Evaluating promotion for the top entry...")
		decision, err := svc.Evaluate(ctx, envelope.Entries[0].EntryID)
		if err != nil {
			return err
		}
		fmt.Printf("  decision=%s probability=%.3f\n", decision.Decision, decision.Probability)

		fmt.Println("[4/4] Vector store stats...")
		stats, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("  total=%d model=%s\n", stats.Total, stats.Model)
		fmt.Println("Demo complete")
		return nil
	})
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	return withService(cmd, func(cfg *internal.Config, svc *memoryservice.Service) error {
		return mcpserver.New(svc).ServeStdio()
	})
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:  "mnemon",
		Usage: "Entity-scoped memory engine: append-only canonical log, vector projections, promotion lifecycle",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Initialize the state directory and vector store",
				Action: runInit,
			},
			{
				Name:  "load",
				Usage: "Load the canonical log and index new entries",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "rebuild", Usage: "Re-embed everything from scratch"},
				},
				Action: runLoad,
			},
			{
				Name:  "query",
				Usage: "Compile a context envelope for a task",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "task", Aliases: []string{"t"}, Usage: "Task description", Required: true},
					&cli.StringFlag{Name: "entity", Aliases: []string{"e"}, Usage: "Entity id", Required: true},
					&cli.StringSliceFlag{Name: "scope", Aliases: []string{"s"}, Usage: "Scope keyword (repeatable)"},
					&cli.StringFlag{Name: "decay", Usage: "Decay policy: sigmoid or linear"},
					&cli.IntFlag{Name: "budget", Usage: "Token budget override"},
				},
				Action: runQuery,
			},
			{
				Name:  "promote",
				Usage: "Promote an entry into a derived memory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "entry-id", Usage: "Entry id (or unique prefix)", Required: true},
					&cli.StringFlag{Name: "reason", Usage: "Promotion rationale", Required: true},
				},
				Action: runPromote,
			},
			{
				Name:   "stats",
				Usage:  "Show vector store statistics",
				Action: runStats,
			},
			{
				Name:   "demo",
				Usage:  "Run an end-to-end load/query/promote walkthrough",
				Action: runDemo,
			},
			{
				Name:   "serve",
				Usage:  "Start the HTTP API server with SSE and file watching",
				Action: runServe,
			},
			{
				Name:   "mcp",
				Usage:  "Start the MCP stdio server",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
