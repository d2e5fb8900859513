// Command momentum detects stagnant repositories and proposes remediations
// through a gatekept research loop backed by long-term memory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nashy3k/momentum/internal/config"
	"github.com/nashy3k/momentum/internal/engine"
	"github.com/nashy3k/momentum/internal/gather"
	"github.com/nashy3k/momentum/internal/github"
	"github.com/nashy3k/momentum/internal/llm"
	"github.com/nashy3k/momentum/internal/memory"
	"github.com/nashy3k/momentum/internal/pulse"
	"github.com/nashy3k/momentum/internal/server"
	"github.com/nashy3k/momentum/internal/store"
)

type app struct {
	cfg    config.Config
	engine *engine.Engine
	store  store.Store
	logger *zap.Logger
}

var verbose bool

// initializeApp wires every component from configuration. Fatal on any
// construction failure; there is no degraded mode without a database or model.
func initializeApp(ctx context.Context) *app {
	cfg := config.Load()

	newLogger := zap.NewProduction
	if verbose {
		newLogger = zap.NewDevelopment
	}
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	llmClient, err := llm.NewClient(ctx, llm.Options{
		APIKey:     cfg.APIKey,
		ChatModel:  cfg.ChatModel,
		EvalModel:  cfg.EvalModel,
		EmbedModel: cfg.EmbedModel,
	})
	if err != nil {
		logger.Fatal("failed to create llm client", zap.Error(err))
	}

	var st store.Store
	switch cfg.DBType {
	case "sqlite":
		s, err := store.NewSQLiteStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open sqlite store", zap.Error(err))
		}
		if err := s.InitSchema(ctx); err != nil {
			logger.Fatal("failed to initialize sqlite schema", zap.Error(err))
		}
		st = s
	default:
		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open postgres store", zap.Error(err))
		}
		if err := s.InitSchema(ctx); err != nil {
			logger.Fatal("failed to initialize postgres schema", zap.Error(err))
		}
		st = s
	}

	gh := github.NewClient(cfg.GitHubToken)
	checker := pulse.NewChecker(gh, cfg.StagnationDays)
	gatherer := gather.New(gh, logger)
	memories := memory.NewService(st, llmClient, cfg.MemoryWindow, logger)

	gatekeeper := engine.NewGatekeeper(llmClient, memories, engine.GatekeeperConfig{
		AcceptScore: cfg.AcceptScore,
	}, logger)
	loop := engine.NewResearchLoop(llmClient, gatherer, gatekeeper, engine.LoopConfig{
		MaxTurns:    cfg.MaxTurns,
		TurnTimeout: cfg.TurnTimeout,
	}, logger)

	eng := engine.New(checker, loop, memories, st, gh, gatherer, cfg.RecallK, logger)

	return &app{cfg: cfg, engine: eng, store: st, logger: logger}
}

func main() {
	root := &cobra.Command{
		Use:   "momentum",
		Short: "Shadow developer for stagnant repositories",
		Long: `Momentum watches repositories for stagnation and, when a repository has gone
quiet, researches it with a language model, gates the resulting proposal
through an independent evaluator, and files the accepted proposal as a
tracking issue.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development-style logging")

	root.AddCommand(
		newCheckCmd(),
		newExecuteCmd(),
		newRejectCmd(),
		newPatrolCmd(),
		newReposCmd(),
		newUntrackCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func withApp(run func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := initializeApp(ctx)
		defer a.store.Close()
		defer a.logger.Sync()
		return run(ctx, a, cmd, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCheckCmd() *cobra.Command {
	var maintenance bool
	cmd := &cobra.Command{
		Use:   "check <repo>",
		Short: "Run a pulse check and, if stagnant, a full research cycle",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
			res, err := a.engine.Plan(ctx, args[0], engine.PlanOptions{MaintenanceOnly: maintenance})
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
	cmd.Flags().BoolVar(&maintenance, "maintenance", false, "record the pulse result without running research")
	return cmd
}

func newExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <cycle-id>",
		Short: "File the pending proposal for a cycle as a tracker issue",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
			res, err := a.engine.ExecuteCycle(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func newRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <cycle-id>",
		Short: "Record a human rejection of a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
			if err := a.engine.RecordHumanRejection(ctx, args[0], reason); err != nil {
				return err
			}
			fmt.Println("rejection recorded")
			return nil
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the proposal was declined")
	return cmd
}

func newPatrolCmd() *cobra.Command {
	var maintenance bool
	cmd := &cobra.Command{
		Use:   "patrol",
		Short: "Plan every tracked repository in sequence",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			results, err := a.engine.Patrol(ctx, engine.PlanOptions{MaintenanceOnly: maintenance})
			if err != nil {
				return err
			}
			return printJSON(results)
		}),
	}
	cmd.Flags().BoolVar(&maintenance, "maintenance", false, "record pulse results without running research")
	return cmd
}

func newReposCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repos",
		Short: "List tracked repositories and their state",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			return printJSON(a.engine.ListRepos(ctx))
		}),
	}
}

func newUntrackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "untrack <repo>",
		Short: "Stop tracking a repository",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
			if err := a.engine.Untrack(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("untracked")
			return nil
		}),
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, a *app, _ *cobra.Command, _ []string) error {
			srv := server.New(a.engine, a.logger)
			return srv.Run(a.cfg.HTTPAddr)
		}),
	}
}
