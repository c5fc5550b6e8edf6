package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/timetrail/timetrail/internal/config"
	"github.com/timetrail/timetrail/internal/db"
	"github.com/timetrail/timetrail/internal/journal"
	"github.com/timetrail/timetrail/internal/temporal"
	"github.com/timetrail/timetrail/internal/tools"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "timetrail",
	Short: "Timetrail - temporal change tracking for PostgreSQL tables",
	Long:  `Turn ordinary PostgreSQL tables into time-travelable tables: track every change, query past states, diff timestamps, and revert.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "timetrail.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(enableCmd())
	rootCmd.AddCommand(disableCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(changesCmd())
	rootCmd.AddCommand(diffCmd())
	rootCmd.AddCommand(revertCmd())
	rootCmd.AddCommand(rowHistoryCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(serveCmd())
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("timetrail v0.1.0")
		fmt.Println("Temporal change tracking for PostgreSQL")
	},
}

// withEngine loads config, connects the pool, and hands an engine to fn.
func withEngine(fn func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	conv, err := temporal.ConventionByName(cfg.Temporal.Convention)
	if err != nil {
		return err
	}

	mgr := temporal.NewManager(pool, conv, logger)
	q := temporal.NewQuery(pool, conv, logger)
	return fn(ctx, cfg, mgr, q)
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func enableCmd() *cobra.Command {
	var suffix, identity string
	cmd := &cobra.Command{
		Use:   "enable <schema> <table>",
		Short: "Enable change tracking for a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error {
				if suffix == "" {
					suffix = cfg.Temporal.HistorySuffix
				}
				result, err := mgr.Enable(ctx, args[0], args[1], suffix, identity)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	cmd.Flags().StringVar(&suffix, "suffix", "", "history table suffix")
	cmd.Flags().StringVar(&identity, "identity", "", "identity column (defaults to the primary key)")
	return cmd
}

func disableCmd() *cobra.Command {
	var dropHistory bool
	cmd := &cobra.Command{
		Use:   "disable <schema> <table>",
		Short: "Disable change tracking for a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error {
				result, err := mgr.Disable(ctx, args[0], args[1], dropHistory)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	cmd.Flags().BoolVar(&dropHistory, "drop-history", false, "also drop the history table (deletes all recorded changes)")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error {
				tables, err := mgr.List(ctx)
				if err != nil {
					return err
				}
				if len(tables) == 0 {
					fmt.Println("No tables have change tracking enabled.")
					return nil
				}
				return printJSON(tables)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <schema> <table>",
		Short: "Show tracking status and statistics for a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error {
				status, err := mgr.Status(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(status)
			})
		},
	}
}

func snapshotCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "snapshot <schema> <table> <timestamp>",
		Short: "Reconstruct a table's rows as of a timestamp",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error {
				if limit == 0 {
					limit = cfg.Temporal.DefaultLimit
				}
				result, err := q.At(ctx, args[0], args[1], args[2], limit)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")
	return cmd
}

func changesCmd() *cobra.Command {
	var start, end, operation string
	var limit int
	cmd := &cobra.Command{
		Use:   "changes <schema> <table>",
		Short: "Browse a table's raw change log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error {
				if limit == 0 {
					limit = cfg.Temporal.DefaultLimit
				}
				result, err := q.Changes(ctx, args[0], args[1], start, end, operation, limit)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start of time range")
	cmd.Flags().StringVar(&end, "end", "", "end of time range")
	cmd.Flags().StringVar(&operation, "operation", "", "filter by operation (INSERT, UPDATE, DELETE)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum changes to return")
	return cmd
}

func diffCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "diff <schema> <table> <timestamp1> <timestamp2>",
		Short: "Compare a table's state between two timestamps",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error {
				if limit == 0 {
					limit = cfg.Temporal.DefaultLimit
				}
				result, err := q.Compare(ctx, args[0], args[1], args[2], args[3], limit)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum differences per category")
	return cmd
}

func revertCmd() *cobra.Command {
	var execute bool
	cmd := &cobra.Command{
		Use:   "revert <schema> <table> <timestamp>",
		Short: "Revert a table to its state at a timestamp (dry run unless --execute)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error {
				if execute {
					fmt.Fprintf(os.Stderr, "Reverting %s.%s to %s. This replaces the table's contents.\n",
						args[0], args[1], args[2])
				}
				result, err := q.Revert(ctx, args[0], args[1], args[2], !execute)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "perform the revert instead of previewing it")
	return cmd
}

func rowHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "row-history <schema> <table> <column> <value>",
		Short: "Show the complete change history of one row",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error {
				if limit == 0 {
					limit = cfg.Temporal.DefaultLimit
				}
				result, err := q.RowHistory(ctx, args[0], args[1], args[2], args[3], limit)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum changes to return")
	return cmd
}

func journalCmd() *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent tool invocations from the local journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer j.Close()

			if createdAt, err := j.CreatedAt(); err == nil {
				fmt.Printf("Journal since: %s\n", createdAt)
			}

			entries, err := j.Recent(recent)
			if err != nil {
				return fmt.Errorf("failed to read journal: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No recorded invocations.")
				return nil
			}
			return printJSON(entries)
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 20, "number of entries to show")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool interface over stdin/stdout (line-delimited JSON)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, cfg *config.Config, mgr *temporal.Manager, q *temporal.Query) error {
				logger := newLogger(cfg)

				registry := tools.NewRegistry(logger)
				tools.RegisterAll(registry, mgr, q, cfg.Temporal.HistorySuffix, cfg.Temporal.DefaultLimit)

				j, err := journal.Open(cfg.Journal.Path)
				if err != nil {
					logger.WithError(err).Warn("journal unavailable; invocations will not be recorded")
				} else {
					registry.SetJournal(j)
					defer j.Close()
				}

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				go func() {
					<-sigCh
					cancel()
				}()

				logger.WithField("tools", registry.Names()).Info("serving tool interface on stdio")
				return tools.Serve(ctx, registry, os.Stdin, os.Stdout)
			})
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
