// Package main is the dalil CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/app"
	"github.com/hyperjump/dalil/internal/cli"
	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/server"
	"github.com/hyperjump/dalil/internal/watcher"
	"github.com/hyperjump/dalil/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "config.yaml"

type rootFlags struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes usage errors from runtime failures.
func exitCode(err error) int {
	if errors.Is(err, models.ErrInvalidArgument) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "dalil",
		Short: "Local assistant for Tunisian administrative procedures",
		Long: `dalil answers questions about administrative procedures from a local corpus.
Documents under the raw directory are chunked, embedded and indexed on this machine;
queries are screened for safety, answered from the retrieved passages and logged.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "config file path (defaults apply when missing)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(flags),
		newIngestCmd(flags),
		newQueryCmd(flags),
		newEvalCmd(flags),
		newStatusCmd(flags),
		newDocumentsCmd(flags),
		newConfigCmd(flags),
		newModelCmd(flags),
		newVersionCmd(),
	)
	return root
}

// openApp loads the config and builds the application. The returned cleanup
// closes the app and flushes the logger.
func openApp(flags *rootFlags, opts ...app.Option) (*app.App, func(), error) {
	cfg, err := config.LoadOrDefault(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	debug := cfg.Debug || flags.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("Config loaded", zap.String("config_path", flags.configPath), zap.Bool("debug", debug))

	a, err := app.New(cfg, logger, opts...)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("Close failed", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return a, cleanup, nil
}

func outputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", string(cli.OutputText), "output format: text or json")
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := openApp(flags)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := a.Warmup(ctx); err != nil {
				a.Logger.Warn("Embedding model not ready; ingest and query will fail until it loads", zap.Error(err))
			}

			if watch || a.Config.Watch.Enabled {
				w := watcher.NewWatcher(a.Config.Storage.RawDir, a.Ingestor.Supports, func(ctx context.Context) {
					if _, err := a.Ingest(ctx); err != nil {
						a.Logger.Warn("Re-ingest failed", zap.Error(err))
					}
				}, watcher.WithDebounce(a.Config.Watch.Debounce), watcher.WithLogger(a.Logger))
				if err := w.Start(ctx); err != nil {
					return fmt.Errorf("failed to start watcher: %w", err)
				}
				defer w.Stop()
			}

			srv := server.NewServer(a, &a.Config.Server, a.Logger, server.WithMetrics(a.Metrics, a.Metrics.Handler()))
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.Logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "re-ingest when files under the raw directory change")
	return cmd
}

func newIngestCmd(flags *rootFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the index from the raw directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			a, cleanup, err := openApp(flags)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := a.Ingest(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteIngestResult(cmd.OutOrStdout(), res, format)
		},
	}
	outputFlag(cmd, &output)
	return cmd
}

func newQueryCmd(flags *rootFlags) *cobra.Command {
	var (
		topK     int
		generate bool
		output   string
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question against the local corpus",
		Long:  "The question is all arguments joined by spaces; quoting is optional.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			text := buildQuery(args)
			if text == "" {
				return fmt.Errorf("%w: query text cannot be empty", models.ErrInvalidArgument)
			}
			a, cleanup, err := openApp(flags)
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := a.Query(cmd.Context(), models.QueryRequest{Text: text, TopK: topK, AllowGeneration: generate})
			if err != nil {
				return err
			}
			return cli.WriteQueryResponse(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "passages to retrieve (0 uses the configured value)")
	cmd.Flags().BoolVar(&generate, "generate", false, "compose the answer with the generation model")
	outputFlag(cmd, &output)
	return cmd
}

// buildQuery joins CLI args into a single query string.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newEvalCmd(flags *rootFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the labelled evaluation suite and write the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			a, cleanup, err := openApp(flags)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := a.Evaluate(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteReport(cmd.OutOrStdout(), report, format)
		},
	}
	outputFlag(cmd, &output)
	return cmd
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show catalog, index and configuration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			a, cleanup, err := openApp(flags)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := a.Status(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
	outputFlag(cmd, &output)
	return cmd
}

func newDocumentsCmd(flags *rootFlags) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := openApp(flags)
			if err != nil {
				return err
			}
			defer cleanup()

			docs, err := a.Documents(cmd.Context(), offset, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintln(out, "No documents ingested.")
				return nil
			}
			for _, d := range docs {
				fmt.Fprintf(out, "%s  %-40s %4d passages  %s\n", d.ID, d.Source, d.Passages, cli.FormatBytes(d.Bytes))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many documents")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum documents to list")
	return cmd
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(flags.configPath); err == nil && !force {
				return fmt.Errorf("%w: %s already exists (use --force to overwrite)", models.ErrInvalidArgument, flags.configPath)
			}
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			if err := config.Save(flags.configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", flags.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newModelCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect the embedding model",
	}
	var output string
	check := &cobra.Command{
		Use:   "check",
		Short: "Load the embedding model and embed a test string",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			a, cleanup, err := openApp(flags)
			if err != nil {
				return err
			}
			defer cleanup()

			info, err := a.Warmup(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteModelInfo(cmd.OutOrStdout(), info, format)
		},
	}
	outputFlag(check, &output)
	cmd.AddCommand(check)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dalil version %s\n", version)
		},
	}
}
