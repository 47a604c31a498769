// Package main provides the typeddag CLI and server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"typeddag/internal/api"
	"typeddag/internal/background"
	"typeddag/internal/cfg"
	"typeddag/internal/closure"
	"typeddag/internal/ctxlog"
	"typeddag/internal/db"
	"typeddag/internal/pack"
)

// Version is the current typeddag version
var Version = "0.1.0"

var (
	configPath   string
	dbURL        string
	typeColumns  []string
	rankStrategy string
	debugFlag    bool
	logFormat    string

	listenAddr     string
	verifyInterval time.Duration
	autoRebuild    bool
	jsonFlag       bool
	outPath        string

	// conf is resolved once per invocation in PersistentPreRunE.
	conf *cfg.Config
)

var rootCmd = &cobra.Command{
	Use:               "typeddag",
	Short:             "typeddag - incremental typed closure table",
	Long:              `typeddag keeps a closure table of every path in a typed DAG up to date as direct edges are added and removed.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var linkCmd = &cobra.Command{
	Use:   "link <from> <to> <type>",
	Short: "Create a direct edge and its derived paths",
	Args:  cobra.ExactArgs(3),
	RunE:  runLink,
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <id> | unlink <from> <to> <type>",
	Short: "Delete a direct edge and the paths it supported",
	Long: `Delete a direct edge by id, or the oldest direct edge matching from, to and type.

Examples:
  typeddag unlink 42
  typeddag unlink 1 2 hierarchy`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 && len(args) != 3 {
			return fmt.Errorf("accepts 1 or 3 arg(s), received %d", len(args))
		}
		return nil
	},
	RunE: runUnlink,
}

var pathsCmd = &cobra.Command{
	Use:   "paths <from> <to>",
	Short: "Show path counts per type combination between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE:  runPaths,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare the closure table with a brute-force walk count",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-derive every path record from the direct edges",
	Args:  cobra.NoArgs,
	RunE:  runRebuild,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the direct edges to a compressed pack",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <pack>",
	Short: "Create the edges of a pack in one transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print an order-independent digest of the closure table",
	Args:  cobra.NoArgs,
	RunE:  runFingerprint,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&dbURL, "db", "", "Database URL (SQLite path, postgres:// or mysql://)")
	pf.StringSliceVar(&typeColumns, "types", nil, "Type column names in slot order")
	pf.StringVar(&rankStrategy, "strategy", "", "Rank strategy: window or counter (default: per driver)")
	pf.BoolVar(&debugFlag, "debug", false, "Enable debug logging")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json")

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (default: :7450)")
	serveCmd.Flags().DurationVar(&verifyInterval, "verify-interval", 0, "Check the closure in the background this often (0 disables)")
	serveCmd.Flags().BoolVar(&autoRebuild, "auto-rebuild", false, "Rebuild the closure when a background check finds drift")
	pathsCmd.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")
	exportCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default: stdout)")

	rootCmd.AddCommand(serveCmd, linkCmd, unlinkCmd, pathsCmd, verifyCmd,
		rebuildCmd, exportCmd, importCmd, fingerprintCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers env, config file and flags, then installs the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := cfg.Load(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		c.DBURL = dbURL
	}
	if flags.Changed("types") {
		c.TypeColumns = typeColumns
	}
	if flags.Changed("strategy") {
		c.RankStrategy = rankStrategy
	}
	if flags.Changed("debug") {
		c.Debug = debugFlag
	}
	if flags.Changed("log-format") {
		c.LogFormat = logFormat
	}
	if flags.Changed("listen") {
		c.Listen = listenAddr
	}
	if flags.Changed("verify-interval") {
		c.VerifyInterval = verifyInterval
	}
	if flags.Changed("auto-rebuild") {
		c.AutoRebuild = autoRebuild
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	conf = c

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), c))
	return nil
}

func newLogger(w io.Writer, c *cfg.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if c.Debug {
		opts.Level = slog.LevelDebug
	}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openStore(ctx context.Context, metrics *closure.Metrics) (*db.DB, error) {
	return db.Open(ctx, conf.DBURL, db.Options{
		Schema:       conf.Schema(),
		RankStrategy: conf.RankStrategy,
		Metrics:      metrics,
	})
}

// withStore opens the store for a one-shot command and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *db.DB) error) error {
	ctx := ctxlog.WithLogger(cmd.Context(), slog.Default())
	store, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func parseID(s, what string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return n, nil
}

func printEdge(w io.Writer, verb string, e *closure.Edge) {
	fmt.Fprintf(w, "%s edge %d: %d -> %d [%s]\n", verb, e.ID, e.From, e.To, e.Types.Key())
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	logger.Info("typeddag starting",
		"listen", conf.Listen,
		"db", conf.DBURL,
		"types", strings.Join(conf.TypeColumns, ","),
		"version", conf.Version,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx := ctxlog.WithLogger(cmd.Context(), logger)
	store, err := openStore(ctx, closure.NewMetrics(reg))
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store ready", "driver", store.Driver(), "strategy", store.Strategy())

	if conf.VerifyInterval > 0 {
		verifier := background.NewVerifier(store, conf.VerifyInterval, conf.AutoRebuild, reg)
		verifier.Start(ctx)
		defer verifier.Stop()
		logger.Info("background verification enabled", "interval", conf.VerifyInterval, "auto_rebuild", conf.AutoRebuild)
	}

	srv := &http.Server{
		Addr:         conf.Listen,
		Handler:      api.WithDefaults(api.NewRouter(store, conf, reg), logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Handle graceful shutdown
	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	logger.Info("typeddag listening", "addr", conf.Listen)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("typeddag stopped")
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	from, err := parseID(args[0], "from node")
	if err != nil {
		return err
	}
	to, err := parseID(args[1], "to node")
	if err != nil {
		return err
	}
	return withStore(cmd, func(ctx context.Context, store *db.DB) error {
		e, err := store.CreateEdgeOfType(ctx, from, to, args[2])
		if err != nil {
			return err
		}
		printEdge(cmd.OutOrStdout(), "created", e)
		return nil
	})
}

func runUnlink(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store *db.DB) error {
		var (
			e   *closure.Edge
			err error
		)
		if len(args) == 1 {
			id, perr := parseID(args[0], "edge id")
			if perr != nil {
				return perr
			}
			e, err = store.DeleteEdge(ctx, id)
		} else {
			from, perr := parseID(args[0], "from node")
			if perr != nil {
				return perr
			}
			to, perr := parseID(args[1], "to node")
			if perr != nil {
				return perr
			}
			e, err = store.DeleteEdgeBetween(ctx, from, to, args[2])
		}
		if err != nil {
			return err
		}
		printEdge(cmd.OutOrStdout(), "deleted", e)
		return nil
	})
}

type pathGroup struct {
	Types map[string]int64 `json:"types"`
	Hops  int64            `json:"hops"`
	Count int64            `json:"count"`
}

func runPaths(cmd *cobra.Command, args []string) error {
	from, err := parseID(args[0], "from node")
	if err != nil {
		return err
	}
	to, err := parseID(args[1], "to node")
	if err != nil {
		return err
	}
	return withStore(cmd, func(ctx context.Context, store *db.DB) error {
		comps, err := store.Compositions(ctx, from, to)
		if err != nil {
			return err
		}
		cols := store.Schema().TypeColumns
		out := cmd.OutOrStdout()

		if jsonFlag {
			groups := make([]pathGroup, 0, len(comps))
			for _, c := range comps {
				g := pathGroup{Types: make(map[string]int64, len(cols)), Hops: c.Types.Sum(), Count: c.Count}
				for i, col := range cols {
					g.Types[col] = c.Types[i]
				}
				groups = append(groups, g)
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(groups)
		}

		if len(comps) == 0 {
			fmt.Fprintf(out, "%d does not reach %d\n", from, to)
			return nil
		}
		for _, col := range cols {
			fmt.Fprintf(out, "%-12s", strings.ToUpper(col))
		}
		fmt.Fprintln(out, "PATHS")
		for _, c := range comps {
			for _, n := range c.Types {
				fmt.Fprintf(out, "%-12d", n)
			}
			fmt.Fprintln(out, c.Count)
		}
		return nil
	})
}

func runVerify(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store *db.DB) error {
		report, err := store.Verify(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "direct edges: %d, groups: %d, rows: %d\n", report.DirectEdges, report.Groups, report.Rows)
		if report.OK() {
			fmt.Fprintln(out, "closure is consistent")
			return nil
		}
		for _, m := range report.Mismatches {
			fmt.Fprintf(out, "  %d -> %d [%s]: expected %d, found %d\n", m.From, m.To, m.Types.Key(), m.Expected, m.Actual)
		}
		return fmt.Errorf("%d path groups are inconsistent; run 'typeddag rebuild'", len(report.Mismatches))
	})
}

func runRebuild(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store *db.DB) error {
		stats, err := store.Rebuild(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d rows from %d direct edges\n", stats.Rows, stats.DirectEdges)
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store *db.DB) error {
		w := cmd.OutOrStdout()
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("creating %s: %w", outPath, err)
			}
			defer f.Close()
			w = f
		}
		header, err := pack.Export(ctx, store, w)
		if err != nil {
			return err
		}
		if outPath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d edges to %s (pack %s)\n", header.Count, outPath, header.PackID)
		}
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening pack: %w", err)
	}
	defer f.Close()

	return withStore(cmd, func(ctx context.Context, store *db.DB) error {
		header, created, err := pack.Import(ctx, store, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d edges from pack %s\n", len(created), header.PackID)
		return nil
	})
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store *db.DB) error {
		fp, err := store.Fingerprint(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), fp)
		return nil
	})
}
