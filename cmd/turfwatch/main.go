package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/TurfWatch/internal/collect"
	"github.com/TobiSchelling/TurfWatch/internal/config"
	"github.com/TobiSchelling/TurfWatch/internal/database"
	"github.com/TobiSchelling/TurfWatch/internal/export"
	"github.com/TobiSchelling/TurfWatch/internal/llm"
	"github.com/TobiSchelling/TurfWatch/internal/pipeline"
	"github.com/TobiSchelling/TurfWatch/internal/schedule"
	"github.com/TobiSchelling/TurfWatch/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "turfwatch",
	Short:   "Lawn problem reports from Reddit, diagnosed",
	Long:    "TurfWatch collects lawn problem posts from Reddit, scores them against a category table, and asks a language model for a structured diagnosis.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFlags(log.LstdFlags)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			if verbose {
				log.SetFlags(log.LstdFlags | log.Lshortfile)
			}
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if verbose || strings.EqualFold(cfg.Logging.Level, "DEBUG") {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(termsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("turfwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/turfwatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure communities, categories, and the diagnosis provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus and run status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Reports:")
		fmt.Printf("  Total collected: %d\n", stats.TotalReports)
		fmt.Printf("  With images: %d\n", stats.ReportsWithImages)
		if stats.TotalReports > 0 {
			fmt.Printf("  Newest post: %s\n", database.FormatUnix(stats.Watermark))
		}
		fmt.Println("\nReplies:")
		fmt.Printf("  Total: %d\n", stats.TotalReplies)
		fmt.Printf("  Solutions: %d\n", stats.SolutionReplies)
		fmt.Printf("  Diagnostic: %d\n", stats.DiagnosticReplies)
		fmt.Println("\nDiagnoses:")
		fmt.Printf("  Stored: %d\n", stats.Diagnoses)
		fmt.Printf("  Pending: %d\n", stats.Undiagnosed)
		fmt.Println("\nWatch Terms:")
		fmt.Printf("  Total: %d\n", stats.TotalTerms)
		fmt.Printf("  Active: %d\n", stats.ActiveTerms)

		runs, err := db.GetRecentRuns(5)
		if err != nil {
			return fmt.Errorf("getting runs: %w", err)
		}
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			for _, r := range runs {
				state := "running"
				if r.FinishedAt != nil {
					state = fmt.Sprintf("found %d, created %d, updated %d, skipped %d, errors %d",
						r.Found, r.Created, r.Updated, r.Skipped, r.Errors)
				}
				fmt.Printf("  %s  %-8s %-11s %s\n", r.StartedAt, r.Kind, r.Mode, state)
			}
		}
		return nil
	},
}

// --- collect command ---

var fullCollect bool

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect new lawn problem reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		src, err := pipeline.NewSource(ctx, cfg)
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Println("Collecting reports...")
		step := pipeline.New(cfg, db, src, nil).Collect(ctx, collectMode())
		return printStep(step)
	},
}

func init() {
	collectCmd.Flags().BoolVar(&fullCollect, "full", false, "Ignore the watermark and collect everything not yet stored")
}

func collectMode() collect.Mode {
	if fullCollect {
		return collect.ModeFull
	}
	return collect.ModeIncremental
}

// --- analyze command ---

var (
	dryRun       bool
	analyzeLimit int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Diagnose undiagnosed reports with the configured model",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		provider, err := providerFor(dryRun)
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		step := pipeline.New(cfg, db, nil, provider).Analyze(ctx, dryRun, analyzeLimit)
		return printStep(step)
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the prompts without calling the model or writing")
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 0, "Maximum reports to analyze (default: analysis.select_limit)")
}

// --- discover command ---

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Ask the model for root causes missing from the category table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		provider, err := providerFor(dryRun)
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		step := pipeline.New(cfg, db, nil, provider).Discover(ctx, dryRun)
		return printStep(step)
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the prompt without calling the model or writing")
}

// --- export command ---

var exportPath string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write diagnosed reports to a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		path := exportPath
		if path == "" {
			path = filepath.Join(cfg.GetDataDir(), export.DefaultFile)
		}
		n, err := export.ToFile(db, path)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d diagnosed reports to %s\n", n, path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "CSV file to write (default: <data dir>/"+export.DefaultFile+")")
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect -> analyze",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		var (
			src      collect.Source
			provider llm.Provider
			err      error
		)
		if !dryRun {
			if src, err = pipeline.NewSource(ctx, cfg); err != nil {
				return err
			}
			if provider, err = llm.CreateProvider(cfg.Analysis); err != nil {
				return err
			}
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db, src, provider)
		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun()
		} else {
			result = pipe.Run(ctx, collectMode())
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/2: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if !dryRun {
			fmt.Println("\nPipeline complete! Run 'turfwatch serve' to browse the diagnoses.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().BoolVar(&fullCollect, "full", false, "Ignore the watermark and collect everything not yet stored")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if !cmd.Flags().Changed("port") && cfg.Server.Port > 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- daemon command ---

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Collect and analyze on the configured cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		src, err := pipeline.NewSource(ctx, cfg)
		if err != nil {
			return err
		}
		provider, err := llm.CreateProvider(cfg.Analysis)
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db, src, provider)
		d := schedule.New()
		if err := d.Add("collect", cfg.Schedule.Collect, func(ctx context.Context) error {
			step := pipe.Collect(ctx, collect.ModeIncremental)
			log.Printf("collect: %s", step.Summary)
			return step.Err
		}); err != nil {
			return err
		}
		if err := d.Add("analyze", cfg.Schedule.Analyze, func(ctx context.Context) error {
			step := pipe.Analyze(ctx, false, 0)
			log.Printf("analyze: %s", step.Summary)
			return step.Err
		}); err != nil {
			return err
		}

		log.Printf("Daemon started (collect %q, analyze %q)", cfg.Schedule.Collect, cfg.Schedule.Analyze)
		d.Run(ctx)
		log.Println("Daemon stopped")
		return nil
	},
}

// --- terms command ---

var termsCmd = &cobra.Command{
	Use:   "terms",
	Short: "Manage watch terms searched in addition to the category keywords",
}

var termsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all watch terms",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.GetAllWatchTerms()
		if err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No watch terms defined. Add one with: turfwatch terms add")
			return nil
		}

		fmt.Println("Watch Terms:")
		fmt.Println()
		for _, t := range items {
			icon := " "
			if t.IsActive {
				icon = "*"
			}
			fmt.Printf("  [%d] %s %s\n", t.ID, icon, t.Term)
			if t.Note != nil && *t.Note != "" {
				note := *t.Note
				if len(note) > 60 {
					note = note[:60] + "..."
				}
				fmt.Printf("        %s\n", note)
			}
		}
		return nil
	},
}

var termsAddCmd = &cobra.Command{
	Use:   "add [term] [note]",
	Short: "Add a new watch term",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		term := strings.TrimSpace(args[0])
		if term == "" {
			return fmt.Errorf("watch term must not be empty")
		}
		var note *string
		if len(args) > 1 && args[1] != "" {
			note = &args[1]
		}

		id, err := db.InsertWatchTerm(term, note)
		if err != nil {
			return err
		}
		fmt.Printf("Added watch term [%d]: %s\n", id, term)
		return nil
	},
}

var termsRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a watch term",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		term, err := lookupTerm(db, args[0])
		if err != nil {
			return err
		}
		if err := db.DeleteWatchTerm(term.ID); err != nil {
			return err
		}
		fmt.Printf("Removed watch term [%d]: %s\n", term.ID, term.Term)
		return nil
	},
}

var termsToggleCmd = &cobra.Command{
	Use:   "toggle [id]",
	Short: "Toggle a watch term's active state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		term, err := lookupTerm(db, args[0])
		if err != nil {
			return err
		}
		if err := db.ToggleWatchTerm(term.ID); err != nil {
			return err
		}
		newState := "paused"
		if !term.IsActive {
			newState = "active"
		}
		fmt.Printf("Watch term [%d] %s: %s\n", term.ID, term.Term, newState)
		return nil
	},
}

func init() {
	termsCmd.AddCommand(termsListCmd)
	termsCmd.AddCommand(termsAddCmd)
	termsCmd.AddCommand(termsRemoveCmd)
	termsCmd.AddCommand(termsToggleCmd)
}

func lookupTerm(db *database.DB, arg string) (*database.WatchTerm, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid watch term ID: %s", arg)
	}
	term, err := db.GetWatchTerm(id)
	if err != nil {
		return nil, err
	}
	if term == nil {
		return nil, fmt.Errorf("watch term %d not found", id)
	}
	return term, nil
}

// providerFor returns the diagnosis provider. Dry runs never call the model,
// so they work without credentials.
func providerFor(dryRun bool) (llm.Provider, error) {
	if dryRun {
		return nil, nil
	}
	return llm.CreateProvider(cfg.Analysis)
}

func printStep(step pipeline.StepResult) error {
	if step.Err != nil {
		if step.Summary != "" {
			fmt.Printf("  %s\n", step.Summary)
		}
		return fmt.Errorf("%s: %w", strings.ToLower(step.Name), step.Err)
	}
	fmt.Printf("%s complete:\n  %s\n", step.Name, step.Summary)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "turfwatch.db")
	return database.Open(dbPath)
}
