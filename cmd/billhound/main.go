// -----------------------------------------------------------------------
// Billhound - Invoice PDF acquisition from the business portal
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/common"
	"github.com/billhound/billhound/internal/pipeline"
	"github.com/billhound/billhound/internal/query"
)

var (
	// Command-line flags
	configFile   = flag.String("config", "", "Configuration file path")
	configFileC  = flag.String("c", "", "Configuration file path (shorthand)")
	downloadDir  = flag.String("download-dir", "", "Download directory (overrides config)")
	storePath    = flag.String("db", "", "Invoice database path (overrides config)")
	useBrowser   = flag.Bool("browser", false, "Download via the browser instead of direct HTTP")
	showWindow   = flag.Bool("show-window", false, "Run with a visible browser window")
	queryTerm    = flag.String("query", "", "List stored invoices matching the term and exit")
	queryTermQ   = flag.String("q", "", "List stored invoices matching the term (shorthand)")
	listAll      = flag.Bool("list", false, "List all stored invoices and exit")
	sumMode      = flag.Bool("sum", false, "Print the amount total for -query matches and exit")
	schedule     = flag.Bool("schedule", false, "Run unattended on the configured cron schedule")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Billhound version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence: load config, apply CLI overrides, init logger,
	// print banner. Query modes skip the banner; their output is the data.

	path := *configFile
	if path == "" {
		path = *configFileC
	}
	if path == "" {
		if _, err := os.Stat("billhound.toml"); err == nil {
			path = "billhound.toml"
		}
	}

	config, err := common.LoadFromFile(path)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *downloadDir, *storePath, *useBrowser, *showWindow)

	term := *queryTerm
	if term == "" {
		term = *queryTermQ
	}
	if term != "" || *listAll || *sumMode {
		if err := query.Run(context.Background(), config.Storage.Path, term, *sumMode); err != nil {
			fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := common.InitLogger(config)
	common.PrintBanner()

	logger.Info().
		Str("download_dir", config.Download.Dir).
		Str("db_path", config.Storage.Path).
		Bool("direct_http", config.Download.UseDirectHTTP).
		Msg("Configuration loaded")

	if config.Account.Identifier == "" || config.Account.Secret == "" {
		logger.Fatal().Msg("Credentials missing: set BILLHOUND_USER and BILLHOUND_PASSWORD")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(config, logger, nil)

	if *schedule {
		if err := pipeline.NewScheduler(p, config.Schedule.Cron, logger).Start(ctx); err != nil {
			logger.Fatal().Err(err).Str("cron", config.Schedule.Cron).Msg("Scheduler failed to start")
			os.Exit(1)
		}
		return
	}

	result, err := p.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Str("run_id", result.RunID).Msg("Acquisition run failed")
		os.Exit(1)
	}
	fmt.Printf("Done: %d collected, %d downloaded, %d skipped (%s)\n",
		result.Collected, result.Processed, result.Skipped, result.Duration.Round(time.Millisecond))
}
