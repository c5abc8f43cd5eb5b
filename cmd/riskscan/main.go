package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coolbeans/riskscan/pkg/config"
	"github.com/coolbeans/riskscan/pkg/edgar"
	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/outcome"
	"github.com/coolbeans/riskscan/pkg/rules"
	"github.com/coolbeans/riskscan/pkg/scrape"
)

var version = "0.1.0"

// Settings shared by every command, loaded before it runs.
var (
	configPath string
	verbose    bool
	settings   config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "riskscan",
		Short: "Risk factor extraction for SEC periodic reports",
		Long: `Riskscan downloads 10-K and 10-Q filings from SEC EDGAR and extracts
a section, by default Item 1A Risk Factors, into plain text.

Extraction tries an ordered table of boundary rules: generic rules for
common markup conventions first, then overrides for entities whose
filings use a layout of their own.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			settings = loaded
			return setupLogging(settings, verbose)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML); defaults to $"+config.EnvConfig)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(selectCmd())
	rootCmd.AddCommand(rulesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func setupLogging(settings config.Config, verbose bool) error {
	level, err := settings.Level()
	if err != nil {
		return err
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

// newRegistry returns the built-in rules, with the configured rules
// directory loaded on top when set.
func newRegistry(rulesDirectory string) (*rules.DefaultRegistry, error) {
	if rulesDirectory == "" {
		return rules.NewDefaultRegistry()
	}
	return rules.NewRegistryWithDirectory(rulesDirectory)
}

func newEngine() (*scrape.Engine, error) {
	registry, err := newRegistry(settings.Extraction.RulesDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return scrape.NewEngine(registry.Snapshot(), settings.ScrapeOptions())
}

func newAcquirer() (*edgar.Acquirer, error) {
	client, err := edgar.NewClient(settings.ClientConfig())
	if err != nil {
		return nil, err
	}
	return edgar.NewAcquirer(client, settings.NewLister(client)), nil
}

// openRepository connects to the outcome database when a DSN is configured.
// The returned close function is never nil.
func openRepository(ctx context.Context) (outcome.Repository, func(), error) {
	if settings.DatabaseDSN == "" {
		return nil, func() {}, nil
	}

	db, err := outcome.OpenPostgres(ctx, settings.DatabaseDSN)
	if err != nil {
		return nil, func() {}, err
	}
	repository := outcome.NewPostgresRepository(db)
	if err := repository.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, func() {}, err
	}
	return repository, func() { db.Close() }, nil
}

// entityList builds the entity list from a ticker file and/or identifiers.
func entityList(tickerFile string, identifiers []string) (filing.EntityList, error) {
	if tickerFile == "" {
		return filing.NewEntityList(identifiers)
	}
	fromFile, err := filing.LoadEntityList(tickerFile)
	if err != nil {
		return filing.EntityList{}, err
	}
	return filing.NewEntityList(append(fromFile.IDs(), identifiers...))
}

func parseDate(flagName, value string) (time.Time, error) {
	date, err := time.Parse(filing.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYYMMDD: %w", flagName, err)
	}
	return date, nil
}

// sectorName returns the name of a ticker file without its extension, e.g.
// "Energy" for sectors/Energy.txt.
func sectorName(tickerFile string) string {
	base := filepath.Base(tickerFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func stdoutIsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
