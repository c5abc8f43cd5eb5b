package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coolbeans/riskscan/pkg/batch"
	"github.com/coolbeans/riskscan/pkg/daterange"
	"github.com/coolbeans/riskscan/pkg/edgar"
	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/output"
	"github.com/coolbeans/riskscan/pkg/scrape"
)

const (
	defaultStartDate = "20060101"
	defaultEndDate   = "20191101"
)

func downloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download filings from SEC EDGAR",
		Long: `Download the filings of one or more entities dated inside a range.

Filings are written to <output>/<ENTITY>/<YYYYMMDD>.htm and recorded in
<output>/manifest.json. Existing files are kept.

Example:
  riskscan download --entity OXY --entity HES --start 20150101 --end 20191101
  riskscan download --tickers sectors/Energy.txt --kind 10-Q`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tickerFile, _ := cmd.Flags().GetString("tickers")
			identifiers, _ := cmd.Flags().GetStringSlice("entity")
			kindName, _ := cmd.Flags().GetString("kind")
			startValue, _ := cmd.Flags().GetString("start")
			endValue, _ := cmd.Flags().GetString("end")
			outputRoot, _ := cmd.Flags().GetString("output")

			if outputRoot == "" {
				outputRoot = settings.OutputRoot
			}
			if kindName == "" {
				kindName = settings.Extraction.Kind
			}

			entities, err := entityList(tickerFile, identifiers)
			if err != nil {
				return err
			}
			report, err := download(cmd, entities, kindName, startValue, endValue, outputRoot)
			if report != nil {
				printAcquisition(report)
			}
			return err
		},
	}

	cmd.Flags().StringP("tickers", "t", "", "File with one ticker per line")
	cmd.Flags().StringSliceP("entity", "e", []string{}, "Ticker or CIK to download (repeatable)")
	cmd.Flags().StringP("kind", "k", "", "Document kind: annual/10-K or quarterly/10-Q")
	cmd.Flags().String("start", defaultStartDate, "Oldest filing date (YYYYMMDD)")
	cmd.Flags().String("end", defaultEndDate, "Newest filing date (YYYYMMDD)")
	cmd.Flags().StringP("output", "o", "", "Output root (default from config)")

	return cmd
}

func download(cmd *cobra.Command, entities filing.EntityList, kindName, startValue, endValue, outputRoot string) (*edgar.AcquisitionReport, error) {
	kind, err := filing.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	start, err := parseDate("start", startValue)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("end", endValue)
	if err != nil {
		return nil, err
	}

	acquirer, err := newAcquirer()
	if err != nil {
		return nil, err
	}

	fmt.Printf("Downloading %s filings of %d entities into %s\n", kind.FormType(), entities.Len(), outputRoot)
	return acquirer.Acquire(cmd.Context(), entities, kind, start, end, outputRoot)
}

func printAcquisition(report *edgar.AcquisitionReport) {
	fmt.Println()
	fmt.Printf("  %-12s %-9s %7s %9s %11s %9s %7s\n", "ENTITY", "STATUS", "LISTED", "SELECTED", "DOWNLOADED", "EXISTING", "FAILED")
	for _, entity := range report.Entities {
		fmt.Printf("  %-12s %-9s %7d %9d %11d %9d %7d\n",
			entity.EntityID, entity.Status, entity.Listed, entity.Selected,
			entity.Downloaded, entity.Existing, entity.Failed)
		if entity.Reason != "" {
			fmt.Printf("    %s\n", entity.Reason)
		}
	}
	fmt.Printf("\nDownloaded %d new filings, %d available\n", report.Downloaded(), len(report.Filings()))
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <document>",
		Short: "Extract a section from one filing",
		Long: `Extract a section from one downloaded filing and print it.

The entity is taken from --entity or, for files laid out as
<root>/<ENTITY>/<YYYYMMDD>.htm, from the parent directory. With --write the
text is committed next to the document as <YYYYMMDD>.txt.

Example:
  riskscan extract data/Energy/OXY/20190221.htm
  riskscan extract report.htm --entity TMO --kind 10-Q --end "Item 2"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, _ := cmd.Flags().GetString("entity")
			kindName, _ := cmd.Flags().GetString("kind")
			startLabel, _ := cmd.Flags().GetString("start")
			endLabel, _ := cmd.Flags().GetString("end")
			write, _ := cmd.Flags().GetBool("write")
			showStats, _ := cmd.Flags().GetBool("stats")

			if kindName == "" {
				kindName = settings.Extraction.Kind
			}
			if startLabel == "" {
				startLabel = settings.Extraction.Start
			}
			if endLabel == "" {
				endLabel = settings.Extraction.End
			}
			kind, err := filing.ParseKind(kindName)
			if err != nil {
				return err
			}

			path := args[0]
			target, layoutErr := filing.FromDocumentPath(path, kind)
			if entityID == "" && layoutErr == nil {
				entityID = target.EntityID
			}
			if write && layoutErr != nil {
				return fmt.Errorf("--write needs a <ENTITY>/<YYYYMMDD>.htm path: %w", layoutErr)
			}

			request, err := scrape.NewRequest(startLabel, endLabel, kind, entityID)
			if err != nil {
				return err
			}
			engine, err := newEngine()
			if err != nil {
				return err
			}
			document, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read document: %w", err)
			}

			var sink scrape.Sink
			if write {
				store, err := output.NewDirectoryStore(filepath.Dir(filepath.Dir(path)))
				if err != nil {
					return err
				}
				sink = store
			}

			started := time.Now()
			result, err := engine.Run(cmd.Context(), document, target, request, sink)
			if err != nil {
				return err
			}

			if showStats || !result.Matched() {
				fmt.Fprintf(os.Stderr, "Outcome: %s | Rule: %d (%s) | Length: %d | Candidates: %d | Time: %v\n",
					result.Outcome, result.RuleIndex, result.RuleID, result.Length, result.Candidates,
					time.Since(started).Round(time.Millisecond))
			}
			if !result.Matched() {
				return fmt.Errorf("no %s to %s section found in %s", request.Start, request.End, path)
			}
			if write {
				fmt.Printf("Wrote %s\n", target.SectionPath(filepath.Dir(filepath.Dir(path))))
				return nil
			}
			fmt.Println(result.Text)
			return nil
		},
	}

	cmd.Flags().String("entity", "", "Entity identifier for entity-specific rules")
	cmd.Flags().StringP("kind", "k", "", "Document kind: annual/10-K or quarterly/10-Q")
	cmd.Flags().String("start", "", "Start section label (default from config)")
	cmd.Flags().String("end", "", "End section label (default from config)")
	cmd.Flags().BoolP("write", "w", false, "Write the section next to the document instead of printing it")
	cmd.Flags().Bool("stats", false, "Print the matching rule and length to stderr")

	return cmd
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <root>",
		Short: "Extract sections from every filing under a directory",
		Long: `Extract the configured section from every <root>/<ENTITY>/<YYYYMMDD>.htm.

Matched sections are written as <YYYYMMDD>.txt next to the documents (or
under --output). Documents without a section are listed in
<root>_failed.txt.

Example:
  riskscan batch data/Energy --workers 8
  riskscan batch data/Energy --entity OXY --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runConfig, err := batchConfigFromFlags(cmd)
			if err != nil {
				return err
			}
			return runBatch(cmd, args[0], runConfig)
		},
	}

	addBatchFlags(cmd)
	cmd.Flags().StringSlice("entity", []string{}, "Limit the run to these entities (repeatable)")
	cmd.Flags().Bool("remove-source", false, "Remove each document once its section is written")

	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <ticker-file>",
		Short: "Download and extract the filings of a sector",
		Long: `Download the filings of every ticker in a sector file and extract them.

For sectors/Energy.txt filings go to <output>/Energy, documents are removed
once their section is extracted, and failures are listed in
<output>/Energy_failed.txt.

Example:
  riskscan run sectors/Energy.txt
  riskscan run sectors/Health.txt --kind 10-Q --end "Item 2" --keep-source`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startValue, _ := cmd.Flags().GetString("start-date")
			endValue, _ := cmd.Flags().GetString("end-date")
			outputRoot, _ := cmd.Flags().GetString("output")
			keepSource, _ := cmd.Flags().GetBool("keep-source")

			if outputRoot == "" {
				outputRoot = settings.OutputRoot
			}
			root := filepath.Join(outputRoot, sectorName(args[0]))

			entities, err := filing.LoadEntityList(args[0])
			if err != nil {
				return err
			}
			runConfig, err := batchConfigFromFlags(cmd)
			if err != nil {
				return err
			}
			runConfig.RemoveSource = !keepSource
			runConfig.Entities = entities.IDs()

			acquisition, err := download(cmd, entities, string(runConfig.Kind), startValue, endValue, root)
			if acquisition != nil {
				printAcquisition(acquisition)
			}
			if err != nil {
				return err
			}
			return runBatch(cmd, root, runConfig)
		},
	}

	addBatchFlags(cmd)
	cmd.Flags().String("start-date", defaultStartDate, "Oldest filing date (YYYYMMDD)")
	cmd.Flags().String("end-date", defaultEndDate, "Newest filing date (YYYYMMDD)")
	cmd.Flags().StringP("output", "o", "", "Output root (default from config)")
	cmd.Flags().Bool("keep-source", false, "Keep documents after their section is extracted")

	return cmd
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("kind", "k", "", "Document kind: annual/10-K or quarterly/10-Q")
	cmd.Flags().String("start", "", "Start section label (default from config)")
	cmd.Flags().String("end", "", "End section label (default from config)")
	cmd.Flags().Int("workers", 0, "Concurrent extractions (default from config)")
	cmd.Flags().Duration("time-budget", 0, "Time budget per document (default from config)")
	cmd.Flags().Bool("skip-existing", false, "Skip documents whose section is already extracted")
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	cmd.Flags().Bool("all", false, "List every filing in the report, not only failures")
}

func batchConfigFromFlags(cmd *cobra.Command) (batch.Config, error) {
	adjusted := settings
	if kindName, _ := cmd.Flags().GetString("kind"); kindName != "" {
		adjusted.Extraction.Kind = kindName
	}
	if startLabel, _ := cmd.Flags().GetString("start"); startLabel != "" {
		adjusted.Extraction.Start = startLabel
	}
	if endLabel, _ := cmd.Flags().GetString("end"); endLabel != "" {
		adjusted.Extraction.End = endLabel
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		adjusted.Extraction.Workers = workers
	}
	if budget, _ := cmd.Flags().GetDuration("time-budget"); budget > 0 {
		adjusted.Extraction.TimeBudget = budget
	}

	runConfig, err := adjusted.BatchConfig()
	if err != nil {
		return batch.Config{}, err
	}
	runConfig.SkipExisting, _ = cmd.Flags().GetBool("skip-existing")
	if cmd.Flags().Lookup("entity") != nil {
		runConfig.Entities, _ = cmd.Flags().GetStringSlice("entity")
	}
	if cmd.Flags().Lookup("remove-source") != nil {
		removeSource, _ := cmd.Flags().GetBool("remove-source")
		runConfig.RemoveSource = runConfig.RemoveSource || removeSource
	}
	return runConfig, nil
}

func runBatch(cmd *cobra.Command, root string, runConfig batch.Config) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	listAll, _ := cmd.Flags().GetBool("all")

	engine, err := newEngine()
	if err != nil {
		return err
	}
	repository, closeRepository, err := openRepository(cmd.Context())
	if err != nil {
		return err
	}
	defer closeRepository()

	report, runErr := batch.NewRunner(engine, repository, runConfig).Run(cmd.Context(), root)
	if report == nil {
		return runErr
	}

	failedPath := batch.FailedListPath(root)
	if err := batch.WriteFailedList(report, failedPath); err != nil {
		return err
	}

	if asJSON {
		fmt.Println(batch.FormatReportJSON(report, stdoutIsTerminal()))
	} else {
		fmt.Print(batch.FormatReport(report, listAll))
		fmt.Printf("\nFailed documents listed in %s\n", failedPath)
	}
	return runErr
}

func selectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select <YYYYMMDD>...",
		Short: "Show which filing dates fall inside a range",
		Long: `Sort the given filing dates newest first and print the interval of
positions whose dates fall inside [--start, --end], bounds included.

Example:
  riskscan select 20190221 20180222 20170223 --start 20170101 --end 20181231`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startValue, _ := cmd.Flags().GetString("start")
			endValue, _ := cmd.Flags().GetString("end")

			start, err := parseDate("start", startValue)
			if err != nil {
				return err
			}
			end, err := parseDate("end", endValue)
			if err != nil {
				return err
			}

			index := make(daterange.Index, 0, len(args))
			for _, value := range args {
				date, err := time.Parse(filing.DateLayout, value)
				if err != nil {
					return fmt.Errorf("filing date %q must be YYYYMMDD: %w", value, err)
				}
				index = append(index, date)
			}
			index.SortDescending()

			interval, err := index.Select(start, end)
			if err != nil {
				return err
			}

			fmt.Printf("Interval: [%d, %d] (%d filings)\n", interval.Start, interval.End, interval.Len())
			selected := make([]string, 0, interval.Len())
			for position := interval.Start; position <= interval.End; position++ {
				selected = append(selected, index[position].Format(filing.DateLayout))
			}
			if len(selected) > 0 {
				fmt.Printf("Selected: %s\n", strings.Join(selected, ", "))
			}
			return nil
		},
	}

	cmd.Flags().String("start", defaultStartDate, "Oldest date to include (YYYYMMDD)")
	cmd.Flags().String("end", defaultEndDate, "Newest date to include (YYYYMMDD)")

	return cmd
}
