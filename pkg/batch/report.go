package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/pretty"

	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/scrape"
)

// Entry records the outcome of a single filing.
type Entry struct {
	FilingID      string         `json:"filing_id"`
	EntityID      string         `json:"entity_id"`
	Date          time.Time      `json:"date"`
	Path          string         `json:"path"`
	Outcome       scrape.Outcome `json:"outcome"`
	RuleIndex     int            `json:"rule_index"`
	RuleID        string         `json:"rule_id,omitempty"`
	Length        int            `json:"length,omitempty"`
	OutputPath    string         `json:"output_path,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Error         bool           `json:"error,omitempty"`
	Skipped       bool           `json:"skipped,omitempty"`
	SourceRemoved bool           `json:"source_removed,omitempty"`
	Duration      time.Duration  `json:"duration_ns"`
}

// EntitySummary counts outcomes for one entity.
type EntitySummary struct {
	EntityID string `json:"entity_id"`
	Matched  int    `json:"matched"`
	NoMatch  int    `json:"no_match"`
	Skipped  int    `json:"skipped"`
}

// Report aggregates the outcomes of a batch run.
type Report struct {
	RunID      uuid.UUID       `json:"run_id"`
	Root       string          `json:"root"`
	Kind       filing.Kind     `json:"kind"`
	Start      string          `json:"start"`
	End        string          `json:"end"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Total      int             `json:"total"`
	Matched    int             `json:"matched"`
	NoMatch    int             `json:"no_match"`
	Skipped    int             `json:"skipped"`
	Errors     int             `json:"errors"`
	Entities   []EntitySummary `json:"entities"`
	Entries    []Entry         `json:"entries"`
}

func newReport(runID uuid.UUID, root string, config Config) *Report {
	return &Report{
		RunID:     runID,
		Root:      root,
		Kind:      config.Kind,
		Start:     config.Start.String(),
		End:       config.End.String(),
		StartedAt: time.Now(),
	}
}

func (r *Report) add(entry Entry) {
	r.Total++
	r.Entries = append(r.Entries, entry)

	switch {
	case entry.Skipped:
		r.Skipped++
	case entry.Outcome == scrape.OutcomeMatched:
		r.Matched++
	default:
		r.NoMatch++
	}
	if entry.Error {
		r.Errors++
	}
}

func (r *Report) finish() {
	r.FinishedAt = time.Now()

	sort.Slice(r.Entries, func(left, right int) bool {
		return r.Entries[left].FilingID < r.Entries[right].FilingID
	})

	summaries := make(map[string]*EntitySummary)
	var order []string
	for _, entry := range r.Entries {
		summary, ok := summaries[entry.EntityID]
		if !ok {
			summary = &EntitySummary{EntityID: entry.EntityID}
			summaries[entry.EntityID] = summary
			order = append(order, entry.EntityID)
		}
		switch {
		case entry.Skipped:
			summary.Skipped++
		case entry.Outcome == scrape.OutcomeMatched:
			summary.Matched++
		default:
			summary.NoMatch++
		}
	}

	r.Entities = make([]EntitySummary, 0, len(order))
	for _, entityID := range order {
		r.Entities = append(r.Entities, *summaries[entityID])
	}
}

// Failed returns the entries without accepted text, skipped ones excluded.
func (r *Report) Failed() []Entry {
	var failed []Entry
	for _, entry := range r.Entries {
		if !entry.Skipped && entry.Outcome != scrape.OutcomeMatched {
			failed = append(failed, entry)
		}
	}
	return failed
}

// FailedListPath returns <parent>/<name>_failed.txt for a root <parent>/<name>.
func FailedListPath(root string) string {
	cleanRoot := filepath.Clean(root)
	return filepath.Join(filepath.Dir(cleanRoot), filepath.Base(cleanRoot)+"_failed.txt")
}

// WriteFailedList writes the document path of every failed entry to path,
// one per line. An empty list still produces the file.
func WriteFailedList(report *Report, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	writer := bufio.NewWriter(file)
	for _, entry := range report.Failed() {
		if _, err := fmt.Fprintln(writer, entry.Path); err != nil {
			file.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// FormatReport formats a Report for terminal output.
func FormatReport(report *Report, verbose bool) string {
	var builder strings.Builder

	builder.WriteString("\nExtraction Report\n")
	builder.WriteString(strings.Repeat("═", 70) + "\n")
	builder.WriteString(fmt.Sprintf("Run: %s\n", report.RunID))
	builder.WriteString(fmt.Sprintf("Root: %s | Kind: %s | Section: %s to %s\n",
		report.Root, report.Kind, report.Start, report.End))
	builder.WriteString(fmt.Sprintf("Filings: %d | Matched: %d | No match: %d | Skipped: %d | Errors: %d\n",
		report.Total, report.Matched, report.NoMatch, report.Skipped, report.Errors))
	if report.Total-report.Skipped > 0 {
		builder.WriteString(fmt.Sprintf("Match rate: %.1f%%\n",
			float64(report.Matched)/float64(report.Total-report.Skipped)*100))
	}
	builder.WriteString(strings.Repeat("─", 70) + "\n")

	builder.WriteString(fmt.Sprintf("  %-12s %8s %9s %8s\n", "ENTITY", "MATCHED", "NO MATCH", "SKIPPED"))
	for _, summary := range report.Entities {
		builder.WriteString(fmt.Sprintf("  %-12s %8d %9d %8d\n",
			summary.EntityID, summary.Matched, summary.NoMatch, summary.Skipped))
	}

	entries := report.Failed()
	if verbose {
		entries = report.Entries
	}
	if len(entries) > 0 {
		builder.WriteString(strings.Repeat("─", 70) + "\n")
	}
	for _, entry := range entries {
		status := "[FAIL]"
		switch {
		case entry.Skipped:
			status = "[SKIP]"
		case entry.Outcome == scrape.OutcomeMatched:
			status = "[OK]"
		}

		line := fmt.Sprintf("  %-8s %-20s", status, entry.FilingID)
		if entry.RuleID != "" {
			line += fmt.Sprintf(" rule %d (%s)", entry.RuleIndex, entry.RuleID)
		}
		if entry.Length > 0 {
			line += fmt.Sprintf(" %d chars", entry.Length)
		}
		if entry.Reason != "" && entry.Outcome != scrape.OutcomeMatched {
			line += fmt.Sprintf(" %s", entry.Reason)
		}
		builder.WriteString(line + "\n")
	}

	return builder.String()
}

// FormatReportJSON formats a Report as indented JSON, colored when color is set.
func FormatReportJSON(report *Report, color bool) string {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}

	formatted := pretty.Pretty(data)
	if color {
		formatted = pretty.Color(formatted, nil)
	}
	return string(formatted)
}
