// Package batch runs the extraction engine over a directory of downloaded
// filings and aggregates the outcomes into a report.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/outcome"
	"github.com/coolbeans/riskscan/pkg/output"
	"github.com/coolbeans/riskscan/pkg/scrape"
	"github.com/coolbeans/riskscan/pkg/section"
)

// Reasons recorded for filings without accepted text.
const (
	ReasonNoMatch       = "no acceptable candidate"
	ReasonUnavailable   = "document unavailable"
	ReasonTimeBudget    = "time budget exceeded"
	ReasonCancelled     = "run cancelled"
	ReasonAlreadyStored = "section already extracted"
)

// Config holds configuration for a batch run.
type Config struct {
	// Kind is the document kind of every filing under the root.
	Kind filing.Kind

	// Start and End are the section labels to extract.
	Start section.Label
	End   section.Label

	// Workers is the number of filings processed concurrently.
	Workers int

	// TimeBudget bounds the extraction of one document (0 = unbounded).
	TimeBudget time.Duration

	// OutputRoot receives the extracted sections; empty means the input root.
	OutputRoot string

	// RemoveSource deletes a document once its section has been committed.
	RemoveSource bool

	// SkipExisting leaves filings alone whose section file already exists or
	// that the outcome repository records as matched by an earlier run.
	SkipExisting bool

	// Entities limits the run to these entity directories (empty = all).
	Entities []string
}

// DefaultConfig returns the configuration of the annual risk factors run.
func DefaultConfig() Config {
	return Config{
		Kind:       filing.Annual,
		Start:      section.MustParseLabel("Item 1A"),
		End:        section.MustParseLabel("Item 1B"),
		Workers:    runtime.NumCPU(),
		TimeBudget: 2 * time.Minute,
	}
}

// Runner processes every filing under a root directory.
type Runner struct {
	engine     *scrape.Engine
	repository outcome.Repository
	config     Config
}

// NewRunner creates a Runner. repository may be nil.
func NewRunner(engine *scrape.Engine, repository outcome.Repository, config Config) *Runner {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Runner{engine: engine, repository: repository, config: config}
}

// Discover lists the documents laid out as <root>/<ENTITY>/<YYYYMMDD>.htm,
// sorted by filing ID. Files with names that do not follow the layout are
// skipped with a warning.
func Discover(root string, kind filing.Kind, entities []string) ([]filing.Filing, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read input root %s: %w", root, err)
	}

	wanted := make(map[string]bool, len(entities))
	for _, entityID := range entities {
		wanted[strings.ToUpper(entityID)] = true
	}

	var filings []filing.Filing
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if len(wanted) > 0 && !wanted[strings.ToUpper(entry.Name())] {
			continue
		}

		paths, err := filepath.Glob(filepath.Join(root, entry.Name(), "*.htm"))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", entry.Name(), err)
		}
		for _, path := range paths {
			target, err := filing.FromDocumentPath(path, kind)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("skipping file outside the filing layout")
				continue
			}
			filings = append(filings, target)
		}
	}

	sort.Slice(filings, func(left, right int) bool {
		return filings[left].ID() < filings[right].ID()
	})
	return filings, nil
}

// Run extracts the configured section from every filing under root.
// Configuration errors abort the run before any document is read; per
// filing problems are recorded in the report.
func (r *Runner) Run(ctx context.Context, root string) (*Report, error) {
	request := scrape.Request{Start: r.config.Start, End: r.config.End, Kind: r.config.Kind}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	outputRoot := r.config.OutputRoot
	if outputRoot == "" {
		outputRoot = root
	}
	store, err := output.NewDirectoryStore(outputRoot)
	if err != nil {
		return nil, err
	}

	filings, err := Discover(root, r.config.Kind, r.config.Entities)
	if err != nil {
		return nil, err
	}

	alreadyMatched := r.previouslyMatched(ctx, filings)

	report := newReport(uuid.New(), root, r.config)
	log.Info().Str("run", report.RunID.String()).Str("root", root).Int("filings", len(filings)).
		Int("workers", r.config.Workers).Msg("batch started")

	jobs := make(chan filing.Filing)
	entries := make(chan Entry)

	var waitGroup sync.WaitGroup
	for worker := 0; worker < r.config.Workers; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for target := range jobs {
				entries <- r.process(ctx, store, request, target, alreadyMatched[target.ID()])
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, target := range filings {
			select {
			case <-ctx.Done():
				return
			case jobs <- target:
			}
		}
	}()

	go func() {
		waitGroup.Wait()
		close(entries)
	}()

	for entry := range entries {
		report.add(entry)
		r.record(ctx, report.RunID, entry)
	}
	report.finish()

	log.Info().Str("run", report.RunID.String()).Int("matched", report.Matched).
		Int("no_match", report.NoMatch).Int("skipped", report.Skipped).Msg("batch finished")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("batch stopped after %d of %d filings: %w", report.Total, len(filings), err)
	}
	return report, nil
}

// previouslyMatched asks the repository which filings already have a
// matched outcome. It returns nil when that is not needed or not possible.
func (r *Runner) previouslyMatched(ctx context.Context, filings []filing.Filing) map[string]bool {
	if !r.config.SkipExisting || r.repository == nil || len(filings) == 0 {
		return nil
	}

	filingIDs := make([]string, len(filings))
	for position, target := range filings {
		filingIDs[position] = target.ID()
	}
	matched, err := r.repository.Matched(ctx, filingIDs)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read earlier outcomes, relying on section files")
		return nil
	}
	return matched
}

func (r *Runner) process(ctx context.Context, store *output.DirectoryStore, request scrape.Request, target filing.Filing, alreadyMatched bool) (entry Entry) {
	entry = Entry{
		FilingID:  target.ID(),
		EntityID:  target.EntityID,
		Date:      target.Date,
		Path:      target.LocalPath,
		Outcome:   scrape.OutcomeNoMatch,
		RuleIndex: -1,
	}
	started := time.Now()
	defer func() { entry.Duration = time.Since(started) }()

	if r.config.SkipExisting && (alreadyMatched || store.Exists(target)) {
		entry.Skipped = true
		entry.Reason = ReasonAlreadyStored
		return entry
	}

	document, err := os.ReadFile(target.LocalPath)
	if err != nil {
		entry.Reason = fmt.Sprintf("%s: %v", ReasonUnavailable, err)
		return entry
	}

	documentCtx := ctx
	if r.config.TimeBudget > 0 {
		var cancel context.CancelFunc
		documentCtx, cancel = context.WithTimeout(ctx, r.config.TimeBudget)
		defer cancel()
	}

	request.EntityID = target.EntityID
	result, err := r.engine.Run(documentCtx, document, target, request, store)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		entry.Reason = ReasonCancelled
		return entry
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn().Str("filing", target.ID()).Dur("budget", r.config.TimeBudget).Msg("extraction exceeded its time budget")
		entry.Reason = ReasonTimeBudget
		return entry
	default:
		entry.Reason = err.Error()
		entry.Error = true
		return entry
	}

	entry.Outcome = result.Outcome
	entry.RuleIndex = result.RuleIndex
	entry.RuleID = result.RuleID
	entry.Length = result.Length
	if !result.Matched() {
		entry.Reason = ReasonNoMatch
		return entry
	}
	entry.OutputPath = store.PathFor(target)

	if r.config.RemoveSource {
		if err := os.Remove(target.LocalPath); err != nil {
			log.Warn().Err(err).Str("path", target.LocalPath).Msg("failed to remove source document")
		} else {
			entry.SourceRemoved = true
		}
	}
	return entry
}

func (r *Runner) record(ctx context.Context, runID uuid.UUID, entry Entry) {
	if r.repository == nil || entry.Skipped {
		return
	}

	err := r.repository.Save(ctx, outcome.Record{
		RunID:      runID,
		FilingID:   entry.FilingID,
		EntityID:   entry.EntityID,
		FilingDate: entry.Date,
		Kind:       string(r.config.Kind),
		Outcome:    string(entry.Outcome),
		RuleIndex:  entry.RuleIndex,
		RuleID:     entry.RuleID,
		Length:     entry.Length,
		Reason:     entry.Reason,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Str("filing", entry.FilingID).Msg("failed to record outcome")
	}
}
