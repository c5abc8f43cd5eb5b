// Package scrape locates one section of a filing by running the boundary
// rule cascade over the normalized document.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/markup"
	"github.com/coolbeans/riskscan/pkg/rules"
	"github.com/coolbeans/riskscan/pkg/section"
)

// Outcome is the result class of one extraction.
type Outcome string

const (
	// OutcomeMatched means a candidate passed the acceptance policy.
	OutcomeMatched Outcome = "matched"

	// OutcomeNoMatch means the cascade ended without an acceptable candidate.
	OutcomeNoMatch Outcome = "no_match"
)

// ErrInvalidOptions is returned for inconsistent length thresholds.
var ErrInvalidOptions = errors.New("invalid extraction options")

// Options holds the acceptance thresholds of the cascade. Lengths count
// characters of the extracted plain text.
type Options struct {
	// MinAcceptLength stops the cascade at the first candidate at least
	// this long.
	MinAcceptLength int `json:"min_accept_length" yaml:"min_accept_length"`

	// MinimumLength is the floor below which the final candidate is
	// reported as no match.
	MinimumLength int `json:"minimum_length" yaml:"minimum_length"`
}

// DefaultOptions returns the thresholds tuned on historical filings.
func DefaultOptions() Options {
	return Options{
		MinAcceptLength: 1000,
		MinimumLength:   20,
	}
}

// Validate checks the thresholds are positive and ordered.
func (o Options) Validate() error {
	if o.MinAcceptLength <= 0 || o.MinimumLength <= 0 {
		return fmt.Errorf("%w: thresholds must be positive (accept %d, floor %d)",
			ErrInvalidOptions, o.MinAcceptLength, o.MinimumLength)
	}
	if o.MinimumLength > o.MinAcceptLength {
		return fmt.Errorf("%w: floor %d is above the accept length %d",
			ErrInvalidOptions, o.MinimumLength, o.MinAcceptLength)
	}
	return nil
}

// Request names the section to extract and the filing it comes from.
type Request struct {
	Start    section.Label
	End      section.Label
	Kind     filing.Kind
	EntityID string
}

// NewRequest parses free-text labels such as "Item 1A" into a Request.
func NewRequest(startLabel, endLabel string, kind filing.Kind, entityID string) (Request, error) {
	start, err := section.ParseLabel(startLabel)
	if err != nil {
		return Request{}, fmt.Errorf("start label: %w", err)
	}
	end, err := section.ParseLabel(endLabel)
	if err != nil {
		return Request{}, fmt.Errorf("end label: %w", err)
	}

	request := Request{Start: start, End: end, Kind: kind, EntityID: strings.ToUpper(strings.TrimSpace(entityID))}
	if err := request.Validate(); err != nil {
		return Request{}, err
	}
	return request, nil
}

// Validate checks the labels were parsed and the kind and entity are known.
func (r Request) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: both start and end labels are required", section.ErrUnrecognizedSection)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", filing.ErrUnknownKind, r.Kind)
	}
	if r.EntityID != "" {
		if err := filing.ValidateEntityID(r.EntityID); err != nil {
			return err
		}
	}
	return nil
}

// Result is the outcome of one extraction. For a match, RuleIndex is the
// position of the winning rule in the active cascade.
type Result struct {
	Outcome    Outcome `json:"outcome"`
	Text       string  `json:"-"`
	Length     int     `json:"length"`
	RuleIndex  int     `json:"rule_index"`
	RuleID     string  `json:"rule_id,omitempty"`
	Candidates int     `json:"candidates"`
}

// Matched reports whether the result carries accepted text.
func (r Result) Matched() bool {
	return r.Outcome == OutcomeMatched
}

func noMatch(candidates int) Result {
	return Result{Outcome: OutcomeNoMatch, RuleIndex: -1, Candidates: candidates}
}

// Engine runs the cascade. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	rules   *rules.RuleSet
	options Options
}

// NewEngine creates an engine over a rule set snapshot.
func NewEngine(ruleSet *rules.RuleSet, options Options) (*Engine, error) {
	if ruleSet == nil {
		return nil, fmt.Errorf("rule set cannot be nil")
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return &Engine{rules: ruleSet, options: options}, nil
}

// Options returns the engine's thresholds.
func (e *Engine) Options() Options {
	return e.options
}

// Extract runs the cascade over document. NoMatch is a normal result; an
// error means the request itself is invalid.
func (e *Engine) Extract(document []byte, request Request) (Result, error) {
	return e.ExtractContext(context.Background(), document, request)
}

// ExtractContext is Extract that gives up between rules once ctx is done.
func (e *Engine) ExtractContext(ctx context.Context, document []byte, request Request) (Result, error) {
	if err := request.Validate(); err != nil {
		return Result{}, err
	}

	cascade, err := e.rules.Bind(request.Kind, request.EntityID, request.Start, request.End)
	if err != nil {
		return Result{}, fmt.Errorf("failed to bind rules for %s-%s: %w", request.Start, request.End, err)
	}

	surfaces := newSurfaces(document)
	best := noMatch(0)

	for index, rule := range cascade {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		limit := 1
		if rule.Rule.AllMatches {
			limit = -1
		}

		for _, span := range rule.FindAllSpans(surfaces.input(rule.Rule.Surface), limit) {
			text := candidateText(rule.Rule.Surface, span)
			length := utf8.RuneCountInString(text)

			best = Result{
				Outcome:    OutcomeMatched,
				Text:       text,
				Length:     length,
				RuleIndex:  index,
				RuleID:     rule.Rule.ID,
				Candidates: best.Candidates + 1,
			}

			if length >= e.options.MinAcceptLength {
				log.Debug().Str("entity", request.EntityID).Str("rule", rule.Rule.ID).
					Int("index", index).Int("length", length).Msg("candidate accepted")
				return best, nil
			}
			log.Debug().Str("entity", request.EntityID).Str("rule", rule.Rule.ID).
				Int("index", index).Int("length", length).Msg("short candidate kept, continuing cascade")
		}
	}

	if best.Candidates == 0 || best.Length < e.options.MinimumLength {
		return noMatch(best.Candidates), nil
	}
	return best, nil
}

// surfaces computes each form of the document at most once per call.
type surfaces struct {
	normalized []byte
	plain      []byte
}

func newSurfaces(document []byte) *surfaces {
	return &surfaces{normalized: markup.Normalize(document)}
}

func (s *surfaces) input(surface rules.Surface) []byte {
	if surface != rules.SurfaceText {
		return s.normalized
	}
	if s.plain == nil {
		s.plain = []byte(markup.PlainText(s.normalized))
	}
	return s.plain
}

func candidateText(surface rules.Surface, span []byte) string {
	if surface == rules.SurfaceMarkup {
		return markup.PlainText(span)
	}
	return strings.TrimSpace(string(span))
}
