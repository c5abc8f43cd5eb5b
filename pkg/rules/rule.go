// Package rules provides the ordered, data-driven table of boundary rules the
// extraction cascade tries against a filing.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/section"
)

// Surface names the form of the document a rule is matched against.
type Surface string

const (
	// SurfaceMarkup rules run on the normalized raw markup; the captured
	// span is stripped to plain text afterwards.
	SurfaceMarkup Surface = "markup"

	// SurfaceText rules run on the plain text of the whole normalized document.
	SurfaceText Surface = "text"
)

// SpanGroup is the name of the capture group holding the section content.
const SpanGroup = "span"

// Placeholders filled from the requested labels when a rule is bound.
const (
	placeholderStart       = "{{start}}"
	placeholderEnd         = "{{end}}"
	placeholderStartNumber = "{{start_number}}"
	placeholderEndNumber   = "{{end_number}}"
)

// validationStart and validationEnd bind templated rules during validation.
var (
	validationStart = section.MustParseLabel("Item 1A")
	validationEnd   = section.MustParseLabel("Item 1B")
)

// LabelFilter restricts a rule to requests for particular item numbers.
// Empty fields match any label.
type LabelFilter struct {
	Start string `yaml:"start,omitempty" json:"start,omitempty"`
	End   string `yaml:"end,omitempty" json:"end,omitempty"`
}

// Matches reports whether the filter accepts the label pair.
func (f *LabelFilter) Matches(start, end section.Label) bool {
	if f == nil {
		return true
	}
	if f.Start != "" && !strings.EqualFold(f.Start, start.Number()) {
		return false
	}
	if f.End != "" && !strings.EqualFold(f.End, end.Number()) {
		return false
	}
	return true
}

// BoundaryRule is one hand-authored pattern locating a section between a
// start marker and an end marker.
//
// A rule with no Entities is generic and applies to any entity. Rules are
// tried generic first, then entity-specific, each group in ascending
// Priority.
type BoundaryRule struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// DocumentKind limits the rule to annual or quarterly reports; empty
	// means both.
	DocumentKind filing.Kind `yaml:"document_kind,omitempty" json:"document_kind,omitempty"`

	// Entities lists the entity identifiers the rule overrides for.
	Entities []string `yaml:"entities,omitempty" json:"entities,omitempty"`

	Priority int          `yaml:"priority" json:"priority"`
	Surface  Surface      `yaml:"surface" json:"surface"`
	Labels   *LabelFilter `yaml:"labels,omitempty" json:"labels,omitempty"`

	// Matcher is an RE2 expression with exactly one (?P<span>...) group.
	// It may use {{start}}, {{end}}, {{start_number}} and {{end_number}}.
	Matcher string `yaml:"matcher" json:"matcher"`

	// CaseSensitive disables the default case-insensitive matching.
	CaseSensitive bool `yaml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`

	// AllMatches makes the cascade treat each successive match of this rule
	// as a new candidate instead of only the first one.
	AllMatches bool `yaml:"all_matches,omitempty" json:"all_matches,omitempty"`

	// Source is the file the rule was loaded from, if any.
	Source string `yaml:"-" json:"source,omitempty"`

	// order is the registration sequence, used to break priority ties.
	order int

	// compiled is set for rules without placeholders.
	compiled *regexp.Regexp
}

// Validate checks that the rule has all required fields.
func (r *BoundaryRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.DocumentKind != "" && !r.DocumentKind.Valid() {
		return fmt.Errorf("rule %q: %w: %q", r.ID, filing.ErrUnknownKind, r.DocumentKind)
	}
	if r.Surface != SurfaceMarkup && r.Surface != SurfaceText {
		return fmt.Errorf("rule %q: surface must be %q or %q, got %q", r.ID, SurfaceMarkup, SurfaceText, r.Surface)
	}
	if r.Matcher == "" {
		return fmt.Errorf("rule %q: matcher is required", r.ID)
	}
	for _, entityID := range r.Entities {
		if err := filing.ValidateEntityID(entityID); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}
	if r.Labels != nil {
		for _, number := range []string{r.Labels.Start, r.Labels.End} {
			if number != "" && !section.IsRecognized(strings.ToUpper(number)) {
				return fmt.Errorf("rule %q: %w: %s", r.ID, section.ErrUnrecognizedSection, number)
			}
		}
	}
	return nil
}

// Compile checks the matcher compiles and carries the span group. Rules
// without placeholders keep the compiled expression for reuse.
func (r *BoundaryRule) Compile() error {
	if r.IsTemplate() {
		_, err := r.Bind(validationStart, validationEnd)
		return err
	}

	expression, err := compileMatcher(r.ID, r.Matcher, r.CaseSensitive)
	if err != nil {
		return err
	}
	r.compiled = expression
	return nil
}

// IsCompiled returns true if the rule has been compiled or needs per-label binding.
func (r *BoundaryRule) IsCompiled() bool {
	return r.compiled != nil
}

// IsTemplate reports whether the matcher depends on the requested labels.
func (r *BoundaryRule) IsTemplate() bool {
	return strings.Contains(r.Matcher, "{{")
}

// IsGeneric reports whether the rule applies to every entity.
func (r *BoundaryRule) IsGeneric() bool {
	return len(r.Entities) == 0
}

// AppliesTo reports whether the rule takes part in a cascade for the given
// document kind, entity and label pair.
func (r *BoundaryRule) AppliesTo(kind filing.Kind, entityID string, start, end section.Label) bool {
	if r.DocumentKind != "" && r.DocumentKind != kind {
		return false
	}
	if !r.Labels.Matches(start, end) {
		return false
	}
	if r.IsGeneric() {
		return true
	}
	for _, candidate := range r.Entities {
		if strings.EqualFold(candidate, entityID) {
			return true
		}
	}
	return false
}

// Bind fills the label placeholders and compiles the matcher.
func (r *BoundaryRule) Bind(start, end section.Label) (*BoundRule, error) {
	if r.compiled != nil {
		return newBoundRule(r, r.compiled), nil
	}

	replacer := strings.NewReplacer(
		placeholderStartNumber, regexp.QuoteMeta(start.Number()),
		placeholderEndNumber, regexp.QuoteMeta(end.Number()),
		placeholderStart, regexp.QuoteMeta(start.String()),
		placeholderEnd, regexp.QuoteMeta(end.String()),
	)
	expression, err := compileMatcher(r.ID, replacer.Replace(r.Matcher), r.CaseSensitive)
	if err != nil {
		return nil, err
	}
	return newBoundRule(r, expression), nil
}

func compileMatcher(ruleID string, matcher string, caseSensitive bool) (*regexp.Regexp, error) {
	flags := "(?s)"
	if !caseSensitive {
		flags = "(?is)"
	}

	expression, err := regexp.Compile(flags + matcher)
	if err != nil {
		return nil, fmt.Errorf("compiling rule %q matcher: %w", ruleID, err)
	}

	spanGroups := 0
	for _, name := range expression.SubexpNames() {
		if name == SpanGroup {
			spanGroups++
		}
	}
	if spanGroups != 1 {
		return nil, fmt.Errorf("rule %q matcher must have exactly one (?P<%s>...) group, found %d", ruleID, SpanGroup, spanGroups)
	}
	if strings.Contains(expression.String(), "{{") {
		return nil, fmt.Errorf("rule %q matcher has an unknown placeholder", ruleID)
	}

	return expression, nil
}

// BoundRule is a rule compiled for one label pair. It is immutable and safe
// for concurrent use.
type BoundRule struct {
	Rule       *BoundaryRule
	expression *regexp.Regexp
	spanIndex  int
}

func newBoundRule(rule *BoundaryRule, expression *regexp.Regexp) *BoundRule {
	return &BoundRule{
		Rule:       rule,
		expression: expression,
		spanIndex:  expression.SubexpIndex(SpanGroup),
	}
}

// FindSpan returns the span of the first match in input.
func (b *BoundRule) FindSpan(input []byte) ([]byte, bool) {
	submatch := b.expression.FindSubmatchIndex(input)
	if submatch == nil {
		return nil, false
	}
	return spanOf(input, submatch, b.spanIndex), true
}

// FindAllSpans returns the spans of successive non-overlapping matches, at
// most limit of them (limit < 0 means all).
func (b *BoundRule) FindAllSpans(input []byte, limit int) [][]byte {
	matches := b.expression.FindAllSubmatchIndex(input, limit)
	spans := make([][]byte, 0, len(matches))
	for _, submatch := range matches {
		spans = append(spans, spanOf(input, submatch, b.spanIndex))
	}
	return spans
}

// Expression returns the bound regular expression source.
func (b *BoundRule) Expression() string {
	return b.expression.String()
}

func spanOf(input []byte, submatch []int, spanIndex int) []byte {
	startOffset, endOffset := submatch[2*spanIndex], submatch[2*spanIndex+1]
	if startOffset < 0 {
		return nil
	}
	return input[startOffset:endOffset]
}
