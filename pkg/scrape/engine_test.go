package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/rules"
	"github.com/coolbeans/riskscan/pkg/section"
)

const riskSentence = "Competition in our markets may reduce our margins and our share of customer spending. "

func setupTestRegistry(t *testing.T) *rules.DefaultRegistry {
	t.Helper()
	registry, err := rules.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}
	return registry
}

func setupTestEngine(t *testing.T, registry *rules.DefaultRegistry, options Options) *Engine {
	t.Helper()
	engine, err := NewEngine(registry.Snapshot(), options)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func annualRequest(t *testing.T, entityID string) Request {
	t.Helper()
	request, err := NewRequest("Item 1A", "Item 1B", filing.Annual, entityID)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	return request
}

func longContent(sentences int) string {
	return strings.TrimSpace(strings.Repeat(riskSentence, sentences))
}

func TestExtractBoldLabels(t *testing.T) {
	engine := setupTestEngine(t, setupTestRegistry(t), DefaultOptions())
	content := longContent(15)

	document := "<html><body>\n<b>Item 1A.</b> <p>" + content + "</p> <b>Item 1B.</b>\n<p>None.</p></body></html>"
	result, err := engine.Extract([]byte(document), annualRequest(t, "OXY"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if !result.Matched() {
		t.Fatalf("Extract() outcome = %s, want matched", result.Outcome)
	}
	if result.Text != content {
		t.Errorf("Extract() text = %q, want the paragraph content", result.Text)
	}
	if result.Length < 1000 {
		t.Errorf("Extract() length = %d, want >= 1000", result.Length)
	}
	if result.RuleIndex < 0 || result.RuleID == "" {
		t.Errorf("Extract() rule = %d/%q, want the matching rule", result.RuleIndex, result.RuleID)
	}
}

func TestExtractShortFragmentIsNoMatch(t *testing.T) {
	engine := setupTestEngine(t, setupTestRegistry(t), DefaultOptions())

	result, err := engine.Extract([]byte("<b>Item 1A.</b>short<b>Item 1B.</b>"), annualRequest(t, "OXY"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Outcome != OutcomeNoMatch {
		t.Errorf("Extract() outcome = %s, want no_match", result.Outcome)
	}
	if result.Candidates == 0 {
		t.Error("the short fragment should have been seen as a candidate")
	}
	if result.Text != "" || result.RuleIndex != -1 {
		t.Errorf("NoMatch should carry no text or rule, got %q/%d", result.Text, result.RuleIndex)
	}
}

func TestExtractNoMarkersIsNoMatch(t *testing.T) {
	engine := setupTestEngine(t, setupTestRegistry(t), DefaultOptions())

	result, err := engine.Extract([]byte("<p>"+longContent(20)+"</p>"), annualRequest(t, "OXY"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Outcome != OutcomeNoMatch || result.Candidates != 0 {
		t.Errorf("Extract() = %s with %d candidates, want no_match with none", result.Outcome, result.Candidates)
	}
}

func TestExtractShortMatchAcceptedWithLowerThresholds(t *testing.T) {
	engine := setupTestEngine(t, setupTestRegistry(t), Options{MinAcceptLength: 10, MinimumLength: 3})

	result, err := engine.Extract([]byte("<b>Item 1A.</b>short<b>Item 1B.</b>"), annualRequest(t, "OXY"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !result.Matched() || result.Text != "short" {
		t.Errorf("Extract() = %s %q, want matched \"short\"", result.Outcome, result.Text)
	}
}

func TestExtractContinuesPastTableOfContents(t *testing.T) {
	engine := setupTestEngine(t, setupTestRegistry(t), DefaultOptions())
	content := longContent(15)

	document := strings.Join([]string{
		"<table><tr><td>Item 1A.</td><td>Risk Factors</td><td>12</td></tr>",
		"<tr><td>Item 1B.</td><td>Unresolved Staff Comments</td><td>20</td></tr></table>",
		"<p>Item 1A. Risk Factors</p>",
		"<p>" + content + "</p>",
		"<p>Item 1B. Unresolved Staff Comments</p>",
		"<p>None.</p>",
	}, "\n")

	result, err := engine.Extract([]byte(document), annualRequest(t, "OXY"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !result.Matched() {
		t.Fatalf("Extract() outcome = %s, want matched", result.Outcome)
	}
	if result.RuleID != "annual-risk-factors" {
		t.Errorf("Extract() rule = %s, want annual-risk-factors", result.RuleID)
	}
	if result.Candidates != 2 {
		t.Errorf("Extract() candidates = %d, want 2 (contents entry, then body)", result.Candidates)
	}
	if result.Text != content {
		t.Errorf("Extract() text = %q, want the body section", result.Text)
	}
}

func TestExtractEntityOverride(t *testing.T) {
	registry := setupTestRegistry(t)
	override := &rules.BoundaryRule{
		ID:           "acme-bracketed",
		DocumentKind: filing.Annual,
		Entities:     []string{"ACME"},
		Priority:     10,
		Surface:      rules.SurfaceText,
		Matcher:      `BEGIN RISK DISCUSSION(?P<span>.*?)END RISK DISCUSSION`,
	}
	if err := registry.Register(override); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	engine := setupTestEngine(t, registry, DefaultOptions())
	content := longContent(15)

	document := "<div>BEGIN RISK DISCUSSION</div>\n<p>" + content + "</p>\n<div>END RISK DISCUSSION</div>"

	result, err := engine.Extract([]byte(document), annualRequest(t, "ACME"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !result.Matched() || result.RuleID != "acme-bracketed" {
		t.Fatalf("Extract() = %s via %q, want matched via acme-bracketed", result.Outcome, result.RuleID)
	}
	if result.Text != content {
		t.Errorf("Extract() text = %q, want the bracketed content", result.Text)
	}

	// Every generic rule runs before the override.
	active := registry.Snapshot().Active(filing.Annual, "ACME", section.MustParseLabel("1A"), section.MustParseLabel("1B"))
	if active[result.RuleIndex].ID != "acme-bracketed" || result.RuleIndex != len(active)-1 {
		t.Errorf("override index = %d of %d active rules, want the last", result.RuleIndex, len(active))
	}

	other, err := engine.Extract([]byte(document), annualRequest(t, "ZZZ"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if other.Matched() {
		t.Errorf("entity without the override matched via %s", other.RuleID)
	}
}

func TestExtractGenericWinsBeforeOverride(t *testing.T) {
	registry := setupTestRegistry(t)
	override := &rules.BoundaryRule{
		ID:       "acme-anything",
		Entities: []string{"ACME"},
		Surface:  rules.SurfaceText,
		Matcher:  `(?P<span>.+)`,
	}
	if err := registry.Register(override); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	engine := setupTestEngine(t, registry, DefaultOptions())

	document := "<b>Item 1A.</b> <p>" + longContent(15) + "</p> <b>Item 1B.</b>"
	result, err := engine.Extract([]byte(document), annualRequest(t, "ACME"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	winner, ok := registry.Get(result.RuleID)
	if !ok || !winner.IsGeneric() {
		t.Errorf("Extract() rule = %q, want a generic rule", result.RuleID)
	}
}

func TestExtractUnrecognizedSection(t *testing.T) {
	if _, err := NewRequest("99", "Item 1B", filing.Annual, "OXY"); !errors.Is(err, section.ErrUnrecognizedSection) {
		t.Errorf("NewRequest(99) error = %v, want ErrUnrecognizedSection", err)
	}
	if _, err := NewRequest("Item 1A", "Item 99", filing.Annual, "OXY"); !errors.Is(err, section.ErrUnrecognizedSection) {
		t.Errorf("NewRequest(Item 99) error = %v, want ErrUnrecognizedSection", err)
	}

	engine := setupTestEngine(t, setupTestRegistry(t), DefaultOptions())
	_, err := engine.Extract([]byte("<b>Item 1A.</b>x<b>Item 1B.</b>"), Request{Kind: filing.Annual, EntityID: "OXY"})
	if !errors.Is(err, section.ErrUnrecognizedSection) {
		t.Errorf("Extract() without labels error = %v, want ErrUnrecognizedSection", err)
	}
}

func TestRequestValidate(t *testing.T) {
	if _, err := NewRequest("Item 1A", "Item 1B", "8-K", "OXY"); !errors.Is(err, filing.ErrUnknownKind) {
		t.Errorf("NewRequest(8-K) error = %v, want ErrUnknownKind", err)
	}
	if _, err := NewRequest("Item 1A", "Item 1B", filing.Annual, "O X Y"); !errors.Is(err, filing.ErrInvalidEntity) {
		t.Errorf("NewRequest(bad entity) error = %v, want ErrInvalidEntity", err)
	}
	request, err := NewRequest("item 7a", "item 8.", filing.Quarterly, " oxy ")
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if request.Start.Number() != "7A" || request.End.Number() != "8" || request.EntityID != "OXY" {
		t.Errorf("NewRequest() = %+v", request)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		options Options
		wantErr bool
	}{
		{"defaults", DefaultOptions(), false},
		{"equal", Options{MinAcceptLength: 20, MinimumLength: 20}, false},
		{"floor above accept", Options{MinAcceptLength: 20, MinimumLength: 1000}, true},
		{"zero accept", Options{MinAcceptLength: 0, MinimumLength: 20}, true},
		{"zero floor", Options{MinAcceptLength: 1000, MinimumLength: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.options.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Validate() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestExtractConcurrentMatchesSequential(t *testing.T) {
	engine := setupTestEngine(t, setupTestRegistry(t), DefaultOptions())

	type job struct {
		document []byte
		request  Request
	}
	var jobs []job
	for position := 0; position < 24; position++ {
		entityID := fmt.Sprintf("E%d", position)
		var document string
		switch position % 3 {
		case 0:
			document = "<b>Item 1A.</b> <p>" + entityID + " " + longContent(12+position) + "</p> <b>Item 1B.</b>"
		case 1:
			document = "<p>Item 1A. Risk Factors</p><p>" + entityID + " " + longContent(position) + "</p><p>Item 1B. Unresolved Staff Comments</p>"
		default:
			document = "<b>Item 1A.</b>" + entityID + "<b>Item 1B.</b>"
		}
		jobs = append(jobs, job{document: []byte(document), request: annualRequest(t, entityID)})
	}

	sequential := make([]Result, len(jobs))
	for position, job := range jobs {
		result, err := engine.Extract(job.document, job.request)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		sequential[position] = result
	}

	const workers = 8
	concurrent := make([][]Result, workers)
	var waitGroup sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		concurrent[worker] = make([]Result, len(jobs))
		waitGroup.Add(1)
		go func(worker int) {
			defer waitGroup.Done()
			for offset := range jobs {
				position := (offset + worker) % len(jobs)
				result, err := engine.Extract(jobs[position].document, jobs[position].request)
				if err != nil {
					t.Errorf("Extract() error = %v", err)
					return
				}
				concurrent[worker][position] = result
			}
		}(worker)
	}
	waitGroup.Wait()

	for worker := range concurrent {
		for position := range jobs {
			if concurrent[worker][position] != sequential[position] {
				t.Errorf("worker %d job %d = %+v, want %+v", worker, position, concurrent[worker][position], sequential[position])
			}
		}
	}
}

type recordingSink struct {
	mu      sync.Mutex
	commits map[string]string
}

func (s *recordingSink) Commit(target filing.Filing, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commits == nil {
		s.commits = make(map[string]string)
	}
	if _, ok := s.commits[target.ID()]; ok {
		return fmt.Errorf("%s committed twice", target.ID())
	}
	s.commits[target.ID()] = text
	return nil
}

func TestRunCommitsOnlyAcceptedText(t *testing.T) {
	engine := setupTestEngine(t, setupTestRegistry(t), DefaultOptions())
	sink := &recordingSink{}
	date := time.Date(2019, 2, 21, 0, 0, 0, 0, time.UTC)

	matched := filing.Filing{EntityID: "OXY", Date: date, Kind: filing.Annual}
	content := longContent(15)
	result, err := engine.Run(context.Background(), []byte("<b>Item 1A.</b> <p>"+content+"</p> <b>Item 1B.</b>"), matched, annualRequest(t, "OXY"), sink)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Matched() {
		t.Fatalf("Run() outcome = %s, want matched", result.Outcome)
	}

	missed := filing.Filing{EntityID: "HES", Date: date, Kind: filing.Annual}
	result, err = engine.Run(context.Background(), []byte("<b>Item 1A.</b>short<b>Item 1B.</b>"), missed, annualRequest(t, "HES"), sink)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Matched() {
		t.Fatal("Run() should not match the short fragment")
	}

	if len(sink.commits) != 1 || sink.commits[matched.ID()] != content {
		t.Errorf("commits = %v, want only %s", sink.commits, matched.ID())
	}
}

func TestRunHonorsDeadline(t *testing.T) {
	engine := setupTestEngine(t, setupTestRegistry(t), DefaultOptions())
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := filing.Filing{EntityID: "OXY", Date: time.Date(2019, 2, 21, 0, 0, 0, 0, time.UTC), Kind: filing.Annual}
	_, err := engine.Run(ctx, []byte("<b>Item 1A.</b> <p>"+longContent(15)+"</p> <b>Item 1B.</b>"), target, annualRequest(t, "OXY"), sink)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if len(sink.commits) != 0 {
		t.Errorf("Run() committed %v after cancellation", sink.commits)
	}
}
