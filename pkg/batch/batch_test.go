package batch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/outcome"
	"github.com/coolbeans/riskscan/pkg/rules"
	"github.com/coolbeans/riskscan/pkg/scrape"
)

var riskContent = strings.TrimSpace(strings.Repeat("Commodity price volatility may reduce our revenues and cash flows. ", 20))

func matchingDocument() string {
	return "<html><body>\n<b>Item 1A.</b> <p>" + riskContent + "</p> <b>Item 1B.</b>\n<p>None.</p></body></html>"
}

func setupTestRoot(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "Energy")

	files := map[string]string{
		"OXY/20190221.htm": matchingDocument(),
		"OXY/20180220.htm": "<b>Item 1A.</b>short<b>Item 1B.</b>",
		"HES/20190220.htm": matchingDocument(),
		"HES/readme.htm":   "not a filing",
		"manifest.json":    "{}",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	return root
}

func setupTestEngine(t *testing.T) *scrape.Engine {
	t.Helper()
	registry, err := rules.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}
	engine, err := scrape.NewEngine(registry.Snapshot(), scrape.DefaultOptions())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func testConfig() Config {
	config := DefaultConfig()
	config.Workers = 3
	return config
}

func TestDiscover(t *testing.T) {
	root := setupTestRoot(t)

	filings, err := Discover(root, filing.Annual, nil)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	expected := []string{"HES/20190220", "OXY/20180220", "OXY/20190221"}
	if len(filings) != len(expected) {
		t.Fatalf("Discover() len = %d, want %d", len(filings), len(expected))
	}
	for position, target := range filings {
		if target.ID() != expected[position] {
			t.Errorf("Discover()[%d] = %s, want %s", position, target.ID(), expected[position])
		}
	}

	filtered, err := Discover(root, filing.Annual, []string{"hes"})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].EntityID != "HES" {
		t.Errorf("Discover(HES) = %v", filtered)
	}

	if _, err := Discover(filepath.Join(root, "missing"), filing.Annual, nil); err == nil {
		t.Error("Discover() of a missing root should return error")
	}
}

func TestRunnerRun(t *testing.T) {
	root := setupTestRoot(t)
	repository := outcome.NewMemoryRepository()
	runner := NewRunner(setupTestEngine(t), repository, testConfig())

	report, err := runner.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Total != 3 || report.Matched != 2 || report.NoMatch != 1 || report.Errors != 0 {
		t.Errorf("report counts = %d/%d/%d/%d, want 3 total, 2 matched, 1 no match, 0 errors",
			report.Total, report.Matched, report.NoMatch, report.Errors)
	}

	expectedEntities := []EntitySummary{
		{EntityID: "HES", Matched: 1},
		{EntityID: "OXY", Matched: 1, NoMatch: 1},
	}
	if len(report.Entities) != len(expectedEntities) {
		t.Fatalf("report entities = %+v", report.Entities)
	}
	for position, expected := range expectedEntities {
		if report.Entities[position] != expected {
			t.Errorf("entity %d = %+v, want %+v", position, report.Entities[position], expected)
		}
	}

	data, err := os.ReadFile(filepath.Join(root, "OXY", "20190221.txt"))
	if err != nil {
		t.Fatalf("matched section not written: %v", err)
	}
	if string(data) != riskContent {
		t.Errorf("section text = %q, want the paragraph", data)
	}
	if _, err := os.Stat(filepath.Join(root, "OXY", "20180220.txt")); !os.IsNotExist(err) {
		t.Error("no output should exist for a filing without a match")
	}
	if _, err := os.Stat(filepath.Join(root, "OXY", "20190221.htm")); err != nil {
		t.Error("source should be kept without RemoveSource")
	}

	failed := report.Failed()
	if len(failed) != 1 || failed[0].FilingID != "OXY/20180220" || failed[0].Reason != ReasonNoMatch {
		t.Errorf("Failed() = %+v", failed)
	}

	if records := repository.Records(report.RunID); len(records) != 3 {
		t.Errorf("recorded outcomes = %d, want 3", len(records))
	}
}

func TestRunnerRemoveSourceAndSkipExisting(t *testing.T) {
	root := setupTestRoot(t)
	config := testConfig()
	config.RemoveSource = true
	runner := NewRunner(setupTestEngine(t), nil, config)

	report, err := runner.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Matched != 2 {
		t.Fatalf("matched = %d, want 2", report.Matched)
	}
	if _, err := os.Stat(filepath.Join(root, "OXY", "20190221.htm")); !os.IsNotExist(err) {
		t.Error("matched source should be removed")
	}
	if _, err := os.Stat(filepath.Join(root, "OXY", "20180220.htm")); err != nil {
		t.Error("failed source should be kept")
	}

	// Put one source back; its section already exists.
	if err := os.WriteFile(filepath.Join(root, "HES", "20190220.htm"), []byte(matchingDocument()), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	config.RemoveSource = false
	config.SkipExisting = true
	report, err = NewRunner(setupTestEngine(t), nil, config).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Skipped != 1 || report.NoMatch != 1 || report.Matched != 0 {
		t.Errorf("second run = %d skipped, %d no match, %d matched", report.Skipped, report.NoMatch, report.Matched)
	}
}

func TestRunnerTimeBudget(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Energy")
	if err := os.MkdirAll(filepath.Join(root, "OXY"), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	large := "<p>" + strings.Repeat("Item 1A. Item 1A. <b>Item 1A.</b> Risk ", 20000) + "</p>"
	if err := os.WriteFile(filepath.Join(root, "OXY", "20190221.htm"), []byte(large), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	config := testConfig()
	config.TimeBudget = time.Nanosecond
	report, err := NewRunner(setupTestEngine(t), nil, config).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.NoMatch != 1 || report.Entries[0].Reason != ReasonTimeBudget {
		t.Errorf("entry = %+v, want no match over the time budget", report.Entries[0])
	}
}

func TestRunnerRejectsInvalidConfig(t *testing.T) {
	root := setupTestRoot(t)
	config := testConfig()
	config.Kind = "8-K"

	if _, err := NewRunner(setupTestEngine(t), nil, config).Run(context.Background(), root); err == nil {
		t.Fatal("Run() with an unknown kind should return error")
	}
	if _, err := os.Stat(filepath.Join(root, "OXY", "20190221.txt")); !os.IsNotExist(err) {
		t.Error("no document should be processed after a configuration error")
	}
}

func TestRunnerCancelled(t *testing.T) {
	root := setupTestRoot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewRunner(setupTestEngine(t), nil, testConfig()).Run(ctx, root)
	if err == nil {
		t.Fatal("Run() with a cancelled context should return error")
	}
	if report == nil || report.Matched != 0 {
		t.Errorf("report = %+v, want nothing matched", report)
	}
}

func TestFailedList(t *testing.T) {
	root := setupTestRoot(t)
	report, err := NewRunner(setupTestEngine(t), nil, testConfig()).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	path := FailedListPath(root)
	if path != filepath.Join(filepath.Dir(root), "Energy_failed.txt") {
		t.Errorf("FailedListPath() = %s", path)
	}
	if err := WriteFailedList(report, path); err != nil {
		t.Fatalf("WriteFailedList() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	expected := filepath.Join(root, "OXY", "20180220.htm") + "\n"
	if string(data) != expected {
		t.Errorf("failed list = %q, want %q", data, expected)
	}
}

func TestFormatReport(t *testing.T) {
	root := setupTestRoot(t)
	report, err := NewRunner(setupTestEngine(t), nil, testConfig()).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	text := FormatReport(report, false)
	for _, expected := range []string{"Extraction Report", "Matched: 2", "[FAIL]", "OXY/20180220", "Item 1A to Item 1B"} {
		if !strings.Contains(text, expected) {
			t.Errorf("FormatReport() missing %q:\n%s", expected, text)
		}
	}
	if strings.Contains(text, "[OK]") {
		t.Error("FormatReport() without verbose should list failures only")
	}
	if !strings.Contains(FormatReport(report, true), "[OK]") {
		t.Error("FormatReport() with verbose should list every filing")
	}

	var decoded Report
	if err := json.Unmarshal([]byte(FormatReportJSON(report, false)), &decoded); err != nil {
		t.Fatalf("FormatReportJSON() is not valid JSON: %v", err)
	}
	if decoded.RunID != report.RunID || decoded.Matched != 2 || len(decoded.Entries) != 3 {
		t.Errorf("decoded report = %+v", decoded)
	}
}

func TestRunnerSkipsFilingsMatchedInEarlierRuns(t *testing.T) {
	root := setupTestRoot(t)
	repository := outcome.NewMemoryRepository()

	if _, err := NewRunner(setupTestEngine(t), repository, testConfig()).Run(context.Background(), root); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// The section file is gone but the repository still knows the match.
	if err := os.Remove(filepath.Join(root, "HES", "20190220.txt")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	config := testConfig()
	config.SkipExisting = true
	report, err := NewRunner(setupTestEngine(t), repository, config).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Skipped != 2 || report.NoMatch != 1 {
		t.Errorf("second run = %d skipped, %d no match, want 2 and 1", report.Skipped, report.NoMatch)
	}
	if records := repository.Records(report.RunID); len(records) != 1 {
		t.Errorf("second run recorded %d outcomes, want only the unskipped filing", len(records))
	}
}
