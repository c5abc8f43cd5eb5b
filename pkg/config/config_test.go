package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coolbeans/riskscan/pkg/filing"
)

func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvConfig, EnvUserAgent, EnvDatabaseDSN, EnvOutputRoot, EnvLogLevel} {
		t.Setenv(name, "")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riskscan.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if config.Extraction.MinAcceptLength != 1000 || config.Extraction.MinimumLength != 20 {
		t.Errorf("thresholds = %d/%d, want 1000/20", config.Extraction.MinAcceptLength, config.Extraction.MinimumLength)
	}

	runConfig, err := config.BatchConfig()
	if err != nil {
		t.Fatalf("BatchConfig() error = %v", err)
	}
	if runConfig.Kind != filing.Annual || runConfig.Start.Number() != "1A" || runConfig.End.Number() != "1B" {
		t.Errorf("BatchConfig() = %+v", runConfig)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	clearEnvironment(t)

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Listing.Source != ListingSubmissions {
		t.Errorf("Listing.Source = %q, want %q", config.Listing.Source, ListingSubmissions)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	clearEnvironment(t)
	path := writeConfigFile(t, `
user_agent: "Research Group research@example.org"
output_root: /tmp/filings
listing:
  source: browse
  count: 40
http:
  rate_limit: 250ms
  cache_dir: /tmp/edgar-cache
extraction:
  kind: 10-Q
  end: Item 2
  time_budget: 30s
  workers: 2
  remove_source: true
`)

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Listing.Source != ListingBrowse || config.Listing.Count != 40 {
		t.Errorf("Listing = %+v", config.Listing)
	}
	if config.Listing.BaseURL != "https://www.sec.gov" {
		t.Errorf("Listing.BaseURL = %q, default should be kept", config.Listing.BaseURL)
	}
	if config.HTTP.RateLimit != 250*time.Millisecond || config.HTTP.Timeout != Default().HTTP.Timeout {
		t.Errorf("HTTP = %+v", config.HTTP)
	}

	client := config.ClientConfig()
	if client.UserAgent != "Research Group research@example.org" || client.CacheDirectory != "/tmp/edgar-cache" {
		t.Errorf("ClientConfig() = %+v", client)
	}

	runConfig, err := config.BatchConfig()
	if err != nil {
		t.Fatalf("BatchConfig() error = %v", err)
	}
	if runConfig.Kind != filing.Quarterly || runConfig.Start.Number() != "1A" || runConfig.End.Number() != "2" {
		t.Errorf("BatchConfig() labels = %s-%s kind %s", runConfig.Start, runConfig.End, runConfig.Kind)
	}
	if runConfig.Workers != 2 || runConfig.TimeBudget != 30*time.Second || !runConfig.RemoveSource {
		t.Errorf("BatchConfig() = %+v", runConfig)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnvironment(t)
	path := writeConfigFile(t, "output_root: from-file\nlog_level: warn\n")
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvOutputRoot, "from-env")
	t.Setenv(EnvDatabaseDSN, "postgres://localhost/riskscan?sslmode=disable")
	t.Setenv(EnvLogLevel, "DEBUG")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.OutputRoot != "from-env" {
		t.Errorf("OutputRoot = %q, want from-env", config.OutputRoot)
	}
	if config.DatabaseDSN == "" {
		t.Error("DatabaseDSN should come from the environment")
	}
	level, err := config.Level()
	if err != nil || level != zerolog.DebugLevel {
		t.Errorf("Level() = %v, %v, want debug", level, err)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnvironment(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should return error")
	}
	if _, err := Load(writeConfigFile(t, "listing: [not, a, map]\n")); err == nil {
		t.Error("Load() of malformed YAML should return error")
	}
	if _, err := Load(writeConfigFile(t, "listing:\n  source: ftp\n")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load() with unknown listing source error = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(config *Config)
	}{
		{"empty user agent", func(config *Config) { config.UserAgent = " " }},
		{"unknown listing source", func(config *Config) { config.Listing.Source = "rss" }},
		{"zero accept threshold", func(config *Config) { config.Extraction.MinAcceptLength = 0 }},
		{"zero floor", func(config *Config) { config.Extraction.MinimumLength = 0 }},
		{"floor above accept", func(config *Config) { config.Extraction.MinimumLength = 5000 }},
		{"unknown kind", func(config *Config) { config.Extraction.Kind = "8-K" }},
		{"unrecognized label", func(config *Config) { config.Extraction.Start = "Item 99" }},
		{"unknown log level", func(config *Config) { config.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(&config)
			if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
