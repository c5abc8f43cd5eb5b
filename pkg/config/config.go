// Package config loads riskscan settings from a YAML file, a .env file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/coolbeans/riskscan/pkg/batch"
	"github.com/coolbeans/riskscan/pkg/edgar"
	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/scrape"
	"github.com/coolbeans/riskscan/pkg/section"
)

// Environment variables read by Load.
const (
	EnvConfig      = "RISKSCAN_CONFIG"
	EnvUserAgent   = "RISKSCAN_USER_AGENT"
	EnvDatabaseDSN = "RISKSCAN_DATABASE_DSN"
	EnvOutputRoot  = "RISKSCAN_OUTPUT_ROOT"
	EnvLogLevel    = "RISKSCAN_LOG_LEVEL"
)

// Listing sources.
const (
	ListingSubmissions = "submissions"
	ListingBrowse      = "browse"
)

// DotEnvFile is the optional file of environment assignments read by Load.
const DotEnvFile = ".env"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every riskscan setting.
type Config struct {
	// UserAgent is sent with every SEC request and must name a contact.
	UserAgent string `yaml:"user_agent"`

	// OutputRoot receives downloaded filings and extracted sections.
	OutputRoot string `yaml:"output_root"`

	Listing    ListingConfig    `yaml:"listing"`
	HTTP       HTTPConfig       `yaml:"http"`
	Extraction ExtractionConfig `yaml:"extraction"`

	// DatabaseDSN enables outcome persistence in Postgres when set.
	DatabaseDSN string `yaml:"database_dsn"`

	LogLevel string `yaml:"log_level"`
}

// ListingConfig selects how filings are listed.
type ListingConfig struct {
	// Source is "submissions" (JSON API) or "browse" (HTML listing pages).
	Source  string `yaml:"source"`
	BaseURL string `yaml:"base_url"`
	Count   int    `yaml:"count"`
}

// HTTPConfig holds client settings for EDGAR requests.
type HTTPConfig struct {
	RateLimit      time.Duration `yaml:"rate_limit"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	CacheDirectory string        `yaml:"cache_dir"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// ExtractionConfig holds cascade thresholds and batch settings.
type ExtractionConfig struct {
	MinAcceptLength int           `yaml:"min_accept_length"`
	MinimumLength   int           `yaml:"minimum_length"`
	Start           string        `yaml:"start"`
	End             string        `yaml:"end"`
	Kind            string        `yaml:"kind"`
	RulesDirectory  string        `yaml:"rules_dir"`
	TimeBudget      time.Duration `yaml:"time_budget"`
	Workers         int           `yaml:"workers"`
	RemoveSource    bool          `yaml:"remove_source"`
}

// Default returns the settings of the annual risk factors workflow.
func Default() Config {
	client := edgar.DefaultClientConfig()
	options := scrape.DefaultOptions()

	return Config{
		UserAgent:  client.UserAgent,
		OutputRoot: "data",
		Listing: ListingConfig{
			Source:  ListingSubmissions,
			BaseURL: "https://www.sec.gov",
			Count:   100,
		},
		HTTP: HTTPConfig{
			RateLimit:      client.RateLimit,
			Timeout:        client.Timeout,
			MaxRetries:     client.MaxRetries,
			RetryBaseDelay: client.RetryBaseDelay,
			CacheTTL:       client.CacheTTL,
		},
		Extraction: ExtractionConfig{
			MinAcceptLength: options.MinAcceptLength,
			MinimumLength:   options.MinimumLength,
			Start:           "Item 1A",
			End:             "Item 1B",
			Kind:            string(filing.Annual),
			TimeBudget:      2 * time.Minute,
			Workers:         runtime.NumCPU(),
		},
		LogLevel: "info",
	}
}

// Load builds a Config from defaults, the YAML file at path, the .env file
// in the working directory and the environment, later sources winning. An
// empty path falls back to $RISKSCAN_CONFIG; with neither, no file is read.
func Load(path string) (Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}

	config := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	config.applyEnvironment()

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) applyEnvironment() {
	overrides := map[string]*string{
		EnvUserAgent:   &c.UserAgent,
		EnvDatabaseDSN: &c.DatabaseDSN,
		EnvOutputRoot:  &c.OutputRoot,
		EnvLogLevel:    &c.LogLevel,
	}
	for name, field := range overrides {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			*field = value
		}
	}
}

// Validate checks the settings that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if strings.TrimSpace(c.UserAgent) == "" {
		return fmt.Errorf("%w: user_agent is required", ErrInvalidConfig)
	}
	switch c.Listing.Source {
	case ListingSubmissions, ListingBrowse:
	default:
		return fmt.Errorf("%w: listing source must be %q or %q, got %q",
			ErrInvalidConfig, ListingSubmissions, ListingBrowse, c.Listing.Source)
	}
	if err := c.ScrapeOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.BatchConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(c.LogLevel))
}

// ClientConfig returns the EDGAR client settings.
func (c Config) ClientConfig() edgar.ClientConfig {
	client := edgar.DefaultClientConfig()
	client.UserAgent = c.UserAgent
	client.RateLimit = c.HTTP.RateLimit
	client.Timeout = c.HTTP.Timeout
	client.MaxRetries = c.HTTP.MaxRetries
	client.RetryBaseDelay = c.HTTP.RetryBaseDelay
	client.CacheDirectory = c.HTTP.CacheDirectory
	client.CacheTTL = c.HTTP.CacheTTL
	return client
}

// NewLister returns the configured filing lister.
func (c Config) NewLister(client *edgar.Client) edgar.Lister {
	if c.Listing.Source == ListingBrowse {
		return edgar.NewBrowseLister(client, c.Listing.BaseURL, c.Listing.Count)
	}
	return edgar.NewSubmissionsLister(client, edgar.DefaultSubmissionsConfig())
}

// ScrapeOptions returns the cascade thresholds.
func (c Config) ScrapeOptions() scrape.Options {
	return scrape.Options{
		MinAcceptLength: c.Extraction.MinAcceptLength,
		MinimumLength:   c.Extraction.MinimumLength,
	}
}

// Kind returns the configured document kind.
func (c Config) Kind() (filing.Kind, error) {
	return filing.ParseKind(c.Extraction.Kind)
}

// BatchConfig returns the batch runner settings with parsed labels and kind.
func (c Config) BatchConfig() (batch.Config, error) {
	kind, err := c.Kind()
	if err != nil {
		return batch.Config{}, err
	}
	start, err := section.ParseLabel(c.Extraction.Start)
	if err != nil {
		return batch.Config{}, fmt.Errorf("start label: %w", err)
	}
	end, err := section.ParseLabel(c.Extraction.End)
	if err != nil {
		return batch.Config{}, fmt.Errorf("end label: %w", err)
	}

	runConfig := batch.DefaultConfig()
	runConfig.Kind = kind
	runConfig.Start = start
	runConfig.End = end
	runConfig.TimeBudget = c.Extraction.TimeBudget
	runConfig.RemoveSource = c.Extraction.RemoveSource
	if c.Extraction.Workers > 0 {
		runConfig.Workers = c.Extraction.Workers
	}
	return runConfig, nil
}
