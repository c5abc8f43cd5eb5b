package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coolbeans/riskscan/pkg/filing"
)

// SubmissionsConfig holds the endpoints of the structured EDGAR API.
type SubmissionsConfig struct {
	// TickersURL serves the ticker to CIK mapping.
	TickersURL string

	// SubmissionsURL is a format string taking the ten-digit CIK.
	SubmissionsURL string

	// ArchivesURL is the root of filing documents.
	ArchivesURL string
}

// DefaultSubmissionsConfig returns the public SEC endpoints.
func DefaultSubmissionsConfig() SubmissionsConfig {
	return SubmissionsConfig{
		TickersURL:     "https://www.sec.gov/files/company_tickers.json",
		SubmissionsURL: "https://data.sec.gov/submissions/CIK%s.json",
		ArchivesURL:    "https://www.sec.gov/Archives/edgar/data",
	}
}

// SubmissionsLister lists filings from the data.sec.gov submissions API.
// Tickers are resolved to CIKs once per lister.
type SubmissionsLister struct {
	client *Client
	config SubmissionsConfig

	tickersMu sync.Mutex
	tickers   map[string]string
}

var _ Lister = (*SubmissionsLister)(nil)

// NewSubmissionsLister creates a lister over client.
func NewSubmissionsLister(client *Client, config SubmissionsConfig) *SubmissionsLister {
	return &SubmissionsLister{client: client, config: config}
}

type companyTicker struct {
	CIK    int64  `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

type submissionsResponse struct {
	CIK     string `json:"cik"`
	Name    string `json:"name"`
	Filings struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			FilingDate      []string `json:"filingDate"`
			Form            []string `json:"form"`
			PrimaryDocument []string `json:"primaryDocument"`
		} `json:"recent"`
	} `json:"filings"`
}

// ListFilings returns the entity's recent filings of the kind, newest first.
func (s *SubmissionsLister) ListFilings(ctx context.Context, entityID string, kind filing.Kind) ([]Listing, error) {
	cik, err := s.ResolveCIK(ctx, entityID)
	if err != nil {
		return nil, err
	}

	key := ListingKey{EntityID: cik, Listing: "submissions"}
	body, err := s.client.GetListing(ctx, key, fmt.Sprintf(s.config.SubmissionsURL, cik))
	if err != nil {
		return nil, fmt.Errorf("failed to list filings for %s: %w", entityID, err)
	}

	var submissions submissionsResponse
	if err := json.Unmarshal(body, &submissions); err != nil {
		s.client.InvalidateListing(key)
		return nil, fmt.Errorf("failed to parse submissions for %s: %w", entityID, err)
	}

	recent := submissions.Filings.Recent
	count := len(recent.AccessionNumber)
	if len(recent.FilingDate) != count || len(recent.Form) != count || len(recent.PrimaryDocument) != count {
		s.client.InvalidateListing(key)
		return nil, fmt.Errorf("submissions for %s have mismatched columns", entityID)
	}

	archiveCIK := strings.TrimLeft(cik, "0")
	formType := kind.FormType()

	var listings []Listing
	for row := 0; row < count; row++ {
		if recent.Form[row] != formType || recent.PrimaryDocument[row] == "" {
			continue
		}
		date, err := time.Parse("2006-01-02", recent.FilingDate[row])
		if err != nil {
			return nil, fmt.Errorf("failed to parse filing date %q for %s: %w", recent.FilingDate[row], entityID, err)
		}
		accession := strings.ReplaceAll(recent.AccessionNumber[row], "-", "")
		listings = append(listings, Listing{
			EntityID:    entityID,
			Date:        date,
			FormType:    recent.Form[row],
			DocumentURL: strings.Join([]string{s.config.ArchivesURL, archiveCIK, accession, recent.PrimaryDocument[row]}, "/"),
		})
	}

	if len(listings) == 0 {
		return nil, fmt.Errorf("%w: %s has no %s filings", ErrNoFilings, entityID, formType)
	}
	sortListingsDescending(listings)
	return listings, nil
}

// ResolveDocument returns the primary document already known from the listing.
func (s *SubmissionsLister) ResolveDocument(ctx context.Context, listing Listing) (string, error) {
	if listing.DocumentURL == "" {
		return "", fmt.Errorf("%w: %s %s", ErrDocumentNotFound, listing.EntityID, listing.Date.Format(filing.DateLayout))
	}
	return listing.DocumentURL, nil
}

// ResolveCIK returns the ten-digit CIK for a ticker or a numeric CIK.
func (s *SubmissionsLister) ResolveCIK(ctx context.Context, entityID string) (string, error) {
	if number, err := strconv.ParseInt(entityID, 10, 64); err == nil {
		return fmt.Sprintf("%010d", number), nil
	}

	s.tickersMu.Lock()
	defer s.tickersMu.Unlock()

	if s.tickers == nil {
		body, err := s.client.GetListing(ctx, tickerTableKey, s.config.TickersURL)
		if err != nil {
			return "", fmt.Errorf("failed to load ticker mapping: %w", err)
		}

		var table map[string]companyTicker
		if err := json.Unmarshal(body, &table); err != nil {
			s.client.InvalidateListing(tickerTableKey)
			return "", fmt.Errorf("failed to parse ticker mapping: %w", err)
		}

		tickers := make(map[string]string, len(table))
		for _, company := range table {
			tickers[strings.ToUpper(company.Ticker)] = fmt.Sprintf("%010d", company.CIK)
		}
		s.tickers = tickers
	}

	cik, ok := s.tickers[strings.ToUpper(entityID)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTicker, entityID)
	}
	return cik, nil
}
