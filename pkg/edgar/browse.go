package edgar

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/coolbeans/riskscan/pkg/filing"
)

// BrowseLister lists filings by scraping the browse-edgar company pages
// and each filing's index page.
type BrowseLister struct {
	client  *Client
	baseURL string
	count   int
}

var _ Lister = (*BrowseLister)(nil)

// NewBrowseLister creates a lister reading baseURL (https://www.sec.gov in
// production). count is the number of rows requested per listing.
func NewBrowseLister(client *Client, baseURL string, count int) *BrowseLister {
	if count <= 0 {
		count = 40
	}
	return &BrowseLister{client: client, baseURL: strings.TrimRight(baseURL, "/"), count: count}
}

// ListingURL returns the company listing page for an entity and kind.
func (b *BrowseLister) ListingURL(entityID string, kind filing.Kind) string {
	query := url.Values{}
	query.Set("action", "getcompany")
	query.Set("CIK", entityID)
	query.Set("type", kind.FormType())
	query.Set("dateb", "")
	query.Set("owner", "exclude")
	query.Set("count", fmt.Sprintf("%d", b.count))
	return b.baseURL + "/cgi-bin/browse-edgar?" + query.Encode()
}

// ListFilings reads the listing table, keeping rows of exactly the kind's
// form type, newest first.
func (b *BrowseLister) ListFilings(ctx context.Context, entityID string, kind filing.Kind) ([]Listing, error) {
	listingURL := b.ListingURL(entityID, kind)
	key := ListingKey{EntityID: strings.ToUpper(entityID), Listing: kind.FormType()}
	body, err := b.client.GetListing(ctx, key, listingURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list filings for %s: %w", entityID, err)
	}

	document, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		b.client.InvalidateListing(key)
		return nil, fmt.Errorf("failed to parse listing for %s: %w", entityID, err)
	}

	rows := document.Find("table.tableFile2 tr")
	if rows.Length() == 0 {
		b.client.InvalidateListing(key)
		return nil, fmt.Errorf("%w: result for %s is not available, %s", ErrNoFilings, entityID, listingURL)
	}

	formType := kind.FormType()
	var listings []Listing
	var parseErr error

	rows.Each(func(position int, row *goquery.Selection) {
		cells := row.Find("td")
		if parseErr != nil || cells.Length() < 4 {
			return
		}
		if strings.TrimSpace(cells.Eq(0).Text()) != formType {
			return
		}

		dateText := strings.TrimSpace(cells.Eq(3).Text())
		date, err := time.Parse("2006-01-02", dateText)
		if err != nil {
			parseErr = fmt.Errorf("failed to parse filing date %q for %s: %w", dateText, entityID, err)
			return
		}

		href, ok := row.Find("a#documentsbutton").Attr("href")
		if !ok {
			return
		}

		listings = append(listings, Listing{
			EntityID: entityID,
			Date:     date,
			FormType: formType,
			IndexURL: b.absolute(href),
		})
	})

	if parseErr != nil {
		return nil, parseErr
	}
	if len(listings) == 0 {
		return nil, fmt.Errorf("%w: %s has no %s filings", ErrNoFilings, entityID, formType)
	}
	sortListingsDescending(listings)
	return listings, nil
}

// ResolveDocument reads the filing index and returns the first document
// whose type column names the form.
func (b *BrowseLister) ResolveDocument(ctx context.Context, listing Listing) (string, error) {
	if listing.DocumentURL != "" {
		return listing.DocumentURL, nil
	}

	body, err := b.client.Get(ctx, listing.IndexURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch filing index %s: %w", listing.IndexURL, err)
	}

	document, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse filing index %s: %w", listing.IndexURL, err)
	}

	var documentURL string
	document.Find("table.tableFile").First().Find("tr").EachWithBreak(func(position int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 4 || !strings.Contains(cells.Eq(3).Text(), listing.FormType) {
			return true
		}
		if href, ok := cells.Find("a").First().Attr("href"); ok {
			documentURL = b.absolute(stripInlineViewer(href))
		}
		return false
	})

	if documentURL == "" {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, listing.IndexURL)
	}
	return documentURL, nil
}

func (b *BrowseLister) absolute(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return b.baseURL + "/" + strings.TrimLeft(href, "/")
}

// stripInlineViewer turns an inline XBRL viewer link (/ix?doc=/Archives/...)
// into the plain document path.
func stripInlineViewer(href string) string {
	const viewerPrefix = "/ix?doc="
	if strings.HasPrefix(href, viewerPrefix) {
		return strings.TrimPrefix(href, viewerPrefix)
	}
	return href
}
