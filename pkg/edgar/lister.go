package edgar

import (
	"context"
	"sort"
	"time"

	"github.com/coolbeans/riskscan/pkg/filing"
)

// Listing is one row of an entity's filing listing.
type Listing struct {
	EntityID string
	Date     time.Time
	FormType string

	// IndexURL is the filing index page, when the source provides one.
	IndexURL string

	// DocumentURL is the primary document, when known without the index.
	DocumentURL string
}

// Lister lists an entity's filings and resolves their primary documents.
type Lister interface {
	// ListFilings returns the filings of exactly the kind's form type,
	// newest first.
	ListFilings(ctx context.Context, entityID string, kind filing.Kind) ([]Listing, error)

	// ResolveDocument returns the URL of the listing's primary document.
	ResolveDocument(ctx context.Context, listing Listing) (string, error)
}

// sortListingsDescending orders listings newest first, keeping source order
// for equal dates.
func sortListingsDescending(listings []Listing) {
	sort.SliceStable(listings, func(left, right int) bool {
		return listings[left].Date.After(listings[right].Date)
	})
}
