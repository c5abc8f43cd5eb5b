package edgar

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/coolbeans/riskscan/pkg/filing"
)

// sharedEntity is the directory holding listings that belong to no entity.
const sharedEntity = "_shared"

// ErrInvalidListingKey is returned for keys that cannot name a cache file.
var ErrInvalidListingKey = errors.New("invalid listing key")

var listingNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*$`)

// ListingKey identifies one listing request: an entity's filings of a form
// type, its submissions document, or a table shared by every entity when
// EntityID is empty.
type ListingKey struct {
	EntityID string
	Listing  string
}

// tickerTableKey names the ticker to CIK mapping.
var tickerTableKey = ListingKey{Listing: "company_tickers"}

func (k ListingKey) String() string {
	if k.EntityID == "" {
		return sharedEntity + "/" + k.Listing
	}
	return k.EntityID + "/" + k.Listing
}

// ListingCache stores listing responses on disk, one JSON file per listing
// key laid out as <dir>/<entity>/<listing>.json.
type ListingCache struct {
	cacheDir string
	cacheTTL time.Duration
}

type listingEntry struct {
	EntityID  string    `json:"entity_id,omitempty"`
	Listing   string    `json:"listing"`
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
	Body      []byte    `json:"body"`
}

// NewListingCache creates a listing cache in cacheDir, creating the
// directory if it does not exist.
func NewListingCache(cacheDir string, cacheTTL time.Duration) (*ListingCache, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cacheDir, err)
	}
	return &ListingCache{cacheDir: cacheDir, cacheTTL: cacheTTL}, nil
}

// Get returns the cached body for key. An entry fetched from a different
// URL, such as one with another row count, or older than the TTL is a miss.
func (c *ListingCache) Get(key ListingKey, sourceURL string) ([]byte, bool) {
	path, err := c.pathFor(key)
	if err != nil {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var entry listingEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if entry.URL != sourceURL {
		return nil, false
	}
	if time.Since(entry.FetchedAt) >= c.cacheTTL {
		_ = os.Remove(path)
		return nil, false
	}
	return entry.Body, true
}

// Set stores body under key, replacing any earlier entry for it.
func (c *ListingCache) Set(key ListingKey, sourceURL string, body []byte) error {
	path, err := c.pathFor(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(listingEntry{
		EntityID:  key.EntityID,
		Listing:   key.Listing,
		URL:       sourceURL,
		FetchedAt: time.Now(),
		Body:      body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory for %s: %w", key, err)
	}

	// Write then rename so concurrent readers never see a partial entry.
	temporary := path + ".tmp"
	if err := os.WriteFile(temporary, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file %s: %w", temporary, err)
	}
	if err := os.Rename(temporary, path); err != nil {
		_ = os.Remove(temporary)
		return fmt.Errorf("failed to write cache file %s: %w", path, err)
	}
	return nil
}

// Invalidate drops the entry for key. A missing entry is not an error.
func (c *ListingCache) Invalidate(key ListingKey) error {
	path, err := c.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file %s: %w", path, err)
	}
	return nil
}

func (c *ListingCache) pathFor(key ListingKey) (string, error) {
	if !listingNamePattern.MatchString(key.Listing) {
		return "", fmt.Errorf("%w: listing %q", ErrInvalidListingKey, key.Listing)
	}

	entityDir := sharedEntity
	if key.EntityID != "" {
		if err := filing.ValidateEntityID(key.EntityID); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidListingKey, err)
		}
		entityDir = key.EntityID
	}
	return filepath.Join(c.cacheDir, entityDir, key.Listing+".json"), nil
}
