// Package edgar acquires periodic filings from SEC EDGAR: it lists an
// entity's filings, selects the ones inside a date range and downloads them
// under an explicit output root.
package edgar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoFilings is returned when a listing has no filings of the requested kind.
	ErrNoFilings = errors.New("no filings listed")

	// ErrDocumentNotFound is returned when a filing index has no primary document.
	ErrDocumentNotFound = errors.New("filing document not found")

	// ErrUnknownTicker is returned when a ticker has no CIK mapping.
	ErrUnknownTicker = errors.New("unknown ticker")

	// ErrBodyTooLarge is returned when a response exceeds the body limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// ClientConfig holds configuration for the EDGAR HTTP client.
type ClientConfig struct {
	// UserAgent identifies the caller; SEC requires a contact address.
	UserAgent string

	// RateLimit is the minimum interval between requests to one host.
	RateLimit time.Duration

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// MaxRetries is the number of attempts for transient errors.
	MaxRetries int

	// RetryBaseDelay is the first retry delay; it doubles every attempt.
	RetryBaseDelay time.Duration

	// MaxBodyBytes caps every response body.
	MaxBodyBytes int64

	// CacheDirectory enables the listing cache when set.
	CacheDirectory string

	// CacheTTL is how long cached listings stay fresh.
	CacheTTL time.Duration

	// HTTPClient allows injection of a custom HTTP client (for testing).
	HTTPClient *http.Client
}

// DefaultClientConfig returns a ClientConfig within SEC fair-access limits.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		UserAgent:      "riskscan/1.0 (research@example.com)",
		RateLimit:      150 * time.Millisecond,
		Timeout:        60 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
		MaxBodyBytes:   10 * 1024 * 1024,
		CacheTTL:       24 * time.Hour,
	}
}

// Client is the shared HTTP client for listing pages and documents.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	cache      *ListingCache
	hostTimers map[string]time.Time
	timerMu    sync.Mutex
}

// NewClient creates a Client. A cache directory in config enables the
// listing cache.
func NewClient(config ClientConfig) (*Client, error) {
	if config.UserAgent == "" {
		return nil, fmt.Errorf("user agent is required by SEC fair-access policy")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(request *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		}
	}

	client := &Client{
		config:     config,
		httpClient: httpClient,
		hostTimers: make(map[string]time.Time),
	}

	if config.CacheDirectory != "" {
		cache, err := NewListingCache(config.CacheDirectory, config.CacheTTL)
		if err != nil {
			return nil, err
		}
		client.cache = cache
	}

	return client, nil
}

// Get fetches a URL, retrying transient failures with exponential backoff.
func (c *Client) Get(ctx context.Context, targetURL string) ([]byte, error) {
	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	retryDelay := c.config.RetryBaseDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			currentDelay := retryDelay * time.Duration(1<<uint(attempt-1))
			log.Warn().Err(lastErr).Str("url", targetURL).Int("attempt", attempt+1).
				Dur("delay", currentDelay).Msg("retrying request")
			if err := sleepContext(ctx, currentDelay); err != nil {
				return nil, err
			}
		}

		body, err := c.getAttempt(ctx, targetURL)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// GetListing is Get backed by the listing cache, when one is configured.
func (c *Client) GetListing(ctx context.Context, key ListingKey, targetURL string) ([]byte, error) {
	if c.cache != nil {
		if body, ok := c.cache.Get(key, targetURL); ok {
			log.Debug().Stringer("listing", key).Msg("listing served from cache")
			return body, nil
		}
	}

	body, err := c.Get(ctx, targetURL)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(key, targetURL, body); err != nil {
			log.Warn().Err(err).Stringer("listing", key).Msg("failed to cache listing")
		}
	}
	return body, nil
}

// InvalidateListing drops a cached listing whose body turned out unusable.
func (c *Client) InvalidateListing(key ListingKey) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(key); err != nil {
		log.Warn().Err(err).Stringer("listing", key).Msg("failed to invalidate cached listing")
	}
}

// FetchDocument returns the raw markup of a filing document.
func (c *Client) FetchDocument(ctx context.Context, documentURL string) ([]byte, error) {
	return c.Get(ctx, documentURL)
}

// DownloadFile fetches a URL into localPath. It skips the download when the
// file already exists with non-zero size and reports whether it did.
func (c *Client) DownloadFile(ctx context.Context, downloadURL string, localPath string) (int64, bool, error) {
	existingInfo, err := os.Stat(localPath)
	if err == nil && existingInfo.Size() > 0 {
		return existingInfo.Size(), true, nil
	}

	body, err := c.Get(ctx, downloadURL)
	if err != nil {
		return 0, false, err
	}

	directory := filepath.Dir(localPath)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return 0, false, fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}

	temporaryFile, err := os.CreateTemp(directory, ".download-*.tmp")
	if err != nil {
		return 0, false, fmt.Errorf("failed to create file in %s: %w", directory, err)
	}
	temporaryPath := temporaryFile.Name()
	_, writeErr := temporaryFile.Write(body)
	closeErr := temporaryFile.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(temporaryPath)
		return 0, false, fmt.Errorf("failed to write %s: %w", localPath, errors.Join(writeErr, closeErr))
	}
	if err := os.Chmod(temporaryPath, 0644); err != nil {
		os.Remove(temporaryPath)
		return 0, false, fmt.Errorf("failed to set permissions on %s: %w", localPath, err)
	}
	if err := os.Rename(temporaryPath, localPath); err != nil {
		os.Remove(temporaryPath)
		return 0, false, fmt.Errorf("failed to move download into %s: %w", localPath, err)
	}

	return int64(len(body)), false, nil
}

// getAttempt performs a single request.
func (c *Client) getAttempt(ctx context.Context, targetURL string) ([]byte, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %s: %w", targetURL, err)
	}
	if err := c.waitForHost(ctx, parsedURL.Host); err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("User-Agent", c.config.UserAgent)
	request.Header.Set("Accept-Encoding", "identity")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", targetURL, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 500 || response.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableHTTPError{StatusCode: response.StatusCode, URL: targetURL}
	}
	if response.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d for %s", response.StatusCode, targetURL)
	}

	maxBodyBytes := c.config.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultClientConfig().MaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", targetURL, err)
	}
	if int64(len(body)) > maxBodyBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, targetURL, maxBodyBytes)
	}

	return body, nil
}

// waitForHost enforces per-host rate limiting.
func (c *Client) waitForHost(ctx context.Context, host string) error {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if lastRequestTime, ok := c.hostTimers[host]; ok {
		elapsed := time.Since(lastRequestTime)
		if elapsed < c.config.RateLimit {
			if err := sleepContext(ctx, c.config.RateLimit-elapsed); err != nil {
				return err
			}
		}
	}

	c.hostTimers[host] = time.Now()
	return nil
}

// retryableHTTPError represents an HTTP error that should trigger a retry.
type retryableHTTPError struct {
	StatusCode int
	URL        string
}

func (e *retryableHTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// isRetryableError returns true if the error warrants a retry attempt.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpError *retryableHTTPError
	if errors.As(err, &httpError) {
		return true
	}

	var networkError net.Error
	if errors.As(err, &networkError) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
