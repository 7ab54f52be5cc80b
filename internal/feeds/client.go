// Package feeds implements the authenticated catalog client: fetching
// and parsing OPDS-style JSON feeds of entries, availability and typed
// acquisition links.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lectern/lectern/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "Lectern/1.0"
)

// ErrFeedShape indicates a feed that was required to hold exactly one
// ungrouped entry held something else.
var ErrFeedShape = errors.New("expected a single ungrouped feed entry")

// Client fetches and parses catalog feeds over HTTP.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new feed client.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// FetchEntry fetches a feed required to contain exactly one ungrouped
// entry and returns that entry. Borrow refreshes pass http.MethodPut.
func (c *Client) FetchEntry(ctx context.Context, uri string, creds *domain.Credentials, method string) (domain.CatalogEntry, error) {
	if method == "" {
		method = http.MethodGet
	}

	feed, err := c.fetch(ctx, uri, creds, method)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	if len(feed.Groups) > 0 || len(feed.Entries) != 1 {
		return domain.CatalogEntry{}, fmt.Errorf("%w: %s has %d entries, %d groups",
			ErrFeedShape, uri, len(feed.Entries), len(feed.Groups))
	}
	return feed.Entries[0], nil
}

// FetchFeed fetches a full feed.
func (c *Client) FetchFeed(ctx context.Context, uri string, creds *domain.Credentials) (domain.Feed, error) {
	return c.fetch(ctx, uri, creds, http.MethodGet)
}

func (c *Client) fetch(ctx context.Context, uri string, creds *domain.Credentials, method string) (domain.Feed, error) {
	body, err := c.doRequest(ctx, method, uri, creds)
	if err != nil {
		return domain.Feed{}, err
	}

	var dto feedDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		c.logger.Error("feed parse error", "uri", uri, "error", err)
		return domain.Feed{}, fmt.Errorf("failed to parse feed %s: %w", uri, err)
	}

	feed, err := mapFeed(dto)
	if err != nil {
		return domain.Feed{}, fmt.Errorf("failed to map feed %s: %w", uri, err)
	}
	return feed, nil
}

// doRequest performs an authenticated HTTP request
func (c *Client) doRequest(ctx context.Context, method, uri string, creds *domain.Credentials) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if creds != nil {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	c.logger.Debug("feed request", "method", method, "uri", uri)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("feed request failed", "uri", uri, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		feedErr := &domain.FeedError{URI: uri, Status: resp.StatusCode}
		if strings.Contains(resp.Header.Get("Content-Type"), "problem+json") {
			var problem domain.ProblemDetail
			if json.Unmarshal(body, &problem) == nil {
				feedErr.Problem = &problem
			}
		}
		c.logger.Error("feed request error", "uri", uri, "status", resp.StatusCode)
		return nil, feedErr
	}

	return body, nil
}
