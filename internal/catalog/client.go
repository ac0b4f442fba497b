// Package catalog is a client for the Finna library catalog: record search,
// holdings status and record page scraping.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"kirjastokaveri/internal/filter"
	"kirjastokaveri/internal/metrics"
)

const (
	userAgent       = "Kirjastokaveri/1.0"
	maxBodyBytes    = 5 * 1024 * 1024
	facetLimit      = 25
	statusBodyLimit = 200
)

// Search types accepted by the catalog. Anything else is sent as AllFields.
const (
	TypeAllFields = "AllFields"
	TypeAuthor    = "Author"
	TypeSubject   = "Subject"
	TypeTitle     = "Title"
)

var searchFields = []string{
	"id", "title", "nonPresenterAuthors", "year", "images", "buildings", "isbns", "formats",
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned when the catalog answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	// Body holds at most the first 200 bytes of the response.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Config holds catalog endpoints and request limits.
type Config struct {
	BaseURL              string
	SearchEndpoint       string
	AvailabilityBaseURL  string
	AvailabilityEndpoint string
	Timeout              time.Duration
	// RequestsPerSecond caps outgoing requests. Zero disables limiting.
	RequestsPerSecond int
}

// Client talks to the Finna REST API and the Finna web frontend.
type Client struct {
	http    HTTPClient
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// New creates a Client with the given HTTP client.
func New(httpClient HTTPClient, cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AvailabilityBaseURL = strings.TrimRight(cfg.AvailabilityBaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{http: httpClient, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond)
	}
	return c
}

// SetMetrics attaches request counters. A nil value disables them.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// SearchParams describes one catalog search.
type SearchParams struct {
	Query   string
	Type    string
	Limit   int
	Filters filter.Filters
	Facets  []string
}

// Search runs a record search and returns the raw JSON document.
func (c *Client) Search(ctx context.Context, p SearchParams) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("lookfor", p.Query)
	q.Set("type", NormalizeSearchType(p.Type))
	q.Set("limit", strconv.Itoa(p.Limit))
	for _, f := range searchFields {
		q.Add("field[]", f)
	}
	for _, f := range p.Filters.Params() {
		q.Add("filter[]", f)
	}
	var facets int
	for _, f := range p.Facets {
		if f == "" {
			continue
		}
		q.Add("facet[]", f)
		facets++
	}
	if facets > 0 {
		q.Set("facetLimit", strconv.Itoa(facetLimit))
	}

	body, err := c.get(ctx, c.cfg.BaseURL+c.cfg.SearchEndpoint+"?"+q.Encode(), map[string]string{
		"User-Agent": userAgent,
		"Accept":     "application/json",
	})
	c.metrics.CatalogRequest("search", err)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("decode search response: invalid JSON")
	}
	return body, nil
}

// Availability fetches the holdings status document for one record.
func (c *Client) Availability(ctx context.Context, recordID string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("method", "getItemStatuses")
	q.Set("id[]", recordID)

	body, err := c.get(ctx, c.cfg.AvailabilityBaseURL+c.cfg.AvailabilityEndpoint+"?"+q.Encode(), map[string]string{
		"User-Agent":       userAgent,
		"Accept":           "application/json",
		"X-Requested-With": "XMLHttpRequest",
		"Referer":          c.recordPageURL(recordID),
	})
	c.metrics.CatalogRequest("availability", err)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("decode availability response: invalid JSON")
	}
	return body, nil
}

// FetchCoverImage scrapes the record page for its og:image and returns a
// large absolute cover URL, or "" when the page has none.
func (c *Client) FetchCoverImage(ctx context.Context, recordID string) (string, error) {
	body, err := c.get(ctx, c.recordPageURL(recordID), map[string]string{
		"User-Agent": userAgent,
		"Accept":     "text/html",
	})
	c.metrics.CatalogRequest("record_page", err)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse record page: %w", err)
	}
	content, _ := doc.Find(`meta[property="og:image"]`).First().Attr("content")
	return c.normalizeCoverURL(content), nil
}

func (c *Client) normalizeCoverURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(u, "//"):
		u = "https:" + u
	case strings.HasPrefix(u, "/"):
		u = c.cfg.AvailabilityBaseURL + u
	}
	u = strings.ReplaceAll(u, "size=small", "size=large")
	u = strings.ReplaceAll(u, "size=medium", "size=large")
	return u
}

func (c *Client) recordPageURL(recordID string) string {
	return c.cfg.AvailabilityBaseURL + "/Record/" + recordID
}

func (c *Client) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(body, statusBodyLimit)}
	}
	return body, nil
}

// truncateBody cuts b to at most n bytes without splitting a UTF-8 sequence.
func truncateBody(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n])
}

// NormalizeSearchType returns t if it is a supported search type and
// TypeAllFields otherwise.
func NormalizeSearchType(t string) string {
	switch t {
	case TypeAllFields, TypeAuthor, TypeSubject, TypeTitle:
		return t
	default:
		return TypeAllFields
	}
}
