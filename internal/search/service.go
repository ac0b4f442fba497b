// Package search serves catalog searches and per-record availability
// through the shared cache, enriching results with covers and distances.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kirjastokaveri/internal/availability"
	"kirjastokaveri/internal/cache"
	"kirjastokaveri/internal/catalog"
	"kirjastokaveri/internal/fanout"
	"kirjastokaveri/internal/filter"
	"kirjastokaveri/internal/geo"
	"kirjastokaveri/internal/metrics"
	"kirjastokaveri/internal/model"
)

// schemaVersion is embedded in search cache keys. Bump it whenever the
// cached response shape changes.
const schemaVersion = 2

// noCoverSentinel marks a record checked and found to have no cover.
const noCoverSentinel = "__no_cover__"

var (
	// ErrSearchFailed is returned when the catalog search fails for a
	// reason other than an upstream HTTP status.
	ErrSearchFailed = errors.New("failed to execute Finna search")
	// ErrAvailabilityFailed is the availability counterpart.
	ErrAvailabilityFailed = errors.New("failed to retrieve availability")
)

// UpstreamError carries a non-2xx catalog status back to the caller.
type UpstreamError struct {
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string { return e.Detail }

// Catalog is the subset of the catalog client the service needs.
type Catalog interface {
	Search(ctx context.Context, p catalog.SearchParams) (json.RawMessage, error)
	Availability(ctx context.Context, recordID string) (json.RawMessage, error)
	FetchCoverImage(ctx context.Context, recordID string) (string, error)
}

// LibraryLocator resolves a library name fragment to coordinates.
type LibraryLocator interface {
	FindLibraryByNameFragment(ctx context.Context, fragment string) (lat, lon float64, ok bool, err error)
}

// Config holds cache lifetimes and request bounds.
type Config struct {
	CacheTTL      time.Duration
	CoverCacheTTL time.Duration
	// MaxLimit caps the number of records requested upstream.
	MaxLimit int
	// CoverConcurrency bounds parallel cover lookups. Zero means unbounded.
	CoverConcurrency int
}

// Service implements cached search and availability lookups.
type Service struct {
	catalog   Catalog
	cache     cache.Backend
	libraries LibraryLocator
	cfg       Config
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a Service. libraries may be nil, which disables distance
// enrichment.
func New(cat Catalog, c cache.Backend, libraries LibraryLocator, cfg Config, log *slog.Logger) *Service {
	return &Service{
		catalog:   cat,
		cache:     c,
		libraries: libraries,
		cfg:       cfg,
		log:       log,
	}
}

// SetMetrics attaches cache counters.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Query is one search request.
type Query struct {
	Text    string
	Type    string
	Limit   int
	Filters filter.Filters
}

// Search returns catalog results for q, served from cache when possible.
func (s *Service) Search(ctx context.Context, q Query) (*model.SearchResponse, error) {
	q.Type = catalog.NormalizeSearchType(q.Type)
	if s.cfg.MaxLimit > 0 && q.Limit > s.cfg.MaxLimit {
		q.Limit = s.cfg.MaxLimit
	}

	key := searchKey(q)

	var cached model.SearchResponse
	if s.lookup(ctx, "search", key, &cached) {
		return &cached, nil
	}

	raw, err := s.catalog.Search(ctx, catalog.SearchParams{
		Query:   q.Text,
		Type:    q.Type,
		Limit:   q.Limit,
		Filters: q.Filters,
		Facets:  filter.FacetFields,
	})
	if err != nil {
		return nil, upstreamError(err, ErrSearchFailed)
	}

	resp, err := parseSearchResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	s.enrichCovers(ctx, resp)
	s.store(ctx, key, resp, s.cfg.CacheTTL)
	return resp, nil
}

// searchKey is the cache key of a normalized query. Filter order and blank
// filter values do not affect it.
func searchKey(q Query) string {
	return cache.Key("search", map[string]any{
		"query":          q.Text,
		"type":           q.Type,
		"limit":          q.Limit,
		"filters":        q.Filters.Canonical(),
		"schema_version": schemaVersion,
	})
}

// Availability returns per-location holdings for recordID. When lat and lon
// are both given, entries carry distances and are sorted nearest first.
func (s *Service) Availability(ctx context.Context, recordID string, lat, lon *float64) (*model.AvailabilityResponse, error) {
	key := cache.AvailabilityKey(recordID, lat, lon)

	var cached model.AvailabilityResponse
	if s.lookup(ctx, "availability", key, &cached) {
		return &cached, nil
	}

	raw, err := s.catalog.Availability(ctx, recordID)
	if err != nil {
		return nil, upstreamError(err, ErrAvailabilityFailed)
	}

	resp := availability.BuildResponse(recordID, availability.Parse(recordID, raw))
	if lat != nil && lon != nil {
		s.addDistances(ctx, resp.Items, *lat, *lon)
	}

	s.store(ctx, key, resp, s.cfg.CacheTTL)
	return &resp, nil
}

func upstreamError(err, fallback error) error {
	var se *catalog.StatusError
	if errors.As(err, &se) {
		return &UpstreamError{
			StatusCode: se.StatusCode,
			Detail:     "Finna upstream error: " + se.Body,
		}
	}
	return fmt.Errorf("%w: %v", fallback, err)
}

func (s *Service) enrichCovers(ctx context.Context, resp *model.SearchResponse) {
	var pending []int
	for i, r := range resp.Records {
		if needsCover(r) {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}

	results := fanout.Run(ctx, len(pending), s.cfg.CoverConcurrency, func(ctx context.Context, i int) (string, error) {
		return s.cover(ctx, resp.Records[pending[i]].RecordID)
	})
	for _, r := range results {
		rec := &resp.Records[pending[r.Index]]
		if r.Err != nil {
			s.log.Debug("cover enrichment failed", "record_id", rec.RecordID, "error", r.Err)
			continue
		}
		if r.Value != "" {
			v := r.Value
			rec.CoverURL = &v
		}
	}
}

// cover returns the cached or freshly scraped cover URL for recordID, or ""
// when the record has none. Fetch failures are not cached.
func (s *Service) cover(ctx context.Context, recordID string) (string, error) {
	key := cache.CoverKey(recordID)
	v, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache get", "key", key, "error", err)
	}
	s.metrics.CacheLookup("cover", ok)
	if ok {
		if v == noCoverSentinel {
			return "", nil
		}
		return v, nil
	}

	url, err := s.catalog.FetchCoverImage(ctx, recordID)
	if err != nil {
		s.log.Debug("fetch cover image", "record_id", recordID, "error", err)
		return "", nil
	}

	if url != "" {
		s.set(ctx, key, url, s.cfg.CoverCacheTTL)
		return url, nil
	}
	s.set(ctx, key, noCoverSentinel, s.cfg.CacheTTL)
	return "", nil
}

// addDistances resolves each entry's library against the geocoded
// registry by the first word of its name.
func (s *Service) addDistances(ctx context.Context, items []model.AvailabilityEntry, lat, lon float64) {
	if s.libraries == nil {
		return
	}

	type point struct {
		lat, lon float64
		ok       bool
	}
	resolved := make(map[string]point)

	for i := range items {
		term := searchTerm(items[i].Library)
		if term == "" {
			continue
		}
		p, seen := resolved[term]
		if !seen {
			var err error
			p.lat, p.lon, p.ok, err = s.libraries.FindLibraryByNameFragment(ctx, term)
			if err != nil {
				s.log.Error("resolve library location", "library", items[i].Library, "error", err)
				continue
			}
			resolved[term] = p
		}
		if !p.ok {
			continue
		}
		d := geo.Round3(geo.DistanceKm(lat, lon, p.lat, p.lon))
		items[i].DistanceKm = &d
	}

	geo.SortByDistance(items, func(e model.AvailabilityEntry) *float64 { return e.DistanceKm })
}

// searchTerm strips loan period details after a comma and keeps the first
// word of the library name.
func searchTerm(library string) string {
	name, _, _ := strings.Cut(library, ",")
	name = strings.TrimSpace(name)
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return name
}

// lookup decodes a cached JSON value into dst. Undecodable entries count
// as misses.
func (s *Service) lookup(ctx context.Context, kind, key string, dst any) bool {
	v, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache get", "key", key, "error", err)
	}
	if ok && v != "" {
		if err := json.Unmarshal([]byte(v), dst); err == nil {
			s.metrics.CacheLookup(kind, true)
			return true
		}
		s.log.Warn("discarding undecodable cache entry", "key", key)
	}
	s.metrics.CacheLookup(kind, false)
	return false
}

func (s *Service) store(ctx context.Context, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode cache entry", "key", key, "error", err)
		return
	}
	s.set(ctx, key, string(b), ttl)
}

func (s *Service) set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.log.Warn("cache set", "key", key, "error", err)
	}
}
