package search

import (
	"encoding/json"
	"fmt"
	"strings"

	"kirjastokaveri/internal/jsonvalue"
	"kirjastokaveri/internal/model"
)

const finnaBaseURL = "https://www.finna.fi"

// PlaceholderCoverURL is the generic cover address used for records that
// carry no image of their own.
func PlaceholderCoverURL(recordID string) string {
	return finnaBaseURL + "/Cover/Show?id=" + recordID + "&index=0&size=medium"
}

func normalizeCoverURL(recordID, raw string) string {
	u := strings.TrimSpace(raw)
	switch {
	case u == "":
		return PlaceholderCoverURL(recordID)
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return u
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	case strings.HasPrefix(u, "/"):
		return finnaBaseURL + u
	}
	return finnaBaseURL + "/" + u
}

// needsCover reports whether a record still shows no real cover.
func needsCover(r model.SearchRecord) bool {
	if r.CoverURL == nil || *r.CoverURL == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(*r.CoverURL), PlaceholderCoverURL(r.RecordID))
}

type rawSearchResponse struct {
	Records     any `json:"records"`
	Facets      any `json:"facets"`
	TotalHits   any `json:"totalHits"`
	ResultCount any `json:"resultCount"`
}

// parseSearchResponse normalizes a catalog search document.
func parseSearchResponse(raw []byte) (*model.SearchResponse, error) {
	var doc rawSearchResponse
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	// Empty facet sets may arrive as [] rather than {}.
	records, _ := doc.Records.([]any)
	facets, _ := doc.Facets.(map[string]any)

	resp := &model.SearchResponse{
		Records: make([]model.SearchRecord, 0, len(records)),
		Facets:  make(map[string][]model.FacetBucket),
	}
	for _, r := range records {
		if m, ok := r.(map[string]any); ok {
			resp.Records = append(resp.Records, parseRecord(m))
		}
	}

	for field, v := range facets {
		buckets, _ := v.([]any)
		var parsed []model.FacetBucket
		for _, b := range buckets {
			if fb, ok := parseBucket(b); ok {
				parsed = append(parsed, fb)
			}
		}
		if len(parsed) > 0 {
			resp.Facets[field] = parsed
		}
	}

	total := doc.TotalHits
	if !jsonvalue.Truthy(total) {
		total = doc.ResultCount
	}
	resp.TotalHits, _ = jsonvalue.Int(total)
	return resp, nil
}

func parseRecord(p map[string]any) model.SearchRecord {
	rec := model.SearchRecord{
		Authors:   named(p["nonPresenterAuthors"], "name", "value"),
		Buildings: named(p["buildings"], "translated", "value"),
		ISBNs:     named(p["isbns"], "value"),
	}
	if id, ok := p["id"]; ok {
		rec.RecordID = jsonvalue.String(id)
	}
	if title, ok := p["title"].(string); ok {
		rec.Title = &title
	}
	if year := p["year"]; jsonvalue.Truthy(year) {
		y := jsonvalue.String(year)
		rec.Year = &y
	}

	var image string
	if images, ok := p["images"].([]any); ok && len(images) > 0 {
		switch img := images[0].(type) {
		case map[string]any:
			if v := jsonvalue.First(img, "master", "small"); v != nil {
				image = jsonvalue.String(v)
			}
		default:
			image = jsonvalue.String(img)
		}
	}
	cover := normalizeCoverURL(rec.RecordID, image)
	rec.CoverURL = &cover
	return rec
}

// named flattens a list of strings or objects into strings, reading object
// values from the first truthy key.
func named(v any, keys ...string) []string {
	out := []string{}
	list, _ := v.([]any)
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if n := jsonvalue.First(m, keys...); n != nil {
				out = append(out, jsonvalue.String(n))
			}
			continue
		}
		if jsonvalue.Truthy(item) {
			out = append(out, jsonvalue.String(item))
		}
	}
	return out
}

// parseBucket accepts [value, count] pairs and {value|translated, count|total}
// objects.
func parseBucket(b any) (model.FacetBucket, bool) {
	switch t := b.(type) {
	case []any:
		if len(t) < 2 {
			return model.FacetBucket{}, false
		}
		n, ok := jsonvalue.Int(t[1])
		if !ok {
			return model.FacetBucket{}, false
		}
		return model.FacetBucket{Value: jsonvalue.String(t[0]), Count: n}, true
	case map[string]any:
		value := jsonvalue.First(t, "value", "translated")
		count := jsonvalue.First(t, "count", "total")
		if value == nil || count == nil {
			return model.FacetBucket{}, false
		}
		n, ok := jsonvalue.Int(count)
		if !ok {
			return model.FacetBucket{}, false
		}
		return model.FacetBucket{Value: jsonvalue.String(value), Count: n}, true
	}
	return model.FacetBucket{}, false
}

