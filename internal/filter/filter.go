// Package filter builds catalog facet filters for search requests.
package filter

import (
	"slices"
	"strings"
)

// Catalog facet fields, in the order filter parameters are emitted.
const (
	FieldAuthor  = "author_facet"
	FieldSubject = "genre_facet"
	FieldFormat  = "format"
)

// FacetFields are the facets requested with every search.
var FacetFields = []string{FieldAuthor, FieldSubject, FieldFormat}

// Filters narrows a search to records matching every given facet value.
type Filters struct {
	Author  []string
	Subject []string
	Format  []string
}

// IsEmpty reports whether no filter values are set.
func (f Filters) IsEmpty() bool {
	return len(f.Author) == 0 && len(f.Subject) == 0 && len(f.Format) == 0
}

// Canonical returns an order-independent representation for cache keys.
// Values are trimmed and blanks dropped, matching Params. Missing groups
// are empty lists, never null.
func (f Filters) Canonical() map[string][]string {
	return map[string][]string{
		"author":  sorted(f.Author),
		"subject": sorted(f.Subject),
		"format":  sorted(f.Format),
	}
}

// Params renders the filters as catalog filter[] values such as
// author_facet:"Tolkien, J. R. R.". Blank values are skipped.
func (f Filters) Params() []string {
	var out []string
	add := func(field string, values []string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			out = append(out, field+`:"`+strings.ReplaceAll(v, `"`, `\"`)+`"`)
		}
	}
	add(FieldAuthor, f.Author)
	add(FieldSubject, f.Subject)
	add(FieldFormat, f.Format)
	return out
}

func sorted(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// Parse splits free text into a query and facet filters. Tokens of the form
// author:value, subject:value and format:value become filters; a value may
// be double-quoted to include spaces. Everything else is the query.
func Parse(text string) (string, Filters) {
	var f Filters
	var query []string

	for _, tok := range tokenize(text) {
		key, value, ok := strings.Cut(tok, ":")
		if ok && value != "" {
			value = strings.Trim(value, `"`)
			switch strings.ToLower(key) {
			case "author":
				f.Author = append(f.Author, value)
				continue
			case "subject":
				f.Subject = append(f.Subject, value)
				continue
			case "format":
				f.Format = append(f.Format, value)
				continue
			}
		}
		query = append(query, tok)
	}
	return strings.Join(query, " "), f
}

// tokenize splits on whitespace outside double quotes.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}
