package availability

import (
	"html"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	nethtml "golang.org/x/net/html"
)

const placeholderToken = "__HOLDINGSSUMMARYLOCATION__"

var statusMapping = map[string]string{
	"available":   "Available",
	"unavailable": "On Loan",
	"onloan":      "On Loan",
}

var callNumberPrefixes = []string{"Hylly:", "Shelf:", "Call number:", "Signum:"}

// holding is one (place, call number) pair found in holdings HTML.
type holding struct {
	place      string
	callNumber string
}

// normalizeWhitespace decodes entities and collapses runs of whitespace,
// including non-breaking spaces, to single spaces.
func normalizeWhitespace(s string) string {
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// textFromHTML returns the visible text of an HTML fragment with text
// nodes joined by single spaces.
func textFromHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return normalizeWhitespace(s)
	}
	return selectionText(doc.Selection)
}

func selectionText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *nethtml.Node)
	walk = func(n *nethtml.Node) {
		if n.Type == nethtml.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return normalizeWhitespace(strings.Join(parts, " "))
}

// normalizeCallNumber strips one known shelf label prefix.
func normalizeCallNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, p := range callNumberPrefixes {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	return normalizeWhitespace(s)
}

// parseHoldings extracts holdings from location blocks, falling back to a
// holdings status table read by column position.
func parseHoldings(fragment string) []holding {
	if fragment == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil
	}

	var out []holding
	seen := make(map[holding]bool)
	add := func(h holding) {
		if seen[h] {
			return
		}
		seen[h] = true
		out = append(out, h)
	}

	doc.Find("div.groupLocation").Each(func(_ int, loc *goquery.Selection) {
		place := selectionText(loc)
		if place == "" || strings.Contains(place, placeholderToken) {
			return
		}
		call := selectionText(loc.NextAllFiltered("div.groupCallnumber").First())
		add(holding{place: place, callNumber: normalizeCallNumber(call)})
	})
	if len(out) > 0 {
		return out
	}

	doc.Find("table.holdings-status tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, selectionText(td))
		})
		if len(cells) < 2 {
			return
		}
		place := cells[1]
		if place == "" {
			place = cells[0]
		}
		var call string
		if len(cells) > 3 {
			call = normalizeCallNumber(cells[3])
		}
		if place == "" && call == "" {
			return
		}
		add(holding{place: place, callNumber: call})
	})
	return out
}

// normalizeStatus maps the AJAX availability value to display text. Non
// string values fall back to the availability message.
func normalizeStatus(availability any, message any) string {
	if s, ok := availability.(string); ok {
		if mapped, ok := statusMapping[strings.ToLower(s)]; ok {
			return mapped
		}
		return normalizeWhitespace(titleCase(s))
	}
	if text := textFromHTML(asString(message)); text != "" {
		return text
	}
	return unknown
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				r = unicode.ToLower(r)
			} else {
				r = unicode.ToUpper(r)
			}
			prevLetter = true
		} else {
			prevLetter = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
