// Package availability turns catalog holdings payloads into normalized
// per-location entries.
package availability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"kirjastokaveri/internal/jsonvalue"
	"kirjastokaveri/internal/model"
)

const (
	recordURLTemplate = "https://www.finna.fi/Record/%s"
	unknown           = "Unknown"
)

var availableCountStatuses = map[string]bool{
	"available":     true,
	"saatavana":     true,
	"lainattavissa": true,
}

// payload is one of the known upstream document shapes.
type payload interface {
	entries(recordID string) []model.AvailabilityEntry
}

// recordList is {"records": [ {...}, ... ]}.
type recordList struct {
	records []map[string]any
}

// recordMap is {"records": {"<recordID>": [ {...}, ... ]}}.
type recordMap struct {
	byID map[string]json.RawMessage
}

// ajaxStatuses is the frontend's {"data": {"statuses": [...] | {...}}}.
type ajaxStatuses struct {
	statuses []map[string]any
}

// unrecognized is anything else.
type unrecognized struct{}

// Parse decodes a raw availability document into entries. It never fails:
// malformed or empty payloads yield a single "Unknown" entry. Entries are
// unique by (library, location).
func Parse(recordID string, raw []byte) []model.AvailabilityEntry {
	entries := dedupe(decode(raw).entries(recordID))
	if len(entries) == 0 {
		return []model.AvailabilityEntry{unknownEntry(recordID)}
	}
	return entries
}

// BuildResponse wraps entries with per-record totals.
func BuildResponse(recordID string, entries []model.AvailabilityEntry) model.AvailabilityResponse {
	resp := model.AvailabilityResponse{RecordID: recordID, Items: entries}
	for _, e := range entries {
		resp.TotalAvailable += e.AvailableCount
		resp.TotalCopies += e.TotalCount
	}
	return resp
}

func decode(raw []byte) payload {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return unrecognized{}
	}

	if rec, ok := top["records"]; ok {
		switch firstByte(rec) {
		case '[':
			return recordList{records: decodeObjects(rec)}
		case '{':
			var byID map[string]json.RawMessage
			if err := json.Unmarshal(rec, &byID); err == nil {
				return recordMap{byID: byID}
			}
			return unrecognized{}
		}
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(top["data"], &data); err != nil || data == nil {
		return unrecognized{}
	}
	statuses := data["statuses"]
	switch firstByte(statuses) {
	case '[':
		return ajaxStatuses{statuses: decodeObjects(statuses)}
	case '{':
		return ajaxStatuses{statuses: orderedObjectValues(statuses)}
	}
	return unrecognized{}
}

func (p recordList) entries(string) []model.AvailabilityEntry {
	out := make([]model.AvailabilityEntry, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, fromRecord(r))
	}
	return out
}

func (p recordMap) entries(recordID string) []model.AvailabilityEntry {
	raw, ok := p.byID[recordID]
	if !ok || firstByte(raw) != '[' {
		return nil
	}
	return recordList{records: decodeObjects(raw)}.entries(recordID)
}

func (p ajaxStatuses) entries(recordID string) []model.AvailabilityEntry {
	var out []model.AvailabilityEntry
	for _, s := range p.statuses {
		if id := s["id"]; jsonvalue.Truthy(id) && jsonvalue.String(id) != recordID {
			continue
		}
		out = append(out, statusEntries(recordID, s)...)
	}
	return out
}

func (unrecognized) entries(string) []model.AvailabilityEntry { return nil }

// fromRecord maps one structured holdings record. Field names vary between
// catalog versions, so each value is looked up under its known aliases.
func fromRecord(r map[string]any) model.AvailabilityEntry {
	library := unknown
	if v := translated(jsonvalue.First(r, "library", "name"), "translated", "value"); jsonvalue.Truthy(v) {
		if s := normalizeWhitespace(jsonvalue.String(v)); s != "" {
			library = s
		}
	}

	var location *string
	if v := translated(jsonvalue.First(r, "location", "collection"), "translated", "value"); jsonvalue.Truthy(v) {
		if s := normalizeWhitespace(jsonvalue.String(v)); s != "" {
			location = &s
		}
	}

	status := unknown
	if v := translated(jsonvalue.First(r, "status", "availability"), "value", "translated"); jsonvalue.Truthy(v) {
		if s := normalizeWhitespace(jsonvalue.String(v)); s != "" {
			status = s
		}
	}

	var url string
	if v := jsonvalue.First(r, "url", "holdingsUrl"); jsonvalue.Truthy(v) {
		url = normalizeWhitespace(jsonvalue.String(v))
	}

	callNumber := location
	if v := jsonvalue.First(r, "callnumber", "call_number"); jsonvalue.Truthy(v) {
		if s := normalizeCallNumber(jsonvalue.String(v)); s != "" {
			callNumber = &s
		}
	}

	e := model.AvailabilityEntry{
		Library:    library,
		Location:   location,
		Status:     status,
		URL:        url,
		TotalCount: 1,
		CallNumber: callNumber,
	}
	if availableCountStatuses[strings.ToLower(status)] {
		e.AvailableCount = 1
	}
	return e
}

// statusEntries expands one AJAX status block into entries, one per
// holding found in its embedded HTML.
func statusEntries(recordID string, s map[string]any) []model.AvailabilityEntry {
	status := normalizeStatus(s["availability"], s["availability_message"])

	holdings := parseHoldings(asString(s["locationList"]))
	if len(holdings) == 0 {
		holdings = parseHoldings(asString(s["full_status"]))
	}
	if len(holdings) == 0 {
		if msg := textFromHTML(asString(s["availability_message"])); msg != "" {
			holdings = []holding{{place: msg}}
		}
	}
	if len(holdings) == 0 {
		holdings = []holding{{place: unknown}}
	}

	url := fmt.Sprintf(recordURLTemplate, recordID)
	if v := s["url"]; jsonvalue.Truthy(v) {
		url = jsonvalue.String(v)
	}

	out := make([]model.AvailabilityEntry, 0, len(holdings))
	for _, h := range holdings {
		r := map[string]any{
			"library": h.place,
			"status":  status,
			"url":     url,
		}
		if h.callNumber != "" {
			r["location"] = h.callNumber
		}
		out = append(out, fromRecord(r))
	}
	return out
}

func unknownEntry(recordID string) model.AvailabilityEntry {
	return model.AvailabilityEntry{
		Library:    unknown,
		Status:     unknown,
		URL:        fmt.Sprintf(recordURLTemplate, recordID),
		TotalCount: 1,
	}
}

func dedupe(entries []model.AvailabilityEntry) []model.AvailabilityEntry {
	type key struct {
		library  string
		location string
		hasLoc   bool
	}
	seen := make(map[key]bool, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		k := key{library: e.Library}
		if e.Location != nil {
			k.location, k.hasLoc = *e.Location, true
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

// translated unwraps {"translated": ..., "value": ...} objects in the given
// preference order and normalizes strings.
func translated(v any, prefer ...string) any {
	if m, ok := v.(map[string]any); ok {
		v = jsonvalue.First(m, prefer...)
	}
	if s, ok := v.(string); ok {
		return normalizeWhitespace(s)
	}
	return v
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func firstByte(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

// decodeObjects decodes a JSON array, keeping only object elements.
func decodeObjects(raw []byte) []map[string]any {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		var m map[string]any
		if err := json.Unmarshal(it, &m); err == nil && m != nil {
			out = append(out, m)
		}
	}
	return out
}

// orderedObjectValues returns the object-valued members of a JSON object
// in document order.
func orderedObjectValues(raw []byte) []map[string]any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var out []map[string]any
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return out
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return out
		}
		var m map[string]any
		if err := json.Unmarshal(v, &m); err == nil && m != nil {
			out = append(out, m)
		}
	}
	return out
}
