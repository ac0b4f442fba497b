package availability

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"kirjastokaveri/internal/model"
)

func sp(s string) *string { return &s }

const recordURL = "https://www.finna.fi/Record/helmet.1"

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []model.AvailabilityEntry
	}{
		{
			name: "record list with translated fields",
			raw: `{"records":[
				{"library":{"translated":"Oodi","value":"helmet-oodi"},"location":"Aikuisten  osasto",
				 "status":{"value":"available","translated":"Hyllyssä"},"url":"https://x/1","callnumber":"84.2"},
				{"name":"Pasila","availability":"On loan"}
			]}`,
			want: []model.AvailabilityEntry{
				{Library: "Oodi", Location: sp("Aikuisten osasto"), Status: "available", URL: "https://x/1", AvailableCount: 1, TotalCount: 1, CallNumber: sp("84.2")},
				{Library: "Pasila", Status: "On loan", TotalCount: 1},
			},
		},
		{
			name: "record call number label and entities",
			raw:  `{"records":[{"library":"Oodi","status":"Available","url":" https://x/3 ","callnumber":"Shelf:  84.2 &amp; X"}]}`,
			want: []model.AvailabilityEntry{
				{Library: "Oodi", Status: "Available", URL: "https://x/3", AvailableCount: 1, TotalCount: 1, CallNumber: sp("84.2 & X")},
			},
		},
		{
			name: "record map picks requested id",
			raw: `{"records":{
				"helmet.2":[{"library":"Other","status":"Available"}],
				"helmet.1":[{"library":"Sello","collection":"Lapset","holdingsUrl":"https://x/2","status":"Saatavana"}]
			}}`,
			want: []model.AvailabilityEntry{
				{Library: "Sello", Location: sp("Lapset"), Status: "Saatavana", URL: "https://x/2", AvailableCount: 1, TotalCount: 1, CallNumber: sp("Lapset")},
			},
		},
		{
			name: "ajax location blocks",
			raw: `{"data":{"statuses":[{
				"id":"helmet.1","availability":"available",
				"locationList":"<div class=\"groupLocation\"><a>Oodi</a> &amp; friends</div><div class=\"groupCallnumber\">Hylly: 84.2</div><div class=\"groupLocation\">__HOLDINGSSUMMARYLOCATION__</div>"
			}]}}`,
			want: []model.AvailabilityEntry{
				{Library: "Oodi & friends", Location: sp("84.2"), Status: "Available", URL: recordURL, AvailableCount: 1, TotalCount: 1, CallNumber: sp("84.2")},
			},
		},
		{
			name: "ajax status map filters other ids and keeps order",
			raw: `{"data":{"statuses":{
				"b":{"id":"helmet.1","availability":"onloan","url":"https://x/b","locationList":"<div class=\"groupLocation\">Kallio</div>"},
				"a":{"id":"helmet.9","availability":"available","locationList":"<div class=\"groupLocation\">Elsewhere</div>"},
				"c":{"availability":"ordered","locationList":"<div class=\"groupLocation\">Töölö</div>"}
			}}}`,
			want: []model.AvailabilityEntry{
				{Library: "Kallio", Status: "On Loan", URL: "https://x/b", TotalCount: 1},
				{Library: "Töölö", Status: "Ordered", URL: recordURL, TotalCount: 1},
			},
		},
		{
			name: "holdings table fallback",
			raw: `{"data":{"statuses":[{
				"availability":"available",
				"full_status":"<table class=\"holdings-status\"><tr><th>h</th></tr><tr><td>Helmet</td><td>Itäkeskus</td><td>x</td><td>Shelf:  N 84.2</td></tr><tr><td>Vantaa</td><td></td></tr><tr><td>only one</td></tr></table>"
			}]}}`,
			want: []model.AvailabilityEntry{
				{Library: "Itäkeskus", Location: sp("N 84.2"), Status: "Available", URL: recordURL, AvailableCount: 1, TotalCount: 1, CallNumber: sp("N 84.2")},
				{Library: "Vantaa", Status: "Available", URL: recordURL, AvailableCount: 1, TotalCount: 1},
			},
		},
		{
			name: "message fallback",
			raw:  `{"data":{"statuses":[{"availability":false,"availability_message":"<span>Ei saatavilla</span>"}]}}`,
			want: []model.AvailabilityEntry{
				{Library: "Ei saatavilla", Status: "Ei saatavilla", URL: recordURL, TotalCount: 1},
			},
		},
		{
			name: "status block with nothing usable",
			raw:  `{"data":{"statuses":[{"availability":null}]}}`,
			want: []model.AvailabilityEntry{
				{Library: "Unknown", Status: "Unknown", URL: recordURL, TotalCount: 1},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse("helmet.1", []byte(tt.raw))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseNeverEmpty(t *testing.T) {
	want := []model.AvailabilityEntry{{Library: "Unknown", Status: "Unknown", URL: recordURL, TotalCount: 1}}

	for _, raw := range []string{
		``,
		`not json`,
		`[]`,
		`{}`,
		`{"records":[]}`,
		`{"records":{"other":[]}}`,
		`{"records":"weird"}`,
		`{"data":null}`,
		`{"data":{"statuses":"nope"}}`,
		`{"data":{"statuses":[1,2,"x"]}}`,
	} {
		t.Run(raw, func(t *testing.T) {
			if diff := cmp.Diff(want, Parse("helmet.1", []byte(raw))); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", raw, diff)
			}
		})
	}
}

func TestParseDedupAcrossStrategies(t *testing.T) {
	// The same holding reported once as a location block and once as a
	// holdings table row.
	raw := `{"data":{"statuses":[
		{"availability":"available","locationList":"<div class=\"groupLocation\">Oodi</div><div class=\"groupCallnumber\">84.2</div>"},
		{"availability":"available","full_status":"<table class=\"holdings-status\"><tr><td>Helmet</td><td>Oodi</td><td></td><td>Call number: 84.2</td></tr></table>"}
	]}}`

	got := Parse("helmet.1", []byte(raw))
	want := []model.AvailabilityEntry{
		{Library: "Oodi", Location: sp("84.2"), Status: "Available", URL: recordURL, AvailableCount: 1, TotalCount: 1, CallNumber: sp("84.2")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildResponse(t *testing.T) {
	entries := []model.AvailabilityEntry{
		{Library: "A", Status: "Available", AvailableCount: 1, TotalCount: 1},
		{Library: "B", Status: "On Loan", TotalCount: 1},
		{Library: "C", Status: "available", AvailableCount: 1, TotalCount: 1},
	}
	got := BuildResponse("r", entries)
	if got.TotalAvailable != 2 || got.TotalCopies != 3 || got.RecordID != "r" {
		t.Errorf("BuildResponse = %+v", got)
	}
}

func TestNormalizeCallNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hylly: 84.2 WAL", "84.2 WAL"},
		{"shelf:84.2", "84.2"},
		{"CALL NUMBER:  1.2", "1.2"},
		{"Signum: A", "A"},
		{"  plain  value ", "plain value"},
		{"Hylly: Shelf: x", "Shelf: x"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeCallNumber(tt.in); got != tt.want {
			t.Errorf("normalizeCallNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTitleCase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ordered", "Ordered"},
		{"IN TRANSIT", "In Transit"},
		{"on-shelf", "On-Shelf"},
		{"ääkkönen", "Ääkkönen"},
	}
	for _, tt := range tests {
		if got := titleCase(tt.in); got != tt.want {
			t.Errorf("titleCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
