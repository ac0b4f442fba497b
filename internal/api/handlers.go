package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"kirjastokaveri/internal/filter"
	"kirjastokaveri/internal/geo"
	"kirjastokaveri/internal/model"
	"kirjastokaveri/internal/monitor"
	"kirjastokaveri/internal/search"
)

const (
	defaultSearchLimit  = 20
	maxSearchLimit      = 50
	defaultLibraryLimit = 20
	maxLibraryLimit     = 100
	defaultMaxDistance  = 50.0
)

func (routes *Routes) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// searchBooks handles GET /search.
func (routes *Routes) searchBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	text := strings.TrimSpace(q.Get("query"))
	if text == "" {
		writeError(w, "query is required", http.StatusBadRequest)
		return
	}
	limit, err := intParam(q, "limit", defaultSearchLimit, 1, maxSearchLimit)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := routes.search.Search(r.Context(), search.Query{
		Text:  text,
		Type:  q.Get("type"),
		Limit: limit,
		Filters: filter.Filters{
			Author:  q["author"],
			Subject: q["subject"],
			Format:  q["format"],
		},
	})
	if err != nil {
		routes.writeUpstreamError(w, err, "Failed to execute Finna search")
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

// availability handles GET /search/availability/{recordID}.
func (routes *Routes) availability(w http.ResponseWriter, r *http.Request) {
	recordID, err := url.PathUnescape(chi.URLParam(r, "recordID"))
	if err != nil || strings.TrimSpace(recordID) == "" {
		writeError(w, "invalid record id", http.StatusBadRequest)
		return
	}

	lat, lon, err := location(r.URL.Query())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := routes.search.Availability(r.Context(), recordID, lat, lon)
	if err != nil {
		routes.writeUpstreamError(w, err, "Failed to retrieve availability")
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

type libraryResponse struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	City          string   `json:"city"`
	Address       string   `json:"address"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	LibrarySystem string   `json:"library_system"`
	IsActive      bool     `json:"is_active"`
	ExternalID    string   `json:"external_id"`
	DistanceKm    *float64 `json:"distance_km"`
}

func toLibraryResponse(l model.Library, distance *float64) libraryResponse {
	return libraryResponse{
		ID:            l.ID,
		Name:          l.Name,
		City:          l.City,
		Address:       l.Address,
		Latitude:      l.Latitude,
		Longitude:     l.Longitude,
		LibrarySystem: l.LibrarySystem,
		IsActive:      l.IsActive,
		ExternalID:    l.ExternalID,
		DistanceKm:    distance,
	}
}

// listLibraries handles GET /libraries. With a location, libraries within
// max_distance_km come first by distance and ungeocoded ones last.
func (routes *Routes) listLibraries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, lon, err := location(q)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := intParam(q, "limit", defaultLibraryLimit, 1, maxLibraryLimit)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	maxKm := defaultMaxDistance
	if raw := q.Get("max_distance_km"); raw != "" {
		maxKm, err = strconv.ParseFloat(raw, 64)
		if err != nil || maxKm < 0.1 || maxKm > 500 {
			writeError(w, "max_distance_km must be between 0.1 and 500", http.StatusBadRequest)
			return
		}
	}

	libs, err := routes.libraries.ListLibraries(r.Context(), q.Get("city"))
	if err != nil {
		routes.log.Error("list libraries", "error", err)
		writeError(w, "Failed to list libraries", http.StatusInternalServerError)
		return
	}

	out := make([]libraryResponse, 0, min(limit, len(libs)))
	if lat != nil && lon != nil {
		for _, ld := range geo.RankLibraries(libs, *lat, *lon, maxKm, false) {
			if len(out) == limit {
				break
			}
			out = append(out, toLibraryResponse(ld.Library, ld.DistanceKm))
		}
	} else {
		sort.SliceStable(libs, func(i, j int) bool { return libs[i].Name < libs[j].Name })
		for _, l := range libs[:min(limit, len(libs))] {
			out = append(out, toLibraryResponse(l, nil))
		}
	}
	writeJSON(w, out, http.StatusOK)
}

func (routes *Routes) monitorStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, routes.monitor.Status(), http.StatusOK)
}

// monitorRun handles POST /monitor/run. The run executes synchronously but
// is not cancelled when the caller goes away.
func (routes *Routes) monitorRun(w http.ResponseWriter, r *http.Request) {
	res, err := routes.monitor.Run(context.WithoutCancel(r.Context()), "manual")
	switch {
	case errors.Is(err, monitor.ErrAlreadyRunning):
		writeError(w, "Availability check already running", http.StatusConflict)
	case err != nil:
		routes.log.Error("manual availability run", "error", err)
		writeError(w, "Availability check failed", http.StatusInternalServerError)
	default:
		writeJSON(w, res, http.StatusOK)
	}
}

// writeUpstreamError reports catalog status errors with their own status
// and everything else as a generic 502.
func (routes *Routes) writeUpstreamError(w http.ResponseWriter, err error, generic string) {
	var ue *search.UpstreamError
	if errors.As(err, &ue) {
		writeError(w, ue.Detail, ue.StatusCode)
		return
	}
	routes.log.Error(generic, "error", err)
	writeError(w, generic, http.StatusBadGateway)
}

func intParam(q url.Values, name string, def, lo, hi int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
	}
	return n, nil
}

// location parses optional latitude and longitude. Both are nil unless
// both are given.
func location(q url.Values) (*float64, *float64, error) {
	rawLat, rawLon := q.Get("latitude"), q.Get("longitude")
	if rawLat == "" || rawLon == "" {
		return nil, nil, nil
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, nil, errors.New("latitude must be between -90 and 90")
	}
	lon, err := strconv.ParseFloat(rawLon, 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, nil, errors.New("longitude must be between -180 and 180")
	}
	return &lat, &lon, nil
}
