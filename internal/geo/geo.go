// Package geo computes great-circle distances and ranks libraries by
// proximity.
package geo

import (
	"math"
	"slices"

	"kirjastokaveri/internal/model"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points given in
// decimal degrees.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Round3 rounds to metre precision.
func Round3(km float64) float64 {
	return math.Round(km*1000) / 1000
}

// SortByDistance orders items ascending by distance with unknown distances
// last. The sort is stable.
func SortByDistance[T any](items []T, distance func(T) *float64) {
	slices.SortStableFunc(items, func(a, b T) int {
		da, db := distance(a), distance(b)
		switch {
		case da == nil && db == nil:
			return 0
		case da == nil:
			return 1
		case db == nil:
			return -1
		case *da < *db:
			return -1
		case *da > *db:
			return 1
		}
		return 0
	})
}

// RankLibraries attaches distances from (lat, lon) to libs, drops libraries
// farther than maxKm, and sorts nearest first. Libraries without
// coordinates are kept with an unknown distance after all others unless
// requireCoords is set.
func RankLibraries(libs []model.Library, lat, lon, maxKm float64, requireCoords bool) []model.LibraryDistance {
	out := make([]model.LibraryDistance, 0, len(libs))
	for _, l := range libs {
		if l.Latitude == nil || l.Longitude == nil {
			if !requireCoords {
				out = append(out, model.LibraryDistance{Library: l})
			}
			continue
		}
		d := DistanceKm(lat, lon, *l.Latitude, *l.Longitude)
		if d > maxKm {
			continue
		}
		d = Round3(d)
		out = append(out, model.LibraryDistance{Library: l, DistanceKm: &d})
	}
	SortByDistance(out, func(ld model.LibraryDistance) *float64 { return ld.DistanceKm })
	return out
}
