package availability

import (
	"strings"

	"kirjastokaveri/internal/model"
)

// IsAvailableStatus reports whether free-text status describes a copy that
// can be borrowed now. Upstream does not publish a closed vocabulary, so
// this is a substring heuristic: "available" present, "unavailable" and
// "on loan" absent.
func IsAvailableStatus(status string) bool {
	s := strings.ToLower(status)
	return strings.Contains(s, "available") &&
		!strings.Contains(s, "unavailable") &&
		!strings.Contains(s, "on loan")
}

// IsAvailable reports whether any entry is available.
func IsAvailable(entries []model.AvailabilityEntry) bool {
	for _, e := range entries {
		if IsAvailableStatus(e.Status) {
			return true
		}
	}
	return false
}

// SelectPreferredHit picks the available entry to mention in a notification:
// one at the preferred library when there is such an entry, ranked next by
// status text. Returns nil when nothing is available.
func SelectPreferredHit(entries []model.AvailabilityEntry, preferredLibrary string) *model.AvailabilityEntry {
	preferred := strings.ToLower(preferredLibrary)

	var best *model.AvailabilityEntry
	bestMatch := false
	for i := range entries {
		e := &entries[i]
		if !IsAvailableStatus(e.Status) {
			continue
		}
		match := preferred != "" && strings.Contains(strings.ToLower(e.Library), preferred)
		if best == nil || better(match, e.Status, bestMatch, best.Status) {
			best, bestMatch = e, match
		}
	}
	if best == nil {
		return nil
	}
	hit := *best
	return &hit
}

func better(match bool, status string, bestMatch bool, bestStatus string) bool {
	if match != bestMatch {
		return match
	}
	return status > bestStatus
}
