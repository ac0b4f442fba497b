package bot

import (
	"fmt"
	"strings"
	"time"

	"kirjastokaveri/internal/model"
)

const timeFormat = "2006-01-02 15:04 UTC"

// FormatStatus formats the monitor status for display.
func FormatStatus(st model.JobStatus) string {
	var b strings.Builder
	if st.Running {
		b.WriteString("Availability monitor: running\n")
	} else {
		b.WriteString("Availability monitor: idle\n")
	}

	s := st.State
	if s.LastStartedAt == nil {
		b.WriteString("\nNo runs yet.")
		return b.String()
	}
	fmt.Fprintf(&b, "\nLast started: %s\n", formatTime(s.LastStartedAt))
	if s.LastCompletedAt != nil {
		fmt.Fprintf(&b, "Last completed: %s", formatTime(s.LastCompletedAt))
		if s.LastDurationSeconds != nil {
			fmt.Fprintf(&b, " (%.1fs)", *s.LastDurationSeconds)
		}
		b.WriteString("\n")
	}
	if s.LastSuccessAt != nil {
		fmt.Fprintf(&b, "Last success: %s\n", formatTime(s.LastSuccessAt))
	}
	if s.LastErrorAt != nil && s.LastErrorMessage != nil {
		fmt.Fprintf(&b, "Last error: %s\n  %s\n", formatTime(s.LastErrorAt), *s.LastErrorMessage)
	}
	if s.LastResult != nil {
		b.WriteString("\n")
		b.WriteString(FormatJobResult(s.LastResult))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatJobResult formats the counters of one monitor run.
func FormatJobResult(r *model.JobResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s)\n", shortID(r.RunID), r.TriggeredBy)
	fmt.Fprintf(&b, "Checked: %d\nUpdated: %d\nNotifications: %d", r.ItemsChecked, r.UpdatesPersisted, r.NotificationsCreated)
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors: %d", len(r.Errors))
		for i, e := range r.Errors {
			if i == 3 {
				fmt.Fprintf(&b, "\n  ...and %d more", len(r.Errors)-i)
				break
			}
			fmt.Fprintf(&b, "\n  %s", e)
		}
	}
	return b.String()
}

// FormatSearchResults formats up to limit search hits.
func FormatSearchResults(query string, resp *model.SearchResponse, limit int) string {
	if len(resp.Records) == 0 {
		return fmt.Sprintf("No results for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s) for %q:\n", resp.TotalHits, query)
	for i, r := range resp.Records {
		if i == limit {
			break
		}
		title := "(untitled)"
		if r.Title != nil && *r.Title != "" {
			title = *r.Title
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, title)
		if r.Year != nil {
			fmt.Fprintf(&b, " (%s)", *r.Year)
		}
		if len(r.Authors) > 0 {
			fmt.Fprintf(&b, "\n   %s", strings.Join(r.Authors, "; "))
		}
		fmt.Fprintf(&b, "\n   id: %s", r.RecordID)
	}
	return b.String()
}

// FormatAvailability formats per-library holdings of one record.
func FormatAvailability(resp *model.AvailabilityResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Availability for %s: %d of %d copies available\n", resp.RecordID, resp.TotalAvailable, resp.TotalCopies)
	for _, e := range resp.Items {
		fmt.Fprintf(&b, "\n%s", e.Library)
		if e.Location != nil && *e.Location != "" {
			fmt.Fprintf(&b, ", %s", *e.Location)
		}
		fmt.Fprintf(&b, ": %s", e.Status)
		if e.DistanceKm != nil {
			fmt.Fprintf(&b, " (%.1f km)", *e.DistanceKm)
		}
	}
	return b.String()
}

// FormatNotifications formats a user's latest notifications.
func FormatNotifications(userID int64, notes []model.Notification) string {
	if len(notes) == 0 {
		return fmt.Sprintf("No notifications for user %d.", userID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Notifications for user %d:\n", userID)
	for _, n := range notes {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Fprintf(&b, "\n%s %s  %s\n  %s", mark, n.SentAt.UTC().Format(timeFormat), n.Title, n.Message)
	}
	return b.String()
}

func formatTime(t *time.Time) string {
	return t.UTC().Format(timeFormat)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
