package monitor

import (
	"fmt"
	"time"

	"kirjastokaveri/internal/availability"
	"kirjastokaveri/internal/model"
)

// Evaluate diffs fresh entries against the target's stored state. A
// notification is attached only on an unavailable to available transition.
func Evaluate(t model.TrackedTarget, entries []model.AvailabilityEntry, checkedAt time.Time) model.AvailabilityUpdate {
	available := availability.IsAvailable(entries)
	u := model.AvailabilityUpdate{
		Target:       t,
		Available:    available,
		Entries:      entries,
		CheckedAt:    checkedAt,
		ShouldNotify: available && !t.LastKnownAvailable,
		PreferredHit: availability.SelectPreferredHit(entries, t.PreferredLibraryName),
	}
	if u.ShouldNotify {
		u.Notification = newNotification(t, u.PreferredHit, checkedAt)
	}
	return u
}

func newNotification(t model.TrackedTarget, hit *model.AvailabilityEntry, sentAt time.Time) *model.Notification {
	n := &model.Notification{
		UserID:         t.OwnerID,
		Type:           model.NotificationBookAvailable,
		Title:          t.Title + " is now available",
		Message:        Message(t.Title, hit),
		BookTitle:      t.Title,
		FinnaID:        t.ExternalRecordID,
		SentAt:         sentAt,
		DeliveryMethod: "system",
		DeliveryStatus: "sent",
	}
	if hit != nil {
		n.LibraryName = hit.Library
	}
	return n
}

// Message renders the notification text for title, naming the library and
// location of hit when known.
func Message(title string, hit *model.AvailabilityEntry) string {
	if hit == nil {
		return fmt.Sprintf("Good news! %s is available.", title)
	}
	library := hit.Library
	if library == "" {
		library = "your library"
	}
	if hit.Location != nil && *hit.Location != "" {
		return fmt.Sprintf("Good news! %s is available at %s (%s).", title, library, *hit.Location)
	}
	return fmt.Sprintf("Good news! %s is available at %s.", title, library)
}
