// Package model defines the domain types used across the application.
package model

import "time"

// ListType identifies which of a user's book lists an entry belongs to.
type ListType string

// Supported list types.
const (
	ListWishlist  ListType = "wishlist"
	ListReading   ListType = "reading"
	ListCompleted ListType = "completed"
	ListReserved  ListType = "reserved"
)

// User is the owner of book lists. Only active users are monitored.
type User struct {
	ID        int64
	Email     string
	Username  string
	FullName  string
	IsActive  bool
	CreatedAt time.Time
}

// UserBook is one entry in a user's book lists.
type UserBook struct {
	ID                    int64
	UserID                int64
	ListType              ListType
	FinnaID               string
	Title                 string
	Author                string
	CoverImage            string
	LibraryName           string
	NotifyOnAvailable     bool
	IsAvailable           bool
	LastAvailabilityCheck *time.Time
	AvailabilityData      *AvailabilitySnapshot
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AvailabilitySnapshot is the stored result of the latest availability check.
type AvailabilitySnapshot struct {
	Items     []AvailabilityEntry `json:"items"`
	CheckedAt time.Time           `json:"checked_at"`
}

// TrackedTarget is a read-only projection of a wishlist entry for one monitor run.
type TrackedTarget struct {
	ID                   int64
	OwnerID              int64
	ExternalRecordID     string
	Title                string
	LastKnownAvailable   bool
	PreferredLibraryName string
}

// AvailabilityEntry is one physical holding reported by the catalog.
type AvailabilityEntry struct {
	Library        string   `json:"library"`
	Location       *string  `json:"location"`
	Status         string   `json:"status"`
	URL            string   `json:"url"`
	DistanceKm     *float64 `json:"distance_km"`
	AvailableCount int      `json:"available_count"`
	TotalCount     int      `json:"total_count"`
	CallNumber     *string  `json:"call_number"`
}

// AvailabilityResponse is the availability of one record across libraries.
type AvailabilityResponse struct {
	RecordID       string              `json:"record_id"`
	Items          []AvailabilityEntry `json:"items"`
	TotalAvailable int                 `json:"total_available"`
	TotalCopies    int                 `json:"total_copies"`
}

// AvailabilityUpdate is the outcome of checking one target.
type AvailabilityUpdate struct {
	Target       TrackedTarget
	Available    bool
	Entries      []AvailabilityEntry
	CheckedAt    time.Time
	ShouldNotify bool
	PreferredHit *AvailabilityEntry
	// Notification is set iff ShouldNotify and is stored in the same
	// transaction as the availability flag.
	Notification *Notification
}

// NotificationType classifies a notification record.
type NotificationType string

// Supported notification types.
const (
	NotificationBookAvailable NotificationType = "book_available"
)

// Notification is a persisted message for later retrieval by the user.
type Notification struct {
	ID             int64
	UserID         int64
	Type           NotificationType
	Title          string
	Message        string
	BookTitle      string
	LibraryName    string
	FinnaID        string
	SentAt         time.Time
	Read           bool
	DeliveryMethod string
	DeliveryStatus string
	CreatedAt      time.Time
}

// Library is a geocoded library location.
type Library struct {
	ID            int64
	Name          string
	City          string
	Address       string
	Latitude      *float64
	Longitude     *float64
	LibrarySystem string
	IsActive      bool
	ExternalID    string
}

// LibraryDistance pairs a library with its distance from a point.
type LibraryDistance struct {
	Library    Library
	DistanceKm *float64
}

// SearchRecord is a single catalog search hit.
type SearchRecord struct {
	RecordID  string   `json:"record_id"`
	Title     *string  `json:"title"`
	Authors   []string `json:"authors"`
	Year      *string  `json:"year"`
	CoverURL  *string  `json:"cover_url"`
	Buildings []string `json:"buildings"`
	ISBNs     []string `json:"isbns"`
}

// FacetBucket is one value of a search facet with its hit count.
type FacetBucket struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// SearchResponse is a normalized catalog search result.
type SearchResponse struct {
	TotalHits int                      `json:"total_hits"`
	Records   []SearchRecord           `json:"records"`
	Facets    map[string][]FacetBucket `json:"facets"`
}

// JobResult holds the counters of one monitor run.
type JobResult struct {
	RunID                string   `json:"run_id"`
	TriggeredBy          string   `json:"triggered_by"`
	ItemsChecked         int      `json:"items_checked"`
	UpdatesPersisted     int      `json:"updates_persisted"`
	NotificationsCreated int      `json:"notifications_created"`
	Errors               []string `json:"errors"`
}

// JobState describes the most recent monitor run. Values are immutable
// snapshots; a new one replaces the old at the end of each run.
type JobState struct {
	LastStartedAt       *time.Time `json:"last_started_at"`
	LastCompletedAt     *time.Time `json:"last_completed_at"`
	LastSuccessAt       *time.Time `json:"last_success_at"`
	LastErrorAt         *time.Time `json:"last_error_at"`
	LastErrorMessage    *string    `json:"last_error_message"`
	LastDurationSeconds *float64   `json:"last_duration_seconds"`
	LastResult          *JobResult `json:"last_result"`
}

// JobStatus is what status callers observe.
type JobStatus struct {
	Running bool     `json:"running"`
	State   JobState `json:"state"`
}
