package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"kirjastokaveri/internal/model"
)

var _ Storage = (*SQLite)(nil)

var ignoreNotificationTS = cmpopts.IgnoreFields(model.Notification{}, "ID", "SentAt", "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createUser(t *testing.T, s *SQLite, email string, active bool) *model.User {
	t.Helper()
	u := &model.User{Email: email, Username: email, IsActive: active}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createBook(t *testing.T, s *SQLite, b model.UserBook) *model.UserBook {
	t.Helper()
	if err := s.CreateUserBook(context.Background(), &b); err != nil {
		t.Fatalf("create user book: %v", err)
	}
	return &b
}

func ptr[T any](v T) *T { return &v }

func TestUserBookCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	u := createUser(t, s, "reader@example.com", true)

	b := createBook(t, s, model.UserBook{
		UserID:            u.ID,
		ListType:          model.ListWishlist,
		FinnaID:           "helmet.123",
		Title:             "Kalevala",
		Author:            "Lönnrot, Elias",
		LibraryName:       "Oodi",
		NotifyOnAvailable: true,
	})
	if b.ID == 0 {
		t.Fatal("expected non-zero ID")
	}

	got, err := s.GetUserBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("get user book: %v", err)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("GetUserBook mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.GetUserBook(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserBook(9999) error = %v, want ErrNotFound", err)
	}
}

func TestUserBookUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	u := createUser(t, s, "a@example.com", true)

	b := model.UserBook{UserID: u.ID, ListType: model.ListWishlist, FinnaID: "x.1", Title: "T"}
	if err := s.CreateUserBook(ctx, &b); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	dup := b
	if err := s.CreateUserBook(ctx, &dup); err == nil {
		t.Error("expected unique violation for duplicate list entry")
	}
	other := model.UserBook{UserID: u.ID, ListType: model.ListReading, FinnaID: "x.1", Title: "T"}
	if err := s.CreateUserBook(ctx, &other); err != nil {
		t.Errorf("same record in another list: %v", err)
	}
}

func TestLoadTrackedTargets(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	active := createUser(t, s, "active@example.com", true)
	inactive := createUser(t, s, "inactive@example.com", false)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	older := createBook(t, s, model.UserBook{
		UserID: active.ID, ListType: model.ListWishlist, FinnaID: "r.older", Title: "Older",
		NotifyOnAvailable: true, UpdatedAt: base,
	})
	newer := createBook(t, s, model.UserBook{
		UserID: active.ID, ListType: model.ListWishlist, FinnaID: "r.newer", Title: "Newer",
		NotifyOnAvailable: true, IsAvailable: true, LibraryName: "Oodi", UpdatedAt: base.Add(time.Hour),
	})
	createBook(t, s, model.UserBook{
		UserID: active.ID, ListType: model.ListWishlist, FinnaID: "r.silent", Title: "Silent",
		NotifyOnAvailable: false, UpdatedAt: base.Add(2 * time.Hour),
	})
	createBook(t, s, model.UserBook{
		UserID: active.ID, ListType: model.ListReading, FinnaID: "r.reading", Title: "Reading",
		NotifyOnAvailable: true, UpdatedAt: base.Add(3 * time.Hour),
	})
	createBook(t, s, model.UserBook{
		UserID: inactive.ID, ListType: model.ListWishlist, FinnaID: "r.inactive", Title: "Inactive",
		NotifyOnAvailable: true, UpdatedAt: base.Add(4 * time.Hour),
	})

	tests := []struct {
		name  string
		batch int
		want  []model.TrackedTarget
	}{
		{
			name:  "all eligible, newest first",
			batch: 50,
			want: []model.TrackedTarget{
				{ID: newer.ID, OwnerID: active.ID, ExternalRecordID: "r.newer", Title: "Newer", LastKnownAvailable: true, PreferredLibraryName: "Oodi"},
				{ID: older.ID, OwnerID: active.ID, ExternalRecordID: "r.older", Title: "Older"},
			},
		},
		{
			name:  "batch size caps result",
			batch: 1,
			want: []model.TrackedTarget{
				{ID: newer.ID, OwnerID: active.ID, ExternalRecordID: "r.newer", Title: "Newer", LastKnownAvailable: true, PreferredLibraryName: "Oodi"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LoadTrackedTargets(ctx, tt.batch)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("LoadTrackedTargets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPersistAvailabilityUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	u := createUser(t, s, "p@example.com", true)
	updatedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b := createBook(t, s, model.UserBook{
		UserID: u.ID, ListType: model.ListWishlist, FinnaID: "123", Title: "Book",
		NotifyOnAvailable: true, UpdatedAt: updatedAt,
	})

	checkedAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	entries := []model.AvailabilityEntry{
		{Library: "Oodi", Status: "Available", AvailableCount: 1, TotalCount: 1, CallNumber: ptr("84.2")},
	}
	target := model.TrackedTarget{ID: b.ID, OwnerID: u.ID, ExternalRecordID: "123", Title: "Book"}
	updates := []model.AvailabilityUpdate{
		{
			Target:       target,
			Available:    true,
			Entries:      entries,
			CheckedAt:    checkedAt,
			ShouldNotify: true,
			Notification: &model.Notification{
				UserID:         u.ID,
				Type:           model.NotificationBookAvailable,
				Title:          "Book is now available",
				Message:        "Good news! Book is available at Oodi.",
				BookTitle:      "Book",
				LibraryName:    "Oodi",
				FinnaID:        "123",
				SentAt:         checkedAt,
				DeliveryMethod: "in_app",
				DeliveryStatus: "sent",
			},
		},
		{
			// Row deleted since the run started.
			Target:    model.TrackedTarget{ID: 9999, OwnerID: u.ID},
			Available: true,
			CheckedAt: checkedAt,
			Notification: &model.Notification{
				UserID: u.ID, Type: model.NotificationBookAvailable, Title: "ghost", Message: "ghost",
			},
		},
	}

	updated, notified, err := s.PersistAvailabilityUpdates(ctx, updates)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if updated != 1 || notified != 1 {
		t.Errorf("persist counts = (%d, %d), want (1, 1)", updated, notified)
	}

	got, err := s.GetUserBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsAvailable {
		t.Error("expected is_available to be set")
	}
	if got.LastAvailabilityCheck == nil || !got.LastAvailabilityCheck.Equal(checkedAt) {
		t.Errorf("last check = %v, want %v", got.LastAvailabilityCheck, checkedAt)
	}
	wantSnap := &model.AvailabilitySnapshot{Items: entries, CheckedAt: checkedAt}
	if diff := cmp.Diff(wantSnap, got.AvailabilityData); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if !got.UpdatedAt.Equal(updatedAt) {
		t.Errorf("updated_at changed to %v, want %v", got.UpdatedAt, updatedAt)
	}

	notes, err := s.ListNotifications(ctx, u.ID, true, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	wantNotes := []model.Notification{*updates[0].Notification}
	if diff := cmp.Diff(wantNotes, notes, ignoreNotificationTS); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestPersistAvailabilityUpdatesEmpty(t *testing.T) {
	s := newTestDB(t)
	updated, notified, err := s.PersistAvailabilityUpdates(context.Background(), nil)
	if err != nil || updated != 0 || notified != 0 {
		t.Errorf("got (%d, %d, %v), want (0, 0, nil)", updated, notified, err)
	}
}

func TestLibraries(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	libs := []model.Library{
		{Name: "Helsinki Central Library Oodi", City: "Helsinki", Address: "Töölönlahdenkatu 4", Latitude: ptr(60.1738), Longitude: ptr(24.9380), IsActive: true, ExternalID: "oodi"},
		{Name: "Sello Library", City: "Espoo", Address: "Leppävaarankatu 9", Latitude: ptr(60.2181), Longitude: ptr(24.8108), IsActive: true, ExternalID: "sello"},
		{Name: "Pasila Library", City: "Helsinki", IsActive: true, ExternalID: "pasila"},
		{Name: "Closed Library", City: "Helsinki", Latitude: ptr(60.0), Longitude: ptr(25.0), IsActive: false, ExternalID: "closed"},
	}
	for i := range libs {
		if err := s.CreateLibrary(ctx, &libs[i]); err != nil {
			t.Fatalf("create library: %v", err)
		}
	}

	t.Run("list by city", func(t *testing.T) {
		got, err := s.ListLibraries(ctx, "helsinki")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		want := []model.Library{libs[0], libs[2]}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ListLibraries mismatch (-want +got):\n%s", diff)
		}
	})

	tests := []struct {
		name     string
		fragment string
		wantOK   bool
		wantLat  float64
	}{
		{name: "name match", fragment: "Oodi", wantOK: true, wantLat: 60.1738},
		{name: "address match", fragment: "Leppävaarankatu", wantOK: true, wantLat: 60.2181},
		{name: "no coordinates", fragment: "Pasila", wantOK: false},
		{name: "inactive", fragment: "Closed", wantOK: false},
		{name: "empty", fragment: "  ", wantOK: false},
		{name: "city picks lowest id", fragment: "Helsinki", wantOK: true, wantLat: 60.1738},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, _, ok, err := s.FindLibraryByNameFragment(ctx, tt.fragment)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if ok != tt.wantOK || lat != tt.wantLat {
				t.Errorf("FindLibraryByNameFragment(%q) = (%v, %v), want (%v, %v)", tt.fragment, lat, ok, tt.wantLat, tt.wantOK)
			}
		})
	}
}
