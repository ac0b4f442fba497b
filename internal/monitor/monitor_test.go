package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"kirjastokaveri/internal/cache"
	"kirjastokaveri/internal/model"
	"kirjastokaveri/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sp(s string) *string { return &s }

type fakeCatalog struct {
	mu      sync.Mutex
	docs    map[string]string
	errs    map[string]error
	calls   int
	started chan struct{}
	release chan struct{}
}

func (f *fakeCatalog) Availability(ctx context.Context, recordID string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[recordID]; err != nil {
		return nil, err
	}
	return json.RawMessage(f.docs[recordID]), nil
}

type fakeStore struct {
	mu         sync.Mutex
	targets    []model.TrackedTarget
	loadErr    error
	persistErr error
	persisted  []model.AvailabilityUpdate
}

func (f *fakeStore) LoadTrackedTargets(_ context.Context, batchSize int) ([]model.TrackedTarget, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if len(f.targets) > batchSize {
		return f.targets[:batchSize], nil
	}
	return f.targets, nil
}

func (f *fakeStore) PersistAvailabilityUpdates(_ context.Context, updates []model.AvailabilityUpdate) (int, int, error) {
	if f.persistErr != nil {
		return 0, 0, f.persistErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted = append(f.persisted, updates...)
	notified := 0
	for _, u := range updates {
		if u.Notification != nil {
			notified++
		}
	}
	return len(updates), notified, nil
}

const (
	availableDoc = `[{"library":"Oodi","status":"Available"},{"library":"Pasila","status":"On Loan"}]`
	onLoanDoc    = `[{"library":"Oodi","status":"On Loan"}]`
)

func TestEvaluate(t *testing.T) {
	checkedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	available := []model.AvailabilityEntry{{Library: "Oodi", Status: "Available"}}
	onLoan := []model.AvailabilityEntry{{Library: "Oodi", Status: "On Loan"}}

	tests := []struct {
		name       string
		before     bool
		entries    []model.AvailabilityEntry
		wantAvail  bool
		wantNotify bool
	}{
		{"becomes available", false, available, true, true},
		{"stays available", true, available, true, false},
		{"becomes unavailable", true, onLoan, false, false},
		{"stays unavailable", false, onLoan, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := model.TrackedTarget{ID: 1, OwnerID: 7, ExternalRecordID: "helmet.1", Title: "Kalevala", LastKnownAvailable: tt.before}
			u := Evaluate(target, tt.entries, checkedAt)
			if u.Available != tt.wantAvail {
				t.Errorf("Available = %v, want %v", u.Available, tt.wantAvail)
			}
			if u.ShouldNotify != tt.wantNotify {
				t.Errorf("ShouldNotify = %v, want %v", u.ShouldNotify, tt.wantNotify)
			}
			if (u.Notification != nil) != tt.wantNotify {
				t.Errorf("Notification = %+v, want present=%v", u.Notification, tt.wantNotify)
			}
			if !u.CheckedAt.Equal(checkedAt) {
				t.Errorf("CheckedAt = %v, want %v", u.CheckedAt, checkedAt)
			}
		})
	}
}

func TestEvaluateNotification(t *testing.T) {
	checkedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	target := model.TrackedTarget{
		ID:                   3,
		OwnerID:              7,
		ExternalRecordID:     "helmet.1",
		Title:                "Kalevala",
		PreferredLibraryName: "pasila",
	}
	entries := []model.AvailabilityEntry{
		{Library: "Oodi", Status: "Available"},
		{Library: "Pasila", Location: sp("Aikuisten osasto"), Status: "Available"},
	}

	u := Evaluate(target, entries, checkedAt)

	want := &model.Notification{
		UserID:         7,
		Type:           model.NotificationBookAvailable,
		Title:          "Kalevala is now available",
		Message:        "Good news! Kalevala is available at Pasila (Aikuisten osasto).",
		BookTitle:      "Kalevala",
		LibraryName:    "Pasila",
		FinnaID:        "helmet.1",
		SentAt:         checkedAt,
		DeliveryMethod: "system",
		DeliveryStatus: "sent",
	}
	if diff := cmp.Diff(want, u.Notification); diff != "" {
		t.Errorf("notification mismatch (-want +got):\n%s", diff)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		hit  *model.AvailabilityEntry
		want string
	}{
		{"no hit", nil, "Good news! Kalevala is available."},
		{"library", &model.AvailabilityEntry{Library: "Oodi"}, "Good news! Kalevala is available at Oodi."},
		{"library and location", &model.AvailabilityEntry{Library: "Oodi", Location: sp("84.2")}, "Good news! Kalevala is available at Oodi (84.2)."},
		{"empty location", &model.AvailabilityEntry{Library: "Oodi", Location: sp("")}, "Good news! Kalevala is available at Oodi."},
		{"unnamed library", &model.AvailabilityEntry{}, "Good news! Kalevala is available at your library."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message("Kalevala", tt.hit); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunMutualExclusion(t *testing.T) {
	cat := &fakeCatalog{
		docs:    map[string]string{"a": availableDoc},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	store := &fakeStore{targets: []model.TrackedTarget{{ID: 1, ExternalRecordID: "a", Title: "A"}}}
	m := New(store, cat, nil, Config{BatchSize: 10, Concurrency: 2}, discardLogger())

	done := make(chan error, 1)
	go func() {
		_, err := m.Run(context.Background(), "first")
		done <- err
	}()
	<-cat.started

	if !m.Status().Running {
		t.Error("Status().Running = false during a run")
	}
	if _, err := m.Run(context.Background(), "second"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run error = %v, want ErrAlreadyRunning", err)
	}

	close(cat.release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if m.Status().Running {
		t.Error("Status().Running = true after the run finished")
	}
	if cat.calls != 1 {
		t.Errorf("catalog calls = %d, want 1", cat.calls)
	}
}

func TestRunPartialFailure(t *testing.T) {
	cat := &fakeCatalog{
		docs: map[string]string{"a": availableDoc, "c": onLoanDoc},
		errs: map[string]error{"b": errors.New("connection reset")},
	}
	store := &fakeStore{targets: []model.TrackedTarget{
		{ID: 1, OwnerID: 1, ExternalRecordID: "a", Title: "A"},
		{ID: 2, OwnerID: 1, ExternalRecordID: "b", Title: "B"},
		{ID: 3, OwnerID: 1, ExternalRecordID: "c", Title: "C"},
	}}
	m := New(store, cat, nil, Config{BatchSize: 10, Concurrency: 3}, discardLogger())

	res, err := m.Run(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := &model.JobResult{
		RunID:                res.RunID,
		TriggeredBy:          "manual",
		ItemsChecked:         3,
		UpdatesPersisted:     2,
		NotificationsCreated: 1,
		Errors:               []string{"Failed to fetch availability for b: connection reset"},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if res.RunID == "" {
		t.Error("RunID is empty")
	}

	st := m.Status().State
	if st.LastSuccessAt == nil || st.LastResult == nil {
		t.Fatalf("state not updated after success: %+v", st)
	}
	if diff := cmp.Diff(res, st.LastResult); diff != "" {
		t.Errorf("LastResult mismatch (-want +got):\n%s", diff)
	}
	if st.LastErrorMessage != nil {
		t.Errorf("LastErrorMessage = %q, want nil", *st.LastErrorMessage)
	}
}

func TestRunNoTargets(t *testing.T) {
	m := New(&fakeStore{}, &fakeCatalog{}, nil, Config{}, discardLogger())
	res, err := m.Run(context.Background(), "scheduler")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ItemsChecked != 0 || res.UpdatesPersisted != 0 || len(res.Errors) != 0 {
		t.Errorf("Run() = %+v, want empty result", res)
	}
}

func TestRunFailureKeepsPreviousResult(t *testing.T) {
	store := &fakeStore{targets: []model.TrackedTarget{{ID: 1, ExternalRecordID: "a", Title: "A"}}}
	cat := &fakeCatalog{docs: map[string]string{"a": onLoanDoc}}
	m := New(store, cat, nil, Config{BatchSize: 10}, discardLogger())

	first, err := m.Run(context.Background(), "manual")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	store.loadErr = errors.New("database is locked")
	if _, err := m.Run(context.Background(), "scheduler"); err == nil {
		t.Fatal("second Run: expected error")
	}

	st := m.Status()
	if st.Running {
		t.Error("run-lock still held after failure")
	}
	if st.State.LastErrorMessage == nil || !strings.Contains(*st.State.LastErrorMessage, "database is locked") {
		t.Errorf("LastErrorMessage = %v, want it to mention the cause", st.State.LastErrorMessage)
	}
	if st.State.LastErrorAt == nil {
		t.Error("LastErrorAt is nil")
	}
	if diff := cmp.Diff(first, st.State.LastResult); diff != "" {
		t.Errorf("LastResult changed on failure (-want +got):\n%s", diff)
	}

	store.loadErr = nil
	if _, err := m.Run(context.Background(), "manual"); err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if m.Status().State.LastErrorMessage != nil {
		t.Error("LastErrorMessage not cleared by a successful run")
	}
}

func TestRunPersistFailure(t *testing.T) {
	store := &fakeStore{
		targets:    []model.TrackedTarget{{ID: 1, ExternalRecordID: "a", Title: "A"}},
		persistErr: errors.New("disk full"),
	}
	m := New(store, &fakeCatalog{docs: map[string]string{"a": availableDoc}}, nil, Config{}, discardLogger())

	if _, err := m.Run(context.Background(), "manual"); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Run error = %v, want persist failure", err)
	}
	if m.Status().State.LastResult != nil {
		t.Error("LastResult set by a failed run")
	}
}

func TestRunWritesThroughCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	store := &fakeStore{targets: []model.TrackedTarget{{ID: 1, ExternalRecordID: "a", Title: "A"}}}
	m := New(store, &fakeCatalog{docs: map[string]string{"a": availableDoc}}, c, Config{CacheTTL: time.Hour}, discardLogger())

	if _, err := m.Run(ctx, "manual"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	v, ok, err := c.Get(ctx, cache.AvailabilityKey("a", nil, nil))
	if err != nil || !ok {
		t.Fatalf("cache Get = %v, %v; want a hit", ok, err)
	}
	var got model.AvailabilityResponse
	if err := json.Unmarshal([]byte(v), &got); err != nil {
		t.Fatalf("decode cached response: %v", err)
	}
	if got.RecordID != "a" || got.TotalAvailable != 1 || len(got.Items) != 2 {
		t.Errorf("cached response = %+v", got)
	}
}

func TestRunWithSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	u := &model.User{Email: "reader@example.com", Username: "reader", IsActive: true}
	if err := db.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	b := &model.UserBook{
		UserID:            u.ID,
		ListType:          model.ListWishlist,
		FinnaID:           "123",
		Title:             "Tuntematon sotilas",
		LibraryName:       "Oodi",
		NotifyOnAvailable: true,
	}
	if err := db.CreateUserBook(ctx, b); err != nil {
		t.Fatalf("create user book: %v", err)
	}

	m := New(db, &fakeCatalog{docs: map[string]string{"123": availableDoc}}, nil, Config{BatchSize: 50, Concurrency: 5}, discardLogger())

	res, err := m.Run(ctx, "manual")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ItemsChecked != 1 || res.UpdatesPersisted != 1 || res.NotificationsCreated != 1 {
		t.Errorf("first run = %+v", res)
	}

	got, err := db.GetUserBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("get user book: %v", err)
	}
	if !got.IsAvailable || got.LastAvailabilityCheck == nil {
		t.Errorf("book after run = %+v, want available and checked", got)
	}

	notes, err := db.ListNotifications(ctx, u.ID, false, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}
	if want := "Good news! Tuntematon sotilas is available at Oodi."; notes[0].Message != want {
		t.Errorf("Message = %q, want %q", notes[0].Message, want)
	}
	if notes[0].LibraryName != "Oodi" {
		t.Errorf("LibraryName = %q, want Oodi", notes[0].LibraryName)
	}

	res, err = m.Run(ctx, "manual")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.NotificationsCreated != 0 {
		t.Errorf("second run notifications = %d, want 0", res.NotificationsCreated)
	}
	notes, _ = db.ListNotifications(ctx, u.ID, false, 10)
	if len(notes) != 1 {
		t.Errorf("notifications after second run = %d, want 1", len(notes))
	}
}
