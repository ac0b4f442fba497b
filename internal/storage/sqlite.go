package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"kirjastokaveri/internal/model"
	"kirjastokaveri/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user and populates its ID and CreatedAt.
func (s *SQLite) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, username, full_name, is_active, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Email, u.Username, nullString(u.FullName), boolToInt(u.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	u.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// SetUserActive enables or disables a user account.
func (s *SQLite) SetUserActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// CreateUserBook inserts a list entry and populates its ID and timestamps.
// A zero UpdatedAt is replaced with the insertion time.
func (s *SQLite) CreateUserBook(ctx context.Context, b *model.UserBook) error {
	now := time.Now().UTC()
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_books (user_id, list_type, finna_id, title, author, cover_image, library_name,
		                         notify_on_available, is_available, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.UserID, string(b.ListType), b.FinnaID, b.Title, nullString(b.Author), nullString(b.CoverImage),
		nullString(b.LibraryName), boolToInt(b.NotifyOnAvailable), boolToInt(b.IsAvailable),
		now.Format(timeLayout), b.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert user book: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	b.ID = id
	b.CreatedAt, _ = time.Parse(timeLayout, now.Format(timeLayout))
	b.UpdatedAt, _ = time.Parse(timeLayout, b.UpdatedAt.UTC().Format(timeLayout))
	return nil
}

// GetUserBook returns a single list entry by its ID.
func (s *SQLite) GetUserBook(ctx context.Context, id int64) (*model.UserBook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, list_type, finna_id, title, author, cover_image, library_name,
		        notify_on_available, is_available, last_availability_check, availability_data,
		        created_at, updated_at
		 FROM user_books WHERE id = ?`, id,
	)
	return scanUserBook(row)
}

// LoadTrackedTargets returns up to batchSize wishlist entries with
// notifications enabled whose owners are active, most recently updated first.
func (s *SQLite) LoadTrackedTargets(ctx context.Context, batchSize int) ([]model.TrackedTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ub.id, ub.user_id, ub.finna_id, ub.title, ub.is_available, ub.library_name
		 FROM user_books ub
		 JOIN users u ON u.id = ub.user_id
		 WHERE u.is_active = 1
		   AND ub.list_type = ?
		   AND ub.notify_on_available = 1
		 ORDER BY ub.updated_at DESC, ub.id DESC
		 LIMIT ?`,
		string(model.ListWishlist), batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query tracked targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var targets []model.TrackedTarget
	for rows.Next() {
		var t model.TrackedTarget
		var available int
		var library sql.NullString
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.ExternalRecordID, &t.Title, &available, &library); err != nil {
			return nil, fmt.Errorf("scan tracked target: %w", err)
		}
		t.LastKnownAvailable = available == 1
		t.PreferredLibraryName = library.String
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// PersistAvailabilityUpdates stores the outcome of a monitor run in one
// transaction: availability flags, snapshots, and any notifications.
// Updates for rows that no longer exist are skipped.
func (s *SQLite) PersistAvailabilityUpdates(ctx context.Context, updates []model.AvailabilityUpdate) (int, int, error) {
	if len(updates) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var updated, notified int
	for _, u := range updates {
		checkedAt := u.CheckedAt.UTC()
		data, err := json.Marshal(model.AvailabilitySnapshot{Items: u.Entries, CheckedAt: checkedAt})
		if err != nil {
			return 0, 0, fmt.Errorf("encode availability for item %d: %w", u.Target.ID, err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE user_books SET is_available = ?, last_availability_check = ?, availability_data = ?
			 WHERE id = ?`,
			boolToInt(u.Available), checkedAt.Format(timeLayout), string(data), u.Target.ID,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("update item %d: %w", u.Target.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			continue
		}
		updated++

		if u.Notification != nil {
			if err := insertNotification(ctx, tx, u.Notification); err != nil {
				return 0, 0, err
			}
			notified++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return updated, notified, nil
}

func insertNotification(ctx context.Context, tx *sql.Tx, n *model.Notification) error {
	now := time.Now().UTC().Format(timeLayout)
	sentAt := n.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (user_id, notification_type, title, message, book_title, library_name,
		                            finna_id, sent_at, read, delivery_method, delivery_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.UserID, string(n.Type), n.Title, n.Message, nullString(n.BookTitle), nullString(n.LibraryName),
		nullString(n.FinnaID), sentAt.UTC().Format(timeLayout), boolToInt(n.Read),
		n.DeliveryMethod, n.DeliveryStatus, now,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	n.ID = id
	n.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *SQLite) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]model.Notification, error) {
	query := `SELECT id, user_id, notification_type, title, message, book_title, library_name, finna_id,
	                 sent_at, read, delivery_method, delivery_status, created_at
	          FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var typ, sentAt, created string
		var bookTitle, library, finnaID sql.NullString
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &bookTitle, &library, &finnaID,
			&sentAt, &read, &n.DeliveryMethod, &n.DeliveryStatus, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		n.BookTitle = bookTitle.String
		n.LibraryName = library.String
		n.FinnaID = finnaID.String
		n.Read = read == 1
		n.SentAt, _ = time.Parse(timeLayout, sentAt)
		n.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, n)
	}
	return out, rows.Err()
}

// CreateLibrary inserts a library location and populates its ID.
func (s *SQLite) CreateLibrary(ctx context.Context, l *model.Library) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO libraries (name, city, address, latitude, longitude, library_system, is_active, external_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Name, nullString(l.City), nullString(l.Address), nullFloat(l.Latitude), nullFloat(l.Longitude),
		nullString(l.LibrarySystem), boolToInt(l.IsActive), nullString(l.ExternalID),
	)
	if err != nil {
		return fmt.Errorf("insert library: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	l.ID = id
	return nil
}

// ListLibraries returns active libraries, optionally restricted to cities
// containing the given text.
func (s *SQLite) ListLibraries(ctx context.Context, city string) ([]model.Library, error) {
	query := `SELECT id, name, city, address, latitude, longitude, library_system, is_active, external_id
	          FROM libraries WHERE is_active = 1`
	var args []any
	if c := strings.TrimSpace(city); c != "" {
		query += ` AND city LIKE ?`
		args = append(args, "%"+c+"%")
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query libraries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Library
	for rows.Next() {
		var l model.Library
		var cityCol, address, system, external sql.NullString
		var lat, lon sql.NullFloat64
		var active int
		if err := rows.Scan(&l.ID, &l.Name, &cityCol, &address, &lat, &lon, &system, &active, &external); err != nil {
			return nil, fmt.Errorf("scan library: %w", err)
		}
		l.City = cityCol.String
		l.Address = address.String
		l.LibrarySystem = system.String
		l.ExternalID = external.String
		l.IsActive = active == 1
		if lat.Valid {
			l.Latitude = &lat.Float64
		}
		if lon.Valid {
			l.Longitude = &lon.Float64
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// FindLibraryByNameFragment returns the coordinates of the first active,
// geocoded library whose name, city, or address contains fragment.
func (s *SQLite) FindLibraryByNameFragment(ctx context.Context, fragment string) (float64, float64, bool, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return 0, 0, false, nil
	}
	pattern := "%" + fragment + "%"
	var lat, lon float64
	err := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude FROM libraries
		 WHERE is_active = 1
		   AND latitude IS NOT NULL AND longitude IS NOT NULL
		   AND (name LIKE ? OR city LIKE ? OR address LIKE ?)
		 ORDER BY id LIMIT 1`,
		pattern, pattern, pattern,
	).Scan(&lat, &lon)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("find library %q: %w", fragment, err)
	}
	return lat, lon, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUserBook(row scannable) (*model.UserBook, error) {
	var b model.UserBook
	var listType, created, updated string
	var author, cover, library, lastCheck, data sql.NullString
	var notify, available int
	err := row.Scan(&b.ID, &b.UserID, &listType, &b.FinnaID, &b.Title, &author, &cover, &library,
		&notify, &available, &lastCheck, &data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user book: %w", err)
	}
	b.ListType = model.ListType(listType)
	b.Author = author.String
	b.CoverImage = cover.String
	b.LibraryName = library.String
	b.NotifyOnAvailable = notify == 1
	b.IsAvailable = available == 1
	if lastCheck.Valid {
		t, _ := time.Parse(timeLayout, lastCheck.String)
		b.LastAvailabilityCheck = &t
	}
	if data.Valid && data.String != "" {
		var snap model.AvailabilitySnapshot
		if err := json.Unmarshal([]byte(data.String), &snap); err != nil {
			return nil, fmt.Errorf("decode availability data: %w", err)
		}
		b.AvailabilityData = &snap
	}
	b.CreatedAt, _ = time.Parse(timeLayout, created)
	b.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &b, nil
}
