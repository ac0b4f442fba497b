// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"kirjastokaveri/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateUser(ctx context.Context, u *model.User) error
	SetUserActive(ctx context.Context, id int64, active bool) error

	CreateUserBook(ctx context.Context, b *model.UserBook) error
	GetUserBook(ctx context.Context, id int64) (*model.UserBook, error)

	LoadTrackedTargets(ctx context.Context, batchSize int) ([]model.TrackedTarget, error)
	PersistAvailabilityUpdates(ctx context.Context, updates []model.AvailabilityUpdate) (updated, notified int, err error)

	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]model.Notification, error)

	CreateLibrary(ctx context.Context, l *model.Library) error
	ListLibraries(ctx context.Context, city string) ([]model.Library, error)
	FindLibraryByNameFragment(ctx context.Context, fragment string) (lat, lon float64, ok bool, err error)

	Close() error
}
