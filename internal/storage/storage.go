// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"metro_alerts/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks connection-level failures the process cannot recover from.
	ErrUnavailable = errors.New("storage unavailable")
)

// EnqueueStatus reports what Enqueue did.
type EnqueueStatus int

// Enqueue outcomes.
const (
	EnqueueCreated EnqueueStatus = iota + 1
	EnqueueDuplicate
)

func (s EnqueueStatus) String() string {
	switch s {
	case EnqueueCreated:
		return "created"
	case EnqueueDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// EnqueueResult is the outcome of Enqueue. ID is zero for duplicates.
type EnqueueResult struct {
	Status EnqueueStatus
	ID     int64
}

// AlertStore persists user interest filters.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *model.Alert) error
	GetAlert(ctx context.Context, id int64) (*model.Alert, error)
	DeleteAlert(ctx context.Context, userID string, id int64) (bool, error)
	ListAlerts(ctx context.Context, userID string) ([]model.Alert, error)
}

// PreferenceStore persists per-user settings.
type PreferenceStore interface {
	GetPreference(ctx context.Context, userID, key string) (string, bool, error)
	SetPreference(ctx context.Context, userID, key, value string) error
}

// NotificationStore is the deduplicated outbox of notifications.
type NotificationStore interface {
	Enqueue(ctx context.Context, n *model.Notification) (EnqueueResult, error)
	GetNotification(ctx context.Context, id int64) (*model.Notification, error)
	ListPending(ctx context.Context) ([]model.Notification, error)
	MarkSent(ctx context.Context, id int64) error
}

// Storage is the interface for all persistence operations.
type Storage interface {
	AlertStore
	PreferenceStore
	NotificationStore

	Close() error
}
