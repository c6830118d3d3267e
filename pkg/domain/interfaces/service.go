package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/icsrlink/pkg/domain/model"
)

// ExportStore persists generated documents and reads them back for submission
type ExportStore interface {
	// Write stores data under name and returns its location
	Write(ctx context.Context, name string, data []byte) (string, error)

	// Read returns the content stored at a location returned by Write
	Read(ctx context.Context, location string) ([]byte, error)
}

// EventPublisher forwards history entries to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, entry *model.HistoryEntry) error
}

// Notifier informs operators about history entries that need human attention
type Notifier interface {
	Notify(ctx context.Context, entry *model.HistoryEntry) error
}

// Locker provides a mutual exclusion lock with expiry. TryLock returns acquired=false without
// error when the lock is held by someone else.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}
