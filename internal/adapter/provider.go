package adapter

import (
	"context"
)

// MailProvider returns a MailSource authenticated for a specific user.
type MailProvider interface {
	GetMailSource(ctx context.Context, userID string) (MailSource, error)
}

// StorageProvider returns a StorageSink authenticated for a specific user.
type StorageProvider interface {
	GetStorageSink(ctx context.Context, userID string) (StorageSink, error)
}
