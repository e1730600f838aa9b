package adapter

import (
	"context"
	"time"

	"github.com/attachflow/relay/internal/model"
)

// EmailMeta is the minimal metadata the runner needs about one matching
// email.
type EmailMeta struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Attachment is one attachment's content and metadata, fetched on demand.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
}

// MailSource defines the mail-read seam of the script runtime.
// Implementations search a mailbox and fetch attachments for a message.
type MailSource interface {
	// Search returns up to max messages matching the search query.
	Search(ctx context.Context, query string, max int) ([]EmailMeta, error)

	// Attachments fetches the attachments of one message.
	Attachments(ctx context.Context, messageID string) ([]Attachment, error)
}

// StorageSink defines the storage-write seam of the script runtime.
// This abstraction allows switching between providers (Google Drive, an
// in-memory sink for dev mode) without changing the job logic.
type StorageSink interface {
	// EnsureFolderPath resolves a slash-delimited folder path, creating
	// missing segments on demand, and returns the leaf folder id.
	EnsureFolderPath(ctx context.Context, path string) (string, error)

	// SaveAttachment uploads one attachment into the folder and returns the
	// saved-file descriptor.
	SaveAttachment(ctx context.Context, folderID string, att Attachment) (*model.SavedFile, error)
}
