// Package memory provides in-memory mail and storage implementations used in
// DEV_MODE and tests. No external services are touched.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/attachflow/relay/internal/adapter"
	"github.com/attachflow/relay/internal/model"
	"github.com/google/uuid"
)

// Mailbox is a seeded in-memory mailbox implementing adapter.MailSource.
type Mailbox struct {
	mu          sync.RWMutex
	emails      []adapter.EmailMeta
	attachments map[string][]adapter.Attachment
	// SearchErr, when set, is returned by Search; used to exercise failure
	// paths in tests.
	SearchErr error
	// AttachmentsErr, when set, is returned by Attachments.
	AttachmentsErr error
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{attachments: make(map[string][]adapter.Attachment)}
}

// Add seeds one email with its attachments and returns the message id.
func (m *Mailbox) Add(meta adapter.EmailMeta, atts ...adapter.Attachment) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta.ID == "" {
		meta.ID = uuid.New().String()
	}
	m.emails = append(m.emails, meta)
	m.attachments[meta.ID] = atts
	return meta.ID
}

// Search matches the from: terms of the query against seeded senders. A query
// without from: terms matches everything. This approximates Gmail search
// closely enough for dev mode and tests.
func (m *Mailbox) Search(ctx context.Context, query string, max int) ([]adapter.EmailMeta, error) {
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	froms := fromTerms(query)
	var out []adapter.EmailMeta
	for _, e := range m.emails {
		if len(froms) > 0 && !matchesFrom(e.From, froms) {
			continue
		}
		out = append(out, e)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

// Attachments returns the seeded attachments for a message.
func (m *Mailbox) Attachments(ctx context.Context, messageID string) ([]adapter.Attachment, error) {
	if m.AttachmentsErr != nil {
		return nil, m.AttachmentsErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	atts, ok := m.attachments[messageID]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	return atts, nil
}

func fromTerms(query string) []string {
	var terms []string
	for _, tok := range strings.Fields(query) {
		tok = strings.Trim(tok, "()")
		if strings.HasPrefix(tok, "from:") {
			terms = append(terms, strings.TrimPrefix(tok, "from:"))
		}
	}
	return terms
}

func matchesFrom(from string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(from, t) {
			return true
		}
	}
	return false
}

// Sink is an in-memory StorageSink: folders keyed by normalized path, files
// recorded per folder.
type Sink struct {
	mu      sync.Mutex
	folders map[string]string // normalized path -> folder id
	files   map[string][]model.SavedFile
	// SaveErr, when set, is returned by SaveAttachment.
	SaveErr error
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{
		folders: make(map[string]string),
		files:   make(map[string][]model.SavedFile),
	}
}

// EnsureFolderPath creates the folder on first use and returns its id.
func (s *Sink) EnsureFolderPath(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizePath(path)
	if id, ok := s.folders[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	s.folders[key] = id
	return id, nil
}

// SaveAttachment records the attachment under the folder id.
func (s *Sink) SaveAttachment(ctx context.Context, folderID string, att adapter.Attachment) (*model.SavedFile, error) {
	if s.SaveErr != nil {
		return nil, s.SaveErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := model.SavedFile{
		OriginalName: att.Name,
		SavedName:    att.Name,
		Size:         att.Size,
		MIMEType:     att.MIMEType,
		FileID:       uuid.New().String(),
	}
	if f.Size == 0 {
		f.Size = int64(len(att.Data))
	}
	f.FileURL = fmt.Sprintf("memory://%s/%s", folderID, f.FileID)
	s.files[folderID] = append(s.files[folderID], f)
	return &f, nil
}

// Files returns the files saved under a folder, for tests.
func (s *Sink) Files(folderID string) []model.SavedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SavedFile(nil), s.files[folderID]...)
}

func normalizePath(path string) string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		s = strings.TrimSpace(s)
		if s != "" {
			segs = append(segs, s)
		}
	}
	return strings.Join(segs, "/")
}

// Provider hands out the same shared mailbox and sink for every user; dev
// mode has a single demo user anyway.
type Provider struct {
	Mailbox *Mailbox
	Sink    *Sink
}

// NewProvider creates a provider with an empty mailbox and sink.
func NewProvider() *Provider {
	return &Provider{Mailbox: NewMailbox(), Sink: NewSink()}
}

// GetMailSource implements adapter.MailProvider.
func (p *Provider) GetMailSource(ctx context.Context, userID string) (adapter.MailSource, error) {
	return p.Mailbox, nil
}

// GetStorageSink implements adapter.StorageProvider.
func (p *Provider) GetStorageSink(ctx context.Context, userID string) (adapter.StorageSink, error) {
	return p.Sink, nil
}
