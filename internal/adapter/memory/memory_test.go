package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/attachflow/relay/internal/adapter"
)

func TestMailbox_SearchByFrom(t *testing.T) {
	m := NewMailbox()
	m.Add(adapter.EmailMeta{From: "billing@acme.com", Subject: "Invoice 1"},
		adapter.Attachment{Name: "inv1.pdf", MIMEType: "application/pdf", Data: []byte("pdf")})
	m.Add(adapter.EmailMeta{From: "news@other.org", Subject: "Weekly"})

	got, err := m.Search(context.Background(), "(from:billing@acme.com) has:attachment newer_than:30d", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 1 || got[0].From != "billing@acme.com" {
		t.Errorf("expected only the acme email, got %+v", got)
	}
}

func TestMailbox_SearchRespectsMax(t *testing.T) {
	m := NewMailbox()
	for i := 0; i < 5; i++ {
		m.Add(adapter.EmailMeta{From: "a@x.com"})
	}

	got, err := m.Search(context.Background(), "from:a@x.com", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected max 3 results, got %d", len(got))
	}
}

func TestMailbox_AttachmentsUnknownMessage(t *testing.T) {
	m := NewMailbox()
	_, err := m.Attachments(context.Background(), "missing")
	if !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSink_EnsureFolderPathIsStable(t *testing.T) {
	s := NewSink()
	ctx := context.Background()

	id1, err := s.EnsureFolderPath(ctx, "/Inv/2024")
	if err != nil {
		t.Fatalf("EnsureFolderPath failed: %v", err)
	}
	id2, _ := s.EnsureFolderPath(ctx, "Inv/2024/")
	if id1 != id2 {
		t.Errorf("same normalized path must map to the same folder: %s vs %s", id1, id2)
	}
}

func TestSink_SaveAttachment(t *testing.T) {
	s := NewSink()
	ctx := context.Background()

	folderID, _ := s.EnsureFolderPath(ctx, "/Inv")
	saved, err := s.SaveAttachment(ctx, folderID, adapter.Attachment{
		Name: "a.pdf", MIMEType: "application/pdf", Data: []byte("hello"),
	})
	if err != nil {
		t.Fatalf("SaveAttachment failed: %v", err)
	}
	if saved.Size != 5 {
		t.Errorf("size should default to data length, got %d", saved.Size)
	}
	if len(s.Files(folderID)) != 1 {
		t.Errorf("expected one saved file")
	}
}
