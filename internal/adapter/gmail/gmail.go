package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/attachflow/relay/internal/adapter"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// gmailUser addresses the authenticated mailbox in API calls.
const gmailUser = "me"

// MailSource implements adapter.MailSource over the Gmail API.
type MailSource struct {
	service *gmail.Service
}

// NewMailSource creates a Gmail-backed mail source.
// client should be an authenticated http.Client with the user's credentials.
func NewMailSource(ctx context.Context, client *http.Client) (*MailSource, error) {
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail client: %w", err)
	}
	return &MailSource{service: srv}, nil
}

// Search returns up to max messages matching the Gmail search query.
func (m *MailSource) Search(ctx context.Context, query string, max int) ([]adapter.EmailMeta, error) {
	call := m.service.Users.Messages.List(gmailUser).Q(query).Context(ctx)
	if max > 0 {
		call = call.MaxResults(int64(max))
	}

	res, err := call.Do()
	if err != nil {
		return nil, classify(err, "unable to search messages")
	}

	var metas []adapter.EmailMeta
	for _, ref := range res.Messages {
		msg, err := m.service.Users.Messages.Get(gmailUser, ref.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject").
			Context(ctx).
			Do()
		if err != nil {
			return nil, classify(err, "unable to get message metadata")
		}

		meta := adapter.EmailMeta{
			ID:         msg.Id,
			ReceivedAt: time.UnixMilli(msg.InternalDate),
		}
		if msg.Payload != nil {
			for _, h := range msg.Payload.Headers {
				switch h.Name {
				case "From":
					meta.From = h.Value
				case "Subject":
					meta.Subject = h.Value
				}
			}
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// Attachments fetches all attachments of one message.
func (m *MailSource) Attachments(ctx context.Context, messageID string) ([]adapter.Attachment, error) {
	msg, err := m.service.Users.Messages.Get(gmailUser, messageID).Context(ctx).Do()
	if err != nil {
		return nil, classify(err, "unable to get message")
	}
	if msg.Payload == nil {
		return nil, nil
	}

	var atts []adapter.Attachment
	for _, part := range flattenParts(msg.Payload.Parts) {
		if part.Filename == "" || part.Body == nil {
			continue
		}

		att := adapter.Attachment{
			Name:     part.Filename,
			MIMEType: part.MimeType,
			Size:     part.Body.Size,
		}

		if part.Body.AttachmentId != "" {
			body, err := m.service.Users.Messages.Attachments.Get(gmailUser, messageID, part.Body.AttachmentId).
				Context(ctx).
				Do()
			if err != nil {
				return nil, classify(err, "unable to download attachment")
			}
			data, err := base64.URLEncoding.DecodeString(body.Data)
			if err != nil {
				return nil, fmt.Errorf("unable to decode attachment data: %w", err)
			}
			att.Data = data
			att.Size = int64(len(data))
		} else if part.Body.Data != "" {
			data, err := base64.URLEncoding.DecodeString(part.Body.Data)
			if err != nil {
				return nil, fmt.Errorf("unable to decode inline attachment: %w", err)
			}
			att.Data = data
			att.Size = int64(len(data))
		}

		atts = append(atts, att)
	}
	return atts, nil
}

// flattenParts walks the MIME tree depth-first; attachments may sit below
// multipart containers.
func flattenParts(parts []*gmail.MessagePart) []*gmail.MessagePart {
	var out []*gmail.MessagePart
	for _, p := range parts {
		out = append(out, p)
		if len(p.Parts) > 0 {
			out = append(out, flattenParts(p.Parts)...)
		}
	}
	return out
}

// classify maps googleapi errors onto the adapter sentinels.
func classify(err error, msg string) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case 404:
			return adapter.ErrNotFound
		case 429:
			return fmt.Errorf("%s: %w", msg, adapter.ErrRateLimited)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
