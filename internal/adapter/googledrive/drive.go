package googledrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/attachflow/relay/internal/adapter"
	"github.com/attachflow/relay/internal/model"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMIMEType = "application/vnd.google-apps.folder"

// DriveSink implements adapter.StorageSink for Google Drive.
type DriveSink struct {
	service *drive.Service
}

// NewDriveSink creates a new DriveSink.
// client should be an authenticated http.Client with the user's credentials.
func NewDriveSink(ctx context.Context, client *http.Client) (*DriveSink, error) {
	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive client: %w", err)
	}
	return &DriveSink{service: srv}, nil
}

// EnsureFolderPath walks a slash-delimited path from the Drive root, creating
// any missing segment, and returns the leaf folder id.
func (d *DriveSink) EnsureFolderPath(ctx context.Context, path string) (string, error) {
	parentID := "root"
	for _, segment := range SplitFolderPath(path) {
		id, err := d.findFolder(ctx, segment, parentID)
		if err != nil {
			return "", err
		}
		if id == "" {
			id, err = d.createFolder(ctx, segment, parentID)
			if err != nil {
				return "", err
			}
		}
		parentID = id
	}
	return parentID, nil
}

// SaveAttachment uploads one attachment into the folder.
func (d *DriveSink) SaveAttachment(ctx context.Context, folderID string, att adapter.Attachment) (*model.SavedFile, error) {
	f := &drive.File{
		Name:    att.Name,
		Parents: []string{folderID},
	}

	res, err := d.service.Files.Create(f).
		Media(bytes.NewReader(att.Data)).
		Fields("id, name, size, mimeType, webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err, "unable to save attachment")
	}

	size := res.Size
	if size == 0 {
		size = att.Size
	}
	return &model.SavedFile{
		OriginalName: att.Name,
		SavedName:    res.Name,
		Size:         size,
		MIMEType:     res.MimeType,
		FileID:       res.Id,
		FileURL:      res.WebViewLink,
	}, nil
}

// findFolder looks up a folder by name under a parent, returning "" when it
// does not exist.
func (d *DriveSink) findFolder(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), folderMIMEType, parentID)

	r, err := d.service.Files.List().
		Q(q).
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return "", classify(err, "unable to search for folder")
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}
	return "", nil
}

func (d *DriveSink) createFolder(ctx context.Context, name, parentID string) (string, error) {
	f := &drive.File{
		Name:     name,
		MimeType: folderMIMEType,
		Parents:  []string{parentID},
	}
	res, err := d.service.Files.Create(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", classify(err, "unable to create folder")
	}
	return res.Id, nil
}

// SplitFolderPath normalizes a slash-delimited destination path into its
// non-empty segments. "/Inv//2024/" -> ["Inv", "2024"].
func SplitFolderPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		s = strings.TrimSpace(s)
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// escapeQuery escapes single quotes for Drive query strings.
func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

// classify maps googleapi errors onto the adapter sentinels so the runner's
// retry and breaker logic can match on fields, not messages.
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
