// Package gdrive implements the provider surface on top of the Google
// Drive v3 API via the official client library.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/logsink"
)

// folderMime marks folders in Drive metadata.
const folderMime = "application/vnd.google-apps.folder"

// maxPageSize caps listing requests. Drive accepts more, but larger
// pages buy nothing for interactive browsing.
const maxPageSize = 100

// listFields projects only the metadata the provider surface needs.
const listFields = "nextPageToken, files(id, name, mimeType, size, parents, shared, createdTime, modifiedTime)"

const fileFields = "id, name, mimeType, size, parents, shared, createdTime, modifiedTime"

// Provider talks to a signed-in user's Google Drive.
type Provider struct {
	service  *drive.Service
	recorder logsink.Recorder
	logger   *slog.Logger
}

// tokenAdapter bridges our context-aware token source to the oauth2
// interface the Drive client expects.
type tokenAdapter struct {
	ctx context.Context
	src cloud.TokenSource
}

func (a tokenAdapter) Token() (*oauth2.Token, error) {
	tok, err := a.src.Token(a.ctx)
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{AccessToken: tok}, nil
}

// New creates a Drive provider. Extra client options (test endpoint,
// custom HTTP client) are appended after the token source.
func New(
	ctx context.Context,
	token cloud.TokenSource,
	recorder logsink.Recorder,
	logger *slog.Logger,
	opts ...option.ClientOption,
) (*Provider, error) {
	if recorder == nil {
		recorder = logsink.Noop{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := append([]option.ClientOption{
		option.WithTokenSource(tokenAdapter{ctx: ctx, src: token}),
	}, opts...)

	service, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating service: %w", err)
	}

	return &Provider{service: service, recorder: recorder, logger: logger}, nil
}

func (p *Provider) Name() cloud.Name { return cloud.GDrive }

// RootID is the Drive alias for the My Drive root folder.
func (p *Provider) RootID() string { return "root" }

func (p *Provider) MaxPageSize() int { return maxPageSize }

func toRemoteFile(f *drive.File) cloud.RemoteFile {
	out := cloud.RemoteFile{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		IsFolder: f.MimeType == folderMime,
		Size:     f.Size,
		Shared:   f.Shared,
	}

	if len(f.Parents) > 0 {
		out.ParentID = f.Parents[0]
	}

	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		out.CreatedAt = t
	}

	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		out.ModifiedAt = t
	}

	return out
}

// List returns one page of a folder's children, or of the
// shared-with-me collection when opts.SharedWithMe is set. The
// continuation token is Drive's nextPageToken.
func (p *Provider) List(ctx context.Context, folderID string, opts cloud.ListOptions) (*cloud.Page, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(folderID))
	if opts.SharedWithMe {
		query = "sharedWithMe=true and trashed=false"
	}

	size := opts.PageSize
	if size <= 0 || size > maxPageSize {
		size = maxPageSize
	}

	call := p.service.Files.List().
		Context(ctx).
		Q(query).
		Fields(listFields).
		PageSize(int64(size))

	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}

	result, err := call.Do()
	if err != nil {
		return nil, p.wrapErr(ctx, "list", err)
	}

	page := &cloud.Page{NextPageToken: result.NextPageToken}
	for _, f := range result.Files {
		page.Items = append(page.Items, toRemoteFile(f))
	}

	return page, nil
}

// Stat fetches one file's metadata.
func (p *Provider) Stat(ctx context.Context, fileID string) (*cloud.RemoteFile, error) {
	f, err := p.service.Files.Get(fileID).Context(ctx).Fields(fileFields).Do()
	if err != nil {
		return nil, p.wrapErr(ctx, "stat", err)
	}

	out := toRemoteFile(f)

	return &out, nil
}

// Upload streams content into the parent folder and returns the
// created file. Drive allows duplicate names, so every upload creates
// a new file rather than replacing one.
func (p *Provider) Upload(ctx context.Context, parentID, name string, r io.Reader, size int64) (*cloud.RemoteFile, error) {
	meta := &drive.File{
		Name:    name,
		Parents: []string{parentID},
	}

	created, err := p.service.Files.Create(meta).
		Context(ctx).
		Media(r).
		Fields(fileFields).
		Do()
	if err != nil {
		return nil, p.wrapErr(ctx, "upload", err)
	}

	out := toRemoteFile(created)

	return &out, nil
}

// Download streams the file's content into w and returns the byte
// count. Google-native documents have no binary content and come back
// as unsupported.
func (p *Provider) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	resp, err := p.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		// Drive reports "only files with binary content" for
		// native docs; surface that as an unsupported operation
		// rather than a generic API failure.
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden &&
			strings.Contains(apiErr.Message, "binary content") {
			return 0, fmt.Errorf("%w: %s", cloud.ErrUnsupportedOperation, apiErr.Message)
		}

		return 0, p.wrapErr(ctx, "download", err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("gdrive: reading content: %w", err)
	}

	return n, nil
}

// Delete permanently removes the file.
func (p *Provider) Delete(ctx context.Context, fileID string) error {
	if err := p.service.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		return p.wrapErr(ctx, "delete", err)
	}

	return nil
}

// CreateFolder makes a child folder and returns it.
func (p *Provider) CreateFolder(ctx context.Context, parentID, name string) (*cloud.RemoteFile, error) {
	meta := &drive.File{
		Name:     name,
		MimeType: folderMime,
		Parents:  []string{parentID},
	}

	created, err := p.service.Files.Create(meta).Context(ctx).Fields(fileFields).Do()
	if err != nil {
		return nil, p.wrapErr(ctx, "create folder", err)
	}

	out := toRemoteFile(created)

	return &out, nil
}

// Whoami returns the signed-in account's email address.
func (p *Provider) Whoami(ctx context.Context) (string, error) {
	about, err := p.service.About.Get().Context(ctx).Fields("user").Do()
	if err != nil {
		return "", p.wrapErr(ctx, "whoami", err)
	}

	if about.User == nil {
		return "", nil
	}

	return about.User.EmailAddress, nil
}

// wrapErr maps a Drive client error onto the shared error taxonomy.
func (p *Provider) wrapErr(ctx context.Context, op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &cloud.ProviderError{
			Provider:   cloud.GDrive,
			Op:         op,
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Err:        cloud.Classify(apiErr.Code, []byte(apiErr.Message+" "+apiErr.Body)),
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("gdrive: %s canceled: %w", op, ctx.Err())
	}

	// Anything that never produced an HTTP status is a connection
	// problem.
	p.logger.Warn("network failure",
		slog.String("provider", string(cloud.GDrive)),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)

	if recErr := p.recorder.Record(ctx, logsink.CategoryNetwork, string(cloud.GDrive), op+": "+err.Error()); recErr != nil {
		p.logger.Warn("journal write failed", slog.String("error", recErr.Error()))
	}

	return &cloud.ProviderError{
		Provider: cloud.GDrive,
		Op:       op,
		Message:  err.Error(),
		Err:      cloud.ErrNetwork,
	}
}

// escapeQuery escapes single quotes for interpolation into a Drive
// query string.
func escapeQuery(s string) string {
	return strings.ReplaceAll(s, `'`, `\'`)
}
