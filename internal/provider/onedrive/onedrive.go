// Package onedrive implements the provider surface on top of the
// Microsoft Graph v1.0 drive API.
package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/logsink"
	"github.com/techcodex/codexcloud/internal/rest"
)

// BaseURL is the Graph v1.0 API root. Overridable in tests.
const BaseURL = "https://graph.microsoft.com/v1.0"

// maxPageSize is the largest $top the Graph API accepts for drive item
// collections.
const maxPageSize = 200

// Provider talks to a signed-in user's OneDrive.
type Provider struct {
	client *rest.Client
}

// New creates a OneDrive provider. baseURL overrides the Graph API
// root when non-empty.
func New(
	baseURL string,
	httpClient *http.Client,
	token cloud.TokenSource,
	recorder logsink.Recorder,
	logger *slog.Logger,
) *Provider {
	if baseURL == "" {
		baseURL = BaseURL
	}

	return &Provider{
		client: rest.New(cloud.OneDrive, baseURL, httpClient, token, recorder, logger),
	}
}

func (p *Provider) Name() cloud.Name { return cloud.OneDrive }

// RootID is the Graph alias for the drive root folder.
func (p *Provider) RootID() string { return "root" }

func (p *Provider) MaxPageSize() int { return maxPageSize }

// driveItem mirrors the Graph driveItem JSON. Facet presence encodes
// the item kind: a folder facet means folder, a file facet means file.
type driveItem struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	CreatedDateTime      string       `json:"createdDateTime"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	ParentReference      *parentRef   `json:"parentReference"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
	RemoteItem           *remoteItem  `json:"remoteItem"`
}

type parentRef struct {
	ID string `json:"id"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

// remoteItem is present on sharedWithMe results, where the real id and
// facets live one level down.
type remoteItem struct {
	ID     string       `json:"id"`
	Size   int64        `json:"size"`
	File   *fileFacet   `json:"file"`
	Folder *folderFacet `json:"folder"`
}

type listResponse struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

func (d *driveItem) toRemoteFile() cloud.RemoteFile {
	f := cloud.RemoteFile{
		ID:       d.ID,
		Name:     d.Name,
		Size:     d.Size,
		IsFolder: d.Folder != nil,
	}

	if d.File != nil {
		f.MimeType = d.File.MimeType
	}

	if d.ParentReference != nil {
		f.ParentID = d.ParentReference.ID
	}

	// Shared items carry their identity on the remoteItem facet.
	if d.RemoteItem != nil {
		f.Shared = true
		f.ID = d.RemoteItem.ID
		f.Size = d.RemoteItem.Size
		f.IsFolder = d.RemoteItem.Folder != nil

		if d.RemoteItem.File != nil {
			f.MimeType = d.RemoteItem.File.MimeType
		}
	}

	if t, err := time.Parse(time.RFC3339, d.CreatedDateTime); err == nil {
		f.CreatedAt = t
	}

	if t, err := time.Parse(time.RFC3339, d.LastModifiedDateTime); err == nil {
		f.ModifiedAt = t
	}

	return f
}

// List returns one page of a folder's children, or of the shared-with-me
// collection when opts.SharedWithMe is set. The continuation token is
// the @odata.nextLink the API hands back.
func (p *Provider) List(ctx context.Context, folderID string, opts cloud.ListOptions) (*cloud.Page, error) {
	var (
		out listResponse
		err error
	)

	if opts.PageToken != "" {
		// nextLink is an absolute URL with the paging cursor baked in.
		err = p.getURLJSON(ctx, opts.PageToken, &out)
	} else {
		path := fmt.Sprintf("/me/drive/items/%s/children?$top=%d", url.PathEscape(folderID), pageSize(opts))
		if opts.SharedWithMe {
			path = "/me/drive/sharedWithMe"
		}

		err = p.client.DoJSON(ctx, http.MethodGet, path, nil, &out)
	}

	if err != nil {
		return nil, err
	}

	page := &cloud.Page{NextPageToken: out.NextLink}
	for i := range out.Value {
		page.Items = append(page.Items, out.Value[i].toRemoteFile())
	}

	return page, nil
}

// Stat fetches a single item's metadata.
func (p *Provider) Stat(ctx context.Context, fileID string) (*cloud.RemoteFile, error) {
	var out driveItem

	path := "/me/drive/items/" + url.PathEscape(fileID)
	if err := p.client.DoJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	f := out.toRemoteFile()

	return &f, nil
}

// Upload streams content into the parent folder under the given name
// and returns the created item. Graph replaces an existing same-named
// file in place, keeping its item id.
func (p *Provider) Upload(ctx context.Context, parentID, name string, r io.Reader, size int64) (*cloud.RemoteFile, error) {
	path := fmt.Sprintf("/me/drive/items/%s:/%s:/content", url.PathEscape(parentID), url.PathEscape(name))

	resp, err := p.client.Do(ctx, http.MethodPut, path, r, "application/octet-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out driveItem
	if err := decodeJSON(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("onedrive: decoding upload response: %w", err)
	}

	f := out.toRemoteFile()

	return &f, nil
}

// Download streams the item's content into w and returns the byte
// count. The /content endpoint redirects to a pre-authenticated URL;
// the HTTP client follows it transparently.
func (p *Provider) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	path := fmt.Sprintf("/me/drive/items/%s/content", url.PathEscape(fileID))

	resp, err := p.client.Do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("onedrive: reading content: %w", err)
	}

	return n, nil
}

// Delete removes the item. Graph answers 204 on success.
func (p *Provider) Delete(ctx context.Context, fileID string) error {
	path := "/me/drive/items/" + url.PathEscape(fileID)

	return p.client.DoJSON(ctx, http.MethodDelete, path, nil, nil)
}

// CreateFolder makes a child folder and returns it.
func (p *Provider) CreateFolder(ctx context.Context, parentID, name string) (*cloud.RemoteFile, error) {
	req := map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	}

	var out driveItem

	path := fmt.Sprintf("/me/drive/items/%s/children", url.PathEscape(parentID))
	if err := p.client.DoJSON(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}

	f := out.toRemoteFile()

	return &f, nil
}

// Whoami returns the signed-in account's display identity.
func (p *Provider) Whoami(ctx context.Context) (string, error) {
	var out struct {
		DisplayName       string `json:"displayName"`
		UserPrincipalName string `json:"userPrincipalName"`
	}

	if err := p.client.DoJSON(ctx, http.MethodGet, "/me", nil, &out); err != nil {
		return "", err
	}

	if out.UserPrincipalName != "" {
		return out.UserPrincipalName, nil
	}

	return out.DisplayName, nil
}

func (p *Provider) getURLJSON(ctx context.Context, absURL string, out any) error {
	resp, err := p.client.DoURL(ctx, http.MethodGet, absURL, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeJSON(resp.Body, out)
}

func pageSize(opts cloud.ListOptions) int {
	if opts.PageSize <= 0 || opts.PageSize > maxPageSize {
		return maxPageSize
	}

	return opts.PageSize
}

func decodeJSON(r io.Reader, out any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	return json.Unmarshal(data, out)
}
