// Package github maps the GitHub REST API onto the provider surface.
// The mapping treats the account as a drive: each repository is a
// root-level folder, and the repository contents API supplies the
// files and directories inside it.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/logsink"
	"github.com/techcodex/codexcloud/internal/rest"
)

// BaseURL is the GitHub REST API root. Overridable in tests.
const BaseURL = "https://api.github.com"

// maxPageSize is GitHub's per_page ceiling.
const maxPageSize = 100

// rootID is the synthetic folder holding the repository list.
const rootID = "root"

// Provider talks to the GitHub REST API for one signed-in account.
type Provider struct {
	client *rest.Client
}

// New creates a GitHub provider. baseURL overrides the API root when
// non-empty.
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
		client: rest.New(cloud.GitHub, baseURL, httpClient, token, recorder, logger),
	}
}

func (p *Provider) Name() cloud.Name { return cloud.GitHub }

func (p *Provider) RootID() string { return rootID }

func (p *Provider) MaxPageSize() int { return maxPageSize }

// Item ids encode their place in the repo-as-drive mapping:
//
//	root                     the repository list
//	repo:owner/name          a repository, shown as a folder
//	path:owner/name:a/b.txt  an entry inside a repository
type itemID struct {
	repo string // owner/name
	path string // path within the repo, empty at repo root
}

func parseID(id string) (itemID, error) {
	switch {
	case id == rootID:
		return itemID{}, nil
	case strings.HasPrefix(id, "repo:"):
		return itemID{repo: strings.TrimPrefix(id, "repo:")}, nil
	case strings.HasPrefix(id, "path:"):
		remainder := strings.TrimPrefix(id, "path:")

		repo, path, ok := strings.Cut(remainder, ":")
		if !ok {
			return itemID{}, fmt.Errorf("github: malformed item id %q", id)
		}

		return itemID{repo: repo, path: path}, nil
	default:
		return itemID{}, fmt.Errorf("github: malformed item id %q", id)
	}
}

func repoID(fullName string) string { return "repo:" + fullName }

func pathID(repo, path string) string { return "path:" + repo + ":" + path }

type repoResponse struct {
	FullName  string `json:"full_name"`
	Name      string `json:"name"`
	Private   bool   `json:"private"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Owner     struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (r *repoResponse) toRemoteFile(shared bool) cloud.RemoteFile {
	f := cloud.RemoteFile{
		ID:       repoID(r.FullName),
		Name:     r.FullName,
		IsFolder: true,
		ParentID: rootID,
		Shared:   shared,
	}

	if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
		f.CreatedAt = t
	}

	if t, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
		f.ModifiedAt = t
	}

	return f
}

type contentResponse struct {
	Type        string `json:"type"` // "file", "dir", "symlink", "submodule"
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

func (c *contentResponse) toRemoteFile(repo, parentID string) cloud.RemoteFile {
	return cloud.RemoteFile{
		ID:       pathID(repo, c.Path),
		Name:     c.Name,
		Size:     c.Size,
		IsFolder: c.Type == "dir",
		ParentID: parentID,
	}
}

// List returns one page of a folder's entries. At the root the entries
// are the account's repositories; opts.SharedWithMe narrows to repos
// the user collaborates on rather than owns. The continuation token is
// the next page number.
func (p *Provider) List(ctx context.Context, folderID string, opts cloud.ListOptions) (*cloud.Page, error) {
	id, err := parseID(folderID)
	if err != nil {
		return nil, err
	}

	pageNum := 1

	if opts.PageToken != "" {
		pageNum, err = strconv.Atoi(opts.PageToken)
		if err != nil {
			return nil, fmt.Errorf("github: malformed page token %q", opts.PageToken)
		}
	}

	perPage := opts.PageSize
	if perPage <= 0 || perPage > maxPageSize {
		perPage = maxPageSize
	}

	if id.repo == "" {
		return p.listRepos(ctx, opts.SharedWithMe, pageNum, perPage)
	}

	return p.listContents(ctx, id, pageNum, perPage)
}

func (p *Provider) listRepos(ctx context.Context, shared bool, pageNum, perPage int) (*cloud.Page, error) {
	affiliation := "owner"
	if shared {
		affiliation = "collaborator,organization_member"
	}

	path := fmt.Sprintf("/user/repos?affiliation=%s&per_page=%d&page=%d",
		url.QueryEscape(affiliation), perPage, pageNum)

	var repos []repoResponse
	if err := p.client.DoJSON(ctx, http.MethodGet, path, nil, &repos); err != nil {
		return nil, err
	}

	page := &cloud.Page{}
	for i := range repos {
		page.Items = append(page.Items, repos[i].toRemoteFile(shared))
	}

	// A full page means there may be more.
	if len(repos) == perPage {
		page.NextPageToken = strconv.Itoa(pageNum + 1)
	}

	return page, nil
}

func (p *Provider) listContents(ctx context.Context, id itemID, pageNum, perPage int) (*cloud.Page, error) {
	path := fmt.Sprintf("/repos/%s/contents/%s?per_page=%d&page=%d",
		id.repo, escapePath(id.path), perPage, pageNum)

	var entries []contentResponse
	if err := p.client.DoJSON(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}

	parentID := repoID(id.repo)
	if id.path != "" {
		parentID = pathID(id.repo, id.path)
	}

	page := &cloud.Page{}
	for i := range entries {
		page.Items = append(page.Items, entries[i].toRemoteFile(id.repo, parentID))
	}

	if len(entries) == perPage {
		page.NextPageToken = strconv.Itoa(pageNum + 1)
	}

	return page, nil
}

// Stat fetches one item's metadata.
func (p *Provider) Stat(ctx context.Context, fileID string) (*cloud.RemoteFile, error) {
	id, err := parseID(fileID)
	if err != nil {
		return nil, err
	}

	switch {
	case id.repo == "":
		return &cloud.RemoteFile{ID: rootID, Name: "GitHub", IsFolder: true}, nil
	case id.path == "":
		var repo repoResponse
		if err := p.client.DoJSON(ctx, http.MethodGet, "/repos/"+id.repo, nil, &repo); err != nil {
			return nil, err
		}

		f := repo.toRemoteFile(false)

		return &f, nil
	default:
		entry, err := p.statContent(ctx, id)
		if err != nil {
			return nil, err
		}

		f := entry.toRemoteFile(id.repo, repoID(id.repo))

		return &f, nil
	}
}

// statContent fetches a single contents entry. The contents endpoint
// returns an object for a file and an array for a directory, so both
// shapes have to be tried.
func (p *Provider) statContent(ctx context.Context, id itemID) (*contentResponse, error) {
	path := fmt.Sprintf("/repos/%s/contents/%s", id.repo, escapePath(id.path))

	resp, err := p.client.Do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("github: reading contents response: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return &contentResponse{Type: "dir", Name: lastSegment(id.path), Path: id.path}, nil
	}

	var entry contentResponse
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("github: decoding contents response: %w", err)
	}

	return &entry, nil
}

type putContentRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

type putContentResponse struct {
	Content contentResponse `json:"content"`
}

// Upload creates or replaces a file in a repository via the contents
// API. The content rides base64-encoded in the request body, so this
// reads the whole file into memory; the contents API caps files well
// below anything that would make streaming matter.
func (p *Provider) Upload(ctx context.Context, parentID, name string, r io.Reader, size int64) (*cloud.RemoteFile, error) {
	id, err := parseID(parentID)
	if err != nil {
		return nil, err
	}

	if id.repo == "" {
		return nil, fmt.Errorf("%w: cannot upload a file to the repository list", cloud.ErrUnsupportedOperation)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("github: reading upload content: %w", err)
	}

	target := itemID{repo: id.repo, path: joinPath(id.path, name)}

	req := putContentRequest{
		Message: "Upload " + name,
		Content: base64.StdEncoding.EncodeToString(data),
	}

	// Replacing an existing file requires its blob sha.
	if existing, statErr := p.statContent(ctx, target); statErr == nil {
		req.SHA = existing.SHA
	} else if !errors.Is(statErr, cloud.ErrNotFound) {
		return nil, statErr
	}

	path := fmt.Sprintf("/repos/%s/contents/%s", target.repo, escapePath(target.path))

	var out putContentResponse
	if err := p.client.DoJSON(ctx, http.MethodPut, path, req, &out); err != nil {
		return nil, err
	}

	f := out.Content.toRemoteFile(target.repo, parentID)

	return &f, nil
}

// Download streams a file's raw content into w. The contents API hands
// out a short-lived download URL; the bytes come from there.
func (p *Provider) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	id, err := parseID(fileID)
	if err != nil {
		return 0, err
	}

	if id.path == "" {
		return 0, fmt.Errorf("%w: %q is not a file", cloud.ErrUnsupportedOperation, fileID)
	}

	entry, err := p.statContent(ctx, id)
	if err != nil {
		return 0, err
	}

	if entry.Type == "dir" {
		return 0, fmt.Errorf("%w: %q is a directory", cloud.ErrUnsupportedOperation, id.path)
	}

	if entry.DownloadURL == "" {
		// Small files carry their content inline in the stat response.
		return p.writeInline(ctx, id, w)
	}

	resp, err := p.client.DoURL(ctx, http.MethodGet, entry.DownloadURL, nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("github: reading content: %w", err)
	}

	return n, nil
}

// writeInline fetches the base64 content embedded in the contents
// response and decodes it into w.
func (p *Provider) writeInline(ctx context.Context, id itemID, w io.Writer) (int64, error) {
	path := fmt.Sprintf("/repos/%s/contents/%s", id.repo, escapePath(id.path))

	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}

	if err := p.client.DoJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}

	if out.Encoding != "base64" {
		return 0, fmt.Errorf("github: unexpected content encoding %q", out.Encoding)
	}

	// The API wraps base64 lines with newlines.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return 0, fmt.Errorf("github: decoding content: %w", err)
	}

	n, err := w.Write(raw)

	return int64(n), err
}

type deleteContentRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
}

// Delete removes a file from a repository, or the repository itself
// when given a repo id. Deleting a repo needs the delete_repo scope.
func (p *Provider) Delete(ctx context.Context, fileID string) error {
	id, err := parseID(fileID)
	if err != nil {
		return err
	}

	switch {
	case id.repo == "":
		return fmt.Errorf("%w: cannot delete the repository list", cloud.ErrUnsupportedOperation)
	case id.path == "":
		return p.client.DoJSON(ctx, http.MethodDelete, "/repos/"+id.repo, nil, nil)
	default:
		entry, statErr := p.statContent(ctx, id)
		if statErr != nil {
			return statErr
		}

		req := deleteContentRequest{
			Message: "Delete " + lastSegment(id.path),
			SHA:     entry.SHA,
		}

		path := fmt.Sprintf("/repos/%s/contents/%s", id.repo, escapePath(id.path))

		return p.client.DoJSON(ctx, http.MethodDelete, path, req, nil)
	}
}

type createRepoRequest struct {
	Name    string `json:"name"`
	Private bool   `json:"private"`
}

// CreateRepo creates a repository for the signed-in user. A name the
// account already uses comes back as a conflict.
func (p *Provider) CreateRepo(ctx context.Context, name string, private bool) (*cloud.RemoteFile, error) {
	req := createRepoRequest{Name: name, Private: private}

	var repo repoResponse

	err := p.client.DoJSON(ctx, http.MethodPost, "/user/repos", req, &repo)
	if err != nil {
		// GitHub reports a duplicate name as an unprocessable entity.
		var pe *cloud.ProviderError
		if errors.As(err, &pe) && pe.StatusCode == http.StatusUnprocessableEntity {
			return nil, &cloud.ProviderError{
				Provider:   cloud.GitHub,
				Op:         "create repo",
				StatusCode: pe.StatusCode,
				Message:    pe.Message,
				Err:        cloud.ErrConflict,
			}
		}

		return nil, err
	}

	f := repo.toRemoteFile(false)

	return &f, nil
}

// Whoami returns the signed-in account's login.
func (p *Provider) Whoami(ctx context.Context) (string, error) {
	var out struct {
		Login string `json:"login"`
	}

	if err := p.client.DoJSON(ctx, http.MethodGet, "/user", nil, &out); err != nil {
		return "", err
	}

	return out.Login, nil
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}

	return dir + "/" + name
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}

	return path
}
