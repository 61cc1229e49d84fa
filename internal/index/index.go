// Package index lists and navigates a provider's remote file tree:
// one-page and chained pagination over the provider's continuation
// tokens, shared-with-me views, name filtering, and the folder
// navigation stack. The index never caches — every call is a fresh
// listing against the provider.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/techcodex/codexcloud/internal/cloud"
)

// MaxPages bounds chained pagination so a pathological provider that
// always returns a continuation token cannot spin forever.
const MaxPages = 50

// Index navigates one provider's file tree.
type Index struct {
	provider cloud.Provider
	nav      *NavigationState
	logger   *slog.Logger

	// refresh recovers a rejected token, used for the single
	// refresh-and-retry on an unauthorized listing. Nil disables
	// recovery (tests, PAT sessions with nothing to refresh).
	refresh func(context.Context) error
}

// New creates an Index rooted at the provider's root folder.
func New(provider cloud.Provider, refresh func(context.Context) error, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}

	return &Index{
		provider: provider,
		nav:      NewNavigationState(provider.RootID(), provider.Name().Label()),
		logger:   logger,
		refresh:  refresh,
	}
}

// Nav exposes the navigation stack.
func (ix *Index) Nav() *NavigationState {
	return ix.nav
}

// clamp bounds the requested page size to the provider maximum.
func (ix *Index) clamp(size int) int {
	max := ix.provider.MaxPageSize()
	if size <= 0 || size > max {
		return max
	}

	return size
}

// List fetches one page of the folder's children (or of the
// shared-with-me view). An unauthorized response is recovered exactly
// once by refreshing and retrying the same request.
func (ix *Index) List(ctx context.Context, folderID string, opts cloud.ListOptions) (*cloud.Page, error) {
	opts.PageSize = ix.clamp(opts.PageSize)

	var page *cloud.Page

	fetch := func() error {
		var err error
		page, err = ix.provider.List(ctx, folderID, opts)

		return err
	}

	var err error
	if ix.refresh != nil {
		err = cloud.RetryOnceOnUnauthorized(ctx, ix.refresh, fetch)
	} else {
		err = fetch()
	}

	if err != nil {
		return nil, err
	}

	page.Items = filterByName(page.Items, opts.NameFilter)

	return page, nil
}

// ListAll chains continuation tokens until the listing is exhausted,
// bounded at MaxPages. Exceeding the bound surfaces ErrPaginationLimit.
func (ix *Index) ListAll(ctx context.Context, folderID string, opts cloud.ListOptions) ([]cloud.RemoteFile, error) {
	var items []cloud.RemoteFile

	opts.PageToken = ""

	for pages := 0; ; pages++ {
		if pages == MaxPages {
			return nil, fmt.Errorf("%w: gave up after %d pages", cloud.ErrPaginationLimit, MaxPages)
		}

		page, err := ix.List(ctx, folderID, opts)
		if err != nil {
			return nil, err
		}

		items = append(items, page.Items...)

		ix.logger.Debug("fetched listing page",
			slog.String("provider", string(ix.provider.Name())),
			slog.Int("page", pages+1),
			slog.Int("count", len(page.Items)),
		)

		if page.NextPageToken == "" {
			return items, nil
		}

		opts.PageToken = page.NextPageToken
	}
}

// ListCurrent lists the folder at the top of the navigation stack.
func (ix *Index) ListCurrent(ctx context.Context, opts cloud.ListOptions) (*cloud.Page, error) {
	return ix.List(ctx, ix.nav.Current().FolderID, opts)
}

// Push enters a folder. Non-folders are rejected.
func (ix *Index) Push(folder cloud.RemoteFile) error {
	if !folder.IsFolder {
		return fmt.Errorf("%w: %q is not a folder", cloud.ErrUnsupportedOperation, folder.Name)
	}

	ix.nav.Push(folder.ID, folder.Name)

	return nil
}

// Pop returns to the parent folder. A no-op at the root.
func (ix *Index) Pop() {
	ix.nav.Pop()
}

// filterByName keeps entries whose name contains the filter,
// case-insensitively.
func filterByName(items []cloud.RemoteFile, filter string) []cloud.RemoteFile {
	if filter == "" {
		return items
	}

	needle := strings.ToLower(filter)
	out := items[:0]

	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), needle) {
			out = append(out, it)
		}
	}

	return out
}
