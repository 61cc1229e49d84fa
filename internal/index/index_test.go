package index

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techcodex/codexcloud/internal/cloud"
)

// fakeProvider serves a fixed set of items with real pagination.
type fakeProvider struct {
	items       []cloud.RemoteFile
	shared      []cloud.RemoteFile
	maxPage     int
	listCalls   int
	failWith    error
	failCount   int // fail this many calls before succeeding
	endlessPage bool
}

func (f *fakeProvider) Name() cloud.Name { return cloud.OneDrive }
func (f *fakeProvider) RootID() string   { return "root" }
func (f *fakeProvider) MaxPageSize() int { return f.maxPage }

func (f *fakeProvider) List(_ context.Context, _ string, opts cloud.ListOptions) (*cloud.Page, error) {
	f.listCalls++

	if f.failCount > 0 {
		f.failCount--
		return nil, f.failWith
	}

	if f.endlessPage {
		return &cloud.Page{NextPageToken: "again"}, nil
	}

	items := f.items
	if opts.SharedWithMe {
		items = f.shared
	}

	start := 0

	if opts.PageToken != "" {
		var err error
		start, err = strconv.Atoi(opts.PageToken)
		if err != nil {
			return nil, err
		}
	}

	end := start + opts.PageSize
	if end > len(items) {
		end = len(items)
	}

	page := &cloud.Page{Items: items[start:end]}
	if end < len(items) {
		page.NextPageToken = strconv.Itoa(end)
	}

	return page, nil
}

func (f *fakeProvider) Upload(context.Context, string, string, io.Reader, int64) (*cloud.RemoteFile, error) {
	return nil, cloud.ErrUnsupportedOperation
}

func (f *fakeProvider) Download(context.Context, string, io.Writer) (int64, error) {
	return 0, cloud.ErrUnsupportedOperation
}

func (f *fakeProvider) Delete(context.Context, string) error { return cloud.ErrUnsupportedOperation }

func (f *fakeProvider) Stat(context.Context, string) (*cloud.RemoteFile, error) {
	return nil, cloud.ErrNotFound
}

func makeItems(n int) []cloud.RemoteFile {
	items := make([]cloud.RemoteFile, n)
	for i := range items {
		items[i] = cloud.RemoteFile{
			ID:   fmt.Sprintf("id-%d", i),
			Name: fmt.Sprintf("file-%d.txt", i),
		}
	}

	return items
}

func TestListAll_ItemCounts(t *testing.T) {
	const pageSize = 10

	tests := []struct {
		name  string
		count int
	}{
		{"empty folder", 0},
		{"single item", 1},
		{"exactly one page", pageSize},
		{"one item over a page", pageSize + 1},
		{"many pages", 137},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakeProvider{items: makeItems(tt.count), maxPage: pageSize}
			ix := New(fp, nil, nil)

			items, err := ix.ListAll(t.Context(), "root", cloud.ListOptions{PageSize: pageSize})
			require.NoError(t, err)
			assert.Len(t, items, tt.count)
		})
	}
}

func TestListAll_PaginationLimit(t *testing.T) {
	fp := &fakeProvider{endlessPage: true, maxPage: 10}
	ix := New(fp, nil, nil)

	_, err := ix.ListAll(t.Context(), "root", cloud.ListOptions{})
	assert.ErrorIs(t, err, cloud.ErrPaginationLimit)
	assert.Equal(t, MaxPages, fp.listCalls, "stop asking after the page bound")
}

func TestList_ClampsPageSize(t *testing.T) {
	fp := &fakeProvider{items: makeItems(30), maxPage: 20}
	ix := New(fp, nil, nil)

	// Oversized request is clamped to the provider's maximum.
	page, err := ix.List(t.Context(), "root", cloud.ListOptions{PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, page.Items, 20)
	assert.NotEmpty(t, page.NextPageToken)

	// Zero means provider maximum.
	page, err = ix.List(t.Context(), "root", cloud.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 20)
}

func TestList_ContinuationToken(t *testing.T) {
	fp := &fakeProvider{items: makeItems(25), maxPage: 10}
	ix := New(fp, nil, nil)

	page1, err := ix.List(t.Context(), "root", cloud.ListOptions{PageSize: 10})
	require.NoError(t, err)
	require.NotEmpty(t, page1.NextPageToken)

	page2, err := ix.List(t.Context(), "root", cloud.ListOptions{PageSize: 10, PageToken: page1.NextPageToken})
	require.NoError(t, err)

	assert.Equal(t, "id-10", page2.Items[0].ID, "the second page picks up where the first stopped")
}

func TestList_SharedWithMe(t *testing.T) {
	fp := &fakeProvider{
		items:   makeItems(5),
		shared:  makeItems(150),
		maxPage: 100,
	}
	ix := New(fp, nil, nil)

	items, err := ix.ListAll(t.Context(), "root", cloud.ListOptions{SharedWithMe: true})
	require.NoError(t, err)
	assert.Len(t, items, 150)
}

func TestList_NameFilter(t *testing.T) {
	fp := &fakeProvider{
		items: []cloud.RemoteFile{
			{ID: "1", Name: "Report.pdf"},
			{ID: "2", Name: "notes.txt"},
			{ID: "3", Name: "Annual-REPORT.docx"},
		},
		maxPage: 100,
	}
	ix := New(fp, nil, nil)

	page, err := ix.List(t.Context(), "root", cloud.ListOptions{NameFilter: "report"})
	require.NoError(t, err)

	require.Len(t, page.Items, 2)
	assert.Equal(t, "Report.pdf", page.Items[0].Name)
	assert.Equal(t, "Annual-REPORT.docx", page.Items[1].Name)
}

func TestList_RefreshOnceOnUnauthorized(t *testing.T) {
	fp := &fakeProvider{
		items:     makeItems(3),
		maxPage:   10,
		failWith:  fmt.Errorf("list: %w", cloud.ErrUnauthorized),
		failCount: 1,
	}

	refreshes := 0
	ix := New(fp, func(context.Context) error {
		refreshes++
		return nil
	}, nil)

	page, err := ix.List(t.Context(), "root", cloud.ListOptions{})
	require.NoError(t, err)

	assert.Len(t, page.Items, 3)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 2, fp.listCalls)
}

func TestList_PersistentUnauthorizedSurfaces(t *testing.T) {
	fp := &fakeProvider{
		maxPage:   10,
		failWith:  cloud.ErrUnauthorized,
		failCount: 2,
	}

	refreshes := 0
	ix := New(fp, func(context.Context) error {
		refreshes++
		return nil
	}, nil)

	_, err := ix.List(t.Context(), "root", cloud.ListOptions{})
	assert.ErrorIs(t, err, cloud.ErrUnauthorized)
	assert.Equal(t, 1, refreshes)
}

func TestNavigation(t *testing.T) {
	fp := &fakeProvider{maxPage: 10}
	ix := New(fp, nil, nil)

	assert.Equal(t, "root", ix.Nav().Current().FolderID)
	assert.Equal(t, 1, ix.Nav().Depth())

	require.NoError(t, ix.Push(cloud.RemoteFile{ID: "a", Name: "Projects", IsFolder: true}))
	require.NoError(t, ix.Push(cloud.RemoteFile{ID: "b", Name: "Codex", IsFolder: true}))

	assert.Equal(t, "b", ix.Nav().Current().FolderID)
	assert.Equal(t, 3, ix.Nav().Depth())

	ix.Pop()
	assert.Equal(t, "a", ix.Nav().Current().FolderID)

	ix.Pop()
	assert.Equal(t, "root", ix.Nav().Current().FolderID)

	// The root frame never pops.
	ix.Pop()
	ix.Pop()
	assert.Equal(t, "root", ix.Nav().Current().FolderID)
	assert.Equal(t, 1, ix.Nav().Depth())
}

func TestPush_RejectsFiles(t *testing.T) {
	ix := New(&fakeProvider{maxPage: 10}, nil, nil)

	err := ix.Push(cloud.RemoteFile{ID: "f", Name: "notes.txt"})
	assert.ErrorIs(t, err, cloud.ErrUnsupportedOperation)
	assert.Equal(t, 1, ix.Nav().Depth())
}

func TestNavigationState_Path(t *testing.T) {
	nav := NewNavigationState("root", "OneDrive")
	nav.Push("a", "Projects")

	path := nav.Path()
	require.Len(t, path, 2)
	assert.Equal(t, "OneDrive", path[0].Label)
	assert.Equal(t, "Projects", path[1].Label)

	// The returned path is a copy, not a view.
	path[0].Label = "mutated"
	assert.Equal(t, "OneDrive", nav.Current().Label)
}
