package gdrive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/techcodex/codexcloud/internal/cloud"
)

type staticToken string

func (t staticToken) Token(_ context.Context) (string, error) {
	return string(t), nil
}

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(t.Context(), staticToken("tok"), nil, nil,
		option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	return p
}

func TestList_QueryAndMapping(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		assert.Equal(t, "'folder-1' in parents and trashed=false", q)
		assert.Equal(t, "100", r.URL.Query().Get("pageSize"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"nextPageToken": "token-2",
			"files": [
				{"id":"f1","name":"report.pdf","mimeType":"application/pdf","size":"2048",
				 "parents":["folder-1"],"createdTime":"2026-01-01T00:00:00Z","modifiedTime":"2026-02-01T00:00:00Z"},
				{"id":"d1","name":"Projects","mimeType":"application/vnd.google-apps.folder","parents":["folder-1"]}
			]
		}`)
	}))

	page, err := p.List(t.Context(), "folder-1", cloud.ListOptions{})
	require.NoError(t, err)

	assert.Equal(t, "token-2", page.NextPageToken)
	require.Len(t, page.Items, 2)

	file := page.Items[0]
	assert.Equal(t, "f1", file.ID)
	assert.Equal(t, int64(2048), file.Size)
	assert.Equal(t, "folder-1", file.ParentID)
	assert.False(t, file.IsFolder)
	assert.Equal(t, 2026, file.CreatedAt.Year())

	assert.True(t, page.Items[1].IsFolder)
}

func TestList_SharedWithMeQuery(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sharedWithMe=true and trashed=false", r.URL.Query().Get("q"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"files":[{"id":"s1","name":"shared.doc","shared":true}]}`)
	}))

	page, err := p.List(t.Context(), "root", cloud.ListOptions{SharedWithMe: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].Shared)
}

func TestList_PageTokenForwarded(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-2", r.URL.Query().Get("pageToken"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"files":[]}`)
	}))

	page, err := p.List(t.Context(), "root", cloud.ListOptions{PageToken: "token-2"})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextPageToken)
}

func TestStat_NotFoundClassified(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		http.Error(w, `{"error":{"code":404,"message":"File not found"}}`, http.StatusNotFound)
	}))

	_, err := p.Stat(t.Context(), "gone")
	assert.ErrorIs(t, err, cloud.ErrNotFound)

	var pe *cloud.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusNotFound, pe.StatusCode)
	assert.Equal(t, cloud.GDrive, pe.Provider)
}

func TestDelete_UnauthorizedClassified(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`, http.StatusUnauthorized)
	}))

	err := p.Delete(t.Context(), "f1")
	assert.ErrorIs(t, err, cloud.ErrUnauthorized)
}

func TestDownload_Success(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		_, _ = w.Write([]byte("drive bytes"))
	}))

	var buf bytes.Buffer

	n, err := p.Download(t.Context(), "f1", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "drive bytes", buf.String())
}

func TestDownload_NativeDocRejected(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w,
			`{"error":{"code":403,"message":"Only files with binary content can be downloaded."}}`,
			http.StatusForbidden)
	}))

	var buf bytes.Buffer

	_, err := p.Download(t.Context(), "doc1", &buf)
	assert.ErrorIs(t, err, cloud.ErrUnsupportedOperation)
}

func TestDelete_Success(t *testing.T) {
	var gotMethod string

	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, p.Delete(t.Context(), "f1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestWhoami(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"user":{"emailAddress":"user@example.com","displayName":"Test User"}}`)
	}))

	account, err := p.Whoami(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", account)
}

func TestToRemoteFile(t *testing.T) {
	f := toRemoteFile(&drive.File{
		Id:       "x",
		Name:     "Sheet",
		MimeType: folderMime,
		Shared:   true,
	})

	assert.True(t, f.IsFolder)
	assert.True(t, f.Shared)
	assert.Empty(t, f.ParentID)
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s`, escapeQuery("it's"))
}

func TestProviderIdentity(t *testing.T) {
	p := newTestProvider(t, http.NotFoundHandler())

	assert.Equal(t, cloud.GDrive, p.Name())
	assert.Equal(t, "root", p.RootID())
	assert.Equal(t, maxPageSize, p.MaxPageSize())
}
