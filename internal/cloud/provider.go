package cloud

import (
	"context"
	"errors"
	"io"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer
// per Go convention "accept interfaces, return structs"; the auth flow
// package provides the real implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Provider is the capability set shared by the GitHub, Google Drive,
// and OneDrive variants. Implementations hold only a transient token
// source, never persisted credential state.
type Provider interface {
	Name() Name

	// RootID is the provider-defined id of the root folder.
	RootID() string

	// MaxPageSize is the largest page size the provider accepts.
	MaxPageSize() int

	// List returns one page of the given folder's children, or of the
	// shared-with-me view when opts.SharedWithMe is set.
	List(ctx context.Context, folderID string, opts ListOptions) (*Page, error)

	// Upload streams r into a new file under the given parent folder
	// and returns the created entry.
	Upload(ctx context.Context, parentID, name string, r io.Reader, size int64) (*RemoteFile, error)

	// Download streams the file's content to w and returns the number
	// of bytes written. Folders are not downloadable.
	Download(ctx context.Context, fileID string, w io.Writer) (int64, error)

	// Delete removes the file. Providers surface ErrNotFound for an
	// absent id; idempotence is layered on by the transfer engine.
	Delete(ctx context.Context, fileID string) error

	// Stat fetches a single entry by id.
	Stat(ctx context.Context, fileID string) (*RemoteFile, error)
}

// RetryOnceOnUnauthorized runs fn. If it fails with ErrUnauthorized,
// refresh is invoked exactly once and fn retried exactly once; any
// second failure is surfaced unmodified. Every other error is surfaced
// immediately. This is the only place a 401 is recovered locally.
func RetryOnceOnUnauthorized(ctx context.Context, refresh func(context.Context) error, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, ErrUnauthorized) {
		return err
	}

	if refreshErr := refresh(ctx); refreshErr != nil {
		return refreshErr
	}

	return fn()
}
