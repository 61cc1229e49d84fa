// Package transfer moves individual files between the local disk and a
// provider: streaming upload and download, idempotent delete, and the
// single refresh-and-retry recovery when a provider rejects a token
// mid-operation. Folders are listable but never transferred as a unit.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/logsink"
)

// ErrOverwriteDeclined is returned when a download target already
// exists and the caller did not confirm the overwrite. There is no
// silent overwrite path.
var ErrOverwriteDeclined = errors.New("transfer: destination exists and overwrite not confirmed")

// ConfirmFunc decides whether an existing local file may be replaced.
// Nil means never overwrite.
type ConfirmFunc func(path string) bool

// Engine transfers files for one provider.
type Engine struct {
	provider     cloud.Provider
	downloadRoot string
	recorder     logsink.Recorder
	logger       *slog.Logger

	// refresh recovers a rejected token for the single
	// refresh-and-retry. Nil disables recovery.
	refresh func(context.Context) error
}

// NewEngine creates a transfer engine. Downloads land under
// downloadRoot in a per-provider subdirectory.
func NewEngine(
	provider cloud.Provider,
	downloadRoot string,
	refresh func(context.Context) error,
	recorder logsink.Recorder,
	logger *slog.Logger,
) *Engine {
	if recorder == nil {
		recorder = logsink.Noop{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		provider:     provider,
		downloadRoot: downloadRoot,
		refresh:      refresh,
		recorder:     recorder,
		logger:       logger,
	}
}

// withAuthRetry runs fn with the refresh-once recovery on unauthorized.
func (e *Engine) withAuthRetry(ctx context.Context, fn func() error) error {
	if e.refresh == nil {
		return fn()
	}

	return cloud.RetryOnceOnUnauthorized(ctx, e.refresh, fn)
}

// Upload streams the local file into the destination folder and
// returns the created remote entry.
func (e *Engine) Upload(ctx context.Context, localPath, destFolderID string) (*cloud.RemoteFile, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("transfer: stat %s: %w", localPath, err)
	}

	name := filepath.Base(localPath)

	e.logger.Info("uploading",
		slog.String("provider", string(e.provider.Name())),
		slog.String("name", name),
		slog.Int64("size", info.Size()),
	)

	var created *cloud.RemoteFile

	err = e.withAuthRetry(ctx, func() error {
		// Rewind so the retried request streams the whole file again.
		if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
			return fmt.Errorf("transfer: rewinding %s: %w", localPath, seekErr)
		}

		var opErr error
		created, opErr = e.provider.Upload(ctx, destFolderID, name, f, info.Size())

		return opErr
	})
	if err != nil {
		e.report(ctx, "upload "+name+": "+err.Error())
		return nil, err
	}

	return created, nil
}

// Download streams the remote file to its deterministic local path
// under the provider's download directory and returns that path. An
// existing same-named file is overwritten only when confirm approves.
// Requesting a folder fails with ErrUnsupportedOperation.
func (e *Engine) Download(ctx context.Context, remoteID string, confirm ConfirmFunc) (string, error) {
	var item *cloud.RemoteFile

	err := e.withAuthRetry(ctx, func() error {
		var opErr error
		item, opErr = e.provider.Stat(ctx, remoteID)

		return opErr
	})
	if err != nil {
		e.report(ctx, "download "+remoteID+": "+err.Error())
		return "", err
	}

	if item.IsFolder {
		return "", fmt.Errorf("%w: cannot download folder %q", cloud.ErrUnsupportedOperation, item.Name)
	}

	dest := e.LocalPath(item.Name)

	if _, statErr := os.Stat(dest); statErr == nil {
		if confirm == nil || !confirm(dest) {
			return "", fmt.Errorf("%w: %s", ErrOverwriteDeclined, dest)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return "", fmt.Errorf("transfer: creating download dir: %w", err)
	}

	n, err := e.downloadTo(ctx, remoteID, dest)
	if err != nil {
		e.report(ctx, "download "+remoteID+": "+err.Error())
		return "", err
	}

	e.logger.Info("download complete",
		slog.String("provider", string(e.provider.Name())),
		slog.String("path", dest),
		slog.Int64("bytes", n),
	)

	return dest, nil
}

// downloadTo streams into a temp file in the destination directory and
// renames into place, so an interrupted transfer never leaves a
// truncated file at the final path.
func (e *Engine) downloadTo(ctx context.Context, remoteID, dest string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("transfer: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	var n int64

	err = e.withAuthRetry(ctx, func() error {
		if _, seekErr := tmp.Seek(0, io.SeekStart); seekErr != nil {
			return fmt.Errorf("transfer: rewinding temp file: %w", seekErr)
		}

		if truncErr := tmp.Truncate(0); truncErr != nil {
			return fmt.Errorf("transfer: truncating temp file: %w", truncErr)
		}

		var opErr error
		n, opErr = e.provider.Download(ctx, remoteID, tmp)

		return opErr
	})
	if err != nil {
		return 0, err
	}

	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("transfer: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, fmt.Errorf("transfer: renaming into place: %w", err)
	}

	success = true

	return n, nil
}

// Delete removes the remote file. Deleting an already-absent id is
// success — the end state (absence) is achieved.
func (e *Engine) Delete(ctx context.Context, remoteID string) error {
	err := e.withAuthRetry(ctx, func() error {
		return e.provider.Delete(ctx, remoteID)
	})

	if errors.Is(err, cloud.ErrNotFound) {
		e.logger.Info("delete of absent id treated as success",
			slog.String("provider", string(e.provider.Name())),
			slog.String("remote_id", remoteID),
		)

		return nil
	}

	if err != nil {
		e.report(ctx, "delete "+remoteID+": "+err.Error())
		return err
	}

	return nil
}

// LocalPath is the deterministic download destination for a remote
// name: <root>/<Provider Label>/<name>, NFC-normalized so the same
// remote name always maps to the same local file across platforms.
func (e *Engine) LocalPath(name string) string {
	safe := norm.NFC.String(filepath.Base(name))

	return filepath.Join(e.downloadRoot, e.provider.Name().Label(), safe)
}

// report journals a transfer failure. Only provider, operation, and
// remote id — never credentials.
func (e *Engine) report(ctx context.Context, msg string) {
	if err := e.recorder.Record(ctx, logsink.CategoryTransfer, string(e.provider.Name()), msg); err != nil {
		e.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}
}
