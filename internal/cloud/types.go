package cloud

import (
	"fmt"
	"time"
)

// Name identifies a cloud provider.
type Name string

const (
	GitHub   Name = "github"
	GDrive   Name = "gdrive"
	OneDrive Name = "onedrive"
)

// ParseName validates a provider name from user input.
func ParseName(s string) (Name, error) {
	switch Name(s) {
	case GitHub, GDrive, OneDrive:
		return Name(s), nil
	default:
		return "", fmt.Errorf("cloud: unknown provider %q (expected github, gdrive, or onedrive)", s)
	}
}

// Label returns the human-readable provider name, also used as the
// per-provider download subdirectory.
func (n Name) Label() string {
	switch n {
	case GitHub:
		return "GitHub"
	case GDrive:
		return "Google Drive"
	case OneDrive:
		return "OneDrive"
	default:
		return string(n)
	}
}

// RemoteFile is one entry of a remote listing, normalized across
// providers — callers never see raw API data.
type RemoteFile struct {
	ID         string // provider-scoped, opaque, stable
	Name       string
	MimeType   string
	IsFolder   bool
	Size       int64
	ParentID   string // empty at the provider root
	Shared     bool
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Page is one page of a listing. NextPageToken is the provider's
// opaque continuation cursor; empty means the listing is exhausted.
type Page struct {
	Items         []RemoteFile
	NextPageToken string
}

// ListOptions controls a listing call.
type ListOptions struct {
	// SharedWithMe selects the provider's shared-with-me view instead
	// of the children of a folder.
	SharedWithMe bool

	// NameFilter keeps only entries whose name contains the filter,
	// case-insensitively. Empty means no filtering.
	NameFilter string

	// PageSize is clamped to the provider maximum. Zero means the
	// provider default.
	PageSize int

	// PageToken resumes a listing from a previous page's cursor.
	PageToken string
}
