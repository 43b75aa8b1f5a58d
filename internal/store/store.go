// Package store defines the capability interface of the backing file store
// that tables, locks and backups live in.
package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when a file or folder does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrExists is returned by Create when the store refuses to create a
	// second file with the same name in a folder.
	ErrExists = errors.New("store: already exists")
)

// FolderMimeType is the mime type Drive uses for folders. The local store
// reports it as well so callers can tell folders from files.
const FolderMimeType = "application/vnd.google-apps.folder"

// File is the metadata the store reports for a file or folder.
type File struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	CreatedTime  time.Time
	ModifiedTime time.Time
	// Version is an opaque, store-assigned revision tag. Empty if unknown.
	Version string
}

// IsFolder reports whether f is a folder.
func (f File) IsFolder() bool {
	return f.MimeType == FolderMimeType
}

// Store is a hierarchical file store: folders holding named files.
// A parentID or folderID of "" denotes the root of the store.
type Store interface {
	// EnsureFolder returns the ID of the folder called name inside parentID,
	// creating it if needed.
	EnsureFolder(ctx context.Context, parentID, name string) (string, error)
	// List returns the files inside folderID whose name equals name, or all
	// files when name is empty.
	List(ctx context.Context, folderID, name string) ([]File, error)
	// Create creates a new file with the given content.
	Create(ctx context.Context, folderID, name string, content []byte) (File, error)
	// Upload replaces the entire content of an existing file.
	Upload(ctx context.Context, fileID string, content []byte) (File, error)
	// Download returns the entire content of a file.
	Download(ctx context.Context, fileID string) ([]byte, error)
	// Delete removes a file.
	Delete(ctx context.Context, fileID string) error
}

// Latest returns the most recently modified file. Ties are broken by
// version and then ID so the choice is stable. ok is false for an empty slice.
func Latest(files []File) (f File, ok bool) {
	if len(files) == 0 {
		return File{}, false
	}
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.ModifiedTime.Equal(b.ModifiedTime) {
			return a.ModifiedTime.After(b.ModifiedTime)
		}
		if a.Version != b.Version {
			return versionLess(b.Version, a.Version)
		}
		return a.ID > b.ID
	})
	return sorted[0], true
}

// versionLess compares numeric version strings without parsing them.
func versionLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
