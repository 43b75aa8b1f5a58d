// Package storage implements store.Store on a local directory tree. It is
// used for offline operation and as the backing store in tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Tiliavir/timesheet-fiscal/internal/store"
)

// Dir is a store.Store rooted at a local directory. File IDs are
// slash-separated paths relative to the root.
//
// Each file's revision counter is kept in a hidden sidecar file next to it
// (".<name>.rev"); hidden files are never listed.
type Dir struct {
	root string
	mu   sync.Mutex // serialises revision bumps within this process
}

var _ store.Store = (*Dir)(nil)

// New returns a Dir rooted at root, creating the directory if needed.
func New(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("storage error creating %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

// Root returns the directory the store is rooted at.
func (d *Dir) Root() string { return d.root }

func (d *Dir) abs(id string) (string, error) {
	clean := path.Clean("/" + id)
	if clean == "/" && id != "" {
		return "", fmt.Errorf("storage error: invalid id %q", id)
	}
	return filepath.Join(d.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func childID(parentID, name string) string {
	if parentID == "" {
		return name
	}
	return parentID + "/" + name
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("storage error: invalid name %q", name)
	}
	return nil
}

func revPath(p string) string {
	return filepath.Join(filepath.Dir(p), "."+filepath.Base(p)+".rev")
}

// EnsureFolder implements store.Store.
func (d *Dir) EnsureFolder(_ context.Context, parentID, name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	id := childID(parentID, name)
	p, err := d.abs(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p, 0o700); err != nil {
		return "", fmt.Errorf("storage error creating folder %s: %w", id, err)
	}
	return id, nil
}

// List implements store.Store.
func (d *Dir) List(_ context.Context, folderID, name string) ([]store.File, error) {
	p, err := d.abs(folderID)
	if err != nil {
		return nil, err
	}
	if folderID == "" {
		p = d.root
	}
	entries, err := os.ReadDir(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("listing %q: %w", folderID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage error listing %s: %w", folderID, err)
	}
	var files []store.File
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, ".") || strings.HasSuffix(n, ".tmp") {
			continue
		}
		if name != "" && n != name {
			continue
		}
		f, err := d.stat(childID(folderID, n))
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between ReadDir and Stat.
			continue
		}
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (d *Dir) stat(id string) (store.File, error) {
	p, err := d.abs(id)
	if err != nil {
		return store.File{}, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return store.File{}, fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.File{}, fmt.Errorf("storage error reading %s: %w", id, err)
	}
	f := store.File{
		ID:           id,
		Name:         fi.Name(),
		Size:         fi.Size(),
		CreatedTime:  fi.ModTime(),
		ModifiedTime: fi.ModTime(),
	}
	if fi.IsDir() {
		f.MimeType = store.FolderMimeType
		f.Size = 0
		return f, nil
	}
	f.MimeType = "text/csv"
	if rev, err := readRev(p); err == nil && rev > 0 {
		f.Version = strconv.FormatInt(rev, 10)
	}
	return f, nil
}

// Create implements store.Store. It fails with store.ErrExists if a file
// with the same name is already present.
func (d *Dir) Create(_ context.Context, folderID, name string, content []byte) (store.File, error) {
	if err := validName(name); err != nil {
		return store.File{}, err
	}
	id := childID(folderID, name)
	p, err := d.abs(id)
	if err != nil {
		return store.File{}, err
	}
	if _, err := os.Stat(filepath.Dir(p)); errors.Is(err, fs.ErrNotExist) {
		return store.File{}, fmt.Errorf("creating %s: folder %q: %w", name, folderID, store.ErrNotFound)
	}
	fh, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return store.File{}, fmt.Errorf("creating %s: %w", id, store.ErrExists)
	}
	if err != nil {
		return store.File{}, fmt.Errorf("storage error creating %s: %w", id, err)
	}
	_, werr := fh.Write(content)
	cerr := fh.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(p)
		return store.File{}, fmt.Errorf("storage error writing %s: %w", id, errors.Join(werr, cerr))
	}
	d.mu.Lock()
	err = writeRev(p, 1)
	d.mu.Unlock()
	if err != nil {
		return store.File{}, err
	}
	return d.stat(id)
}

// Upload implements store.Store by atomically replacing the file: the new
// content is written to a temp file which is then renamed over the old one.
func (d *Dir) Upload(_ context.Context, fileID string, content []byte) (store.File, error) {
	p, err := d.abs(fileID)
	if err != nil {
		return store.File{}, err
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return store.File{}, fmt.Errorf("uploading %s: %w", fileID, store.ErrNotFound)
	}

	tmpPath := p + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return store.File{}, fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		_ = os.Remove(tmpPath)
		return store.File{}, fmt.Errorf("storage error renaming temp file: %w", err)
	}

	d.mu.Lock()
	rev, _ := readRev(p)
	err = writeRev(p, rev+1)
	d.mu.Unlock()
	if err != nil {
		return store.File{}, err
	}
	return d.stat(fileID)
}

// Download implements store.Store.
func (d *Dir) Download(_ context.Context, fileID string) ([]byte, error) {
	p, err := d.abs(fileID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("downloading %s: %w", fileID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage error reading %s: %w", fileID, err)
	}
	return data, nil
}

// Delete implements store.Store.
func (d *Dir) Delete(_ context.Context, fileID string) error {
	p, err := d.abs(fileID)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", fileID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage error deleting %s: %w", fileID, err)
	}
	_ = os.Remove(revPath(p))
	return nil
}

func readRev(p string) (int64, error) {
	data, err := os.ReadFile(revPath(p))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeRev(p string, rev int64) error {
	if err := os.WriteFile(revPath(p), []byte(strconv.FormatInt(rev, 10)), 0o600); err != nil {
		return fmt.Errorf("storage error writing revision: %w", err)
	}
	return nil
}
