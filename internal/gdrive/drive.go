// Package gdrive implements store.Store on Google Drive.
package gdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Tiliavir/timesheet-fiscal/internal/store"
)

const fileFields = "id,name,mimeType,size,createdTime,modifiedTime,version"

// Store is a store.Store backed by Drive. Drive allows several files with
// the same name in a folder, so Create is not exclusive.
type Store struct {
	srv *drive.Service
}

var _ store.Store = (*Store)(nil)

// New returns a Store using client for all requests. Extra options (for
// example option.WithEndpoint in tests) are passed to the Drive service.
func New(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*Store, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return &Store{srv: srv}, nil
}

// escape quotes a value for a Drive query string literal.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func parent(id string) string {
	if id == "" {
		return "root"
	}
	return id
}

func query(folderID, name string, foldersOnly bool) string {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escape(parent(folderID)))
	if name != "" {
		q += fmt.Sprintf(" and name = '%s'", escape(name))
	}
	if foldersOnly {
		q += fmt.Sprintf(" and mimeType = '%s'", store.FolderMimeType)
	}
	return q
}

func convert(f *drive.File) store.File {
	out := store.File{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
	}
	out.CreatedTime, _ = time.Parse(time.RFC3339, f.CreatedTime)
	out.ModifiedTime, _ = time.Parse(time.RFC3339, f.ModifiedTime)
	if f.Version > 0 {
		out.Version = strconv.FormatInt(f.Version, 10)
	}
	return out
}

// wrap maps Drive's 404 to store.ErrNotFound.
func wrap(op, target string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", op, target, store.ErrNotFound)
	}
	return fmt.Errorf("drive error during %s %s: %w", op, target, err)
}

func (s *Store) list(ctx context.Context, q string) ([]store.File, error) {
	var files []store.File
	err := s.srv.Files.List().
		Q(q).
		Spaces("drive").
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
		PageSize(1000).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				files = append(files, convert(f))
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// EnsureFolder implements store.Store. When several folders share the name
// the oldest is used.
func (s *Store) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	folders, err := s.list(ctx, query(parentID, name, true))
	if err != nil {
		return "", wrap("listing folder", name, err)
	}
	if len(folders) > 0 {
		sort.Slice(folders, func(i, j int) bool { return folders[i].CreatedTime.Before(folders[j].CreatedTime) })
		return folders[0].ID, nil
	}
	f, err := s.srv.Files.Create(&drive.File{
		Name:     name,
		MimeType: store.FolderMimeType,
		Parents:  []string{parent(parentID)},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", wrap("creating folder", name, err)
	}
	return f.Id, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, folderID, name string) ([]store.File, error) {
	files, err := s.list(ctx, query(folderID, name, false))
	if err != nil {
		return nil, wrap("listing", parent(folderID), err)
	}
	return files, nil
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, folderID, name string, content []byte) (store.File, error) {
	f, err := s.srv.Files.Create(&drive.File{
		Name:     name,
		MimeType: "text/csv",
		Parents:  []string{parent(folderID)},
	}).Media(bytes.NewReader(content), googleapi.ContentType("text/csv")).
		Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return store.File{}, wrap("creating", name, err)
	}
	return convert(f), nil
}

// Upload implements store.Store.
func (s *Store) Upload(ctx context.Context, fileID string, content []byte) (store.File, error) {
	f, err := s.srv.Files.Update(fileID, &drive.File{}).
		Media(bytes.NewReader(content), googleapi.ContentType("text/csv")).
		Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return store.File{}, wrap("uploading", fileID, err)
	}
	return convert(f), nil
}

// Download implements store.Store.
func (s *Store) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := s.srv.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, wrap("downloading", fileID, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fileID, err)
	}
	return data, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	if err := s.srv.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		return wrap("deleting", fileID, err)
	}
	return nil
}
