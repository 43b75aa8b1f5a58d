package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Tiliavir/timesheet-fiscal/internal/storage"
	"github.com/Tiliavir/timesheet-fiscal/internal/store"
)

func newDir(t *testing.T) *storage.Dir {
	t.Helper()
	d, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestEnsureFolderIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newDir(t)

	id1, err := d.EnsureFolder(ctx, "", "ts-fiscal")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}
	id2, err := d.EnsureFolder(ctx, "", "ts-fiscal")
	if err != nil {
		t.Fatalf("EnsureFolder (again): %v", err)
	}
	if id1 != id2 {
		t.Errorf("EnsureFolder ids differ: %q vs %q", id1, id2)
	}
	sub, err := d.EnsureFolder(ctx, id1, "locks")
	if err != nil {
		t.Fatalf("EnsureFolder nested: %v", err)
	}
	if sub != "ts-fiscal/locks" {
		t.Errorf("nested id = %q, want %q", sub, "ts-fiscal/locks")
	}
}

func TestCreateIsExclusive(t *testing.T) {
	ctx := context.Background()
	d := newDir(t)
	root, _ := d.EnsureFolder(ctx, "", "root")

	f, err := d.Create(ctx, root, "empresas.lock", []byte("a"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.Version != "1" {
		t.Errorf("Version = %q, want %q", f.Version, "1")
	}
	_, err = d.Create(ctx, root, "empresas.lock", []byte("b"))
	if !errors.Is(err, store.ErrExists) {
		t.Fatalf("second Create err = %v, want ErrExists", err)
	}
	data, err := d.Download(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a" {
		t.Errorf("content = %q, want %q", data, "a")
	}
}

func TestCreateMissingFolder(t *testing.T) {
	d := newDir(t)
	_, err := d.Create(context.Background(), "nope", "x.csv", nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Create in missing folder err = %v, want ErrNotFound", err)
	}
}

func TestUploadBumpsVersion(t *testing.T) {
	ctx := context.Background()
	d := newDir(t)
	root, _ := d.EnsureFolder(ctx, "", "root")

	f, err := d.Create(ctx, root, "timesheet.csv", []byte("v1"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"2", "3"} {
		f, err = d.Upload(ctx, f.ID, []byte("v"+want))
		if err != nil {
			t.Fatalf("Upload: %v", err)
		}
		if f.Version != want {
			t.Errorf("Version = %q, want %q", f.Version, want)
		}
	}
	data, _ := d.Download(ctx, f.ID)
	if string(data) != "v3" {
		t.Errorf("content = %q, want %q", data, "v3")
	}
	// No temp file is left behind.
	if _, err := os.Stat(filepath.Join(d.Root(), "root", "timesheet.csv.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left after Upload")
	}
}

func TestUploadMissing(t *testing.T) {
	d := newDir(t)
	_, err := d.Upload(context.Background(), "root/missing.csv", []byte("x"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Upload err = %v, want ErrNotFound", err)
	}
}

func TestListFiltersByNameAndHidesSidecars(t *testing.T) {
	ctx := context.Background()
	d := newDir(t)
	root, _ := d.EnsureFolder(ctx, "", "root")
	for _, n := range []string{"empresas.csv", "projetos.csv"} {
		if _, err := d.Create(ctx, root, n, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.EnsureFolder(ctx, root, "locks"); err != nil {
		t.Fatal(err)
	}

	all, err := d.List(ctx, root, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List all = %d files, want 3: %+v", len(all), all)
	}
	folders := 0
	for _, f := range all {
		if f.IsFolder() {
			folders++
		}
	}
	if folders != 1 {
		t.Errorf("folders = %d, want 1", folders)
	}

	one, err := d.List(ctx, root, "projetos.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || one[0].ID != "root/projetos.csv" {
		t.Errorf("List by name = %+v", one)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	d := newDir(t)
	root, _ := d.EnsureFolder(ctx, "", "root")
	f, _ := d.Create(ctx, root, "a.lock", nil)

	if err := d.Delete(ctx, f.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := d.Delete(ctx, f.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
	// A re-created file starts over at revision 1.
	f, err := d.Create(ctx, root, "a.lock", nil)
	if err != nil {
		t.Fatal(err)
	}
	if f.Version != "1" {
		t.Errorf("Version after re-create = %q, want 1", f.Version)
	}
}

func TestInvalidNames(t *testing.T) {
	ctx := context.Background()
	d := newDir(t)
	for _, n := range []string{"", "..", "a/b", ".hidden"} {
		if _, err := d.EnsureFolder(ctx, "", n); err == nil {
			t.Errorf("EnsureFolder(%q) succeeded, want error", n)
		}
	}
}
