package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chimefrb/workflow/internal/config"
	"github.com/chimefrb/workflow/internal/work"
)

func testWorkspace(t *testing.T, mount string) *config.Workspace {
	t.Helper()
	return &config.Workspace{
		Name: "test",
		HTTP: config.HTTP{Buckets: "http://b", Results: "http://r"},
		Archive: config.Archive{
			Mounts: map[string]string{"chime": mount},
		},
		Config: struct {
			Archive config.ArchiveConfig `yaml:"archive"`
		}{
			Archive: config.ArchiveConfig{
				Products: config.ArchiveRule{Methods: []string{"copy", "move", "delete", "bypass"}, Storage: "posix"},
				Plots:    config.ArchiveRule{Methods: []string{"copy"}, Storage: "posix"},
			},
		},
	}
}

func newTestWork(t *testing.T, products []string) *work.Work {
	t.Helper()
	w, err := work.New("archive-test", "chime", "tester", work.WithCommand([]string{"echo"}))
	if err != nil {
		t.Fatal(err)
	}
	w.Creation = float64(time.Now().Unix())
	w.Products = products
	w.Config.Archive.Products = work.MethodCopy
	return w
}

func TestArchiveCopyLeavesSourceAndCreatesDest(t *testing.T) {
	src := t.TempDir()
	mount := t.TempDir()
	srcFile := filepath.Join(src, "result.txt")
	if err := os.WriteFile(srcFile, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws := testWorkspace(t, mount)
	w := newTestWork(t, []string{srcFile})

	registry := NewRegistry(nil)
	Archive(context.Background(), ws, registry, w)

	if _, err := os.Stat(srcFile); err != nil {
		t.Fatalf("source should still exist after copy: %v", err)
	}
	if len(w.Products) != 1 {
		t.Fatalf("products = %v", w.Products)
	}
	if _, err := os.Stat(w.Products[0]); err != nil {
		t.Fatalf("destination should exist after copy: %v", err)
	}
}

func TestArchiveMoveRemovesSource(t *testing.T) {
	src := t.TempDir()
	mount := t.TempDir()
	srcFile := filepath.Join(src, "result.txt")
	if err := os.WriteFile(srcFile, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws := testWorkspace(t, mount)
	ws.Config.Archive.Products.Methods = []string{"move"}
	w := newTestWork(t, []string{srcFile})
	w.Config.Archive.Products = work.MethodMove

	registry := NewRegistry(nil)
	Archive(context.Background(), ws, registry, w)

	if _, err := os.Stat(srcFile); !os.IsNotExist(err) {
		t.Fatalf("source should be gone after move, stat err = %v", err)
	}
	if len(w.Products) != 1 {
		t.Fatalf("products = %v", w.Products)
	}
	if _, err := os.Stat(w.Products[0]); err != nil {
		t.Fatalf("destination should exist after move: %v", err)
	}
}

func TestArchiveDeleteEmptiesList(t *testing.T) {
	src := t.TempDir()
	mount := t.TempDir()
	srcFile := filepath.Join(src, "result.txt")
	if err := os.WriteFile(srcFile, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws := testWorkspace(t, mount)
	w := newTestWork(t, []string{srcFile})
	w.Config.Archive.Products = work.MethodDelete

	registry := NewRegistry(nil)
	Archive(context.Background(), ws, registry, w)

	if _, err := os.Stat(srcFile); !os.IsNotExist(err) {
		t.Fatalf("source should be gone after delete: %v", err)
	}
	if len(w.Products) != 0 {
		t.Fatalf("products should be empty after delete, got %v", w.Products)
	}
}

func TestArchiveSkipsWhenMethodNotAllowed(t *testing.T) {
	mount := t.TempDir()
	ws := testWorkspace(t, mount)
	ws.Config.Archive.Products.Methods = []string{"copy"}
	w := newTestWork(t, []string{"/tmp/does-not-matter.txt"})
	w.Config.Archive.Products = work.MethodMove

	registry := NewRegistry(nil)
	Archive(context.Background(), ws, registry, w)

	if len(w.Products) != 1 || w.Products[0] != "/tmp/does-not-matter.txt" {
		t.Fatalf("products should be untouched when method disallowed, got %v", w.Products)
	}
}

func TestHTTPDriverUnimplemented(t *testing.T) {
	d := HTTPDriver{}
	if _, err := d.Copy(context.Background(), "", nil); err == nil {
		t.Fatal("expected unimplemented error")
	}
}

func TestPathLayout(t *testing.T) {
	w := newTestWork(t, nil)
	w.Pipeline = "my-pipeline"
	w.ID = "abc123"
	p := Path("/mnt/chime", w, "out.txt")
	want := filepath.Join("/mnt/chime", "workflow", time.Unix(int64(w.Creation), 0).Local().Format("20060102"), "my-pipeline", "abc123", "out.txt")
	if p != want {
		t.Fatalf("path = %s, want %s", p, want)
	}
}
