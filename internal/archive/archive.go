// Package archive materializes a Work's products/plots to durable storage
// under a deterministic per-site layout and rewrites the Work's artifact
// lists to the archived locations, per spec.md §4.4. It is grounded on the
// teacher's executor registry/dispatch pattern in
// services/orchestrator/task_executor.go, generalized from a single
// backend to the posix/s3/http driver table the spec requires.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chimefrb/workflow/internal/config"
	"github.com/chimefrb/workflow/internal/werrors"
	"github.com/chimefrb/workflow/internal/work"
)

// Driver implements the {bypass, copy, move, delete, upload, permissions}
// surface for one storage backend.
type Driver interface {
	Bypass(ctx context.Context, destDir string, items []string) ([]string, error)
	Copy(ctx context.Context, destDir string, items []string) ([]string, error)
	Move(ctx context.Context, destDir string, items []string) ([]string, error)
	Delete(ctx context.Context, items []string) error
	Upload(ctx context.Context, destDir string, items []string) ([]string, error)
	Permissions(ctx context.Context, site string, items []string) error
}

// Registry maps a storage name (posix/s3/http) to its Driver.
type Registry map[string]Driver

// NewRegistry builds the default three-driver registry described in
// spec.md §4.4.
func NewRegistry(s3Driver Driver) Registry {
	return Registry{
		"posix": &PosixDriver{},
		"s3":    s3Driver,
		"http":  &HTTPDriver{},
	}
}

// Path builds the deterministic archive path for one artifact, per
// spec.md §4.4: <mount(S)>/workflow/YYYYMMDD/<pipeline>/<id>/<basename>.
func Path(mount string, w *work.Work, basename string) string {
	day := time.Unix(int64(w.Creation), 0).Local().Format("20060102")
	return filepath.Join(mount, "workflow", day, w.Pipeline, w.ID, basename)
}

// destDir is Path without the basename, used as the destination directory
// passed to a driver.
func destDir(mount string, w *work.Work) string {
	day := time.Unix(int64(w.Creation), 0).Local().Format("20060102")
	return filepath.Join(mount, "workflow", day, w.Pipeline, w.ID)
}

// Archive dispatches products and plots per spec.md §4.4's per-kind method
// table. Driver errors are logged and do not flip Work status — archival
// failure is never fatal to an otherwise-successful Work.
func Archive(ctx context.Context, ws *config.Workspace, registry Registry, w *work.Work) {
	archiveKind(ctx, ws, registry, w, "products", w.Config.Archive.Products, &w.Products)
	archiveKind(ctx, ws, registry, w, "plots", w.Config.Archive.Plots, &w.Plots)
}

func archiveKind(ctx context.Context, ws *config.Workspace, registry Registry, w *work.Work, kind string, method work.ArchiveMethod, items *[]string) {
	if len(*items) == 0 {
		return
	}

	rule := ruleFor(ws, kind)
	if rule.Storage == "" {
		slog.Warn("archive: no storage configured for artifact kind, skipping", "kind", kind, "work", w.ID)
		return
	}
	if !methodAllowed(rule.Methods, method) {
		slog.Warn("archive: method not permitted by workspace policy, skipping", "kind", kind, "method", method, "work", w.ID)
		return
	}

	driver, ok := registry[rule.Storage]
	if !ok || driver == nil {
		slog.Warn("archive: no driver registered for storage backend, skipping", "storage", rule.Storage, "kind", kind, "work", w.ID)
		return
	}

	mount, _ := ws.Mount(w.Site)
	dest := destDir(mount, w)

	var (
		newItems []string
		err      error
	)
	switch method {
	case work.MethodBypass:
		newItems, err = driver.Bypass(ctx, dest, *items)
	case work.MethodCopy:
		newItems, err = driver.Copy(ctx, dest, *items)
	case work.MethodMove:
		newItems, err = driver.Move(ctx, dest, *items)
	case work.MethodUpload:
		newItems, err = driver.Upload(ctx, dest, *items)
	case work.MethodDelete:
		err = driver.Delete(ctx, *items)
		if err == nil {
			*items = nil
		}
	default:
		err = fmt.Errorf("%w: unrecognized archive method %q", werrors.ErrArchive, method)
	}

	if err != nil {
		slog.Error("archive: driver operation failed", "storage", rule.Storage, "kind", kind, "method", method, "work", w.ID, "error", err)
		return
	}
	if newItems != nil {
		*items = newItems
	}

	if rule.Storage == "posix" {
		if err := applyPermissions(ctx, ws, w.Site, *items); err != nil {
			slog.Error("archive: permissions step failed", "work", w.ID, "error", err)
		}
	}
}

func ruleFor(ws *config.Workspace, kind string) config.ArchiveRule {
	if kind == "plots" {
		return ws.Config.Archive.Plots
	}
	return ws.Config.Archive.Products
}

func methodAllowed(methods []string, method work.ArchiveMethod) bool {
	for _, m := range methods {
		if m == string(method) {
			return true
		}
	}
	return false
}

// applyPermissions attempts setfacl on each item and falls back to
// chmod g+rX where setfacl fails; group ownership is not changed. Failure is
// logged, never fatal.
func applyPermissions(ctx context.Context, ws *config.Workspace, site string, items []string) error {
	if len(items) == 0 {
		return nil
	}
	var lastErr error
	for _, item := range items {
		if err := exec.CommandContext(ctx, "setfacl", "-m", "g::rX", item).Run(); err == nil {
			continue
		}
		if err := exec.CommandContext(ctx, "chmod", "g+rX", item).Run(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// PosixDriver implements Driver over the local filesystem.
type PosixDriver struct{}

func (PosixDriver) Bypass(_ context.Context, _ string, items []string) ([]string, error) {
	return items, nil
}

func (PosixDriver) Copy(_ context.Context, dest string, items []string) ([]string, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", werrors.ErrArchive, dest, err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		target := filepath.Join(dest, filepath.Base(item))
		if err := copyFile(item, target); err != nil {
			return nil, fmt.Errorf("%w: copy %s: %v", werrors.ErrArchive, item, err)
		}
		out = append(out, target)
	}
	return out, nil
}

func (PosixDriver) Move(_ context.Context, dest string, items []string) ([]string, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", werrors.ErrArchive, dest, err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		target := filepath.Join(dest, filepath.Base(item))
		if err := os.Rename(item, target); err != nil {
			return nil, fmt.Errorf("%w: move %s: %v", werrors.ErrArchive, item, err)
		}
		out = append(out, target)
	}
	return out, nil
}

func (PosixDriver) Delete(_ context.Context, items []string) error {
	for _, item := range items {
		if err := os.Remove(item); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: delete %s: %v", werrors.ErrArchive, item, err)
		}
	}
	return nil
}

func (PosixDriver) Upload(ctx context.Context, dest string, items []string) ([]string, error) {
	return PosixDriver{}.Copy(ctx, dest, items)
}

func (PosixDriver) Permissions(ctx context.Context, _ string, items []string) error {
	var lastErr error
	for _, item := range items {
		if err := exec.CommandContext(ctx, "setfacl", "-m", "g::rX", item).Run(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Sync()
}

// HTTPDriver implements the http storage backend: only Bypass is
// supported, per spec.md §4.4.
type HTTPDriver struct{}

func (HTTPDriver) Bypass(_ context.Context, _ string, items []string) ([]string, error) {
	return items, nil
}

func (HTTPDriver) Copy(context.Context, string, []string) ([]string, error) {
	return nil, fmt.Errorf("%w: http driver does not support copy", werrors.ErrUnimplemented)
}

func (HTTPDriver) Move(context.Context, string, []string) ([]string, error) {
	return nil, fmt.Errorf("%w: http driver does not support move", werrors.ErrUnimplemented)
}

func (HTTPDriver) Delete(context.Context, []string) error {
	return fmt.Errorf("%w: http driver does not support delete", werrors.ErrUnimplemented)
}

func (HTTPDriver) Upload(context.Context, string, []string) ([]string, error) {
	return nil, fmt.Errorf("%w: http driver does not support upload", werrors.ErrUnimplemented)
}

func (HTTPDriver) Permissions(context.Context, string, []string) error {
	return fmt.Errorf("%w: http driver does not support permissions", werrors.ErrUnimplemented)
}
