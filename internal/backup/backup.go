// Package backup archives the novels tree and the user database into zip
// files, and restores them.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/otiai10/copy"

	"github.com/maruel/novelist/internal/metrics"
	"github.com/maruel/novelist/internal/models"
	"github.com/maruel/novelist/internal/store"
)

const (
	novelsPrefix = "novels/"
	dbEntry      = "users.db"
	archiveExt   = ".zip"
)

// Options configures an Archiver.
type Options struct {
	// NovelsDir is the root of the local store.
	NovelsDir string
	// BackupsDir holds the archives.
	BackupsDir string
	// TempDir holds restore staging directories. It should be on the same
	// filesystem as NovelsDir.
	TempDir string
	// DBPath is the live user database file.
	DBPath string
	// Snapshot, when set, writes a consistent copy of the database to dst
	// instead of reading DBPath directly.
	Snapshot func(ctx context.Context, dst string) error
	// RestoreDB, when set, replaces the live database with src instead of
	// copying over DBPath.
	RestoreDB func(ctx context.Context, src string) error
}

// Archiver creates, lists, deletes and restores backups.
//
// Mutations hold a lock file in BackupsDir so that concurrent processes,
// e.g. the server and the CLI, do not interleave.
type Archiver struct {
	opts Options
	mu   sync.Mutex
	lock *flock.Flock
}

// PartialRestoreError reports a restore that replaced the novels tree but
// failed to restore the user database. The store is left in a mixed state.
type PartialRestoreError struct {
	Err error
}

func (e *PartialRestoreError) Error() string {
	return "novels were restored but the user database was not: " + e.Err.Error()
}

func (e *PartialRestoreError) Unwrap() error {
	return e.Err
}

// New returns an Archiver, creating its directories.
func New(opts Options) (*Archiver, error) {
	for _, d := range []string{opts.BackupsDir, opts.TempDir} {
		if err := os.MkdirAll(d, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return &Archiver{opts: opts, lock: flock.New(filepath.Join(opts.BackupsDir, ".lock"))}, nil
}

func (a *Archiver) acquire(ctx context.Context) (func(), error) {
	a.mu.Lock()
	ok, err := a.lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !ok {
		a.mu.Unlock()
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, fmt.Errorf("failed to lock backups: %w", err)
	}
	return func() {
		if err := a.lock.Unlock(); err != nil {
			slog.Warn("Failed to unlock backups", "err", err)
		}
		a.mu.Unlock()
	}, nil
}

// Name returns the archive name for a backup taken at t.
func Name(t time.Time) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return "backup-" + strings.NewReplacer(":", "-", ".", "-").Replace(ts) + archiveExt
}

// Create archives the novels tree and the user database. Nothing is left in
// BackupsDir on failure.
func (a *Archiver) Create(ctx context.Context) (b *models.Backup, err error) {
	start := time.Now()
	defer func() {
		metrics.BackupDuration.WithLabelValues("create", metrics.Result(err)).Observe(time.Since(start).Seconds())
	}()
	unlock, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	name := Name(start)
	final := filepath.Join(a.opts.BackupsDir, name)
	if _, err := os.Stat(final); err == nil {
		return nil, fmt.Errorf("%w: backup %s already exists", store.ErrConflict, name)
	}
	f, err := os.CreateTemp(a.opts.BackupsDir, ".backup-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create backup: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				slog.WarnContext(ctx, "Failed to remove partial backup", "err", rmErr)
			}
		}
	}()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})
	if err = addTree(ctx, zw, a.opts.NovelsDir, novelsPrefix); err != nil {
		return nil, err
	}
	if err = a.addDatabase(ctx, zw); err != nil {
		return nil, err
	}
	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish backup: %w", err)
	}
	if err = f.Sync(); err != nil {
		return nil, fmt.Errorf("failed to flush backup: %w", err)
	}
	if err = f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close backup: %w", err)
	}
	if err = os.Rename(tmp, final); err != nil {
		return nil, fmt.Errorf("failed to store backup: %w", err)
	}
	fi, err := os.Stat(final)
	if err != nil {
		return nil, err
	}
	metrics.BackupBytes.Set(float64(fi.Size()))
	slog.InfoContext(ctx, "Created backup", "name", name, "size", fi.Size(), "dur", time.Since(start).Round(time.Millisecond))
	return &models.Backup{Name: name, Size: fi.Size(), Created: fi.ModTime()}, nil
}

// addTree adds root and everything below it under prefix. Directories get
// their own entries so that empty books survive a restore. A missing root
// adds nothing.
func addTree(ctx context.Context, zw *zip.Writer, root, prefix string) error {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := prefix
		if rel != "." {
			name = path.Join(prefix, filepath.ToSlash(rel))
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			if !strings.HasSuffix(name, "/") {
				name += "/"
			}
			_, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: info.ModTime()})
			return err
		case d.Type().IsRegular():
			return addFile(zw, p, name, info)
		default:
			slog.WarnContext(ctx, "Skipping non-regular file in backup", "path", rel)
			return nil
		}
	})
}

func addFile(zw *zip.Writer, src, name string, info fs.FileInfo) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(src) //nolint:gosec // G304: walking our own data directory
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}
	return nil
}

func (a *Archiver) addDatabase(ctx context.Context, zw *zip.Writer) error {
	src := a.opts.DBPath
	if a.opts.Snapshot != nil {
		src = filepath.Join(a.opts.TempDir, "snapshot-"+uuid.NewString()+".db")
		defer func() { _ = os.Remove(src) }()
		if err := a.opts.Snapshot(ctx, src); err != nil {
			return err
		}
	}
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.WarnContext(ctx, "No user database to back up")
			return nil
		}
		return err
	}
	return addFile(zw, src, dbEntry, info)
}

// List returns the backups, newest first.
func (a *Archiver) List(ctx context.Context) ([]*models.Backup, error) {
	backups := []*models.Backup{}
	entries, err := os.ReadDir(a.opts.BackupsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return backups, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != archiveExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			slog.WarnContext(ctx, "Skipping backup", "name", e.Name(), "err", err)
			continue
		}
		backups = append(backups, &models.Backup{Name: e.Name(), Size: info.Size(), Created: info.ModTime()})
	}
	slices.SortStableFunc(backups, func(x, y *models.Backup) int {
		if c := y.Created.Compare(x.Created); c != 0 {
			return c
		}
		return strings.Compare(y.Name, x.Name)
	})
	return backups, nil
}

// Open opens a backup archive for download.
func (a *Archiver) Open(name string) (*os.File, error) {
	p, err := a.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p) //nolint:gosec // G304: name is validated
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: backup %q", store.ErrNotFound, name)
		}
		return nil, err
	}
	return f, nil
}

// Delete removes a backup. A missing backup is an error.
func (a *Archiver) Delete(ctx context.Context, name string) error {
	p, err := a.path(name)
	if err != nil {
		return err
	}
	unlock, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: backup %q", store.ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	slog.InfoContext(ctx, "Deleted backup", "name", name)
	return nil
}

// Restore replaces the novels tree and the user database with the content of
// a backup. A component missing from the archive is left untouched.
//
// Restore is not transactional: when the database cannot be restored after
// the novels tree was replaced, it returns a *PartialRestoreError.
func (a *Archiver) Restore(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() {
		metrics.BackupDuration.WithLabelValues("restore", metrics.Result(err)).Observe(time.Since(start).Seconds())
	}()
	p, err := a.path(name)
	if err != nil {
		return err
	}
	unlock, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	zr, err := zip.OpenReader(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: backup %q", store.ErrNotFound, name)
		}
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer func() { _ = zr.Close() }()

	staging := filepath.Join(a.opts.TempDir, "restore-"+uuid.NewString())
	if err := os.Mkdir(staging, 0o700); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			slog.WarnContext(ctx, "Failed to remove staging directory", "err", rmErr)
		}
	}()

	hasNovels, hasDB, err := extract(ctx, &zr.Reader, staging)
	if err != nil {
		return err
	}
	if hasNovels {
		if err := replaceDir(filepath.Join(staging, "novels"), a.opts.NovelsDir); err != nil {
			return fmt.Errorf("failed to replace novels: %w", err)
		}
	}
	if hasDB {
		src := filepath.Join(staging, dbEntry)
		if a.opts.RestoreDB != nil {
			err = a.opts.RestoreDB(ctx, src)
		} else {
			err = copy.Copy(src, a.opts.DBPath)
		}
		if err != nil {
			if hasNovels {
				return &PartialRestoreError{Err: err}
			}
			return fmt.Errorf("failed to restore user database: %w", err)
		}
	}
	slog.InfoContext(ctx, "Restored backup", "name", name, "novels", hasNovels, "db", hasDB, "dur", time.Since(start).Round(time.Millisecond))
	return nil
}

// extract unpacks the novels tree and the database of an archive into dst.
// Other entries are ignored.
func extract(ctx context.Context, zr *zip.Reader, dst string) (hasNovels, hasDB bool, err error) {
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return false, false, err
		}
		name := strings.TrimSuffix(f.Name, "/")
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			return false, false, fmt.Errorf("%w: unsafe archive entry %q", store.ErrInvalidArgument, f.Name)
		}
		switch {
		case name == dbEntry && !f.FileInfo().IsDir():
			hasDB = true
		case name == "novels" || strings.HasPrefix(name, novelsPrefix):
			hasNovels = true
		default:
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
				return false, false, err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return false, false, err
		}
	}
	return hasNovels, hasDB, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()
	w, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // G302: restored documents
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil { //nolint:gosec // G110: archives are produced by Create
		_ = w.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	return os.Chtimes(target, f.Modified, f.Modified)
}

// replaceDir removes dst and moves src in its place.
func replaceDir(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	return copy.Copy(src, dst)
}

func (a *Archiver) path(name string) (string, error) {
	if !store.IsValidFilename(name) || filepath.Ext(name) != archiveExt || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: backup name %q", store.ErrInvalidArgument, name)
	}
	return filepath.Join(a.opts.BackupsDir, name), nil
}
