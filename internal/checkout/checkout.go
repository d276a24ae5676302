// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/tomtom215/luftdata/internal/blobstore"
	"github.com/tomtom215/luftdata/internal/database"
	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/lock"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/metrics"
)

// ErrHandleClosed is returned when a Handle is released or aborted twice.
var ErrHandleClosed = errors.New("checkout handle already closed")

// ContentType is stored on uploaded database objects.
const ContentType = "application/octet-stream"

// DB is an open local database.
type DB interface {
	Conn() *sql.DB
	Close() error
}

// Opener opens the local copy at path.
type Opener func(path string) (DB, error)

// Locker hands out leases on remote keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (*lock.Lease, error)
}

// Options configures a Manager.
type Options struct {
	// TempDir is the parent of per-checkout directories. Empty means os.TempDir().
	TempDir string

	// Opener defaults to database.Open with Database.
	Opener   Opener
	Database database.Options
}

// Manager checks remote DuckDB files out to local disk under a lease.
type Manager struct {
	store   blobstore.Store
	locker  Locker
	tempDir string
	opener  Opener
}

// New creates a Manager.
func New(store blobstore.Store, locker Locker, opts Options) *Manager {
	opener := opts.Opener
	if opener == nil {
		dbOpts := opts.Database
		opener = func(p string) (DB, error) { return database.Open(p, dbOpts) }
	}
	return &Manager{
		store:   store,
		locker:  locker,
		tempDir: opts.TempDir,
		opener:  opener,
	}
}

// Handle is a checked-out database. It is valid until Release or Abort.
type Handle struct {
	remoteKey string
	dir       string
	localPath string
	lease     *lock.Lease
	db        DB

	// existed is false when the remote object was missing at checkout.
	existed     bool
	originalSum string

	closed atomic.Bool
}

// Connection returns the open connection to the local copy.
func (h *Handle) Connection() *sql.DB { return h.db.Conn() }

// BackingPath returns the local file path.
func (h *Handle) BackingPath() string { return h.localPath }

// RemoteKey returns the blob key this handle was checked out from.
func (h *Handle) RemoteKey() string { return h.remoteKey }

// Token returns the fencing token of the lease held by this handle.
func (h *Handle) Token() uint64 { return h.lease.Token() }

// Lost is closed if the lease is taken over while the handle is open.
func (h *Handle) Lost() <-chan struct{} { return h.lease.Lost() }

// Acquire takes the lease on remoteKey, downloads the object and opens it.
// A missing object yields an empty database.
func (m *Manager) Acquire(ctx context.Context, remoteKey string) (*Handle, error) {
	lease, err := m.locker.Acquire(ctx, remoteKey)
	if err != nil {
		return nil, err
	}

	h, err := m.checkout(ctx, lease)
	if err != nil {
		if rerr := lease.Release(); rerr != nil {
			logging.Ctx(ctx).Warn().Err(rerr).Str("key", remoteKey).Msg("Failed to release lease after checkout error")
		}
		return nil, err
	}

	lease.KeepAlive(context.WithoutCancel(ctx))

	logging.Ctx(ctx).Info().
		Str("component", "checkout").
		Str("key", remoteKey).
		Str("path", h.localPath).
		Bool("existed", h.existed).
		Uint64("token", lease.Token()).
		Msg("Checked out database")
	return h, nil
}

func (m *Manager) checkout(ctx context.Context, lease *lock.Lease) (*Handle, error) {
	key := lease.Key()

	dir, err := os.MkdirTemp(m.tempDir, "checkout-*")
	if err != nil {
		return nil, &faults.LocalIOError{Op: "mkdtemp", Path: m.tempDir, Cause: err}
	}
	h := &Handle{
		remoteKey: key,
		dir:       dir,
		localPath: filepath.Join(dir, localName(key)),
		lease:     lease,
	}

	fail := func(err error) (*Handle, error) {
		removeDir(dir)
		return nil, err
	}

	existed, sum, err := m.download(ctx, key, h.localPath)
	if err != nil {
		return fail(err)
	}
	h.existed, h.originalSum = existed, sum

	db, err := m.opener(h.localPath)
	if err != nil {
		if existed {
			// The bytes matched what was stored, so the stored object is bad.
			return fail(&faults.CorruptObjectError{Key: key, Reason: "not a readable database", Cause: err})
		}
		return fail(fmt.Errorf("open checkout of %s: %w", key, err))
	}
	h.db = db
	return h, nil
}

// download streams key to localPath and verifies it against the stored
// attributes. It returns the sha256 of the downloaded bytes.
func (m *Manager) download(ctx context.Context, key, localPath string) (bool, string, error) {
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // path is under our temp dir
	if err != nil {
		return false, "", &faults.LocalIOError{Op: "create", Path: localPath, Cause: err}
	}

	sum := blobstore.NewChecksummer()
	attrs, err := m.store.Download(ctx, key, io.MultiWriter(&localWriter{f: f}, sum))
	if cerr := f.Close(); cerr != nil && err == nil {
		err = &faults.LocalIOError{Op: "close", Path: localPath, Cause: cerr}
	}

	if errors.Is(err, blobstore.ErrNotFound) {
		// DuckDB creates the file on open.
		if rerr := os.Remove(localPath); rerr != nil {
			return false, "", &faults.LocalIOError{Op: "remove", Path: localPath, Cause: rerr}
		}
		logging.Ctx(ctx).Info().Str("key", key).Msg("Remote database not found, starting empty")
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	if attrs.Size > 0 && attrs.Size != sum.Size() {
		return false, "", &faults.CorruptObjectError{
			Key:    key,
			Reason: fmt.Sprintf("size mismatch: downloaded %d bytes, object reports %d", sum.Size(), attrs.Size),
		}
	}
	if attrs.Checksum != "" && !strings.EqualFold(attrs.Checksum, sum.Sum()) {
		return false, "", &faults.CorruptObjectError{
			Key:    key,
			Reason: fmt.Sprintf("checksum mismatch: downloaded %s, object reports %s", sum.Sum(), attrs.Checksum),
		}
	}
	return true, sum.Sum(), nil
}

// Release closes the connection, uploads the local file and releases the
// lease. The upload is skipped when the file is unchanged since download.
// The lease is released and the temp dir removed even when a step fails.
func (m *Manager) Release(ctx context.Context, h *Handle) (err error) {
	if !h.closed.CompareAndSwap(false, true) {
		return ErrHandleClosed
	}
	log := logging.Ctx(ctx).With().Str("component", "checkout").Str("key", h.remoteKey).Logger()
	defer func() {
		err = errors.Join(err, m.finish(h))
	}()

	if err := h.db.Close(); err != nil {
		return fmt.Errorf("close checkout of %s: %w", h.remoteKey, err)
	}

	sum, size, err := checksumFile(h.localPath)
	if err != nil {
		return err
	}
	if h.existed && sum == h.originalSum {
		metrics.RecordUploadSkipped()
		log.Info().Str("sha256", sum).Msg("Database unchanged, skipping upload")
		return nil
	}

	if err := h.lease.Verify(); err != nil {
		return fmt.Errorf("refusing to upload %s: %w", h.remoteKey, err)
	}

	f, err := os.Open(h.localPath)
	if err != nil {
		return &faults.LocalIOError{Op: "open", Path: h.localPath, Cause: err}
	}
	defer func() { _ = f.Close() }()

	attrs := blobstore.Attributes{Size: size, Checksum: sum, ContentType: ContentType}
	if err := m.store.Upload(ctx, h.remoteKey, &localReader{f: f}, attrs); err != nil {
		return err
	}

	log.Info().Int64("bytes", size).Str("sha256", sum).Msg("Uploaded database")
	return nil
}

// Abort closes the connection and discards local changes. Nothing is uploaded.
func (m *Manager) Abort(h *Handle) error {
	if !h.closed.CompareAndSwap(false, true) {
		return ErrHandleClosed
	}
	database.CloseWithLog(h.db, logging.NewComponentSlogLogger("checkout"), "checkout database")
	return m.finish(h)
}

func (m *Manager) finish(h *Handle) error {
	removeDir(h.dir)
	if err := h.lease.Release(); err != nil {
		return fmt.Errorf("release lease on %s: %w", h.remoteKey, err)
	}
	return nil
}

// With checks out key, runs fn and releases on success. On error or panic
// the checkout is aborted and nothing is uploaded.
func With(ctx context.Context, m *Manager, key string, fn func(*Handle) error) (err error) {
	h, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if aerr := m.Abort(h); aerr != nil {
				logging.Ctx(ctx).Warn().Err(aerr).Str("key", key).Msg("Abort after panic failed")
			}
			panic(r)
		}
	}()

	if err := fn(h); err != nil {
		if aerr := m.Abort(h); aerr != nil {
			logging.Ctx(ctx).Warn().Err(aerr).Str("key", key).Msg("Abort failed")
		}
		return err
	}
	return m.Release(ctx, h)
}

// View checks out key for reading. The checkout is always aborted.
func View(ctx context.Context, m *Manager, key string, fn func(*Handle) error) error {
	h, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if aerr := m.Abort(h); aerr != nil {
			logging.Ctx(ctx).Warn().Err(aerr).Str("key", key).Msg("Releasing read-only checkout failed")
		}
	}()
	return fn(h)
}

// localName maps "dir/air_quality.duckdb" to "air_quality.duckdb".
func localName(key string) string {
	base := path.Base(key)
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "database"
	}
	return base + ".duckdb"
}

func checksumFile(p string) (string, int64, error) {
	f, err := os.Open(p) //nolint:gosec // path is under our temp dir
	if err != nil {
		return "", 0, &faults.LocalIOError{Op: "open", Path: p, Cause: err}
	}
	defer func() { _ = f.Close() }()
	sum, size, err := blobstore.Checksum(f)
	if err != nil {
		return "", 0, &faults.LocalIOError{Op: "read", Path: p, Cause: err}
	}
	return sum, size, nil
}

func removeDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logging.Warn().Err(err).Str("dir", dir).Msg("Failed to remove checkout directory")
	}
}

// localWriter tags write failures as local so they are not mistaken for
// store errors.
type localWriter struct{ f *os.File }

func (w *localWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &faults.LocalIOError{Op: "write", Path: w.f.Name(), Cause: err}
	}
	return n, nil
}

// localReader tags read failures as local.
type localReader struct{ f *os.File }

func (r *localReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &faults.LocalIOError{Op: "read", Path: r.f.Name(), Cause: err}
	}
	return n, err
}
