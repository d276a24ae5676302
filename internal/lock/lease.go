// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/metrics"
)

// ErrLeaseLost is returned when a lease record no longer names this holder.
var ErrLeaseLost = errors.New("lease lost to another owner")

const (
	DefaultTTL          = 10 * time.Minute
	DefaultTimeout      = 10 * time.Minute
	DefaultPollInterval = time.Second
)

// Config configures a FileLocker.
type Config struct {
	// Dir holds the .lock and .lease files. It must be shared by every
	// process that should be mutually excluded.
	Dir          string
	TTL          time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
}

// FileLocker hands out named, expiring leases backed by files in Dir.
type FileLocker struct {
	cfg  Config
	host string
	pid  int
	now  func() time.Time
}

// record is the on-disk lease.
type record struct {
	Key        string    `json:"key"`
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Token      uint64    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (r *record) holder() string {
	return fmt.Sprintf("%s/%d (%s)", r.Host, r.PID, r.Owner)
}

// NewFileLocker creates the lock directory and applies defaults.
func NewFileLocker(cfg Config) (*FileLocker, error) {
	if cfg.Dir == "" {
		return nil, errors.New("lock directory is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, &faults.LocalIOError{Op: "mkdir", Path: cfg.Dir, Cause: err}
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &FileLocker{cfg: cfg, host: host, pid: os.Getpid(), now: time.Now}, nil
}

// TTL returns the configured lease lifetime.
func (l *FileLocker) TTL() time.Duration { return l.cfg.TTL }

// Acquire blocks until the lease for key is obtained, the timeout elapses or
// ctx is canceled. The wait ends at Timeout or the ctx deadline, whichever is
// earlier, and either way yields a LockTimeoutError. Leases are not
// reentrant: a second Acquire for the same key waits even within the same
// process.
func (l *FileLocker) Acquire(ctx context.Context, key string) (*Lease, error) {
	name := sanitize(key)
	fl := flock.New(filepath.Join(l.cfg.Dir, name+".lock"))
	leasePath := filepath.Join(l.cfg.Dir, name+".lease")
	owner := uuid.NewString()
	log := logging.Ctx(ctx).With().Str("component", "lock").Str("key", key).Logger()

	start := l.now()
	deadline := start.Add(l.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	var lastHolder string

	timedOut := func() error {
		waited := l.now().Sub(start)
		metrics.RecordLockWait(key, "timeout", waited)
		return &faults.LockTimeoutError{Key: key, Holder: lastHolder, Waited: waited}
	}

	for {
		rec, err := l.tryTake(ctx, fl, leasePath, key, owner)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, timedOut()
			}
			return nil, err
		}
		if rec.Owner == owner {
			waited := l.now().Sub(start)
			metrics.RecordLockWait(key, "acquired", waited)
			log.Debug().Uint64("token", rec.Token).Dur("waited", waited).Msg("Lease acquired")
			return &Lease{
				locker: l,
				flock:  fl,
				path:   leasePath,
				key:    key,
				owner:  owner,
				token:  rec.Token,
				expiry: rec.ExpiresAt,
				lost:   make(chan struct{}),
			}, nil
		}

		if h := rec.holder(); h != lastHolder {
			log.Info().Str("holder", h).Time("expires_at", rec.ExpiresAt).Msg("Waiting for lease")
			lastHolder = h
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return nil, timedOut()
		}

		timer := time.NewTimer(min(l.cfg.PollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, timedOut()
			}
			metrics.RecordLockWait(key, "canceled", l.now().Sub(start))
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// tryTake runs one atomic check-and-set under the flock. It returns the
// record in force afterwards; the caller owns it when Owner matches.
func (l *FileLocker) tryTake(ctx context.Context, fl *flock.Flock, path, key, owner string) (*record, error) {
	unlock, err := lockFile(ctx, fl, l.cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := readRecord(path)
	if err != nil {
		return nil, err
	}

	now := l.now()
	if current != nil && now.Before(current.ExpiresAt) {
		return current, nil
	}

	var token uint64 = 1
	if current != nil {
		token = current.Token + 1
		metrics.RecordLockTakeover(key)
		logging.Ctx(ctx).Warn().
			Str("component", "lock").
			Str("key", key).
			Str("previous_holder", current.holder()).
			Time("expired_at", current.ExpiresAt).
			Msg("Taking over expired lease")
	}

	rec := &record{
		Key:        key,
		Owner:      owner,
		PID:        l.pid,
		Host:       l.host,
		Token:      token,
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.cfg.TTL),
	}
	if err := writeRecord(path, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Lease is a held lock on one key.
type Lease struct {
	locker *FileLocker
	flock  *flock.Flock
	path   string
	key    string
	owner  string
	token  uint64

	mu       sync.Mutex
	expiry   time.Time
	released bool
	stop     context.CancelFunc
	done     chan struct{}

	lost     chan struct{}
	lostOnce sync.Once
}

// Key returns the remote key this lease protects.
func (l *Lease) Key() string { return l.key }

// Token returns the fencing token. It increases every time the lease changes hands.
func (l *Lease) Token() uint64 { return l.token }

// ExpiresAt returns the expiry recorded at the last acquire or refresh.
func (l *Lease) ExpiresAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expiry
}

// Lost is closed when a refresh finds the lease taken by someone else.
func (l *Lease) Lost() <-chan struct{} { return l.lost }

// Refresh extends the lease by the locker TTL.
func (l *Lease) Refresh(ctx context.Context) error {
	unlock, err := lockFile(ctx, l.flock, l.locker.cfg.PollInterval)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := readRecord(l.path)
	if err != nil {
		return err
	}
	if !l.owns(rec) {
		l.markLost()
		return ErrLeaseLost
	}

	rec.ExpiresAt = l.locker.now().Add(l.locker.cfg.TTL)
	if err := writeRecord(l.path, rec); err != nil {
		return err
	}

	l.mu.Lock()
	l.expiry = rec.ExpiresAt
	l.mu.Unlock()
	return nil
}

// KeepAlive refreshes the lease every TTL/3 in the background until the
// lease is released or ctx is done. A lost lease closes Lost().
func (l *Lease) KeepAlive(ctx context.Context) {
	l.mu.Lock()
	if l.released || l.stop != nil {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.stop = cancel
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	interval := l.locker.cfg.TTL / 3
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := l.Refresh(ctx)
				switch {
				case err == nil:
				case errors.Is(err, ErrLeaseLost):
					logging.Error().Str("key", l.key).Uint64("token", l.token).Msg("Lease lost during keepalive")
					return
				case ctx.Err() != nil:
					return
				default:
					logging.Warn().Err(err).Str("key", l.key).Msg("Lease refresh failed, will retry")
				}
			}
		}
	}()
}

// Verify checks that the lease record still names this holder and token
// and has not expired. It is the fencing check before publishing writes.
func (l *Lease) Verify() error {
	rec, err := readRecord(l.path)
	if err != nil {
		return err
	}
	if !l.owns(rec) || !l.locker.now().Before(rec.ExpiresAt) {
		l.markLost()
		return ErrLeaseLost
	}
	return nil
}

// Release stops the keepalive and removes the lease record. Calling it
// again is a no-op. ErrLeaseLost means someone else owned the key by then.
func (l *Lease) Release() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	stop, done := l.stop, l.done
	l.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	unlock, err := lockFile(context.Background(), l.flock, l.locker.cfg.PollInterval)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := readRecord(l.path)
	if err != nil {
		return err
	}
	if !l.owns(rec) {
		l.markLost()
		return ErrLeaseLost
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &faults.LocalIOError{Op: "remove", Path: l.path, Cause: err}
	}
	return nil
}

func (l *Lease) owns(rec *record) bool {
	return rec != nil && rec.Owner == l.owner && rec.Token == l.token
}

func (l *Lease) markLost() {
	l.lostOnce.Do(func() {
		metrics.RecordLockLost(l.key)
		close(l.lost)
	})
}

// lockFile takes the exclusive flock, polling until ctx is done.
func lockFile(ctx context.Context, fl *flock.Flock, retry time.Duration) (func(), error) {
	ok, err := fl.TryLockContext(ctx, retry)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &faults.LocalIOError{Op: "flock", Path: fl.Path(), Cause: err}
	}
	if !ok {
		return nil, ctx.Err()
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			logging.Warn().Err(err).Str("path", fl.Path()).Msg("Failed to release flock")
		}
	}, nil
}

func readRecord(path string) (*record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path built from sanitized key
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &faults.LocalIOError{Op: "read", Path: path, Cause: err}
	}
	if len(data) == 0 {
		return nil, nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A torn write from a crashed holder is treated as no lease.
		logging.Warn().Err(err).Str("path", path).Msg("Ignoring unreadable lease record")
		return nil, nil
	}
	return &rec, nil
}

func writeRecord(path string, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return &faults.LocalIOError{Op: "write", Path: tmp, Cause: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &faults.LocalIOError{Op: "rename", Path: path, Cause: err}
	}
	return nil
}

// sanitize maps a remote key to a single safe filename component.
func sanitize(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || strings.Trim(name, ".") == "" {
		return "_" + name
	}
	return name
}
