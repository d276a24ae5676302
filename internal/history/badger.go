// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/luftdata/internal/logging"
)

// DefaultTTL is how long runs are kept.
const DefaultTTL = 30 * 24 * time.Hour

const runKeyPrefix = "run:"

// BadgerStore persists runs in BadgerDB. Keys are
// run:<job>:<started_at unix nanos, big endian>:<id>, so a reverse prefix
// scan yields one job's runs newest first.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadgerStore opens (or creates) a store in dir.
func OpenBadgerStore(dir string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for run history: %w", err)
	}
	return NewBadgerStore(db, ttl), nil
}

// NewBadgerStore wraps an open DB.
func NewBadgerStore(db *badger.DB, ttl time.Duration) *BadgerStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BadgerStore{db: db, ttl: ttl}
}

func runKey(job string, started time.Time, id string) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(started.UnixNano()))
	key := make([]byte, 0, len(runKeyPrefix)+len(job)+len(id)+10)
	key = append(key, runKeyPrefix...)
	key = append(key, job...)
	key = append(key, ':')
	key = append(key, ts[:]...)
	key = append(key, ':')
	key = append(key, id...)
	return key
}

// Record implements Store.
func (s *BadgerStore) Record(_ context.Context, run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(runKey(run.Job, run.StartedAt, run.ID), data).WithTTL(s.ttl)
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("set run: %w", err)
		}
		return nil
	})
}

// List implements Store.
func (s *BadgerStore) List(ctx context.Context, job string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	prefix := []byte(runKeyPrefix)
	if job != "" {
		prefix = []byte(runKeyPrefix + job + ":")
	}

	var runs []Run
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(bytes.Clone(prefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			// One job's keys are ordered by time; all-jobs listings are
			// merged and trimmed below.
			if job != "" && len(runs) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var r Run
				if err := json.Unmarshal(val, &r); err != nil {
					logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping unreadable run record")
					return nil
				}
				runs = append(runs, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	if job == "" {
		sortNewestFirst(runs)
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Last implements Store.
func (s *BadgerStore) Last(ctx context.Context, job string) (*Run, error) {
	runs, err := s.List(ctx, job, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// Close closes the underlying DB.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
