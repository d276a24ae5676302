// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package blobstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
)

type memoryObject struct {
	data  []byte
	attrs Attributes
}

// MemoryStore keeps objects in process memory. It backs the "memory"
// storage backend and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	uploads map[string]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		uploads: make(map[string]int),
	}
}

// Download implements Store.
func (s *MemoryStore) Download(ctx context.Context, key string, dst io.Writer) (Attributes, error) {
	if err := ctx.Err(); err != nil {
		return Attributes{}, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return Attributes{}, ErrNotFound
	}
	if _, err := io.Copy(dst, bytes.NewReader(obj.data)); err != nil {
		return Attributes{}, err
	}
	return obj.attrs, nil
}

// Upload implements Store. The stored size and checksum are computed from
// the bytes when attrs leaves them empty.
func (s *MemoryStore) Upload(ctx context.Context, key string, src io.Reader, attrs Attributes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	sum, size, _ := Checksum(bytes.NewReader(data))
	if attrs.Checksum == "" {
		attrs.Checksum = sum
	}
	attrs.Size = size

	s.mu.Lock()
	s.objects[key] = memoryObject{data: data, attrs: attrs}
	s.uploads[key]++
	s.mu.Unlock()
	return nil
}

// Put stores an object directly with exactly the given attributes. Tests use
// it to plant truncated or mislabelled objects.
func (s *MemoryStore) Put(key string, data []byte, attrs Attributes) {
	s.mu.Lock()
	s.objects[key] = memoryObject{data: append([]byte(nil), data...), attrs: attrs}
	s.mu.Unlock()
}

// Get returns a copy of an object's bytes.
func (s *MemoryStore) Get(key string) ([]byte, Attributes, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, Attributes{}, false
	}
	return append([]byte(nil), obj.data...), obj.attrs, true
}

// Uploads returns how many times key has been uploaded.
func (s *MemoryStore) Uploads(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploads[key]
}

// Keys lists stored keys in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
