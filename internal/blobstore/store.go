// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package blobstore abstracts the object store holding the DuckDB file and
// the rendered artifacts.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"strings"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// ChecksumMetadataKey is the blob metadata entry carrying the sha256 hex digest.
const ChecksumMetadataKey = "sha256"

// Attributes describe a stored object. Zero values mean unknown.
type Attributes struct {
	Size        int64
	Checksum    string
	ContentType string
}

// Store is the object store contract used by checkout and the maps job.
type Store interface {
	// Download streams the object to dst and returns its stored attributes.
	Download(ctx context.Context, key string, dst io.Writer) (Attributes, error)

	// Upload replaces the object with the bytes of src.
	Upload(ctx context.Context, key string, src io.Reader, attrs Attributes) error
}

// Checksummer counts and hashes bytes written through it.
type Checksummer struct {
	h hash.Hash
	n int64
}

// NewChecksummer returns a sha256 Checksummer.
func NewChecksummer() *Checksummer {
	return &Checksummer{h: sha256.New()}
}

func (c *Checksummer) Write(p []byte) (int, error) {
	n, _ := c.h.Write(p)
	c.n += int64(n)
	return n, nil
}

// Sum returns the hex digest of everything written so far.
func (c *Checksummer) Sum() string { return hex.EncodeToString(c.h.Sum(nil)) }

// Size returns the number of bytes written so far.
func (c *Checksummer) Size() int64 { return c.n }

// Checksum hashes r to EOF.
func Checksum(r io.Reader) (string, int64, error) {
	c := NewChecksummer()
	if _, err := io.Copy(c, r); err != nil {
		return "", 0, err
	}
	return c.Sum(), c.Size(), nil
}

// metadataValue looks up a metadata key case-insensitively; Azure
// canonicalises header casing on the way back.
func metadataValue(md map[string]*string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) && v != nil {
			return *v
		}
	}
	return ""
}
