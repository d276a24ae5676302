// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

// Package faults defines the error taxonomy shared by the checkout manager,
// the upstream clients and the job runner.
//
// Every run-level failure is one of these types (possibly wrapped). The
// runner uses Category to label metrics and history records and Retryable to
// decide whether a failed run is worth re-running on the next schedule tick.
// Nothing in the platform retries internally on these errors.
package faults

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// maxBodyExcerpt bounds how much of an upstream error body is kept.
const maxBodyExcerpt = 64 * 1024

// UpstreamHTTPError is returned when an upstream API answers with a non-200
// status. The run is aborted and nothing is committed.
type UpstreamHTTPError struct {
	Source     string
	URL        string
	StatusCode int
	Body       string
}

// NewUpstreamHTTPError builds an UpstreamHTTPError, truncating the body excerpt.
func NewUpstreamHTTPError(source, url string, status int, body []byte) *UpstreamHTTPError {
	if len(body) > maxBodyExcerpt {
		body = body[:maxBodyExcerpt]
	}
	return &UpstreamHTTPError{Source: source, URL: url, StatusCode: status, Body: string(body)}
}

func (e *UpstreamHTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: request to %s failed with status %d", e.Source, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: request to %s failed with status %d: %s", e.Source, e.URL, e.StatusCode, e.Body)
}

// TransientIOError is returned when the object store cannot be reached.
type TransientIOError struct {
	Op    string
	Key   string
	Cause error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("object store %s %q unreachable: %v", e.Op, e.Key, e.Cause)
}

func (e *TransientIOError) Unwrap() error { return e.Cause }

// LocalIOError is returned for local filesystem failures such as a full disk
// or a permission problem. It is fatal for the run.
type LocalIOError struct {
	Op    string
	Path  string
	Cause error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local %s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *LocalIOError) Unwrap() error { return e.Cause }

// LockTimeoutError is returned when the lease on a remote key could not be
// obtained in time.
type LockTimeoutError struct {
	Key    string
	Holder string
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("lock %q not acquired after %s", e.Key, e.Waited)
	}
	return fmt.Sprintf("lock %q not acquired after %s: held by %s", e.Key, e.Waited, e.Holder)
}

// MalformedPayloadError is returned when an upstream response does not have
// the expected shape. Nothing from that pull is ingested.
type MalformedPayloadError struct {
	Source string
	Reason string
	Cause  error
}

func (e *MalformedPayloadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: malformed payload: %s: %v", e.Source, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: malformed payload: %s", e.Source, e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Cause }

// CorruptObjectError is returned when a downloaded remote object does not
// match its declared size or checksum, or cannot be opened as a database.
// It is never recovered from silently.
type CorruptObjectError struct {
	Key    string
	Reason string
	Cause  error
}

func (e *CorruptObjectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("remote object %q is corrupt: %s: %v", e.Key, e.Reason, e.Cause)
	}
	return fmt.Sprintf("remote object %q is corrupt: %s", e.Key, e.Reason)
}

func (e *CorruptObjectError) Unwrap() error { return e.Cause }

// Category labels.
const (
	CategoryUpstreamHTTP     = "upstream_http"
	CategoryTransientIO      = "transient_io"
	CategoryLocalIO          = "local_io"
	CategoryLockTimeout      = "lock_timeout"
	CategoryMalformedPayload = "malformed_payload"
	CategoryCorruptObject    = "corrupt_object"
	CategoryCanceled         = "canceled"
	CategoryOther            = "other"
	CategoryNone             = ""
)

// Category returns a stable label for err, suitable for metric labels.
func Category(err error) string {
	if err == nil {
		return CategoryNone
	}

	var (
		upstream  *UpstreamHTTPError
		transient *TransientIOError
		local     *LocalIOError
		lock      *LockTimeoutError
		malformed *MalformedPayloadError
		corrupt   *CorruptObjectError
	)
	switch {
	case errors.As(err, &corrupt):
		return CategoryCorruptObject
	case errors.As(err, &lock):
		return CategoryLockTimeout
	case errors.As(err, &upstream):
		return CategoryUpstreamHTTP
	case errors.As(err, &malformed):
		return CategoryMalformedPayload
	case errors.As(err, &transient):
		return CategoryTransientIO
	case errors.As(err, &local):
		return CategoryLocalIO
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryCanceled
	default:
		return CategoryOther
	}
}

// Retryable reports whether re-running the job later may succeed.
func Retryable(err error) bool {
	switch Category(err) {
	case CategoryTransientIO, CategoryLockTimeout:
		return true
	default:
		return false
	}
}
