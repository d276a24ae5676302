// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/tomtom215/luftdata/internal/faults"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	payload := []byte("duckdb file contents")

	if err := s.Upload(ctx, "air_quality.duckdb", bytes.NewReader(payload), Attributes{ContentType: "application/octet-stream"}); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	var buf bytes.Buffer
	attrs, err := s.Download(ctx, "air_quality.duckdb", &buf)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Errorf("downloaded %q, want %q", buf.Bytes(), payload)
	}
	if attrs.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", attrs.Size, len(payload))
	}
	wantSum, _, _ := Checksum(bytes.NewReader(payload))
	if attrs.Checksum != wantSum {
		t.Errorf("Checksum = %q, want %q", attrs.Checksum, wantSum)
	}
	if attrs.ContentType != "application/octet-stream" {
		t.Errorf("ContentType = %q", attrs.ContentType)
	}
	if s.Uploads("air_quality.duckdb") != 1 {
		t.Errorf("Uploads = %d, want 1", s.Uploads("air_quality.duckdb"))
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Download(context.Background(), "missing", &bytes.Buffer{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Upload(ctx, "k", strings.NewReader("x"), Attributes{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Upload err = %v", err)
	}
	if _, err := s.Download(ctx, "k", &bytes.Buffer{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Download err = %v", err)
	}
}

func TestMemoryStore_PutAndKeys(t *testing.T) {
	s := NewMemoryStore()
	s.Put("b", []byte("2"), Attributes{Size: 99})
	s.Put("a", []byte("1"), Attributes{})

	if got := s.Keys(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Keys() = %v", got)
	}
	_, attrs, ok := s.Get("b")
	if !ok || attrs.Size != 99 {
		t.Errorf("Put should keep attrs verbatim, got %+v", attrs)
	}
}

func TestChecksum(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	sum, n, err := Checksum(strings.NewReader("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if sum != want || n != 3 {
		t.Errorf("Checksum = %s/%d, want %s/3", sum, n, want)
	}
}

func TestMetadataValue(t *testing.T) {
	md := map[string]*string{"Sha256": to.Ptr("abc"), "other": nil}
	if got := metadataValue(md, ChecksumMetadataKey); got != "abc" {
		t.Errorf("metadataValue = %q, want abc", got)
	}
	if got := metadataValue(md, "other"); got != "" {
		t.Errorf("nil value should be empty, got %q", got)
	}
	if got := metadataValue(nil, "x"); got != "" {
		t.Errorf("nil map should be empty, got %q", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func responseError(status int, code string) *azcore.ResponseError {
	req := httptest.NewRequest(http.MethodGet, "https://devstoreaccount1.blob.core.windows.net/dagster-storage/db", nil)
	return &azcore.ResponseError{
		ErrorCode:   code,
		StatusCode:  status,
		RawResponse: &http.Response{StatusCode: status, Status: http.StatusText(status), Request: req, Body: http.NoBody, Header: http.Header{}},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
		category string
	}{
		{"blob not found", responseError(http.StatusNotFound, "BlobNotFound"), true, ""},
		{"container not found", responseError(http.StatusNotFound, "ContainerNotFound"), true, ""},
		{"server error", responseError(http.StatusServiceUnavailable, "ServerBusy"), false, faults.CategoryTransientIO},
		{"throttled", responseError(http.StatusTooManyRequests, "ServerBusy"), false, faults.CategoryTransientIO},
		{"request timeout", responseError(http.StatusRequestTimeout, "OperationTimedOut"), false, faults.CategoryTransientIO},
		{"forbidden", responseError(http.StatusForbidden, "AuthorizationFailure"), false, faults.CategoryOther},
		{"network", fmt.Errorf("dial: %w", timeoutErr{}), false, faults.CategoryTransientIO},
		{"deadline", context.DeadlineExceeded, false, faults.CategoryTransientIO},
		{"canceled", context.Canceled, false, faults.CategoryCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("download", "db", tt.err)
			if tt.notFound {
				if !errors.Is(got, ErrNotFound) {
					t.Errorf("classify = %v, want ErrNotFound", got)
				}
				return
			}
			if c := faults.Category(got); c != tt.category {
				t.Errorf("category = %q, want %q (err %v)", c, tt.category, got)
			}
		})
	}
}

func TestNewAzureStore_Validation(t *testing.T) {
	if _, err := NewAzureStore(AzureConfig{AccountName: "a", AccountKey: "a2V5"}); err == nil {
		t.Error("expected error without container")
	}
	if _, err := NewAzureStore(AzureConfig{Container: "c"}); err == nil {
		t.Error("expected error without credentials")
	}

	s, err := NewAzureStore(AzureConfig{Container: "dagster-storage", AccountName: "devstoreaccount1", AccountKey: "a2V5"})
	if err != nil {
		t.Fatalf("NewAzureStore with shared key: %v", err)
	}
	if s.Breaker().Name() != "blob-storage" {
		t.Errorf("breaker name = %q", s.Breaker().Name())
	}
}
