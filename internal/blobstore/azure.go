// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/tomtom215/luftdata/internal/breaker"
	"github.com/tomtom215/luftdata/internal/faults"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/metrics"
)

// AzureConfig selects the storage account and container.
type AzureConfig struct {
	// ConnectionString takes precedence over account name and key.
	ConnectionString string
	AccountName      string
	AccountKey       string

	// Endpoint overrides https://<account>.blob.core.windows.net/.
	Endpoint  string
	Container string

	// MaxRetries for the SDK transport. Zero keeps the SDK default;
	// negative disables transport retries.
	MaxRetries int32

	BlockSize   int64
	Concurrency int

	Breaker breaker.Config
}

// AzureStore is a Store backed by Azure Blob Storage.
type AzureStore struct {
	client    *azblob.Client
	container string
	cfg       AzureConfig
	cb        *breaker.Breaker
}

// NewAzureStore builds the azblob client from cfg.
func NewAzureStore(cfg AzureConfig) (*AzureStore, error) {
	if cfg.Container == "" {
		return nil, errors.New("azure container name is required")
	}

	opts := &azblob.ClientOptions{}
	if cfg.MaxRetries != 0 {
		opts.ClientOptions = azcore.ClientOptions{Retry: policy.RetryOptions{MaxRetries: cfg.MaxRetries}}
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, opts)
	case cfg.AccountName != "" && cfg.AccountKey != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("azure shared key: %w", err)
		}
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, opts)
	default:
		return nil, errors.New("azure storage requires a connection string or account name and key")
	}
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}

	bc := cfg.Breaker
	if bc.Name == "" {
		bc = breaker.DefaultConfig("blob-storage")
	}
	if bc.IsSuccessful == nil {
		bc.IsSuccessful = func(err error) bool {
			// Only store outages count against the breaker.
			var transient *faults.TransientIOError
			return !errors.As(err, &transient)
		}
	}

	return &AzureStore{
		client:    client,
		container: cfg.Container,
		cfg:       cfg,
		cb:        breaker.New(bc),
	}, nil
}

// Breaker exposes the store's circuit breaker for readiness checks.
func (s *AzureStore) Breaker() *breaker.Breaker { return s.cb }

// EnsureContainer creates the container if it does not exist.
func (s *AzureStore) EnsureContainer(ctx context.Context) error {
	return s.cb.Execute(func() error {
		_, err := s.client.CreateContainer(ctx, s.container, nil)
		if err == nil {
			logging.Info().Str("container", s.container).Msg("Created blob container")
			return nil
		}
		if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil
		}
		return classify("create-container", s.container, err)
	})
}

// Download implements Store.
func (s *AzureStore) Download(ctx context.Context, key string, dst io.Writer) (Attributes, error) {
	var attrs Attributes
	var written int64

	err := s.cb.Execute(func() error {
		resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
		if err != nil {
			return classify("download", key, err)
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				logging.Debug().Err(cerr).Str("key", key).Msg("Failed to close download body")
			}
		}()

		attrs = Attributes{Size: -1}
		if resp.ContentLength != nil {
			attrs.Size = *resp.ContentLength
		}
		if resp.ContentType != nil {
			attrs.ContentType = *resp.ContentType
		}
		attrs.Checksum = metadataValue(resp.Metadata, ChecksumMetadataKey)

		written, err = io.Copy(dst, resp.Body)
		if err != nil {
			var local *faults.LocalIOError
			if errors.As(err, &local) {
				return err
			}
			return &faults.TransientIOError{Op: "download", Key: key, Cause: err}
		}
		return nil
	})

	switch {
	case errors.Is(err, ErrNotFound):
		metrics.RecordBlobTransfer("download", 0, "not_found")
	case err != nil:
		metrics.RecordBlobTransfer("download", written, "error")
	default:
		metrics.RecordBlobTransfer("download", written, "success")
	}
	if errors.Is(err, breaker.ErrOpen) {
		return Attributes{}, &faults.TransientIOError{Op: "download", Key: key, Cause: err}
	}
	return attrs, err
}

// Upload implements Store. The checksum is written as blob metadata.
func (s *AzureStore) Upload(ctx context.Context, key string, src io.Reader, attrs Attributes) error {
	counter := NewChecksummer()
	body := io.TeeReader(src, counter)

	opts := &azblob.UploadStreamOptions{
		BlockSize:   s.cfg.BlockSize,
		Concurrency: s.cfg.Concurrency,
	}
	if attrs.Checksum != "" {
		opts.Metadata = map[string]*string{ChecksumMetadataKey: to.Ptr(attrs.Checksum)}
	}
	if attrs.ContentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(attrs.ContentType)}
	}

	err := s.cb.Execute(func() error {
		if _, err := s.client.UploadStream(ctx, s.container, key, body, opts); err != nil {
			return classify("upload", key, err)
		}
		return nil
	})

	if err != nil {
		metrics.RecordBlobTransfer("upload", counter.Size(), "error")
		if errors.Is(err, breaker.ErrOpen) {
			return &faults.TransientIOError{Op: "upload", Key: key, Cause: err}
		}
		return err
	}
	metrics.RecordBlobTransfer("upload", counter.Size(), "success")
	return nil
}

// classify maps SDK errors onto the platform taxonomy.
func classify(op, key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &faults.TransientIOError{Op: op, Key: key, Cause: err}
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusNotFound && strings.Contains(respErr.ErrorCode, "NotFound") {
			return ErrNotFound
		}
		if isTransientStatus(respErr.StatusCode) {
			return &faults.TransientIOError{Op: op, Key: key, Cause: err}
		}
		return fmt.Errorf("blob %s %q: %w", op, key, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &faults.TransientIOError{Op: op, Key: key, Cause: err}
	}
	return fmt.Errorf("blob %s %q: %w", op, key, err)
}

func isTransientStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
