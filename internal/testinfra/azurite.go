// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultAzuriteImage is Microsoft's storage emulator.
	DefaultAzuriteImage = "mcr.microsoft.com/azure-storage/azurite:latest"

	// AzuriteBlobPort is the emulator's blob service port.
	AzuriteBlobPort = "10000"

	// AzuriteAccountName and AzuriteAccountKey are the emulator's fixed
	// development credentials.
	AzuriteAccountName = "devstoreaccount1"
	AzuriteAccountKey  = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

// AzuriteContainer is a running blob emulator.
type AzuriteContainer struct {
	testcontainers.Container

	// BlobEndpoint is http://host:port/devstoreaccount1/.
	BlobEndpoint     string
	ConnectionString string
}

// AzuriteOption configures the Azurite container.
type AzuriteOption func(*azuriteConfig)

type azuriteConfig struct {
	image        string
	startTimeout time.Duration
}

// WithAzuriteImage sets a custom image.
func WithAzuriteImage(image string) AzuriteOption {
	return func(c *azuriteConfig) { c.image = image }
}

// WithAzuriteStartTimeout bounds the wait for the blob port.
func WithAzuriteStartTimeout(timeout time.Duration) AzuriteOption {
	return func(c *azuriteConfig) { c.startTimeout = timeout }
}

// NewAzuriteContainer starts the blob service only.
//
//	azurite, err := testinfra.NewAzuriteContainer(ctx)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	testinfra.CleanupContainer(t, azurite)
//	store, err := blobstore.NewAzureStore(blobstore.AzureConfig{
//	    ConnectionString: azurite.ConnectionString,
//	    Container:        "luftdata-test",
//	})
func NewAzuriteContainer(ctx context.Context, opts ...AzuriteOption) (*AzuriteContainer, error) {
	cfg := &azuriteConfig{
		image:        DefaultAzuriteImage,
		startTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.image,
		ExposedPorts: []string{AzuriteBlobPort + "/tcp"},
		Cmd: []string{
			"azurite-blob",
			"--blobHost", "0.0.0.0",
			"--blobPort", AzuriteBlobPort,
			"--skipApiVersionCheck",
			"--loose",
		},
		WaitingFor: wait.ForListeningPort(AzuriteBlobPort + "/tcp").WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create azurite container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, AzuriteBlobPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	endpoint := fmt.Sprintf("http://%s:%s/%s/", host, port.Port(), AzuriteAccountName)
	return &AzuriteContainer{
		Container:    container,
		BlobEndpoint: endpoint,
		ConnectionString: fmt.Sprintf(
			"DefaultEndpointsProtocol=http;AccountName=%s;AccountKey=%s;BlobEndpoint=%s;",
			AzuriteAccountName, AzuriteAccountKey, endpoint,
		),
	}, nil
}
