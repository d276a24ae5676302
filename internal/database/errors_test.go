// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package database

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type mockCloser struct {
	closed bool
	err    error
}

func (m *mockCloser) Close() error {
	m.closed = true
	return m.err
}

func TestCloseWithLog(t *testing.T) {
	tests := []struct {
		name    string
		closer  *mockCloser
		wantLog []string
	}{
		{"success is silent", &mockCloser{}, nil},
		{"failure is logged", &mockCloser{err: errors.New("checkpoint: disk full")}, []string{"failed to close resource", "duckdb handle", "disk full"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			CloseWithLog(tt.closer, logger, "duckdb handle")

			if !tt.closer.closed {
				t.Error("closer was not closed")
			}
			if tt.wantLog == nil && buf.Len() > 0 {
				t.Errorf("unexpected log output: %s", buf.String())
			}
			for _, want := range tt.wantLog {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("log %q missing %q", buf.String(), want)
				}
			}
		})
	}

	t.Run("nil closer", func(t *testing.T) {
		CloseWithLog(nil, nil, "nothing")
	})

	t.Run("nil logger falls back to zerolog", func(t *testing.T) {
		c := &mockCloser{err: errors.New("boom")}
		CloseWithLog(c, nil, "x")
		if !c.closed {
			t.Error("closer was not closed")
		}
	})
}

func TestCloseQuietly(t *testing.T) {
	closeQuietly(nil)

	c := &mockCloser{err: errors.New("ignored")}
	closeQuietly(c)
	if !c.closed {
		t.Error("closer was not closed")
	}
}
