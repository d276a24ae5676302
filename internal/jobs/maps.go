// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package jobs

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tomtom215/luftdata/internal/blobstore"
	"github.com/tomtom215/luftdata/internal/checkout"
	"github.com/tomtom215/luftdata/internal/database"
	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/maps"
	"github.com/tomtom215/luftdata/internal/matcher"
	"github.com/tomtom215/luftdata/internal/stations"
)

// MapsJob matches stations to detectors and publishes the maps.
type MapsJob struct {
	manager      *checkout.Manager
	store        blobstore.Store
	remoteKey    string
	stationsPath string
}

// NewMapsJob reads detectors from remoteKey and uploads artifacts to store.
func NewMapsJob(manager *checkout.Manager, store blobstore.Store, remoteKey, stationsPath string) *MapsJob {
	return &MapsJob{
		manager:      manager,
		store:        store,
		remoteKey:    remoteKey,
		stationsPath: stationsPath,
	}
}

// Name implements Job.
func (j *MapsJob) Name() string { return MapsJobName }

type artifact struct {
	key         string
	contentType string
	data        []byte
}

// Run implements Job. The database is checked out read-only.
func (j *MapsJob) Run(ctx context.Context) (Summary, error) {
	log := logging.Ctx(ctx)

	stns, err := stations.Load(j.stationsPath)
	if err != nil {
		return Summary{}, err
	}

	var detectors []matcher.Detector
	err = checkout.View(ctx, j.manager, j.remoteKey, func(h *checkout.Handle) error {
		var err error
		detectors, err = database.DetectorCoordinates(ctx, h.Connection())
		return err
	})
	if err != nil {
		return Summary{RemoteKey: j.remoteKey}, err
	}

	var artifacts []artifact
	add := func(key string, m *maps.Map) error {
		data, err := m.Bytes()
		if err != nil {
			return err
		}
		artifacts = append(artifacts, artifact{key, maps.HTMLContentType, data})
		return nil
	}
	if err := add(maps.StationsKey, maps.Stations(stns)); err != nil {
		return Summary{}, err
	}
	if err := add(maps.DetectorsKey, maps.Detectors(detectors)); err != nil {
		return Summary{}, err
	}

	var matches []matcher.StationDetectorMatch
	if len(detectors) == 0 {
		log.Warn().Str("key", j.remoteKey).Msg("No detectors yet, skipping merged map and matches")
	} else {
		matches, err = matcher.Match(stns, detectors, nil)
		if err != nil {
			return Summary{}, err
		}
		if err := add(maps.MergedKey, maps.Merged(stns, detectors, matches)); err != nil {
			return Summary{}, err
		}
		data, err := matcher.Encode(matches)
		if err != nil {
			return Summary{}, err
		}
		artifacts = append(artifacts, artifact{maps.MatchesKey, maps.JSONContentType, data})
	}

	uploaded := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		if err := j.upload(ctx, a); err != nil {
			return Summary{RemoteKey: j.remoteKey}, err
		}
		uploaded = append(uploaded, a.key)
	}

	return Summary{
		RemoteKey: j.remoteKey,
		Rows:      len(matches),
		Details: map[string]any{
			"stations":  len(stns),
			"detectors": len(detectors),
			"matches":   len(matches),
			"uploaded":  uploaded,
		},
	}, nil
}

func (j *MapsJob) upload(ctx context.Context, a artifact) error {
	sum, size, err := blobstore.Checksum(bytes.NewReader(a.data))
	if err != nil {
		return err
	}
	attrs := blobstore.Attributes{Size: size, Checksum: sum, ContentType: a.contentType}
	if err := j.store.Upload(ctx, a.key, bytes.NewReader(a.data), attrs); err != nil {
		return fmt.Errorf("upload %s: %w", a.key, err)
	}
	logging.Ctx(ctx).Debug().Str("key", a.key).Int64("bytes", size).Msg("Artifact uploaded")
	return nil
}
