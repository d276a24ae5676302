// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// TopicIngestionCompleted is published after every successful ingestion run.
const TopicIngestionCompleted = "ingestion.completed"

const (
	metadataCorrelationID = "correlation_id"
	metadataJob           = "job"
)

// Event announces that a job committed new rows to a remote database.
type Event struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	RemoteKey  string    `json:"remote_key"`
	Rows       int       `json:"rows"`
	FinishedAt time.Time `json:"finished_at"`
}

// Validate reports whether e carries enough to be routed.
func (e Event) Validate() error {
	if e.RunID == "" {
		return fmt.Errorf("event: run_id is required")
	}
	if e.Job == "" {
		return fmt.Errorf("event: job is required")
	}
	return nil
}

func marshalEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

func unmarshalEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
