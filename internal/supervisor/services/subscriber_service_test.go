// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/luftdata/internal/events"
)

func TestSubscriberService_DeliversEvents(t *testing.T) {
	bus, err := events.New(events.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer bus.Close()

	got := make(chan events.Event, 1)
	svc := NewSubscriberService("maps-trigger", bus, func(_ context.Context, e events.Event) error {
		select {
		case got <- e:
		default:
		}
		return nil
	})
	if svc.String() != "maps-trigger" {
		t.Errorf("String() = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	want := events.Event{RunID: "r1", Job: "TV_update_job", Rows: 4, FinishedAt: time.Now().UTC()}
	// The subscription is registered asynchronously to this goroutine.
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		if err := bus.Publish(context.Background(), want); err != nil {
			t.Fatal(err)
		}
		select {
		case e := <-got:
			if e.RunID != want.RunID || e.Rows != want.Rows {
				t.Errorf("event = %+v", e)
			}
			break loop
		case <-tick.C:
		case <-deadline:
			t.Fatal("event not delivered")
		}
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
}

type failingSubscriber struct{}

func (failingSubscriber) Subscribe(context.Context, events.Handler) error {
	return events.ErrBusClosed
}

func TestSubscriberService_SubscribeFailure(t *testing.T) {
	svc := NewSubscriberService("maps-trigger", failingSubscriber{}, nil)
	if err := svc.Serve(context.Background()); !errors.Is(err, events.ErrBusClosed) {
		t.Errorf("Serve() = %v, want ErrBusClosed", err)
	}
}
