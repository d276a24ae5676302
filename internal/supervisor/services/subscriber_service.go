// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package services

import (
	"context"
	"fmt"

	"github.com/tomtom215/luftdata/internal/events"
)

// Subscriber registers an event handler for the lifetime of ctx.
type Subscriber interface {
	Subscribe(ctx context.Context, h events.Handler) error
}

// SubscriberService keeps an event subscription alive under suture.
type SubscriberService struct {
	subscriber Subscriber
	handler    events.Handler
	name       string
}

// NewSubscriberService subscribes handler on sub while supervised.
func NewSubscriberService(name string, sub Subscriber, handler events.Handler) *SubscriberService {
	return &SubscriberService{subscriber: sub, handler: handler, name: name}
}

// Serve subscribes, then holds the subscription until ctx is canceled.
// Canceling ctx ends the subscription.
func (s *SubscriberService) Serve(ctx context.Context) error {
	if err := s.subscriber.Subscribe(ctx, s.handler); err != nil {
		return fmt.Errorf("%s subscribe failed: %w", s.name, err)
	}
	<-ctx.Done()
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *SubscriberService) String() string {
	return s.name
}
