// Package sink delivers encoded market data to downstream consumers.
package sink

import (
	"context"
	"errors"
	"time"
)

// Sink is the publishing boundary. Publish fans a message out to live
// subscribers; SetCache stores the latest value under the topic so late
// readers see it. A zero ttl keeps the value until it is overwritten.
type Sink interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	SetCache(ctx context.Context, topic string, payload []byte, ttl time.Duration) error
}

// Fanout forwards every call to all sinks and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) SetCache(ctx context.Context, topic string, payload []byte, ttl time.Duration) error {
	var errs []error
	for _, s := range f {
		if err := s.SetCache(ctx, topic, payload, ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
