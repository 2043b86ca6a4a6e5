// Package events delivers committed lifecycle events to Kafka and to live websocket
// watchers.
package events

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
)

// Fanout publishes every event to each publisher and joins their errors.
type Fanout []djrequest.EventPublisher

// Publish calls every publisher even when an earlier one fails.
func (fanout Fanout) Publish(ctx context.Context, event djrequest.LifecycleEvent) error {
	var errs []error
	for _, publisher := range fanout {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ djrequest.EventPublisher = Fanout(nil)
