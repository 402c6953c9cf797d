// Package stream carries wire events from a runtime session to one consumer
// (an SSE stream or a WebRTC data-channel relay). Producers never block: the
// queue is bounded and drops on full.
package stream

import (
	"context"
	"time"

	"github.com/haasonsaas/switchboard/internal/observability"
)

// DefaultQueueSize is the event queue capacity.
const DefaultQueueSize = 10000

// Queue is a bounded event queue with non-blocking, drop-on-full producers.
type Queue struct {
	ch      chan map[string]any
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewQueue creates a queue with the given capacity. Logger and metrics may be
// nil.
func NewQueue(capacity int, logger *observability.Logger, metrics *observability.Metrics) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		ch:      make(chan map[string]any, capacity),
		logger:  logger,
		metrics: metrics,
	}
}

// TryPush enqueues event without blocking. On a full queue the event is
// dropped, a warning is logged, and false is returned.
func (q *Queue) TryPush(ctx context.Context, event map[string]any) bool {
	eventType, _ := event["type"].(string)
	select {
	case q.ch <- event:
		if q.metrics != nil {
			q.metrics.EventsEnqueued.WithLabelValues(eventType).Inc()
		}
		return true
	default:
		if q.logger != nil {
			q.logger.Warn(ctx, "event queue full, dropping event", "event_type", eventType)
		}
		if q.metrics != nil {
			q.metrics.EventsDropped.WithLabelValues(eventType).Inc()
		}
		return false
	}
}

// Pop waits up to timeout for the next event. The second return is false on
// timeout or context cancellation.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (map[string]any, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case event := <-q.ch:
		return event, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
