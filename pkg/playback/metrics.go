package playback

import "context"

// Metrics receives scheduler instrumentation. Implementations must be safe for
// concurrent use; the scheduler calls them from its loop goroutine and
// buffer providers call RecordDecodeFailure from the same goroutine.
type Metrics interface {
	// RecordBufferEnqueued records one buffer of seconds handed to the
	// renderer.
	RecordBufferEnqueued(ctx context.Context, seconds float64)

	// RecordItemTransition records a boundary crossing that retired the head
	// item.
	RecordItemTransition(ctx context.Context)

	// RecordAutoFlush records a renderer-initiated flush reconciliation.
	RecordAutoFlush(ctx context.Context)

	// RecordFlushFallback records a failed time-scoped flush that forced a
	// full restart.
	RecordFlushFallback(ctx context.Context)

	// RecordSplice records a queue edit applied without a restart.
	RecordSplice(ctx context.Context)

	// RecordDecodeFailure records a decode error that ended an item early.
	RecordDecodeFailure(ctx context.Context, format string)

	// RecordQueueLength records the current number of queue items.
	RecordQueueLength(ctx context.Context, n int)

	// RecordDroppedEvent records a notification dropped for a slow
	// subscriber.
	RecordDroppedEvent(ctx context.Context)
}

type nopMetrics struct{}

func (nopMetrics) RecordBufferEnqueued(context.Context, float64) {}
func (nopMetrics) RecordItemTransition(context.Context)          {}
func (nopMetrics) RecordAutoFlush(context.Context)               {}
func (nopMetrics) RecordFlushFallback(context.Context)           {}
func (nopMetrics) RecordSplice(context.Context)                  {}
func (nopMetrics) RecordDecodeFailure(context.Context, string)   {}
func (nopMetrics) RecordQueueLength(context.Context, int)        {}
func (nopMetrics) RecordDroppedEvent(context.Context)            {}
