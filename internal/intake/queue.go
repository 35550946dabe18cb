package intake

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by Enqueuer.Enqueue when a repository's
// supervisor queue is at capacity. Handlers translate this into an HTTP
// 503 so the host retries the webhook later (§5: "a full queue applies
// backpressure by delaying the HTTP response").
var ErrQueueFull = errors.New("intake: supervisor queue full")

// Enqueuer hands a normalized Event to the target repository's
// supervisor. Implemented by internal/supervisor's dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, event Event) error
}
