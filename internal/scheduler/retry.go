package scheduler

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Retryer runs an outbound host/CI call with bounded exponential
// backoff, retrying only errors Classify reports as TransientIO (§7).
// Grounded on the retry-loop shape of the pack's goordinator/retryer.go,
// adapted to use cenkalti/backoff/v4's own Retry/Permanent helpers
// instead of a hand-rolled timer select loop, and to classify by
// ErrorKind instead of a wrapped retryable-error type.
type Retryer struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	logger          *zap.Logger
}

func NewRetryer(logger *zap.Logger) *Retryer {
	return &Retryer{
		initialInterval: time.Second,
		maxInterval:     30 * time.Second,
		maxElapsedTime:  2 * time.Minute,
		logger:          logger,
	}
}

// Do runs op, retrying with backoff while its error classifies as
// TransientIO. Once the elapsed budget is exhausted, or op returns a
// non-transient error, Do returns that error to the caller, which is
// then responsible for moving the pull request to Error (§7).
func (rt *Retryer) Do(ctx context.Context, op func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = rt.initialInterval
	bo.MaxInterval = rt.maxInterval
	bo.MaxElapsedTime = rt.maxElapsedTime

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if Classify(err) != KindTransientIO {
			return backoff.Permanent(err)
		}
		rt.logger.Warn("retrying transient error", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(bo, ctx))
}
