package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/sethvargo/go-retry"
)

// errDeferred means the entries are back in the queue with a
// next_attempt_at after the drain exhausted its attempts.
var errDeferred = errors.New("delivery deferred")

// delivery sends queue entries under the retry policy and keeps their
// status in step with every attempt.
type delivery struct {
	queue   *CaptureQueue
	policy  RetryPolicy
	timeout time.Duration
	log     logging.Logger
	now     func() time.Time
}

func newDelivery(q *CaptureQueue, policy RetryPolicy, timeout time.Duration, log logging.Logger) *delivery {
	return &delivery{queue: q, policy: policy, timeout: timeout, log: log, now: time.Now}
}

// deliver marks es in_flight and calls send until it succeeds, fails
// permanently, or the policy gives up. send receives a context bounded by the
// per-attempt timeout. On success the entries are left in_flight for the
// caller to acknowledge.
func (d *delivery) deliver(ctx context.Context, es []*models.QueueEntry, send func(ctx context.Context) error) error {
	if err := d.queue.markInFlight(ctx, es); err != nil {
		return err
	}
	// State written after cancellation must still reach the disk.
	detached := context.WithoutCancel(ctx)

	err := retry.Do(ctx, d.policy.Backoff(), func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		err := send(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: attempt timed out: %w", common.ErrUnavailable, err)
		}
		if ctx.Err() == nil && common.IsTransient(err) {
			if rerr := d.queue.recordFailure(detached, es, err); rerr != nil {
				return rerr
			}
			d.log.Debug(ctx, "attempt failed", "key", es[0].IdempotencyKey, "retry_count", es[0].RetryCount, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		if rerr := d.queue.release(detached, es, nil); rerr != nil {
			return errors.Join(ctx.Err(), rerr)
		}
		return ctx.Err()
	case common.IsTransient(err):
		next := d.now().UTC().Add(d.policy.Delay(es[0].RetryCount))
		if rerr := d.queue.release(detached, es, &next); rerr != nil {
			return rerr
		}
		d.log.Info(ctx, "delivery deferred", "key", es[0].IdempotencyKey, "next_attempt_at", next, "error", err)
		return fmt.Errorf("%w: %w", errDeferred, err)
	case common.IsPermanent(err), errors.Is(err, common.ErrCorruptState):
		if rerr := d.queue.fail(detached, es, err); rerr != nil {
			return errors.Join(err, rerr)
		}
		d.log.Error(ctx, "delivery failed permanently", "key", es[0].IdempotencyKey, "error", err)
		return err
	default:
		if rerr := d.queue.release(detached, es, nil); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
}
