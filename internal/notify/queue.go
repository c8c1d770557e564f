package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tailorhub/internal/common/apperr"
)

// ErrQueueFull is returned by Queue.Notify when a notification was dropped.
var ErrQueueFull = errors.New("notification queue full")

type job struct {
	ctx                 context.Context
	userID, title, body string
}

// Queue decouples notification delivery from the caller. Notify never
// blocks; workers started by Run deliver to the target with a timeout.
type Queue struct {
	target  Notifier
	jobs    chan job
	timeout time.Duration
	logger  *slog.Logger
}

var _ Notifier = (*Queue)(nil)

func NewQueue(target Notifier, size int, timeout time.Duration, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		target:  target,
		jobs:    make(chan job, size),
		timeout: timeout,
		logger:  logger,
	}
}

// Notify enqueues the notification. The caller's cancellation does not
// reach delivery; its values such as the correlation id do.
func (q *Queue) Notify(ctx context.Context, userID, title, body string) error {
	select {
	case q.jobs <- job{ctx: context.WithoutCancel(ctx), userID: userID, title: title, body: body}:
		return nil
	default:
		q.logger.Warn("notification dropped, queue full", "user_id", userID)
		return ErrQueueFull
	}
}

// Run starts workers and blocks until ctx is done, then delivers whatever is
// still queued before returning.
func (q *Queue) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case j := <-q.jobs:
					q.deliver(j)
				case <-ctx.Done():
					q.drain()
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func (q *Queue) drain() {
	for {
		select {
		case j := <-q.jobs:
			q.deliver(j)
		default:
			return
		}
	}
}

func (q *Queue) deliver(j job) {
	ctx := j.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	err := q.target.Notify(ctx, j.userID, j.title, j.body)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNoDeliveryToken):
		q.logger.Info("notification not delivered, no device registered", "user_id", j.userID)
	default:
		q.logger.Error("notification delivery failed", "user_id", j.userID, "error", err)
	}
}

// Pending reports the number of queued notifications.
func (q *Queue) Pending() int {
	return len(q.jobs)
}
