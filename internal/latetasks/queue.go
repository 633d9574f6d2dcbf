package latetasks

import (
	"context"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DeliveryGap is the minimum time between the start of consecutive
// deliveries. Slack allows roughly one message per second per channel.
const DeliveryGap = 1100 * time.Millisecond

// Messenger sends one private message to one user.
type Messenger interface {
	DirectMessage(ctx context.Context, userID, text string, attachments ...slack.Attachment) error
}

// Queue drains delivery jobs in FIFO order through a single worker gated by
// a capacity-1 token bucket, so at most one outbound message is in flight
// and consecutive sends are at least one gap apart. A failed delivery is
// logged and abandoned; nothing is retried.
type Queue struct {
	jobs    chan Job
	limiter *rate.Limiter
	sender  Messenger
}

func NewQueue(sender Messenger, gap time.Duration) *Queue {
	return &Queue{
		jobs:    make(chan Job, 256),
		limiter: rate.NewLimiter(rate.Every(gap), 1),
		sender:  sender,
	}
}

// Push enqueues a job. Blocks only if the buffer is full.
func (q *Queue) Push(job Job) {
	q.jobs <- job
}

// Start launches the delivery worker; it runs until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	go q.drain(ctx)
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
			if err := q.sender.DirectMessage(ctx, job.UserID, job.Text, job.Attachments...); err != nil {
				zap.L().Error("Could not deliver message",
					zap.String("user", job.UserID),
					zap.Int("lateCount", job.LateCount),
					zap.Error(err))
			}
		}
	}
}
