package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const dayLayout = "2006-01-02"

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher hands accrual runs to the worker through redis.
type QueueDispatcher struct {
	Client   Enqueuer
	Log      zerolog.Logger
	Location *time.Location
	Now      func() time.Time
}

func NewQueueDispatcher(client Enqueuer, loc *time.Location, log zerolog.Logger) *QueueDispatcher {
	return &QueueDispatcher{Client: client, Log: log, Location: loc, Now: time.Now}
}

func (d *QueueDispatcher) today() string {
	return d.Now().In(d.Location).Format(dayLayout)
}

func (d *QueueDispatcher) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := d.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		d.Log.Info().Str("type", task.Type()).Msg("task already queued for today")
		return nil
	}
	if err != nil {
		return err
	}
	d.Log.Info().Str("type", task.Type()).Str("task_id", info.ID).Str("queue", info.Queue).Msg("task enqueued")
	return nil
}

func (d *QueueDispatcher) DispatchDailyRewards(ctx context.Context) error {
	task, err := NewDailyRewardsTask(AccrualPayload{Day: d.today()})
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task)
}

func (d *QueueDispatcher) DispatchCatchUp(ctx context.Context) error {
	task, err := NewCatchUpTask(AccrualPayload{Day: d.today()})
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task)
}

func (d *QueueDispatcher) DispatchRecompute(ctx context.Context, userID string) error {
	task, err := NewRecomputeTask(RecomputePayload{UserID: userID})
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task)
}
