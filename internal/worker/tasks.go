package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task Types
const (
	TypeDailyRewards = "earnings:daily-rewards"
	TypeCatchUp      = "earnings:catch-up"
	TypeRecompute    = "balance:recompute"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// AccrualPayload names the calendar day a run was dispatched for. At most one
// accrual task per type and day sits in the queue.
type AccrualPayload struct {
	Day string `json:"day"`
}

type RecomputePayload struct {
	UserID string `json:"userId"`
}

func NewDailyRewardsTask(payload AccrualPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDailyRewards, data,
		asynq.TaskID(TypeDailyRewards+":"+payload.Day),
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(3),
	), nil
}

func NewCatchUpTask(payload AccrualPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCatchUp, data,
		asynq.TaskID(TypeCatchUp+":"+payload.Day),
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(3),
	), nil
}

func NewRecomputeTask(payload RecomputePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRecompute, data, asynq.Queue(QueueLow)), nil
}
