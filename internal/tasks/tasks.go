package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型
const (
	TypeHistoryFlush = "history:flush" // 结束阶段历史写入失败后的重试
	TypeRoomSweep    = "room:sweep"    // 周期性推进无人推进的房间
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"

	flushMaxRetry = 10
)

// HistoryFlushPayload 只携带房间 ID，历史缓冲保留在 Redis 中。
type HistoryFlushPayload struct {
	RoomID string `json:"roomId"`
}

// NewHistoryFlushTask 创建历史写入重试任务。同一房间同时只存在一个任务。
func NewHistoryFlushTask(roomID string) (*asynq.Task, error) {
	payload, err := json.Marshal(HistoryFlushPayload{RoomID: roomID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeHistoryFlush, payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(flushMaxRetry),
		asynq.TaskID("flush:"+roomID),
		asynq.Timeout(30*time.Second),
	), nil
}

// ParseHistoryFlushPayload 解析并校验任务 payload。
func ParseHistoryFlushPayload(t *asynq.Task) (HistoryFlushPayload, error) {
	var p HistoryFlushPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, err
	}
	if p.RoomID == "" {
		return p, errors.New("missing roomId")
	}
	return p, nil
}

// NewRoomSweepTask 创建房间巡检任务，payload 为空。
func NewRoomSweepTask() *asynq.Task {
	return asynq.NewTask(TypeRoomSweep, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(0))
}

// TaskEnqueuer 是 asynq.Client 中用到的部分
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// FlushEnqueuer 通过 asynq 安排历史写入重试
type FlushEnqueuer struct {
	client TaskEnqueuer
}

func NewFlushEnqueuer(client TaskEnqueuer) *FlushEnqueuer {
	return &FlushEnqueuer{client: client}
}

// EnqueueFlush 入队重试任务。已有同一房间的任务在排队时视为成功。
func (e *FlushEnqueuer) EnqueueFlush(ctx context.Context, roomID string) error {
	task, err := NewHistoryFlushTask(roomID)
	if err != nil {
		return fmt.Errorf("tasks: build flush task for room %s: %w", roomID, err)
	}
	_, err = e.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tasks: enqueue flush task for room %s: %w", roomID, err)
	}
	return nil
}
