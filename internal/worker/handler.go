package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"impostor-game/internal/service"
	"impostor-game/internal/tasks"
)

// GameFinisher 重试结束阶段的历史写入
type GameFinisher interface {
	FinishGame(ctx context.Context, roomID string) error
}

// HistoryFlushHandler 处理历史写入重试任务
type HistoryFlushHandler struct {
	finisher GameFinisher
}

func NewHistoryFlushHandler(finisher GameFinisher) *HistoryFlushHandler {
	return &HistoryFlushHandler{finisher: finisher}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *HistoryFlushHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	logCtx := logrus.WithFields(logrus.Fields{
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})

	payload, err := tasks.ParseHistoryFlushPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to parse history flush payload")
		return fmt.Errorf("failed to parse payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", payload.RoomID)

	err = h.finisher.FinishGame(ctx, payload.RoomID)
	switch {
	case err == nil:
		logCtx.Info("History flush task processed successfully")
		return nil
	case errors.Is(err, service.ErrWrongPhase):
		// 房间已开始新的对局，不再有可写入的缓冲
		logCtx.Warn("Room is no longer finished, dropping history flush task")
		return fmt.Errorf("room %s not finished: %w", payload.RoomID, asynq.SkipRetry)
	default:
		logCtx.WithError(err).Error("History flush failed")
		return fmt.Errorf("failed to flush room %s: %w", payload.RoomID, err)
	}
}
