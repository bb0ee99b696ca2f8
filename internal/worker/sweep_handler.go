package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// RoomLister 列出所有已开局的房间
type RoomLister interface {
	ListGameRooms(ctx context.Context) ([]string, error)
}

// RoomSweeper 推进单个停滞的房间
type RoomSweeper interface {
	SweepRoom(ctx context.Context, roomID string) (bool, error)
}

// RoomSweepHandler 处理周期性的房间巡检任务。
// 单个房间失败只记录日志，不影响其他房间，下一次巡检会再处理。
type RoomSweepHandler struct {
	lister  RoomLister
	sweeper RoomSweeper
}

func NewRoomSweepHandler(lister RoomLister, sweeper RoomSweeper) *RoomSweepHandler {
	if lister == nil || sweeper == nil {
		panic("RoomLister and RoomSweeper cannot be nil for RoomSweepHandler")
	}
	return &RoomSweepHandler{lister: lister, sweeper: sweeper}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *RoomSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	rooms, err := h.lister.ListGameRooms(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list rooms for sweep")
		return fmt.Errorf("failed to list rooms: %w", err)
	}

	advanced, failed := 0, 0
	for _, roomID := range rooms {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, err := h.sweeper.SweepRoom(ctx, roomID)
		if err != nil {
			failed++
			logCtx.WithError(err).WithField("room_id", roomID).Warn("Room sweep failed")
			continue
		}
		if ok {
			advanced++
		}
	}

	logCtx.WithFields(logrus.Fields{
		"rooms":    len(rooms),
		"advanced": advanced,
		"failed":   failed,
	}).Debug("Room sweep completed")
	return nil
}
