package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"impostor-game/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 和周期任务调度器的启动和关闭逻辑
type WorkerServer struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	schedule  string
	mux       *asynq.ServeMux
	log       *logrus.Entry
}

// NewWorkerServer 创建 WorkerServer。sweepSchedule 为空时不注册巡检任务。
func NewWorkerServer(redisOpt asynq.RedisConnOpt, finisher GameFinisher, lister RoomLister, sweeper RoomSweeper,
	sweepSchedule string, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				tasks.QueueCritical: 6,
				tasks.QueueDefault:  3,
				"low":               1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID, _ := asynq.GetTaskID(ctx)
				queue, _ := asynq.GetQueueName(ctx)
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"queue":     queue,
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	var scheduler *asynq.Scheduler
	if sweepSchedule != "" {
		scheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
				if err != nil {
					logEntry.WithError(err).Warn("Failed to enqueue scheduled task")
				}
			},
		})
	}

	return &WorkerServer{
		server:    server,
		scheduler: scheduler,
		schedule:  sweepSchedule,
		mux:       NewServeMux(finisher, lister, sweeper),
		log:       logEntry,
	}
}

// NewServeMux 注册所有任务处理器
func NewServeMux(finisher GameFinisher, lister RoomLister, sweeper RoomSweeper) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeHistoryFlush, NewHistoryFlushHandler(finisher))
	mux.Handle(tasks.TypeRoomSweep, NewRoomSweepHandler(lister, sweeper))
	return mux
}

// Start 运行 Worker Server 和调度器，阻塞直到关闭。
// 它应该在一个单独的 goroutine 中调用
func (ws *WorkerServer) Start() {
	if ws.scheduler != nil {
		if _, err := ws.scheduler.Register(ws.schedule, tasks.NewRoomSweepTask()); err != nil {
			ws.log.WithError(err).Errorf("Invalid sweep schedule %q, room sweep disabled", ws.schedule)
			ws.scheduler = nil
		} else if err := ws.scheduler.Start(); err != nil {
			ws.log.WithError(err).Error("Could not start scheduler, room sweep disabled")
			ws.scheduler = nil
		} else {
			ws.log.WithField("schedule", ws.schedule).Info("Room sweep scheduled")
		}
	}

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(ws.mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		}
	}
	ws.log.Info("Worker server stopped.")
}

// Shutdown 优雅地关闭调度器和 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	if ws.scheduler != nil {
		ws.scheduler.Shutdown()
	}
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
