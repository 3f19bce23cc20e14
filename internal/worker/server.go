package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 的启动和关闭逻辑
type WorkerServer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logrus.Entry
}

// NewWorkerServer 创建一个新的 WorkerServer 实例并注册任务处理器
func NewWorkerServer(redisOpt asynq.RedisClientOpt, concurrency int, messages *MessagePersistenceHandler, sweep *SessionSweepHandler, logger *logrus.Logger) *WorkerServer {
	if messages == nil || sweep == nil {
		panic("task handlers cannot be nil for WorkerServer")
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				tasks.QueueCritical: 6,
				tasks.QueueDefault:  3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
			Logger:   logEntry,
			LogLevel: asynq.WarnLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeMessagePersist, messages)
	mux.Handle(tasks.TypeSessionSweep, sweep)

	return &WorkerServer{server: server, mux: mux, log: logEntry}
}

// Start 运行 Worker Server，应在单独的 goroutine 中调用
func (ws *WorkerServer) Start() {
	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(ws.mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.WithError(err).Error("Could not run worker server")
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown 优雅地关闭 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}

// Scheduler 定时入队巡检任务
type Scheduler struct {
	scheduler *asynq.Scheduler
	interval  string
	task      *asynq.Task
	log       *logrus.Entry
}

// NewScheduler 创建巡检调度器。interval 使用 asynq 的 "@every" 语法。
func NewScheduler(redisOpt asynq.RedisClientOpt, every string, task *asynq.Task, logger *logrus.Logger) *Scheduler {
	logEntry := logger.WithField("component", "scheduler")
	return &Scheduler{
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Logger:   logEntry,
			LogLevel: asynq.WarnLevel,
			EnqueueErrorHandler: func(task *asynq.Task, _ []asynq.Option, err error) {
				if errors.Is(err, asynq.ErrDuplicateTask) {
					return // 其他节点已入队
				}
				logEntry.WithError(err).WithField("task_type", task.Type()).Warn("Failed to enqueue scheduled task")
			},
		}),
		interval: "@every " + every,
		task:     task,
		log:      logEntry,
	}
}

// Start 注册周期任务并启动调度器 (非阻塞)
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Register(s.interval, s.task); err != nil {
		return err
	}
	s.log.WithField("schedule", s.interval).Info("Scheduler starting...")
	return s.scheduler.Start()
}

// Shutdown 停止调度器
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
	s.log.Info("Scheduler stopped.")
}
