package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"blogapi/internal/pkg/metrics"
)

var (
	// ErrFull 表示缓冲区已满，任务被丢弃。
	ErrFull = errors.New("worker pool full")
	// ErrClosed 表示池已停止，不再接收任务。
	ErrClosed = errors.New("worker pool closed")
)

// Job 表示一个异步任务。ctx 带有单个任务的超时。
type Job func(ctx context.Context) error

// Pool 是固定数量 worker 的进程内任务池，用于请求之外的 fire-and-forget 工作（如发信）。
type Pool struct {
	logger     *slog.Logger
	workers    int
	jobTimeout time.Duration
	jobs       chan namedJob

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	stopped chan struct{}

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

type namedJob struct {
	name string
	run  Job
}

// Stats 是池统计信息快照。
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Dropped   int64
	Panics    int64
	Pending   int
}

// NewPool 创建任务池。workers 与 capacity 至少为 1；jobTimeout <= 0 表示不限时。
func NewPool(logger *slog.Logger, workers, capacity int, jobTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:     logger,
		workers:    workers,
		jobTimeout: jobTimeout,
		jobs:       make(chan namedJob, capacity),
		stopped:    make(chan struct{}),
	}
}

// Start 启动 worker。任务的 ctx 派生自 ctx，但 ctx 取消后已入队的任务仍会被取出执行完毕。
func (p *Pool) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(base, i)
	}
	go func() {
		p.wg.Wait()
		close(p.stopped)
	}()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(ctx, job, id)
	}
}

func (p *Pool) run(ctx context.Context, job namedJob, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
			p.logger.Error("job panic recovered",
				slog.String("job", job.name),
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	if err := job.run(ctx); err != nil {
		p.failed.Add(1)
		p.logger.Warn("job failed",
			slog.String("job", job.name),
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		return
	}
	p.succeeded.Add(1)
}

// Submit 非阻塞提交任务。池已满返回 ErrFull，已停止返回 ErrClosed。
func (p *Pool) Submit(name string, job Job) error {
	if job == nil {
		return fmt.Errorf("nil job %q", name)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.WorkerPoolDropped.Inc()
		return ErrClosed
	}
	select {
	case p.jobs <- namedJob{name: name, run: job}:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		metrics.WorkerPoolDropped.Inc()
		p.logger.Warn("worker pool full, drop job",
			slog.String("job", name),
			slog.Int("capacity", cap(p.jobs)))
		return ErrFull
	}
}

// Stop 停止接收任务并等待已入队任务完成，ctx 到期时返回其错误。
// 必须在 Start 之后调用。
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool stop: %w", ctx.Err())
	}
}

// Stats 返回统计快照。
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Panics:    p.panics.Load(),
		Pending:   len(p.jobs),
	}
}
