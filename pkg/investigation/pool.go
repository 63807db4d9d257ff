package investigation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerPool manages a pool of investigation workers, grounded on
// pkg/queue's WorkerPool/Worker split.
type WorkerPool struct {
	podID    string
	store    *Store
	config   Config
	executor Executor
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	activeTasks map[string]context.CancelFunc
	mu          sync.RWMutex
	started     bool

	orphans orphanState
}

type orphanState struct {
	mu               sync.Mutex
	lastScan         time.Time
	orphansRecovered int
}

// NewWorkerPool creates a new investigation worker pool.
func NewWorkerPool(podID string, store *Store, cfg Config, executor Executor) *WorkerPool {
	return &WorkerPool{
		podID:       podID,
		store:       store,
		config:      cfg,
		executor:    executor,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		activeTasks: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines. Safe to call multiple times; later calls
// are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("investigation worker pool already started", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting investigation worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := newWorker(workerID, p.podID, p.store, p.config, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.start(ctx)
	}
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current task before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("stopping investigation worker pool")

	for _, w := range p.workers {
		w.stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("investigation worker pool stopped")
}

// RegisterTask stores a cancel function for manual cancellation requests.
func (p *WorkerPool) RegisterTask(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTasks[taskID] = cancel
}

// UnregisterTask removes the cancel function once processing ends.
func (p *WorkerPool) UnregisterTask(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTasks, taskID)
}

// Cancel triggers context cancellation for a task running on this pod.
// Returns true if the task was found and cancelled on this pod.
func (p *WorkerPool) Cancel(taskID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cancel, ok := p.activeTasks[taskID]
	if ok {
		cancel()
	}
	return ok
}

// Health reports the pool's current state.
func (p *WorkerPool) Health() PoolHealth {
	p.mu.RLock()
	active := len(p.activeTasks)
	p.mu.RUnlock()

	stats := make([]WorkerHealth, 0, len(p.workers))
	for _, w := range p.workers {
		stats = append(stats, w.health())
	}

	p.orphans.mu.Lock()
	lastScan, recovered := p.orphans.lastScan, p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	return PoolHealth{
		PodID:            p.podID,
		ActiveWorkers:    len(p.workers),
		TotalWorkers:     p.config.WorkerCount,
		ActiveTasks:      active,
		MaxConcurrent:    p.config.MaxConcurrentTasks,
		WorkerStats:      stats,
		LastOrphanScan:   lastScan,
		OrphansRecovered: recovered,
	}
}
