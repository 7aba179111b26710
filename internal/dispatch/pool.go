package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"icast/internal/config"
	"icast/internal/logging"
	"icast/internal/services"
	"icast/internal/stage"
	"icast/internal/store"
)

// Category names a stage worker lane in the pool.
type Category string

const (
	CategoryUpload        Category = "upload"
	CategoryTranscription Category = "transcription"
	CategoryExtraction    Category = "extraction"
	CategoryReport        Category = "report"
)

// Scheduler hands claimed tasks to stage workers. The dispatcher depends on
// this interface so tests can observe scheduling without running workers.
type Scheduler interface {
	Schedule(ctx context.Context, category Category, task *store.Task) error
}

type lane struct {
	handler stage.Handler
	workers int
	queue   chan *store.Task
}

// Pool runs stage handlers on a bounded number of workers per category.
// While a handler executes, the pool heartbeats the task so the stale
// sweep can tell a slow worker from a dead one.
type Pool struct {
	store          *store.Store
	logger         *slog.Logger
	heartbeatEvery time.Duration

	mu      sync.Mutex
	lanes   map[Category]*lane
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool constructs an empty worker pool; register lanes before starting.
func NewPool(cfg *config.Config, st *store.Store, logger *slog.Logger) *Pool {
	return &Pool{
		store:          st,
		logger:         logging.NewComponentLogger(logger, "worker-pool"),
		heartbeatEvery: time.Duration(cfg.Dispatch.HeartbeatSeconds) * time.Second,
		lanes:          make(map[Category]*lane),
	}
}

// Register adds a worker lane for a stage category.
func (p *Pool) Register(category Category, handler stage.Handler, workers int) {
	if workers <= 0 {
		workers = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lanes[category] = &lane{
		handler: handler,
		workers: workers,
		queue:   make(chan *store.Task, workers*4),
	}
}

// Start launches the registered workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	if len(p.lanes) == 0 {
		return errors.New("worker pool has no registered lanes")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	for category, ln := range p.lanes {
		for i := 0; i < ln.workers; i++ {
			p.wg.Add(1)
			go p.runWorker(runCtx, category, ln)
		}
	}
	return nil
}

// Stop cancels the workers and waits for in-flight tasks to settle.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Schedule enqueues a task for its stage lane, blocking until a worker
// slot frees up or the context ends.
func (p *Pool) Schedule(ctx context.Context, category Category, task *store.Task) error {
	p.mu.Lock()
	ln, ok := p.lanes[category]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule: no lane registered for %s", category)
	}
	select {
	case ln.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health collects readiness from every registered handler.
func (p *Pool) Health(ctx context.Context) []stage.Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	health := make([]stage.Health, 0, len(p.lanes))
	for _, ln := range p.lanes {
		health = append(health, ln.handler.HealthCheck(ctx))
	}
	return health
}

func (p *Pool) runWorker(ctx context.Context, category Category, ln *lane) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-ln.queue:
			p.runTask(ctx, category, ln.handler, task)
		}
	}
}

func (p *Pool) runTask(ctx context.Context, category Category, handler stage.Handler, task *store.Task) {
	taskCtx := services.WithTaskID(ctx, task.ID)
	taskCtx = services.WithStage(taskCtx, string(category))
	logger := logging.WithContext(taskCtx, p.logger)

	hbCtx, stopHeartbeat := context.WithCancel(taskCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go p.heartbeatLoop(hbCtx, &hbWG, task.ID)

	err := handler.Execute(taskCtx, task)
	stopHeartbeat()
	hbWG.Wait()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("stage execution failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)))
		if recordErr := p.store.RecordTaskError(ctx, task.ID, err.Error()); recordErr != nil {
			logger.Warn("failed to record task error", logging.Error(recordErr))
		}
		return
	}
	logger.Info("stage execution complete")
}

func (p *Pool) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, taskID int64) {
	defer wg.Done()
	if p.heartbeatEvery <= 0 {
		return
	}
	ticker := time.NewTicker(p.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.UpdateHeartbeat(ctx, taskID); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Warn("heartbeat update failed",
					logging.Int64(logging.FieldTaskID, taskID),
					logging.Error(err))
			}
		}
	}
}
