package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner schedules background tasks on a shared cron instance. Start is
// non-blocking; the owning process calls Stop during shutdown.
type Runner struct {
	cron     *cron.Cron
	registry *TaskRegistry
	logger   *log.Logger
	wg       sync.WaitGroup
}

// Option customizes a Runner.
type Option func(*Runner)

// WithRunnerLogger overrides the default logger.
func WithRunnerLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRunner(registry *TaskRegistry, opts ...Option) *Runner {
	r := &Runner{
		cron:     cron.New(),
		registry: registry,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start registers every task with cron and starts the scheduler.
func (r *Runner) Start(ctx context.Context) error {
	for name, task := range r.registry.All() {
		task := task
		_, err := r.cron.AddFunc(task.Schedule(), func() {
			r.executeTask(ctx, task)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", name, err)
		}
		r.logger.Printf("runner: scheduled %s (%s)", name, task.Schedule())
	}
	r.cron.Start()
	return nil
}

func (r *Runner) executeTask(ctx context.Context, task Task) {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	start := time.Now()
	if err := task.Run(taskCtx); err != nil {
		r.logger.Printf("runner: %s failed after %v: %v", task.Name(), time.Since(start), err)
		return
	}
	r.logger.Printf("runner: %s finished in %v", task.Name(), time.Since(start))
}

// Stop halts scheduling and waits for in-flight tasks.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	r.wg.Wait()
	<-ctx.Done()
}
