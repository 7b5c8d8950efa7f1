package runner

import (
	"context"
	"time"
)

// Task is a scheduled background job.
type Task interface {
	// Name identifies the task in logs.
	Name() string

	// Schedule is the cron expression the task runs on.
	Schedule() string

	// Run executes one iteration of the task.
	Run(ctx context.Context) error

	// Timeout bounds a single Run.
	Timeout() time.Duration
}

// TaskRegistry holds the tasks a Runner schedules.
type TaskRegistry struct {
	tasks map[string]Task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]Task)}
}

// Register adds a task, replacing any task with the same name.
func (r *TaskRegistry) Register(task Task) {
	r.tasks[task.Name()] = task
}

func (r *TaskRegistry) Get(name string) (Task, bool) {
	task, ok := r.tasks[name]
	return task, ok
}

func (r *TaskRegistry) All() map[string]Task {
	return r.tasks
}
