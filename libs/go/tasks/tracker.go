// Package tasks runs background jobs whose completion callers can observe.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyphera/sponsor-relay/libs/go/constants"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
)

// Task is a snapshot of one job.
type Task struct {
	ID          string     `json:"task_id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	Category    string     `json:"category,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Done reports whether the task has finished.
func (t Task) Done() bool { return t.Status != constants.PendingStatus }

// Job is the work a task runs. Its error becomes the failure reason.
type Job func(ctx context.Context) error

// Categorizer extracts a caller-facing category from a job error.
type Categorizer func(err error) string

// Tracker runs jobs and keeps the most recent finished tasks.
type Tracker struct {
	mu         sync.Mutex
	tasks      map[string]*Task
	finished   []string
	retain     int
	timeout    time.Duration
	categorize Categorizer
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRetention bounds how many finished tasks are kept. Default 1000.
func WithRetention(n int) Option { return func(t *Tracker) { t.retain = n } }

// WithTimeout bounds each job. Default 2 minutes.
func WithTimeout(d time.Duration) Option { return func(t *Tracker) { t.timeout = d } }

// WithCategorizer sets how job errors are categorized.
func WithCategorizer(c Categorizer) Option { return func(t *Tracker) { t.categorize = c } }

// NewTracker creates a Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		tasks:   make(map[string]*Task),
		retain:  1000,
		timeout: 2 * time.Minute,
		logger:  logger.Or(nil),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit starts job in the background and returns its pending task. The job
// does not inherit cancellation from ctx, only its values.
func (t *Tracker) Submit(ctx context.Context, kind string, job Job) Task {
	task := &Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    constants.PendingStatus,
		CreatedAt: time.Now().UTC(),
	}

	t.mu.Lock()
	t.tasks[task.ID] = task
	snapshot := *task
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(context.WithoutCancel(ctx), task.ID, kind, job)
	return snapshot
}

func (t *Tracker) run(ctx context.Context, id, kind string, job Job) {
	defer t.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return job(ctx)
	}()

	if err != nil {
		t.logger.Warn("Background task failed",
			zap.String("task_id", id),
			zap.String("kind", kind),
			zap.Error(err),
		)
	} else {
		t.logger.Info("Background task succeeded", zap.String("task_id", id), zap.String("kind", kind))
	}
	t.finish(id, err)
}

func (t *Tracker) finish(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	task.CompletedAt = &now
	if err != nil {
		task.Status = constants.FailedStatus
		task.Reason = err.Error()
		if t.categorize != nil {
			task.Category = t.categorize(err)
		}
	} else {
		task.Status = constants.SucceededStatus
	}

	t.finished = append(t.finished, id)
	for len(t.finished) > t.retain {
		delete(t.tasks, t.finished[0])
		t.finished = t.finished[1:]
	}
}

// Get returns a snapshot of the task with id.
func (t *Tracker) Get(id string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Wait blocks until every submitted job has finished or ctx ends.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
