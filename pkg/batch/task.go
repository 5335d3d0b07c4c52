package batch

import (
	"context"
	"sync"
)

// Task runs one stage in the background and can be polled or awaited.
type Task struct {
	progress *Progress
	cancel   context.CancelFunc
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// Go starts fn in a new goroutine. The task's context is derived from ctx and
// is cancelled by Cancel.
func Go(ctx context.Context, progress *Progress, fn func(ctx context.Context, progress *Progress) error) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		progress: progress,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer cancel()
		err := fn(ctx, progress)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}()

	return t
}

// Progress returns the tracker the task reports into.
func (t *Task) Progress() *Progress {
	return t.progress
}

// Done is closed when the task returns.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// IsDone reports whether the task has returned.
func (t *Task) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Cancel asks the task to stop between rows.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task returns and yields its error.
func (t *Task) Wait() error {
	<-t.done
	return t.Err()
}

// Err returns the task's error, or nil while it is still running.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
