// Package asyncrt implements the async sub-runtime: a task table bridging
// VM async values to an external executor. The VM thread never runs task
// bodies; it only spawns, polls, blocks on and cancels them. Each task
// body runs on its own executor goroutine, so a body blocked joining
// another task can never starve it; the worker count bounds the join
// concurrency of the parallel combinators.
package asyncrt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State is a task's lifecycle state. Ready, Failed and Cancelled are
// terminal: once observed, subsequent polls return the same state.
type State int

const (
	Pending State = iota
	Ready
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// ErrCancelled is returned from BlockOn for cancelled tasks.
var ErrCancelled = errors.New("task cancelled")

// ErrClosed is returned when spawning on a closed runtime.
var ErrClosed = errors.New("async runtime closed")

// TaskID identifies a task in the table.
type TaskID = uuid.UUID

// Task is one entry in the task table. The payload is opaque to the
// runtime; the VM stores its own value representation in it.
type Task struct {
	ID TaskID

	mu     sync.Mutex
	state  State
	result interface{}
	errMsg string
	done   chan struct{}
	cancel context.CancelFunc
}

// Poll returns a non-blocking snapshot of the task state.
func (t *Task) Poll() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Result returns the payload and error message once terminal.
func (t *Task) Result() (interface{}, string, State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.errMsg, t.state
}

// complete transitions to a terminal state exactly once.
func (t *Task) complete(state State, result interface{}, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Pending {
		return
	}
	t.state = state
	t.result = result
	t.errMsg = errMsg
	close(t.done)
}

// Factory is a task body run on the executor. The context is cancelled
// when the task is cancelled; long-running bodies are expected to check it
// at yield points.
type Factory func(ctx context.Context) (interface{}, error)

// Runtime owns the task table and the executor.
type Runtime struct {
	mu      sync.Mutex
	tasks   map[TaskID]*Task
	workers int
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// New creates a runtime; workers bounds the join concurrency of the
// parallel combinators.
func New(workers int) *Runtime {
	if workers < 1 {
		workers = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Runtime{
		tasks:   make(map[TaskID]*Task),
		workers: workers,
		ctx:     ctx,
		stop:    stop,
	}
}

func (r *Runtime) newTask() *Task {
	return &Task{ID: uuid.New(), done: make(chan struct{})}
}

func (r *Runtime) register(t *Task) {
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
}

// Spawn assigns a fresh id, schedules the factory on the executor and
// returns immediately.
func (r *Runtime) Spawn(factory Factory) *Task {
	t := r.newTask()
	ctx, cancel := context.WithCancel(r.ctx)
	t.cancel = cancel
	r.register(t)

	r.mu.Lock()
	closed := r.closed
	if !closed {
		r.wg.Add(1)
	}
	r.mu.Unlock()
	if closed {
		t.complete(Failed, nil, ErrClosed.Error())
		return t
	}

	go func() {
		defer r.wg.Done()
		if ctx.Err() != nil {
			t.complete(Cancelled, nil, "cancelled before start")
			return
		}
		result, err := factory(ctx)
		switch {
		case err == nil:
			t.complete(Ready, result, "")
		case errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled):
			t.complete(Cancelled, nil, "cancelled")
		default:
			t.complete(Failed, nil, err.Error())
		}
	}()
	return t
}

// Completed creates a task that is already Ready; used by Async.Return.
func (r *Runtime) Completed(result interface{}) *Task {
	t := r.newTask()
	t.state = Ready
	t.result = result
	close(t.done)
	r.register(t)
	return t
}

// Failedf creates a task that is already Failed.
func (r *Runtime) Failedf(msg string) *Task {
	t := r.newTask()
	t.state = Failed
	t.errMsg = msg
	close(t.done)
	r.register(t)
	return t
}

// Lookup finds a task by id.
func (r *Runtime) Lookup(id TaskID) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Poll returns a non-blocking snapshot of the task's state.
func (r *Runtime) Poll(id TaskID) State {
	t, ok := r.Lookup(id)
	if !ok {
		return Cancelled
	}
	return t.Poll()
}

// BlockOn parks the calling thread until the task is terminal, returning
// its payload, or an error for Failed and Cancelled.
func (r *Runtime) BlockOn(t *Task) (interface{}, error) {
	<-t.done
	result, msg, state := t.Result()
	switch state {
	case Ready:
		return result, nil
	case Cancelled:
		return nil, ErrCancelled
	default:
		return nil, errors.New(msg)
	}
}

// Cancel is best-effort and idempotent: the task transitions to Cancelled
// unless it already terminated; a second call is a no-op.
func (r *Runtime) Cancel(t *Task) {
	t.complete(Cancelled, nil, "cancelled")
	if t.cancel != nil {
		t.cancel()
	}
}

// After creates a task that becomes Ready with the given payload after the
// delay; cancellation short-circuits the timer.
func (r *Runtime) After(d time.Duration, result interface{}) *Task {
	return r.Spawn(func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(d):
			return result, nil
		case <-ctx.Done():
			return nil, ErrCancelled
		}
	})
}

// Parallel joins a set of tasks into one whose payload is the slice of all
// results in order. The first failure or cancellation wins and the
// remaining tasks are cancelled.
func (r *Runtime) Parallel(tasks []*Task) *Task {
	return r.Spawn(func(ctx context.Context) (interface{}, error) {
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(r.workers)
		results := make([]interface{}, len(tasks))
		for i, t := range tasks {
			i, t := i, t
			g.Go(func() error {
				v, err := r.BlockOn(t)
				if err != nil {
					return err
				}
				results[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			for _, t := range tasks {
				r.Cancel(t)
			}
			return nil, err
		}
		return results, nil
	})
}

// WithTimeout races a task against a timer. On expiry the task is
// cancelled and the joined payload is (nil, false); within the deadline it
// is (result, true).
func (r *Runtime) WithTimeout(d time.Duration, t *Task) *Task {
	return r.Spawn(func(ctx context.Context) (interface{}, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-t.done:
			v, err := r.BlockOn(t)
			if err != nil {
				return nil, err
			}
			return TimeoutResult{Value: v, Completed: true}, nil
		case <-timer.C:
			r.Cancel(t)
			return TimeoutResult{Completed: false}, nil
		case <-ctx.Done():
			return nil, ErrCancelled
		}
	})
}

// TimeoutResult is the payload of a WithTimeout task.
type TimeoutResult struct {
	Value     interface{}
	Completed bool
}

// Close shuts the executor down: running bodies observe their context
// cancellation and drain; further spawns fail with ErrClosed.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.stop()
	r.wg.Wait()
}
