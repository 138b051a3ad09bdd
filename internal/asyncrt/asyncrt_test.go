package asyncrt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	r := New(4)
	t.Cleanup(r.Close)
	return r
}

func TestSpawnAndBlockOn(t *testing.T) {
	r := newRuntime(t)
	task := r.Spawn(func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	result, err := r.BlockOn(task)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, Ready, task.Poll())
}

func TestCompletedIsImmediatelyReady(t *testing.T) {
	r := newRuntime(t)
	task := r.Completed("done")
	assert.Equal(t, Ready, task.Poll())
	result, err := r.BlockOn(task)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestFailurePropagates(t *testing.T) {
	r := newRuntime(t)
	task := r.Spawn(func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	_, err := r.BlockOn(task)
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, Failed, task.Poll())
}

func TestTerminalStatesAreStable(t *testing.T) {
	r := newRuntime(t)
	task := r.Completed(1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, Ready, task.Poll())
	}

	failed := r.Failedf("nope")
	r.Cancel(failed) // cancel after terminal must not change state
	assert.Equal(t, Failed, failed.Poll())
}

func TestCancelIsIdempotent(t *testing.T) {
	r := newRuntime(t)
	started := make(chan struct{})
	task := r.Spawn(func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	r.Cancel(task)
	r.Cancel(task)
	assert.Equal(t, Cancelled, task.Poll())

	_, err := r.BlockOn(task)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestTaskIDsAreUnique(t *testing.T) {
	r := newRuntime(t)
	a := r.Completed(1)
	b := r.Completed(2)
	assert.NotEqual(t, a.ID, b.ID)

	found, ok := r.Lookup(a.ID)
	require.True(t, ok)
	assert.Same(t, a, found)
}

func TestParallelJoinsInOrder(t *testing.T) {
	r := newRuntime(t)
	tasks := []*Task{
		r.After(30*time.Millisecond, "slow"),
		r.Completed("fast"),
		r.After(10*time.Millisecond, "mid"),
	}
	joined := r.Parallel(tasks)
	result, err := r.BlockOn(joined)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"slow", "fast", "mid"}, result)
}

func TestParallelFailureWins(t *testing.T) {
	r := newRuntime(t)
	tasks := []*Task{
		r.After(200*time.Millisecond, "slow"),
		r.Failedf("broken"),
	}
	joined := r.Parallel(tasks)
	_, err := r.BlockOn(joined)
	require.Error(t, err)
}

func TestWithTimeoutExpiry(t *testing.T) {
	r := newRuntime(t)
	slow := r.After(500*time.Millisecond, "never")
	wrapped := r.WithTimeout(20*time.Millisecond, slow)

	result, err := r.BlockOn(wrapped)
	require.NoError(t, err)
	tr, ok := result.(TimeoutResult)
	require.True(t, ok)
	assert.False(t, tr.Completed)
	assert.Equal(t, Cancelled, slow.Poll())
}

func TestWithTimeoutWithinDeadline(t *testing.T) {
	r := newRuntime(t)
	quick := r.After(5*time.Millisecond, "ok")
	wrapped := r.WithTimeout(500*time.Millisecond, quick)

	result, err := r.BlockOn(wrapped)
	require.NoError(t, err)
	tr := result.(TimeoutResult)
	assert.True(t, tr.Completed)
	assert.Equal(t, "ok", tr.Value)
}

func TestChannelFIFO(t *testing.T) {
	r := newRuntime(t)
	ch := NewChannel(2)

	_, err := r.BlockOn(r.Send(ch, 1))
	require.NoError(t, err)
	_, err = r.BlockOn(r.Send(ch, 2))
	require.NoError(t, err)

	first, err := r.BlockOn(r.Receive(ch))
	require.NoError(t, err)
	second, err := r.BlockOn(r.Receive(ch))
	require.NoError(t, err)

	assert.Equal(t, ReceiveResult{Value: 1, Ok: true}, first)
	assert.Equal(t, ReceiveResult{Value: 2, Ok: true}, second)
}

func TestChannelCloseDrains(t *testing.T) {
	r := newRuntime(t)
	ch := NewChannel(2)
	_, err := r.BlockOn(r.Send(ch, "last"))
	require.NoError(t, err)
	ch.CloseChannel()
	ch.CloseChannel() // idempotent

	got, err := r.BlockOn(r.Receive(ch))
	require.NoError(t, err)
	assert.Equal(t, ReceiveResult{Value: "last", Ok: true}, got)

	drained, err := r.BlockOn(r.Receive(ch))
	require.NoError(t, err)
	assert.Equal(t, ReceiveResult{Ok: false}, drained)

	_, err = r.BlockOn(r.Send(ch, "late"))
	require.Error(t, err, "send on a closed channel must fail")
}

func TestCloseStopsRuntime(t *testing.T) {
	r := New(2)
	slow := r.After(10*time.Second, "never")
	r.Close()

	// Close cancels running bodies and waits for them to drain.
	assert.Equal(t, Cancelled, slow.Poll())

	// Spawning on a closed runtime fails immediately.
	late := r.Spawn(func(ctx context.Context) (interface{}, error) {
		return "never runs", nil
	})
	assert.Equal(t, Failed, late.Poll())
}

func TestDeepBindChainsDoNotStarve(t *testing.T) {
	// Dependency chains deeper than the worker count must still finish:
	// every body has its own executor goroutine.
	r := New(1)
	t.Cleanup(r.Close)

	prev := r.Completed(0)
	for i := 0; i < 16; i++ {
		source := prev
		prev = r.Spawn(func(ctx context.Context) (interface{}, error) {
			v, err := r.BlockOn(source)
			if err != nil {
				return nil, err
			}
			return v.(int) + 1, nil
		})
	}
	result, err := r.BlockOn(prev)
	require.NoError(t, err)
	assert.Equal(t, 16, result)
}
