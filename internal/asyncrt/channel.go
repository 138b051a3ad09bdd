package asyncrt

import (
	"context"
	"sync"
)

// Channel is a bounded FIFO between script tasks. Send and Receive return
// tasks so channel operations surface as async values in the VM.
type Channel struct {
	ch chan interface{}

	mu     sync.Mutex
	closed bool
}

// NewChannel creates a channel with the given capacity (minimum 1).
func NewChannel(capacity int) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel{ch: make(chan interface{}, capacity)}
}

// Send queues a value; the returned task becomes Ready(unit payload nil)
// once the value is accepted.
func (r *Runtime) Send(c *Channel, v interface{}) *Task {
	return r.Spawn(func(ctx context.Context) (interface{}, error) {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, errChannelClosed
		}
		select {
		case c.ch <- v:
			return nil, nil
		case <-ctx.Done():
			return nil, ErrCancelled
		}
	})
}

// Receive dequeues a value; the payload is a ReceiveResult so a closed,
// drained channel surfaces as None to the script.
func (r *Runtime) Receive(c *Channel) *Task {
	return r.Spawn(func(ctx context.Context) (interface{}, error) {
		select {
		case v, ok := <-c.ch:
			return ReceiveResult{Value: v, Ok: ok}, nil
		case <-ctx.Done():
			return nil, ErrCancelled
		}
	})
}

// CloseChannel marks the channel closed for sending. Idempotent.
func (c *Channel) CloseChannel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// ReceiveResult is the payload of a Receive task.
type ReceiveResult struct {
	Value interface{}
	Ok    bool
}

type channelClosedError struct{}

func (channelClosedError) Error() string { return "send on closed channel" }

var errChannelClosed = channelClosedError{}
