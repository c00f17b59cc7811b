package channel

import (
	"fmt"
	"sync"
)

// PipeChannel is an in-process Channel. The executor side is a function
// invoked for every emitted request; it replies through Deliver. Used by
// tests and by roamd's loopback executor mode.
type PipeChannel struct {
	mu       sync.RWMutex
	executor func(Request)
	onReply  func(Reply)
	closed   bool
}

// NewPipeChannel returns a pipe whose remote side is executor. A nil
// executor swallows requests; replies can still be injected with Deliver.
func NewPipeChannel(executor func(Request)) *PipeChannel {
	return &PipeChannel{executor: executor}
}

func (c *PipeChannel) Emit(req Request) error {
	c.mu.RLock()
	closed, exec := c.closed, c.executor
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("pipe channel is closed")
	}
	if exec != nil {
		// Run the executor off the caller's goroutine, as a real remote
		// executor would.
		go exec(req)
	}
	return nil
}

func (c *PipeChannel) OnReply(fn func(Reply)) {
	c.mu.Lock()
	c.onReply = fn
	c.mu.Unlock()
}

// Deliver injects a reply envelope as if it arrived from the remote side.
func (c *PipeChannel) Deliver(rep Reply) {
	c.mu.RLock()
	fn, closed := c.onReply, c.closed
	c.mu.RUnlock()
	if closed || fn == nil {
		return
	}
	fn(rep)
}

func (c *PipeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// LoopbackExecutor returns a pipe channel wired to a stub executor that
// acknowledges every request with a success reply echoing its params. It
// lets the full dispatch path run without a remote instance.
func LoopbackExecutor() *PipeChannel {
	ch := NewPipeChannel(nil)
	ch.executor = func(req Request) {
		result := map[string]any{"echo": true}
		if url, ok := req.Params["url"]; ok {
			result["url"] = url
		}
		ch.Deliver(Reply{
			Token:   req.Token,
			Event:   req.Event,
			Success: true,
			Result:  result,
		})
	}
	return ch
}
