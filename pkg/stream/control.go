package stream

import (
	"sync"
	"sync/atomic"
)

// controlState holds the flags shared by the controller and the worker.
// keepalive=false is terminal; restart=true asks the worker to rebuild its
// connection. Raising restart also posts to wake so a worker blocked on a
// quiet connection notices without waiting for the next frame.
type controlState struct {
	keepalive atomic.Bool
	restart   atomic.Bool
	wake      chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
}

func newControlState() *controlState {
	c := &controlState{
		keepalive: atomic.Bool{},
		restart:   atomic.Bool{},
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
		stopOnce:  sync.Once{},
	}
	c.keepalive.Store(true)

	return c
}

func (c *controlState) alive() bool {
	return c.keepalive.Load()
}

func (c *controlState) restartRequested() bool {
	return c.restart.Load()
}

func (c *controlState) requestRestart() {
	c.restart.Store(true)

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// acknowledgeRestart clears the restart flag and any pending wake-up. The worker
// calls it before taking the registry snapshot, so a mutation that lands after
// the snapshot raises the flag again instead of being lost.
func (c *controlState) acknowledgeRestart() {
	c.restart.Store(false)

	select {
	case <-c.wake:
	default:
	}
}

func (c *controlState) shutdown() {
	c.stopOnce.Do(func() {
		c.keepalive.Store(false)
		close(c.stopped)
	})
}
