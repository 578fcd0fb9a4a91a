package simulation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Controller starts and stops a Generator at runtime.
type Controller struct {
	parent   context.Context
	gen      *Generator
	onChange func(active bool)
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a Controller whose generator runs under parent.
// onChange is called with the new state after every start or stop.
func NewController(parent context.Context, gen *Generator, onChange func(active bool), logger *zap.Logger) *Controller {
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &Controller{
		parent:   parent,
		gen:      gen,
		onChange: onChange,
		logger:   logger,
	}
}

// Active reports whether the generator is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Start launches the generator. Returns false if it was already running.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return false
	}

	// Accept simulated frames before the first one is emitted.
	c.onChange(true)

	ctx, cancel := context.WithCancel(c.parent)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		if err := c.gen.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("simulation exited", zap.Error(err))
		}
	}()
	return true
}

// Stop halts the generator and waits for it to exit. Returns false if it was
// not running.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return false
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	c.onChange(false)
	return true
}
