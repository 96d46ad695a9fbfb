package server

import (
	"context"
	"fmt"

	"github.com/chazu/wireform/vm"
)

// Worker bounds the number of executions running at once and turns panics
// raised by registered Go methods into errors.
type Worker struct {
	engine *vm.Engine
	slots  chan struct{}
}

// NewWorker creates a Worker allowing up to n concurrent executions.
func NewWorker(e *vm.Engine, n int) *Worker {
	if n < 1 {
		n = 1
	}
	return &Worker{engine: e, slots: make(chan struct{}, n)}
}

// Do waits for a free slot and runs fn. It gives up when ctx is done
// before a slot frees up.
func (w *Worker) Do(ctx context.Context, fn func(*vm.Engine) (any, error)) (value any, err error) {
	select {
	case w.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-w.slots }()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("execution panicked: %v", r)
		}
	}()
	return fn(w.engine)
}

// Engine returns the underlying engine.
func (w *Worker) Engine() *vm.Engine { return w.engine }
