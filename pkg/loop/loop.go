package loop

import (
	"context"
	"fmt"
	"time"
)

type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}

	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// continue loop.
//
// args:
//
// - interval: sleep before starting next task.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// break loop.
//
// args:
//
// - err: If you break loop with error, set non nil value.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task is a single cycle of a loop.
//
// args:
//
// - context.Context: (sub-)context which is passed to the task.
//
// - T: value from the previous cycle.
type Task[T any] func(context.Context, T) (T, Next)

// Start task in loop.
//
// Task should return 2 values:
//
// - T : any value the task needs.
// It can be statistics, result of processing, or something else.
//
// - Next : Continue(time.Duration) or Break(error).
// To run one more time, return Continue(time.Duration).
// Your task will be called with context and the last T after time.Duration (can be 0).
// If it is enough, return Break(error). When there are no error, you can pass nil.
// Zero value (Next{}) equals Continue(0), that is, "go next ASAP!".
//
// Example
//
// Poll some status until it settles:
//
//	Start(ctx, State{}, func(ctx context.Context, s State) (State, Next) {
//		s, err := observe(ctx, s)
//		if err != nil {
//			return s, Break(err)
//		}
//		if s.Settled() {
//			return s, Break(nil)
//		}
//		return s, Continue(5 * time.Second)
//	})
//
// Args
//
// - ctx : context. When this context get be Done, loop will be break with ctx.Err().
//
// - init : your task will be called as task(ctx, init) at the first time.
//
// - task : task receiving (context, last value), then return (new value, Continue() or Break()).
//
// - options : options for loop.
//
// Returns
//
// - T: T task returns at last.
// This value is always returned whether or not it returns non-nil error together.
//
// - error: error in Break(error). It is nil when loop breaks with Break(nil).
func Start[T any](ctx context.Context, init T, task Task[T], options ...LoopOption) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	value := init
	for {
		interval := 0 * time.Nanosecond

		lc := &loopConfig{ctx: ctx}
		for _, opt := range options {
			lc = opt(lc)
		}

		v, n := func() (T, Next) {
			ctx := lc.ctx
			if lc.deferred != nil {
				defer lc.deferred()
			}
			return task(ctx, value)
		}()

		if n.err != nil {
			return v, n.err
		} else if n.quit {
			return v, nil
		} else {
			value = v
			interval = n.interval
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			// shutting down is priority. it should come first, and checking timer later.
			if !timer.Stop() {
				<-timer.C // drain. see: time.Timer.Stop's document
			}
			return value, ctx.Err()

		case <-timer.C:
			continue
		}
	}
}

type loopConfig struct {
	ctx      context.Context
	deferred func()
}

type LoopOption func(*loopConfig) *loopConfig

// set timeout per loop
//
// this timeout is set on context.Context passed to task.
func WithTimeout(d time.Duration) LoopOption {
	return func(lc *loopConfig) *loopConfig {
		ctx, cancel := context.WithTimeout(lc.ctx, d)
		return &loopConfig{
			ctx: ctx,
			deferred: func() {
				if lc.deferred != nil {
					defer lc.deferred()
				}
				cancel()
			},
		}
	}
}
