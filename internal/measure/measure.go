// Package measure runs a single bandwidth measurement task.
package measure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bwprobe/internal/model"
)

// ErrTimeout marks a task cut off by its timeout.
var ErrTimeout = errors.New("measurement timed out")

// Client performs one bandwidth test and returns the received throughput in
// megabits per second. Clients are not safe for reuse; build one per task.
type Client interface {
	Run(ctx context.Context) (float64, error)
}

// Factory builds a fresh Client for a task.
type Factory interface {
	NewClient(task model.Task) (Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(task model.Task) (Client, error)

func (f FactoryFunc) NewClient(task model.Task) (Client, error) {
	return f(task)
}

// Run executes task with a fresh client and sends exactly one Result to out.
// A task that outlives timeout is abandoned and reported as timed out with
// zero throughput; the client keeps running in the background until it
// notices the cancelled context.
func Run(ctx context.Context, factory Factory, task model.Task, timeout time.Duration, out chan<- model.Result) {
	out <- Execute(ctx, factory, task, timeout)
}

// Execute is Run without the channel.
func Execute(ctx context.Context, factory Factory, task model.Task, timeout time.Duration) model.Result {
	res := model.Result{Address: task.Address, Port: task.Port}

	client, err := factory.NewClient(task)
	if err != nil {
		res.Err = fmt.Errorf("new client: %w", err)
		return res
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		mbps float64
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("client panic: %v", r)}
			}
		}()
		mbps, err := client.Run(ctx)
		done <- outcome{mbps: mbps, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			res.Err = o.err
			res.TimedOut = errors.Is(o.err, context.DeadlineExceeded)
			return res
		}
		if o.mbps < 0 {
			res.Err = fmt.Errorf("negative throughput %.3f", o.mbps)
			return res
		}
		res.ThroughputMbps = o.mbps
		return res
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
			res.Err = ErrTimeout
			return res
		}
		res.Err = ctx.Err()
		return res
	}
}
