package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"bwprobe/internal/model"
)

// Instruments holds the metric handles used by the coordinator and server.
// All fields are safe for concurrent use.
type Instruments struct {
	TasksLaunched      metric.Int64Counter
	TaskFailures       metric.Int64Counter
	TaskTimeouts       metric.Int64Counter
	TaskThroughput     metric.Float64Histogram
	Invocations        metric.Int64Counter
	InvocationDuration metric.Float64Histogram
}

// NewInstruments creates all instrument handles from the given meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	inst := &Instruments{}
	var err error

	inst.TasksLaunched, err = meter.Int64Counter(
		"bwprobe.task.launched",
		metric.WithDescription("Measurement tasks started"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create instrument bwprobe.task.launched: %w", err)
	}

	inst.TaskFailures, err = meter.Int64Counter(
		"bwprobe.task.failures",
		metric.WithDescription("Measurement tasks that produced no throughput"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create instrument bwprobe.task.failures: %w", err)
	}

	inst.TaskTimeouts, err = meter.Int64Counter(
		"bwprobe.task.timeouts",
		metric.WithDescription("Measurement tasks cut off by their timeout"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create instrument bwprobe.task.timeouts: %w", err)
	}

	inst.TaskThroughput, err = meter.Float64Histogram(
		"bwprobe.task.throughput",
		metric.WithDescription("Received throughput of successful tasks"),
		metric.WithUnit("Mbit/s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create instrument bwprobe.task.throughput: %w", err)
	}

	inst.Invocations, err = meter.Int64Counter(
		"bwprobe.invocations",
		metric.WithDescription("Handled /invocations requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create instrument bwprobe.invocations: %w", err)
	}

	inst.InvocationDuration, err = meter.Float64Histogram(
		"bwprobe.invocation.duration",
		metric.WithDescription("Wall time of an invocation from resolve to report"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create instrument bwprobe.invocation.duration: %w", err)
	}

	return inst, nil
}

// NewNoopInstruments returns instruments backed by a no-op provider so call
// sites never need nil checks.
func NewNoopInstruments() *Instruments {
	inst, _ := NewInstruments(noop.NewMeterProvider().Meter("noop"))
	return inst
}

// RecordResult counts one finished task.
func (i *Instruments) RecordResult(ctx context.Context, r model.Result) {
	attrs := metric.WithAttributes(attribute.Int("port", r.Port))
	switch {
	case r.TimedOut:
		i.TaskTimeouts.Add(ctx, 1, attrs)
		i.TaskFailures.Add(ctx, 1, attrs)
	case r.Failed():
		i.TaskFailures.Add(ctx, 1, attrs)
	default:
		i.TaskThroughput.Record(ctx, r.ThroughputMbps, attrs)
	}
}
