// Package iperf drives the iperf3 command line client.
package iperf

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"bwprobe/internal/addrutil"
	"bwprobe/internal/execx"
	"bwprobe/internal/measure"
	"bwprobe/internal/model"
)

var (
	receivedBPS = jp.MustParseString("$.end.sum_received.bits_per_second")
	reportError = jp.MustParseString("$.error")
)

// Factory builds one iperf3 client per task.
type Factory struct {
	Runner execx.Runner
	Binary string
}

func NewFactory(runner execx.Runner, binary string) *Factory {
	if binary == "" {
		binary = "iperf3"
	}
	return &Factory{Runner: runner, Binary: binary}
}

func (f *Factory) NewClient(task model.Task) (measure.Client, error) {
	if addrutil.Host(task.Address) == "" {
		return nil, errors.New("iperf: empty target address")
	}
	if task.Port <= 0 {
		return nil, fmt.Errorf("iperf: invalid port %d", task.Port)
	}
	return &Client{runner: f.Runner, binary: f.Binary, task: task}, nil
}

// Client is a single iperf3 run against one server port.
type Client struct {
	runner execx.Runner
	binary string
	task   model.Task
}

// Args returns the iperf3 command line for the task.
func (c *Client) Args() []string {
	args := []string{
		"-c", addrutil.Host(c.task.Address),
		"-p", strconv.Itoa(c.task.Port),
		"-P", strconv.Itoa(c.task.Streams),
		"-t", strconv.Itoa(durationSeconds(c.task)),
		"-J",
	}
	if c.task.Reverse {
		args = append(args, "-R")
	}
	if c.task.ZeroCopy {
		args = append(args, "-Z")
	}
	return args
}

// Run executes iperf3 and returns the received megabits per second.
func (c *Client) Run(ctx context.Context) (float64, error) {
	out, runErr := c.runner.Output(ctx, c.binary, c.Args()...)
	if len(out) == 0 {
		if runErr != nil {
			return 0, runErr
		}
		return 0, errors.New("iperf: empty report")
	}

	mbps, err := ParseReport(out)
	if err != nil {
		if runErr != nil {
			return 0, fmt.Errorf("%w (%v)", err, runErr)
		}
		return 0, err
	}
	if runErr != nil {
		return 0, runErr
	}
	return mbps, nil
}

// ParseReport extracts the received throughput in Mbps from an iperf3 JSON
// report. A report carrying an "error" field is a failed test.
func ParseReport(data []byte) (float64, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return 0, fmt.Errorf("iperf: parse report: %w", err)
	}
	if msgs := reportError.Get(doc); len(msgs) > 0 {
		if msg, ok := msgs[0].(string); ok && strings.TrimSpace(msg) != "" {
			return 0, fmt.Errorf("iperf: %s", msg)
		}
	}

	values := receivedBPS.Get(doc)
	if len(values) == 0 {
		return 0, errors.New("iperf: report has no end.sum_received")
	}
	bps, ok := toFloat(values[0])
	if !ok {
		return 0, fmt.Errorf("iperf: bits_per_second has type %T", values[0])
	}
	return bps / 1_000_000, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func durationSeconds(task model.Task) int {
	secs := int(task.Duration.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
