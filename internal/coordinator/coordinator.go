// Package coordinator fans measurement tasks out across a peer's ports and
// collects exactly one result per task.
package coordinator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"bwprobe/internal/aggregate"
	"bwprobe/internal/config"
	"bwprobe/internal/logging"
	"bwprobe/internal/measure"
	"bwprobe/internal/model"
	"bwprobe/internal/telemetry"
)

// Coordinator runs per-peer measurement batches.
type Coordinator struct {
	factory         measure.Factory
	ports           []int
	streams         int
	duration        time.Duration
	taskTimeout     time.Duration
	peerConcurrency int
	inst            *telemetry.Instruments
}

// New builds a coordinator from the measure settings. A nil inst falls back
// to no-op instruments.
func New(factory measure.Factory, mcfg config.MeasureConfig, inst *telemetry.Instruments) *Coordinator {
	if inst == nil {
		inst = telemetry.NewNoopInstruments()
	}
	ports := mcfg.Ports
	if len(ports) == 0 {
		ports = model.DefaultPorts
	}
	streams := mcfg.Streams
	if streams <= 0 {
		streams = model.DefaultStreams
	}
	duration := mcfg.Duration
	if duration <= 0 {
		duration = model.DefaultDuration
	}
	concurrency := mcfg.PeerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Coordinator{
		factory:         factory,
		ports:           append([]int(nil), ports...),
		streams:         streams,
		duration:        duration,
		taskTimeout:     mcfg.TaskTimeout(),
		peerConcurrency: concurrency,
		inst:            inst,
	}
}

// Ports returns the port set every peer is measured on.
func (c *Coordinator) Ports() []int {
	return append([]int(nil), c.ports...)
}

// Tasks builds one task per configured port for peer.
func (c *Coordinator) Tasks(peer model.Peer) []model.Task {
	tasks := make([]model.Task, 0, len(c.ports))
	for _, port := range c.ports {
		tasks = append(tasks, model.Task{
			Address:  peer.Address,
			Port:     port,
			Streams:  c.streams,
			Duration: c.duration,
			Reverse:  true,
			ZeroCopy: true,
		})
	}
	return tasks
}

// Gather measures peer on every port concurrently and sums the results.
// Failed and timed-out tasks contribute zero. The result channel belongs to
// this call alone, so results from other batches can never be counted here.
func (c *Coordinator) Gather(ctx context.Context, peer model.Peer) model.PeerTotal {
	logger := logging.Ctx(ctx)
	tasks := c.Tasks(peer)
	results := make(chan model.Result, len(tasks))

	var g errgroup.Group
	for _, task := range tasks {
		task := task
		c.inst.TasksLaunched.Add(ctx, 1)
		g.Go(func() error {
			measure.Run(ctx, c.factory, task, c.taskTimeout, results)
			return nil
		})
	}
	_ = g.Wait()

	total := model.PeerTotal{
		Peer:    peer,
		Tasks:   len(tasks),
		Results: make([]model.Result, 0, len(tasks)),
	}
	for range tasks {
		r := <-results
		total.Results = append(total.Results, r)
		c.inst.RecordResult(ctx, r)
		if r.Failed() {
			total.Failed++
			logger.Warn().
				Err(r.Err).
				Str("peer", peer.Address).
				Int("port", r.Port).
				Bool("timed_out", r.TimedOut).
				Msg("measurement task failed")
			continue
		}
		logger.Debug().
			Str("peer", peer.Address).
			Int("port", r.Port).
			Float64("mbps", r.ThroughputMbps).
			Msg("measurement task done")
	}
	total.TotalMbps = aggregate.Total(total.Results)

	logger.Info().
		Str("peer", peer.Address).
		Str("key", peer.Key).
		Float64("mbps", total.TotalMbps).
		Int("failed", total.Failed).
		Msg("peer measured")
	return total
}

// GatherAll runs Gather for every peer, at most peerConcurrency at a time.
// The output order matches peers.
func (c *Coordinator) GatherAll(ctx context.Context, peers []model.Peer) []model.PeerTotal {
	totals := make([]model.PeerTotal, len(peers))

	var g errgroup.Group
	g.SetLimit(c.peerConcurrency)
	for i, peer := range peers {
		i, peer := i, peer
		g.Go(func() error {
			totals[i] = c.Gather(ctx, peer)
			return nil
		})
	}
	_ = g.Wait()
	return totals
}
