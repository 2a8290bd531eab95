// Package echo is a UDP echo throughput prober, used where iperf3 is not
// installed on the measuring host.
package echo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"bwprobe/internal/addrutil"
	"bwprobe/internal/measure"
	"bwprobe/internal/model"
)

const echoPrefix = "bwprobe-echo:"

const (
	DefaultPacketSize  = 1200
	DefaultCount       = 200
	DefaultTimeout     = 5 * time.Second
	DefaultIdleTimeout = 250 * time.Millisecond
)

// Responder echoes probe packets back to their sender.
type Responder struct {
	conn *net.UDPConn
}

// StartResponder starts a UDP responder on the given address (e.g. ":0").
func StartResponder(addr string) (*Responder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	resp := &Responder{conn: conn}
	go resp.serve()
	return resp, nil
}

// LocalAddr returns the local address of the responder.
func (r *Responder) LocalAddr() string {
	if r == nil || r.conn == nil {
		return ""
	}
	return r.conn.LocalAddr().String()
}

// Port returns the bound UDP port.
func (r *Responder) Port() int {
	if r == nil || r.conn == nil {
		return 0
	}
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close stops the responder.
func (r *Responder) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *Responder) serve() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if strings.HasPrefix(string(buf[:n]), echoPrefix) {
			_, _ = r.conn.WriteToUDP(buf[:n], addr)
		}
	}
}

// Options tune a probe. Zero values fall back to defaults.
//
// Timeout bounds a whole stream. IdleTimeout is the longest wait for the next
// echoed packet; a stream stops reading once it expires, so lost packets do
// not stall it until Timeout.
type Options struct {
	Streams     int
	PacketSize  int
	Count       int
	Timeout     time.Duration
	IdleTimeout time.Duration
}

// Probe sends Count echo packets on each of Streams sockets in parallel and
// returns the summed received throughput in Mbps. It fails when no packet
// came back on any stream.
func Probe(ctx context.Context, peerAddr string, opts Options) (float64, error) {
	if opts.Streams <= 0 {
		opts.Streams = 1
	}
	if opts.Count <= 0 {
		opts.Count = DefaultCount
	}
	if opts.PacketSize <= 0 {
		opts.PacketSize = DefaultPacketSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	opts.IdleTimeout = min(opts.IdleTimeout, opts.Timeout)

	peerUDP, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return 0, err
	}

	type streamResult struct {
		mbps     float64
		received int
		err      error
	}
	results := make([]streamResult, opts.Streams)
	var wg sync.WaitGroup
	for i := 0; i < opts.Streams; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mbps, received, err := probeStream(ctx, peerUDP, opts)
			results[i] = streamResult{mbps: mbps, received: received, err: err}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var total float64
	var received int
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		total += r.mbps
		received += r.received
	}
	if received == 0 {
		if len(errs) > 0 {
			return 0, fmt.Errorf("echo %s: %w", peerAddr, errors.Join(errs...))
		}
		return 0, fmt.Errorf("echo %s: no packets returned", peerAddr)
	}
	return total, nil
}

func probeStream(ctx context.Context, peer *net.UDPAddr, opts Options) (float64, int, error) {
	packetSize := max(opts.PacketSize, len(echoPrefix)+8)

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	payload := make([]byte, packetSize)
	copy(payload, []byte(echoPrefix))

	start := time.Now()
	hardDeadline := start.Add(opts.Timeout)
	for i := 0; i < opts.Count; i++ {
		copy(payload[len(echoPrefix):], fmt.Sprintf("%08d", i))
		if _, err := conn.WriteToUDP(payload, peer); err != nil {
			return 0, 0, err
		}
	}

	received := 0
	receivedBytes := 0
	lastRecv := start
	buf := make([]byte, packetSize+64)
	for received < opts.Count {
		deadline := time.Now().Add(opts.IdleTimeout)
		if deadline.After(hardDeadline) {
			deadline = hardDeadline
		}
		_ = conn.SetReadDeadline(deadline)

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		if peer.IP != nil && !peer.IP.IsUnspecified() && !addr.IP.Equal(peer.IP) {
			continue
		}
		if n <= 0 || !strings.HasPrefix(string(buf[:n]), echoPrefix) {
			continue
		}
		received++
		receivedBytes += n
		lastRecv = time.Now()
	}

	// Throughput covers the time until the last echo arrived, not the idle
	// wait that ended the stream.
	elapsed := lastRecv.Sub(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	mbps := (float64(receivedBytes) * 8.0 / elapsed.Seconds()) / 1_000_000.0
	return mbps, received, nil
}

// Factory builds echo clients for measurement tasks.
type Factory struct {
	PacketSize int
	Count      int
}

func (f *Factory) NewClient(task model.Task) (measure.Client, error) {
	target, ok := addrutil.Target(task.Address, task.Port)
	if !ok {
		return nil, fmt.Errorf("echo: invalid target %q port %d", task.Address, task.Port)
	}
	return &Client{
		target: target,
		opts: Options{
			Streams:    task.Streams,
			PacketSize: f.PacketSize,
			Count:      f.Count,
			Timeout:    task.Duration,
		},
	}, nil
}

// Client is a single echo probe against one peer port.
type Client struct {
	target string
	opts   Options
}

func (c *Client) Run(ctx context.Context) (float64, error) {
	return Probe(ctx, c.target, c.opts)
}
