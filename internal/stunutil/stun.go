// Package stunutil discovers the service's public address over STUN.
package stunutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"bwprobe/internal/config"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

// Mapping is what the STUN servers reported for this node.
type Mapping struct {
	PublicAddr string    `json:"public_addr"`
	NATType    string    `json:"nat_type"`
	Responded  int       `json:"responded"`
	ProbedAt   time.Time `json:"probed_at"`
}

// Discover probes the configured servers concurrently. Servers that fail are
// skipped; an error is returned only when none answered.
func Discover(ctx context.Context, cfg config.STUNConfig) (Mapping, error) {
	m := Mapping{NATType: NATTypeUnknown, ProbedAt: time.Now().UTC()}
	if len(cfg.Servers) == 0 {
		return m, fmt.Errorf("no STUN servers configured")
	}

	addrs := make([]string, len(cfg.Servers))
	errs := make([]error, len(cfg.Servers))
	var g errgroup.Group
	for i, server := range cfg.Servers {
		i, server := i, server
		g.Go(func() error {
			addrs[i], errs[i] = probeServer(ctx, server, cfg.Timeout)
			if errs[i] != nil {
				log.Debug().Err(errs[i]).Str("server", server).Msg("stun probe failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	mapped := make([]string, 0, len(addrs))
	var lastErr error
	for i, addr := range addrs {
		if errs[i] != nil {
			lastErr = errs[i]
			continue
		}
		mapped = append(mapped, addr)
	}
	if len(mapped) == 0 {
		return m, fmt.Errorf("stun: no server answered: %w", lastErr)
	}

	m.PublicAddr = mapped[0]
	m.NATType = Classify(mapped)
	m.Responded = len(mapped)
	return m, nil
}

// Classify infers NAT type by comparing mapped addresses from multiple servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	for _, addr := range addrs[1:] {
		if addr != addrs[0] {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}

func probeServer(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", server, err)
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", server, err)
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 2)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", fmt.Errorf("%s: %w", server, err)
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", server, ctx.Err())
	}
}
