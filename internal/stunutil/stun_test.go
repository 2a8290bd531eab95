package stunutil

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"

	"bwprobe/internal/config"
)

// startBindingServer answers binding requests with a fixed mapped address.
func startBindingServer(t *testing.T, mapped *net.UDPAddr) string {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			resp, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: mapped.IP, Port: mapped.Port},
				stun.Fingerprint,
			)
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(resp.Raw, from)
		}
	}()
	return conn.LocalAddr().String()
}

func TestClassify(t *testing.T) {
	t.Parallel()

	if got := Classify([]string{"1.2.3.4:1"}); got != NATTypeUnknown {
		t.Fatalf("got=%q", got)
	}
	if got := Classify([]string{"1.2.3.4:1", "1.2.3.4:1"}); got != NATTypeConeOrRestricted {
		t.Fatalf("got=%q", got)
	}
	if got := Classify([]string{"1.2.3.4:1", "1.2.3.4:2"}); got != NATTypeSymmetric {
		t.Fatalf("got=%q", got)
	}
}

func TestDiscover_NoServers(t *testing.T) {
	t.Parallel()

	m, err := Discover(context.Background(), config.STUNConfig{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if m.NATType != NATTypeUnknown || m.PublicAddr != "" {
		t.Fatalf("mapping=%+v", m)
	}
}

func TestDiscover_LoopbackServers(t *testing.T) {
	t.Parallel()

	mapped := &net.UDPAddr{IP: net.IPv4(203, 0, 113, 7), Port: 40000}
	a := startBindingServer(t, mapped)
	b := startBindingServer(t, mapped)

	m, err := Discover(context.Background(), config.STUNConfig{
		Servers: []string{a, b},
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if m.PublicAddr != "203.0.113.7:40000" || m.NATType != NATTypeConeOrRestricted || m.Responded != 2 {
		t.Fatalf("mapping=%+v", m)
	}
}

func TestDiscover_SkipsDeadServer(t *testing.T) {
	t.Parallel()

	mapped := &net.UDPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 41000}
	live := startBindingServer(t, mapped)

	m, err := Discover(context.Background(), config.STUNConfig{
		Servers: []string{live, "  "},
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if m.PublicAddr != "203.0.113.9:41000" || m.Responded != 1 || m.NATType != NATTypeUnknown {
		t.Fatalf("mapping=%+v", m)
	}
}
