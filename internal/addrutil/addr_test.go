package addrutil

import "testing"

func TestTarget_ReplacesPort(t *testing.T) {
	addr, ok := Target("39.119.108.243:33134", 5001)
	if !ok {
		t.Fatal("expected ok")
	}
	if addr != "39.119.108.243:5001" {
		t.Fatalf("addr=%q", addr)
	}
}

func TestTarget_BareHost(t *testing.T) {
	addr, ok := Target("prompt-1.internal", 5002)
	if !ok {
		t.Fatal("expected ok")
	}
	if addr != "prompt-1.internal:5002" {
		t.Fatalf("addr=%q", addr)
	}
}

func TestTarget_UnbracketedIPv6HostPort(t *testing.T) {
	addr, ok := Target("2001:db8::1:51820", 5003)
	if !ok {
		t.Fatal("expected ok")
	}
	if addr != "[2001:db8::1]:5003" {
		t.Fatalf("addr=%q", addr)
	}
}

func TestTarget_BareIPv6(t *testing.T) {
	addr, ok := Target("2001:db8::10", 5004)
	if !ok {
		t.Fatal("expected ok")
	}
	if addr != "[2001:db8::10]:5004" {
		t.Fatalf("addr=%q", addr)
	}
}

func TestTarget_Rejects(t *testing.T) {
	if _, ok := Target("", 5001); ok {
		t.Fatal("expected empty host to fail")
	}
	if _, ok := Target("10.0.0.1", 0); ok {
		t.Fatal("expected zero port to fail")
	}
}
