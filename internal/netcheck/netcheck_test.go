package netcheck

import (
	"net/netip"
	"testing"
)

func TestIsPrivateOrReserved_IPv4(t *testing.T) {
	tests := []struct {
		addr     string
		reserved bool
	}{
		{"0.0.0.0", true},
		{"0.255.255.255", true},
		{"10.0.0.1", true},
		{"10.255.255.255", true},
		{"100.64.0.1", true},
		{"100.127.255.255", true},
		{"100.128.0.0", false}, // just past CGNAT
		{"127.0.0.1", true},
		{"127.255.255.254", true},
		{"169.254.169.254", true}, // cloud metadata endpoint
		{"172.15.255.255", false}, // just before 172.16/12
		{"172.16.0.0", true},
		{"172.31.255.255", true},
		{"172.32.0.0", false}, // just past 172.16/12
		{"192.168.1.1", true},
		{"198.18.0.1", true},
		{"198.19.255.255", true},
		{"198.20.0.0", false},
		{"224.0.0.1", true},
		{"239.255.255.255", true},
		{"240.0.0.1", true},
		{"255.255.255.255", true},
		{"1.1.1.1", false},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got := IsPrivateOrReserved(netip.MustParseAddr(tt.addr))
			if got != tt.reserved {
				t.Errorf("IsPrivateOrReserved(%s) = %v, want %v", tt.addr, got, tt.reserved)
			}
		})
	}
}

func TestIsPrivateOrReserved_IPv6(t *testing.T) {
	tests := []struct {
		addr     string
		reserved bool
	}{
		{"::1", true},
		{"::", true},
		{"fc00::1", true},
		{"fd12:3456:789a::1", true},
		{"fe80::1", true},
		{"febf::1", true},
		{"fec0::1", true},
		{"ff02::1", true},
		{"2001:4860:4860::8888", false}, // Google public DNS
		{"2606:4700:4700::1111", false}, // Cloudflare
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got := IsPrivateOrReserved(netip.MustParseAddr(tt.addr))
			if got != tt.reserved {
				t.Errorf("IsPrivateOrReserved(%s) = %v, want %v", tt.addr, got, tt.reserved)
			}
		})
	}
}

func TestIsPrivateOrReserved_IPv4MappedIPv6(t *testing.T) {
	// Mapped forms must classify identically to the bare IPv4 address.
	tests := []struct {
		addr     string
		reserved bool
	}{
		{"::ffff:192.168.1.1", true},
		{"::ffff:10.0.0.5", true},
		{"::ffff:127.0.0.1", true},
		{"::ffff:169.254.169.254", true},
		{"::ffff:c0a8:101", true}, // 192.168.1.1 in compressed hextet form
		{"::ffff:8.8.8.8", false},
		{"::ffff:808:808", false}, // 8.8.8.8 in hextet form
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got := IsPrivateOrReserved(netip.MustParseAddr(tt.addr))
			if got != tt.reserved {
				t.Errorf("IsPrivateOrReserved(%s) = %v, want %v", tt.addr, got, tt.reserved)
			}
		})
	}
}

func TestIsPrivateOrReservedString(t *testing.T) {
	if !IsPrivateOrReservedString("192.168.0.1") {
		t.Error("expected 192.168.0.1 to be reserved")
	}
	if IsPrivateOrReservedString("1.1.1.1") {
		t.Error("expected 1.1.1.1 to be public")
	}
	// Garbage is treated as reserved, never as public.
	if !IsPrivateOrReservedString("not-an-ip") {
		t.Error("expected unparseable input to be treated as reserved")
	}
	if !IsPrivateOrReservedString("") {
		t.Error("expected empty input to be treated as reserved")
	}
}

func TestNormalizeIPHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0x7f000001", "127.0.0.1"},
		{"0X7F000001", "127.0.0.1"},
		{"2130706433", "127.0.0.1"},
		{"3232235777", "192.168.1.1"},
		{"0177.0.0.1", "127.0.0.1"},
		{"::ffff:127.0.0.1", "127.0.0.1"},
		{"example.com", "example.com"},
		{"8.8.8.8", "8.8.8.8"},
		{"8080", "8080"},         // small number, not a dword IP
		{"1.2.3.4", "1.2.3.4"},   // no leading zeros, untouched
		{"2001:db8::1", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeIPHost(tt.in); got != tt.want {
				t.Errorf("NormalizeIPHost(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
