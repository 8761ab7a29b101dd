// Package netcheck classifies IP addresses as public or private/reserved.
// It is the base layer of SSRF protection: every address a tool is about
// to reach, whether given literally or resolved from DNS, is checked here.
package netcheck

import (
	"encoding/binary"
	"net/netip"
	"strconv"
	"strings"
)

// v4Range is an inclusive numeric range of IPv4 addresses. Range tests are
// done on the 32-bit integer form, never on string prefixes, so boundary
// addresses (e.g. 172.15.255.255 vs 172.16.0.0) classify correctly.
type v4Range struct {
	lo, hi uint32
}

func mustV4(s string) uint32 {
	addr := netip.MustParseAddr(s)
	return binary.BigEndian.Uint32(addr.AsSlice())
}

// reservedV4 covers every IPv4 block an agent must never be allowed to
// reach: "this network", RFC 1918, CGNAT, loopback, link-local, benchmark,
// and the entire multicast/reserved space 224.0.0.0 through 255.255.255.255.
var reservedV4 = []v4Range{
	{mustV4("0.0.0.0"), mustV4("0.255.255.255")},       // 0.0.0.0/8
	{mustV4("10.0.0.0"), mustV4("10.255.255.255")},     // 10.0.0.0/8
	{mustV4("100.64.0.0"), mustV4("100.127.255.255")},  // 100.64.0.0/10 CGNAT
	{mustV4("127.0.0.0"), mustV4("127.255.255.255")},   // 127.0.0.0/8
	{mustV4("169.254.0.0"), mustV4("169.254.255.255")}, // 169.254.0.0/16
	{mustV4("172.16.0.0"), mustV4("172.31.255.255")},   // 172.16.0.0/12
	{mustV4("192.168.0.0"), mustV4("192.168.255.255")}, // 192.168.0.0/16
	{mustV4("198.18.0.0"), mustV4("198.19.255.255")},   // 198.18.0.0/15 benchmark
	{mustV4("224.0.0.0"), mustV4("255.255.255.255")},   // multicast + reserved + broadcast
}

// reservedV6 covers the non-routable IPv6 blocks. Prefix.Contains performs
// a segment-wise 128-bit comparison.
var reservedV6 = []netip.Prefix{
	netip.MustParsePrefix("::1/128"),     // loopback
	netip.MustParsePrefix("::/128"),      // unspecified
	netip.MustParsePrefix("fc00::/7"),    // unique-local
	netip.MustParsePrefix("fe80::/10"),   // link-local
	netip.MustParsePrefix("fec0::/10"),   // site-local (deprecated, still routable on old stacks)
	netip.MustParsePrefix("ff00::/8"),    // multicast
}

// IsPrivateOrReserved reports whether addr belongs to a private, loopback,
// link-local, multicast, or otherwise reserved range.
//
// IPv4-mapped IPv6 addresses (::ffff:a.b.c.d, including the compressed
// hextet form) are unwrapped and checked against the IPv4 rules. This is
// the most common SSRF bypass vector and must never be skipped.
func IsPrivateOrReserved(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}

	addr = addr.Unmap()

	if addr.Is4() {
		n := binary.BigEndian.Uint32(addr.AsSlice())
		for _, r := range reservedV4 {
			if n >= r.lo && n <= r.hi {
				return true
			}
		}
		return false
	}

	for _, p := range reservedV6 {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsPrivateOrReservedString parses s and classifies it. Unparseable input
// is treated as reserved: an address we cannot understand is an address we
// cannot trust.
func IsPrivateOrReservedString(s string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return true
	}
	return IsPrivateOrReserved(addr)
}

// NormalizeIPHost converts non-standard IP encodings of a hostname to
// canonical dotted-quad form. Attackers hide private targets behind hex
// (0x7f000001), decimal dword (2130706433), and octal dotted (0177.0.0.1)
// encodings that many URL parsers pass through verbatim.
//
// Returns the input unchanged when it is a regular hostname or already a
// canonical IP. IPv4-mapped IPv6 literals are unmapped so downstream
// allowlist rules written against "127.0.0.1" match regardless of wrapping.
func NormalizeIPHost(host string) string {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}

	// Hex prefix is always an intentional IP encoding.
	if strings.HasPrefix(host, "0x") || strings.HasPrefix(host, "0X") {
		if n, err := strconv.ParseUint(host, 0, 32); err == nil {
			return dwordToV4(uint32(n))
		}
	}

	// Large decimal is a dword IP. Small numbers (ports, counters) pass
	// through: 16777215 is the highest value below 1.0.0.0.
	if n, err := strconv.ParseUint(host, 10, 32); err == nil && n > 0xFFFFFF {
		return dwordToV4(uint32(n))
	}

	// Octal dotted-quad. netip rejects leading zeros, so parse manually,
	// and only when at least one octet actually has a leading zero.
	if parts := strings.Split(host, "."); len(parts) == 4 {
		hasLeadingZero := false
		var octets [4]byte
		ok := true
		for i, part := range parts {
			if len(part) > 1 && part[0] == '0' {
				hasLeadingZero = true
			}
			n, err := strconv.ParseUint(part, 0, 16)
			if err != nil || n > 255 {
				ok = false
				break
			}
			octets[i] = byte(n)
		}
		if ok && hasLeadingZero {
			return netip.AddrFrom4(octets).String()
		}
	}

	return host
}

func dwordToV4(n uint32) string {
	return netip.AddrFrom4([4]byte{
		byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
	}).String()
}
