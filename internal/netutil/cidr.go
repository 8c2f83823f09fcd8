// Package netutil provides IPv4 range enumeration and TCP port pre-scanning.
package netutil

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// maxHosts caps how many addresses a single CIDR or range may expand to.
const maxHosts = 1 << 16

// ParseCIDR expands an IPv4 CIDR into host addresses.
// Example: "192.168.1.0/24" returns the 254 usable IPs (network and broadcast excluded).
func ParseCIDR(cidr string) ([]string, error) {
	_, ipnet, err := net.ParseCIDR(strings.TrimSpace(cidr))
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR: %w", err)
	}
	base := ipnet.IP.To4()
	if base == nil {
		return nil, fmt.Errorf("invalid CIDR %q: only IPv4 is supported", cidr)
	}

	ones, bits := ipnet.Mask.Size()
	size := uint64(1) << uint(bits-ones)
	if size > maxHosts {
		return nil, fmt.Errorf("invalid CIDR %q: range of %d addresses is too large", cidr, size)
	}

	start := ipToUint32(base)
	ips := make([]string, 0, size)
	for i := uint64(0); i < size; i++ {
		ips = append(ips, uint32ToIP(start+uint32(i)).String())
	}

	// /31 and /32 have no network or broadcast address to drop.
	if len(ips) > 2 {
		return ips[1 : len(ips)-1], nil
	}
	return ips, nil
}

// ParseRange returns all IPv4 addresses between start and end, inclusive.
func ParseRange(startIP, endIP string) ([]string, error) {
	start := net.ParseIP(startIP).To4()
	if start == nil {
		return nil, fmt.Errorf("invalid start IP: %s", startIP)
	}
	end := net.ParseIP(endIP).To4()
	if end == nil {
		return nil, fmt.Errorf("invalid end IP: %s", endIP)
	}

	startInt := ipToUint32(start)
	endInt := ipToUint32(end)
	if startInt > endInt {
		return nil, fmt.Errorf("start IP must be less than or equal to end IP")
	}
	if uint64(endInt-startInt)+1 > maxHosts {
		return nil, fmt.Errorf("range %s-%s is too large", startIP, endIP)
	}

	ips := make([]string, 0, endInt-startInt+1)
	for i := uint64(startInt); i <= uint64(endInt); i++ {
		ips = append(ips, uint32ToIP(uint32(i)).String())
	}
	return ips, nil
}

// ExpandTargets expands a mixed list of CIDRs, "a-b" ranges and single hosts,
// dropping duplicates while keeping first-seen order.
func ExpandTargets(targets []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(hosts ...string) {
		for _, h := range hosts {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}

	for _, t := range targets {
		t = strings.TrimSpace(t)
		switch {
		case t == "":
			continue
		case strings.Contains(t, "/"):
			ips, err := ParseCIDR(t)
			if err != nil {
				return nil, err
			}
			add(ips...)
		case isIPRange(t):
			from, to, _ := strings.Cut(t, "-")
			ips, err := ParseRange(strings.TrimSpace(from), strings.TrimSpace(to))
			if err != nil {
				return nil, err
			}
			add(ips...)
		default:
			add(t)
		}
	}
	return out, nil
}

// isIPRange reports whether t looks like "a.b.c.d-e.f.g.h". Hostnames may contain dashes.
func isIPRange(t string) bool {
	from, to, ok := strings.Cut(t, "-")
	return ok && net.ParseIP(strings.TrimSpace(from)) != nil && net.ParseIP(strings.TrimSpace(to)) != nil
}

// IsPrivateIP reports whether ip is an RFC 1918 IPv4 address.
func IsPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr).To4()
	if ip == nil {
		return false
	}
	return ip.IsPrivate()
}

func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

func uint32ToIP(n uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)
	return ip
}
