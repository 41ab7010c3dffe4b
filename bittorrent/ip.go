package bittorrent

import "net"

// AddressFamily distinguishes the two disjoint peer buckets a swarm is
// partitioned into. A peer announcing over one family is only ever
// returned to requesters of the same family.
type AddressFamily uint8

const (
	// IPv4 identifies the IPv4 peer bucket of a swarm.
	IPv4 AddressFamily = iota
	// IPv6 identifies the IPv6 peer bucket of a swarm.
	IPv6
)

func (af AddressFamily) String() string {
	if af == IPv6 {
		return "IPv6"
	}
	return "IPv4"
}

// IP wraps a net.IP with the AddressFamily it was classified into, so that
// callers never need to re-derive it from the raw bytes on every use.
type IP struct {
	net.IP
	AddressFamily AddressFamily
}

// AssignFamily inspects ip and records whether it is an IPv4 or IPv6
// address, returning false if neither (malformed input).
func AssignFamily(ip net.IP) (IP, bool) {
	if v4 := ip.To4(); v4 != nil {
		return IP{IP: v4, AddressFamily: IPv4}, true
	}
	if len(ip) == net.IPv6len {
		return IP{IP: ip, AddressFamily: IPv6}, true
	}
	return IP{}, false
}
