// Package connid implements the BEP-15 connection-id challenge: a 64-bit
// token that binds a client's source address to a short validity window,
// defeating UDP source-address spoofing without the tracker keeping any
// per-client state.
//
// A connection id is truncate_64(HMAC(secret, client_ip)). Two secrets are
// live at once — current and previous — so a token minted just before a
// rotation remains valid for up to twice the rotation period. Only the
// cleaner rotates secrets; every socket worker only ever reads them through
// a Secrets snapshot published behind an atomic pointer.
package connid

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"hash"
	"net"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"inet.af/netaddr"
)

// Secret is a 32-byte HMAC key.
type Secret [32]byte

// NewSecret draws a fresh random Secret from the system CSPRNG.
func NewSecret() Secret {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// unavailable, which is unrecoverable for a process that mints
		// security tokens.
		panic("connid: failed to read random secret: " + err.Error())
	}
	return s
}

// Secrets is the current+previous secret pair published to every socket
// worker. It is immutable once constructed; rotation builds a new Secrets
// and installs it atomically.
type Secrets struct {
	Current  Secret
	Previous Secret
}

// Snapshot is the atomically-swapped shared pointer over Secrets. Rotate is
// called only by the cleaner; Generate and Validate are called by socket
// workers and never block.
type Snapshot struct {
	ptr atomic.Pointer[Secrets]
}

// NewSnapshot seeds a Snapshot with two independently random secrets, so
// that the very first connection ids issued after startup are already
// validated against a genuine "previous" secret rather than a zero value.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	s.ptr.Store(&Secrets{Current: NewSecret(), Previous: NewSecret()})
	return s
}

// Rotate generates a fresh secret, shifts the current secret to previous,
// and discards the one before it. Called by the cleaner every
// connection_id_lifetime/2.
func (s *Snapshot) Rotate() {
	prev := s.ptr.Load()
	s.ptr.Store(&Secrets{Current: NewSecret(), Previous: prev.Current})
}

func (s *Snapshot) current() *Secrets { return s.ptr.Load() }

func hashfn() hash.Hash { return xxhash.New() }

// mac computes truncate_64(HMAC(secret, ip)).
func mac(secret Secret, ip netaddr.IP) uint64 {
	h := hmac.New(hashfn, secret[:])
	b, _ := ip.MarshalBinary()
	h.Write(b)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// toNetaddr converts a net.IP (as read off a UDP socket or parsed from the
// wire) into its canonical netaddr.IP form, carried from the teacher's own
// ConnectionIDGenerator which takes a netaddr.IP directly.
func toNetaddr(ip net.IP) netaddr.IP {
	addr, ok := netaddr.FromStdIP(ip)
	if !ok {
		// Only reachable if called with something that isn't a valid IPv4
		// or IPv6 address, which never happens for an address read off a
		// live socket.
		panic("connid: invalid IP: " + ip.String())
	}
	return addr
}

// Generate mints a fresh connection id for client address ip, keyed on the
// current secret. Port is deliberately excluded: NATs remap ports, and the
// token must survive that.
func (s *Snapshot) Generate(ip net.IP) uint64 {
	return mac(s.current().Current, toNetaddr(ip))
}

// Validate reports whether id is a connection id issued for ip under either
// the current or previous secret, using a constant-time comparison to avoid
// a timing oracle. Implementations must silently drop the request on a
// false result rather than respond with an error, to avoid becoming a
// reflection amplifier.
func (s *Snapshot) Validate(id uint64, ip net.IP) bool {
	addr := toNetaddr(ip)
	secrets := s.current()

	var want [8]byte
	binary.BigEndian.PutUint64(want[:], id)

	var got [8]byte
	binary.BigEndian.PutUint64(got[:], mac(secrets.Current, addr))
	if hmac.Equal(got[:], want[:]) {
		return true
	}

	binary.BigEndian.PutUint64(got[:], mac(secrets.Previous, addr))
	return hmac.Equal(got[:], want[:])
}
