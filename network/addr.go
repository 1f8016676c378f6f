// Package network tracks peer handshake state and the sessions derived from it.
package network

import (
	"fmt"
	"net/netip"
)

// SocketAddr is a peer's IP address and port.
type SocketAddr struct {
	addrPort netip.AddrPort
}

// NewSocketAddr builds a SocketAddr. IPv4-mapped IPv6 addresses are unmapped.
func NewSocketAddr(ip netip.Addr, port uint16) SocketAddr {
	return SocketAddr{addrPort: netip.AddrPortFrom(ip.Unmap(), port)}
}

// ParseSocketAddr parses "ip:port" or "[ipv6]:port".
func ParseSocketAddr(s string) (SocketAddr, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return SocketAddr{}, fmt.Errorf("invalid socket address %q: %w", s, err)
	}
	return NewSocketAddr(ap.Addr(), ap.Port()), nil
}

// MustParseSocketAddr is ParseSocketAddr that panics on error.
func MustParseSocketAddr(s string) SocketAddr {
	addr, err := ParseSocketAddr(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// IP returns the address part.
func (a SocketAddr) IP() netip.Addr { return a.addrPort.Addr() }

// Port returns the port part.
func (a SocketAddr) Port() uint16 { return a.addrPort.Port() }

func (a SocketAddr) String() string { return a.addrPort.String() }

// MarshalText implements encoding.TextMarshaler.
func (a SocketAddr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *SocketAddr) UnmarshalText(text []byte) error {
	parsed, err := ParseSocketAddr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

type scope uint8

const (
	scopeLoopback scope = iota
	scopePrivate
	scopeGlobal
)

func scopeOf(ip netip.Addr) scope {
	switch {
	case ip.IsLoopback():
		return scopeLoopback
	case ip.IsPrivate(), ip.IsLinkLocalUnicast():
		return scopePrivate
	}
	return scopeGlobal
}

// IsReachable reports whether a node listening on a can dial target.
// Loopback reaches every scope, private reaches private and global, global reaches global only.
func (a SocketAddr) IsReachable(target SocketAddr) bool {
	from, to := scopeOf(a.IP()), scopeOf(target.IP())
	switch from {
	case scopeLoopback:
		return true
	case scopePrivate:
		return to != scopeLoopback
	}
	return to == scopeGlobal
}
