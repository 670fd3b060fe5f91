// Package netmerge reduces a set of IPv4/IPv6 CIDR ranges to a smaller
// equivalent set for packet-filtering allowlists. Strict subsets of kept
// ranges are dropped, and sibling/descendant ranges are replaced by their
// common parent once the parent's address space is sufficiently covered.
package netmerge

import (
	"errors"
	"fmt"
	"math/big"
	"net/netip"
)

var (
	// ErrInvalidCIDR indicates an input string that is not a valid CIDR.
	ErrInvalidCIDR = errors.New("netmerge: invalid cidr")

	// ErrNoSupernet indicates a supernet request on a zero-length prefix.
	ErrNoSupernet = errors.New("netmerge: prefix length 0 has no supernet")
)

// Prefix is an immutable IPv4 or IPv6 network prefix in canonical form:
// the host bits of the network address are zero.
type Prefix struct {
	p netip.Prefix
}

// ParsePrefix parses a textual CIDR into a canonical Prefix. Host bits set
// beyond the prefix length are cleared rather than rejected.
func ParsePrefix(text string) (Prefix, error) {
	p, err := netip.ParsePrefix(text)
	if err != nil {
		return Prefix{}, fmt.Errorf("%w: %q", ErrInvalidCIDR, text)
	}
	return Prefix{p: p.Masked()}, nil
}

// IsIPv4 reports the address family. IPv4-mapped IPv6 prefixes count as
// IPv6, matching how they parse.
func (p Prefix) IsIPv4() bool {
	return p.p.Addr().Is4()
}

// Bits returns the prefix length.
func (p Prefix) Bits() int {
	return p.p.Bits()
}

// familyBits is 32 for IPv4 and 128 for IPv6.
func (p Prefix) familyBits() int {
	return p.p.Addr().BitLen()
}

// AddressCount returns 2^(familyBits - prefixLength). The result needs an
// arbitrary-precision integer: an IPv6 /0 holds 2^128 addresses.
func (p Prefix) AddressCount() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(p.familyBits()-p.Bits()))
}

// SameOrSubnetOf reports whether every address in p is also in q, including
// p == q. Prefixes of different families never match.
func (p Prefix) SameOrSubnetOf(q Prefix) bool {
	return q.p.Bits() <= p.p.Bits() && q.p.Contains(p.p.Addr())
}

// StrictSubnetOf reports whether p is a proper subnet of q: contained and
// strictly smaller. Two equal prefixes do not match.
func (p Prefix) StrictSubnetOf(q Prefix) bool {
	return q.p.Bits() < p.p.Bits() && q.p.Contains(p.p.Addr())
}

// Supernet returns the immediate parent: the prefix one bit shorter that
// contains p.
func (p Prefix) Supernet() (Prefix, error) {
	if p.Bits() == 0 {
		return Prefix{}, ErrNoSupernet
	}
	return Prefix{p: netip.PrefixFrom(p.p.Addr(), p.Bits()-1).Masked()}, nil
}

// compare orders prefixes ascending by (network address, prefix length), so
// a larger block sorts before its more specific children at the same
// address.
func (p Prefix) compare(q Prefix) int {
	if c := p.p.Addr().Compare(q.p.Addr()); c != 0 {
		return c
	}
	return p.Bits() - q.Bits()
}

// String renders the canonical CIDR text.
func (p Prefix) String() string {
	return p.p.String()
}
