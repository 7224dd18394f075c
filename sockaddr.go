// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// DomainOf reports the AF_INET/AF_INET6 socket domain that addr belongs to,
// for callers (e.g. cmd/nbsocket-echo) that pick a domain from a parsed
// address before calling Create.
func DomainOf(addr netip.Addr) int {
	if addr.Is4() || addr.Is4In6() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func toSockaddr(ap netip.AddrPort) (unix.Sockaddr, error) {
	addr := ap.Addr()
	if !addr.IsValid() {
		return nil, newErr("", KindUnresolvedHost)
	}
	if addr.Is4() || addr.Is4In6() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}, nil
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}, nil
}

func fromSockaddr(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port)), nil
	default:
		return netip.AddrPort{}, newErr("", KindBadAddress)
	}
}

// loopbackFor returns the loopback address for addr's family, used to
// implement spec §4.4's "wildcard targets resolve to the local host" rule
// for Connect.
func loopbackFor(addr netip.Addr) netip.Addr {
	if addr.Is4() || addr.Is4In6() {
		return netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	return netip.IPv6Loopback()
}
