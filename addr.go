// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket

import "net/netip"

// LocalAddr returns the address last recorded by Bind (verbatim, per
// spec §4.4), zero-value before Bind succeeds.
func (e *Endpoint) LocalAddr() netip.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.address
}

// LocalPort returns the bound local port, 0 before Bind/Accept succeeds.
// Grounded on the teacher's BindAddr accessor (cmd/run/socket/socket.go).
func (e *Endpoint) LocalPort() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localPort
}

// RemoteAddr returns the peer address once CONNECTED, zero-value otherwise.
// Grounded on the teacher's PeerAddr accessor.
func (e *Endpoint) RemoteAddr() netip.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteAddr
}

// RemotePort returns the peer port once CONNECTED, 0 otherwise.
func (e *Endpoint) RemotePort() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remotePort
}
