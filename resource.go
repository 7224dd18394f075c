// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket

import "net/netip"

// ResourceAccounting is the external datagram create/close counter hook of
// spec §6/§9: a process-wide collaborator, injected as an interface rather
// than reached for as a package-level global so Endpoint stays unit
// testable. BeforeDatagramCreate runs (and may veto) the creation of a
// non-stream Endpoint; AfterDatagramClose runs once the closer actually
// fires for a non-stream Endpoint.
type ResourceAccounting interface {
	BeforeDatagramCreate() error
	AfterDatagramClose()
}

// ConnectHook is the optional pre-connect integration point of spec §6,
// used by platform integrations (e.g. transparent proxying) that need to
// observe or rewrite a connect target before the syscall fires.
type ConnectHook interface {
	BeforeConnect(addr netip.AddrPort) error
}

// BindHook is the optional pre-bind integration point of spec §6.
type BindHook interface {
	BeforeBind(addr netip.AddrPort) error
}

// FieldWriter is the "field-write capability" of spec §9: the abstract
// replacement for the source's use of reflection to poke the four boundary
// fields into a user-provided foreign endpoint type during Accept or
// CopyTo. Any type that wants to participate as an Accept/CopyTo
// destination without being a *Endpoint itself implements this.
type FieldWriter interface {
	InjectFields(fd int, localPort int, addr netip.Addr, port int)
}
