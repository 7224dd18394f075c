// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket

import (
	"log/slog"
	"net/netip"

	"golang.org/x/sys/unix"
	"nbsocket.dev/internal/nbkernel"
	"nbsocket.dev/internal/nbwait"
	"nbsocket.dev/internal/rcfd"
)

// DefaultBacklog is the accept backlog substituted whenever Listen is
// called with backlog < 1, per spec §4.4/§6.
const DefaultBacklog = 50

// MaxTransferSize bounds a single Read/Write syscall, per spec §4.1/§6.
const MaxTransferSize = nbkernel.MaxTransferSize

// Create allocates the kernel descriptor in state NEW -> UNCONNECTED. The
// listener/client variant is chosen by the immutable server flag recorded
// at construction (spec §4.4, §9). For datagram endpoints, the external
// before-create resource hook runs first and is undone on failure.
func (e *Endpoint) Create(domain int, stream bool) error {
	e.mu.Lock()
	if e.state != StateNew {
		st := e.state
		e.mu.Unlock()
		return newErrf("create", KindAlreadyConnected, "endpoint already past NEW (state=%s)", st)
	}
	e.mu.Unlock()

	if !stream && e.acct != nil {
		if err := e.acct.BeforeDatagramCreate(); err != nil {
			return wrapIOErr("create", err)
		}
	}

	typ := unix.SOCK_STREAM
	if !stream {
		typ = unix.SOCK_DGRAM
	}
	fd, err := nbkernel.Socket(domain, typ, 0)
	if err != nil {
		if !stream && e.acct != nil {
			e.acct.AfterDatagramClose()
		}
		return wrapIOErr("create", err)
	}

	cl, err := rcfd.New(fd, stream, datagramAcctAdapter{e})
	if err != nil {
		nbkernel.Close(fd)
		if !stream && e.acct != nil {
			e.acct.AfterDatagramClose()
		}
		return wrapIOErr("create", err)
	}

	e.mu.Lock()
	e.domain = domain
	e.stream = stream
	e.closer = cl
	e.state = StateUnconnected
	e.mu.Unlock()

	e.registerCleanup()
	e.logDebug("created endpoint", "fd", fd, "stream", stream, "server", e.server)
	return nil
}

// datagramAcctAdapter adapts the package-level ResourceAccounting hook
// (only consulted for datagram sockets) to rcfd.DatagramAccounting,
// keeping internal/rcfd decoupled from this package's exported interfaces.
type datagramAcctAdapter struct{ e *Endpoint }

func (a datagramAcctAdapter) AfterDatagramClose() {
	if a.e.acct != nil {
		a.e.acct.AfterDatagramClose()
	}
}

// Bind binds the endpoint to host:port. Requires state >= UNCONNECTED and
// localPort == 0 (spec §4.4). The supplied address is recorded verbatim
// (not the kernel's post-bind getsockname report) so that callers observing
// a wildcard bind see back what they asked for — e.g. 0.0.0.0 rather than
// a dual-stack ::0 — exactly as spec §4.4 requires for compatibility.
func (e *Endpoint) Bind(addr netip.Addr, port int) error {
	e.mu.Lock()
	if err := e.checkOpenLocked("bind"); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.state < StateUnconnected {
		st := e.state
		e.mu.Unlock()
		return newErrf("bind", KindNotOpen, "endpoint not yet created (state=%s)", st)
	}
	if e.localPort != 0 {
		e.mu.Unlock()
		return newErr("bind", KindAlreadyConnected)
	}
	cl := e.closer
	e.mu.Unlock()

	if !addr.IsValid() {
		return newErr("bind", KindUnresolvedHost)
	}

	if e.bindHook != nil {
		if err := e.bindHook.BeforeBind(netip.AddrPortFrom(addr, uint16(port))); err != nil {
			return wrapIOErr("bind", err)
		}
	}

	sa, err := toSockaddr(netip.AddrPortFrom(addr, uint16(port)))
	if err != nil {
		return err
	}
	if err := nbkernel.Bind(cl.FD(), sa); err != nil {
		return wrapIOErr("bind", err)
	}

	boundSA, err := nbkernel.Getsockname(cl.FD())
	if err != nil {
		return wrapIOErr("bind", err)
	}
	bound, err := fromSockaddr(boundSA)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.address = addr // verbatim, per spec §4.4
	e.localPort = int(bound.Port())
	e.mu.Unlock()

	e.logDebug("bound endpoint", "addr", addr, "port", bound.Port())
	return nil
}

// Listen marks a bound endpoint as passive. backlog < 1 is clamped to
// DefaultBacklog, per spec §4.4.
func (e *Endpoint) Listen(backlog int) error {
	e.mu.Lock()
	if err := e.checkOpenLocked("listen"); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.localPort == 0 {
		e.mu.Unlock()
		return newErr("listen", KindNotBound)
	}
	cl := e.closer
	e.mu.Unlock()

	if backlog < 1 {
		backlog = DefaultBacklog
	}
	if err := nbkernel.Listen(cl.FD(), backlog); err != nil {
		return wrapIOErr("listen", err)
	}
	e.logDebug("listening", "backlog", backlog)
	return nil
}

// Connect drives UNCONNECTED -> CONNECTING -> CONNECTED. millis > 0 is a
// deadline; 0 is infinite. If connecting reaches CONNECTING and then fails
// for any reason, the endpoint is closed before the error is surfaced, per
// spec §4.4: a failed connect leaves the endpoint unusable.
func (e *Endpoint) Connect(addr netip.Addr, port int, millis int64) error {
	const op = "connect"

	if !addr.IsValid() {
		return newErr(op, KindUnresolvedHost)
	}
	if addr.IsUnspecified() {
		addr = loopbackFor(addr) // wildcard target resolves to local host, spec §4.4
	}

	cl, release, err := e.beginOp(sideRead, op, func(st State) error {
		switch {
		case st >= StateClosing:
			return newErr(op, KindNotOpen)
		case st == StateConnected:
			return newErr(op, KindAlreadyConnected)
		case st == StateConnecting:
			return newErr(op, KindConnectionInProgress)
		case st != StateUnconnected:
			return newErrf(op, KindNotOpen, "endpoint not ready to connect (state=%s)", st)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// release must run before closeForFailedConnect on every failure branch
	// below: Close's drain wait blocks until readerActive goes false, and
	// that can only happen via release. Calling Close while this op still
	// holds the in-flight slot would deadlock Close's own drain goroutine
	// against this goroutine's deferred release, per spec §4.4/§5. released
	// guards against the deferred call firing a second time, which would
	// double-unlock readMu.
	released := false
	rel := func() {
		if !released {
			released = true
			release()
		}
	}
	defer rel()

	if e.connectHook != nil {
		if herr := e.connectHook.BeforeConnect(netip.AddrPortFrom(addr, uint16(port))); herr != nil {
			rel()
			e.closeForFailedConnect()
			return wrapIOErr(op, herr)
		}
	}

	e.mu.Lock()
	e.state = StateConnecting
	e.mu.Unlock()

	e.ensureNonBlocking(millis)

	sa, err := toSockaddr(netip.AddrPortFrom(addr, uint16(port)))
	if err != nil {
		rel()
		e.closeForFailedConnect()
		return err
	}

	first := true
	_, err = e.retry(op, cl, nbwait.EventOut, millis, func() (int, error) {
		if first {
			first = false
			cerr := nbkernel.Connect(cl.FD(), sa)
			return 0, cerr
		}
		// Subsequent "attempts" after a wakeup just check SO_ERROR, per the
		// connect(2) completion protocol documented in spec §6 and in the
		// gvisor hostinet socketOperations.Connect reference.
		return 0, nbkernel.ConnectError(cl.FD())
	})
	if err != nil {
		rel()
		e.closeForFailedConnect()
		oe := classifyErr(err)
		oe.Addr = addr.String()
		return oe
	}

	// Confirm the peer address from the kernel rather than trusting the
	// caller-supplied target verbatim, the same way Bind confirms its bound
	// port via Getsockname; falls back to the requested address/port if the
	// query fails for some reason (the connect itself already succeeded).
	remoteAddr, remotePort := addr, port
	if peerSA, perr := nbkernel.Getpeername(cl.FD()); perr == nil {
		if peer, ferr := fromSockaddr(peerSA); ferr == nil {
			remoteAddr, remotePort = peer.Addr(), int(peer.Port())
		}
	}

	e.mu.Lock()
	e.state = StateConnected
	e.remoteAddr = remoteAddr
	e.remotePort = remotePort
	e.mu.Unlock()

	e.logDebug("connected", "addr", remoteAddr, "port", remotePort)
	return nil
}

func classifyErr(err error) *OpError {
	if oe, ok := err.(*OpError); ok {
		return oe
	}
	return wrapIOErr("connect", err)
}

// closeForFailedConnect implements spec §4.4's "close before surfacing"
// rule for a failed CONNECTING attempt.
func (e *Endpoint) closeForFailedConnect() {
	_ = e.Close()
}

// Accept requires the endpoint be UNCONNECTED (the common case) or
// CONNECTED when the same object is reused as a listener-as-endpoint, be a
// stream socket, and be bound, per spec §4.4. target may be nil (the usual
// case: a brand-new *Endpoint is returned), a *Endpoint (installed
// atomically under its own state-lock, the same-concrete-type fast path),
// or any other FieldWriter (the foreign-endpoint interop path of spec §9).
func (e *Endpoint) Accept(target FieldWriter) (*Endpoint, error) {
	const op = "accept"

	cl, release, err := e.beginOp(sideRead, op, func(st State) error {
		switch {
		case st >= StateClosing:
			return newErr(op, KindNotOpen)
		case st != StateUnconnected && st != StateConnected:
			return newErrf(op, KindNotOpen, "endpoint not ready to accept (state=%s)", st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer release()

	e.mu.Lock()
	stream := e.stream
	localPort := e.localPort
	e.mu.Unlock()
	if !stream {
		return nil, newErr(op, KindNotStream)
	}
	if localPort == 0 {
		return nil, newErr(op, KindNotBound)
	}

	e.mu.Lock()
	timeout := e.timeoutMillis
	e.mu.Unlock()

	e.ensureNonBlocking(timeout)

	var newFD int
	var peerSA unix.Sockaddr
	_, err = e.retry(op, cl, nbwait.EventIn, timeout, func() (int, error) {
		fd, sa, aerr := nbkernel.Accept(cl.FD())
		if aerr != nil {
			return 0, aerr
		}
		newFD, peerSA = fd, sa
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	peer, perr := fromSockaddr(peerSA)
	if perr != nil {
		nbkernel.Close(newFD)
		return nil, perr
	}

	localSA, lerr := nbkernel.Getsockname(newFD)
	if lerr != nil {
		nbkernel.Close(newFD)
		return nil, wrapIOErr(op, lerr)
	}
	local, lerr := fromSockaddr(localSA)
	if lerr != nil {
		nbkernel.Close(newFD)
		return nil, lerr
	}

	newCloser, cerr := rcfd.New(newFD, true, nil)
	if cerr != nil {
		nbkernel.Close(newFD)
		return nil, wrapIOErr(op, cerr)
	}

	child := NewEndpoint(false, WithLogger(e.logger))
	child.domain = e.domain
	child.stream = true
	child.closer = newCloser
	child.state = StateConnected
	child.address = local.Addr()
	child.localPort = int(local.Port())
	child.remoteAddr = peer.Addr()
	child.remotePort = int(peer.Port())

	switch t := target.(type) {
	case nil:
		// common case: caller just wants the new Endpoint back.
		child.registerCleanup()
	case *Endpoint:
		// same-concrete-type fast path: install the four boundary fields (plus
		// everything else) under target's own state-lock atomically, per spec
		// §4.4, and hand back target itself instead of child.
		t.mu.Lock()
		t.domain = child.domain
		t.stream = true
		t.closer = child.closer
		t.state = StateConnected
		t.address = child.address
		t.localPort = child.localPort
		t.remoteAddr = child.remoteAddr
		t.remotePort = child.remotePort
		t.mu.Unlock()
		t.registerCleanup()
		child = t
	default:
		// ownership of the new fd passes to the foreign target, so the
		// child's closer is disabled and never closes it.
		newCloser.Disable()
		t.InjectFields(newCloser.FD(), child.localPort, child.address, child.remotePort)
	}

	if e.PostAcceptHook != nil {
		if herr := e.PostAcceptHook(child); herr != nil {
			child.Close()
			return nil, wrapIOErr(op, herr)
		}
	}

	e.logDebug("accepted", "peer", peer, "local", local)
	return child, nil
}

// CopyTo atomically transfers (fd, stream, boundary fields) from e to dst
// without closing fd, per spec §3/§4.4/§9. e becomes CLOSED; its closer is
// disabled so it never runs. If dst is a *Endpoint, the transfer happens
// under dst's own state-lock and dst gets a fresh closer of its own for fd;
// otherwise dst's FieldWriter capability is used and dst is responsible for
// fd's lifecycle from that point on.
//
// Open Question (b) resolved: CopyTo does not force dst back into blocking
// mode, matching the source's behavior. Flipping a live fd's blocking mode
// while a foreign type might already be mid-operation on it would be a
// surprising side effect, and nothing in spec's invariants requires it.
func (e *Endpoint) CopyTo(dst FieldWriter) error {
	const op = "copyTo"

	e.mu.Lock()
	if e.state >= StateClosed {
		e.mu.Unlock()
		return newErr(op, KindNotOpen)
	}
	cl := e.closer
	stream := e.stream
	localPort := e.localPort
	addr := e.address
	remotePort := e.remotePort
	e.state = StateClosed
	e.mu.Unlock()

	if cl == nil {
		return newErr(op, KindNotOpen)
	}
	cl.Disable()

	switch t := dst.(type) {
	case *Endpoint:
		ncl, nerr := rcfd.New(cl.FD(), stream, datagramAcctAdapter{t})
		if nerr != nil {
			return wrapIOErr(op, nerr)
		}
		t.mu.Lock()
		t.domain = e.domain
		t.stream = stream
		t.closer = ncl
		t.state = StateConnected
		t.address = addr
		t.localPort = localPort
		t.remoteAddr = e.remoteAddr
		t.remotePort = remotePort
		t.mu.Unlock()
		t.registerCleanup()
	default:
		t.InjectFields(cl.FD(), localPort, addr, remotePort)
	}

	e.logDebug("copied endpoint to new owner")
	return nil
}
