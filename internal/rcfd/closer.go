// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

// Package rcfd implements the single-shot descriptor closer described in
// spec §4.3/§9: a small object owning (fd, isStream) whose close(2) call
// fires exactly once, whether triggered explicitly or via a phantom-
// reachability cleanup hook. It is modeled on the teacher's fd.FD
// (IncRef/DecRef/ClosingIncRef/Lock in cmd/run/socket/socket.go) and on
// internal/poll's fdMutex.increfAndClose pattern (see the pack's annotated
// fd_unix.go), simplified to what this core actually needs: the role/state
// locks above rcfd already serialize access, so rcfd itself only needs to
// guarantee the close call is idempotent and raceproof, not a full
// reference-counting scheme.
package rcfd

import (
	"sync/atomic"

	"nbsocket.dev/internal/nbkernel"
	"nbsocket.dev/internal/nbwait"
)

// DatagramAccounting mirrors the external resource-hook collaborator of
// spec §6: a process-wide counter for non-stream sockets, injected rather
// than reached for as a global so the endpoint stays testable.
type DatagramAccounting interface {
	AfterDatagramClose()
}

// Closer owns exactly one kernel descriptor and closes it exactly once.
type Closer struct {
	fd       int
	stream   bool
	closed   atomic.Bool
	disabled atomic.Bool
	wake     *nbwait.Wake
	acct     DatagramAccounting
}

// New wraps fd. acct may be nil for stream sockets (it is only consulted
// for datagram sockets, per spec §4.3).
func New(fd int, stream bool, acct DatagramAccounting) (*Closer, error) {
	wake, err := nbwait.NewWake()
	if err != nil {
		nbkernel.Close(fd)
		return nil, err
	}
	return &Closer{fd: fd, stream: stream, wake: wake, acct: acct}, nil
}

// FD returns the raw kernel descriptor. Valid until Run or Disable fires.
func (c *Closer) FD() int { return c.fd }

// Stream reports whether the owning endpoint is a stream socket.
func (c *Closer) Stream() bool { return c.stream }

// Wake returns the close-notify pipe that readiness waits on this
// descriptor must include, so that Run's preclose step unblocks them.
func (c *Closer) Wake() *nbwait.Wake { return c.wake }

// Closed reports whether Run has already fired (Disable does not count).
func (c *Closer) Closed() bool { return c.closed.Load() }

// Preclose signals any in-flight wait/syscall on fd without actually
// closing it yet, by waking the companion pipe. This is the mechanism
// spec §5's close protocol step 3 describes: blocked role-lock holders
// parked in the readiness waiter see the pipe become readable and return.
func (c *Closer) Preclose() {
	if !c.disabled.Load() {
		c.wake.Signal()
	}
}

// Run performs the one-shot close. It is a no-op (returning nil) if Disable
// was called first, or if a previous Run already fired.
func (c *Closer) Run() error {
	if c.disabled.Load() {
		return nil
	}
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := nbkernel.Close(c.fd)
	c.wake.Close()
	if !c.stream && c.acct != nil {
		c.acct.AfterDatagramClose()
	}
	return err
}

// Disable flips the closer off without ever closing fd, used when
// ownership of fd is transferred to another endpoint via CopyTo or Accept's
// foreign-type path (spec §4.4, §9). A disabled closer's Run is permanently
// a no-op.
func (c *Closer) Disable() {
	c.disabled.Store(true)
}
