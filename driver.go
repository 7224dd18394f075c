// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket

import (
	"time"

	"nbsocket.dev/internal/nbkernel"
	"nbsocket.dev/internal/nbwait"
	"nbsocket.dev/internal/rcfd"
)

// side picks which role-lock and in-flight slot an operation belongs to,
// per spec §4.5/§5: read-side covers Read, Accept, Connect (mutually
// exclusive with each other); write-side covers Write alone.
type side int

const (
	sideRead side = iota
	sideWrite
)

// beginOp acquires the role-lock for side, validates preconditions under
// the state-lock, marks the corresponding in-flight slot, and returns a
// snapshot of the closer plus a release func that must run exactly once.
// This realizes spec §4.5 steps 1-2.
func (e *Endpoint) beginOp(s side, op string, require func(State) error) (cl *rcfd.Closer, release func(), err error) {
	if s == sideRead {
		e.readMu.Lock()
	} else {
		e.writeMu.Lock()
	}

	e.mu.Lock()
	if err := require(e.state); err != nil {
		e.mu.Unlock()
		if s == sideRead {
			e.readMu.Unlock()
		} else {
			e.writeMu.Unlock()
		}
		return nil, nil, err
	}
	if s == sideRead {
		e.readerActive = true
	} else {
		e.writerActive = true
	}
	cl = e.closer
	e.mu.Unlock()

	release = func() {
		e.mu.Lock()
		if s == sideRead {
			e.readerActive = false
		} else {
			e.writerActive = false
		}
		if e.state == StateClosing {
			e.cond.Broadcast()
		}
		e.mu.Unlock()
		if s == sideRead {
			e.readMu.Unlock()
		} else {
			e.writeMu.Unlock()
		}
	}
	_ = op
	return cl, release, nil
}

// ensureNonBlocking implements spec §4.5 step 3: lazily switches fd to
// non-blocking the first time an operation with a finite deadline runs,
// latching nonBlocking sticky for the life of fd. The kernel descriptor is
// in fact always created O_NONBLOCK at the syscall level
// (internal/nbkernel.Socket always passes SOCK_NONBLOCK) because every
// Endpoint operation needs to be interruptible by a concurrent Close
// regardless of timeout — Go exposes no way to send a directed interrupt
// into a blocked syscall the way the source's native-thread-signal
// primitive does. The sticky flag and its call shape are still threaded
// through so the data model in spec §3 remains faithful; no accessor
// exposes the flag.
func (e *Endpoint) ensureNonBlocking(millis int64) {
	if millis <= 0 {
		return
	}
	e.mu.Lock()
	already := e.nonBlocking
	fd := -1
	if !already && e.closer != nil {
		fd = e.closer.FD()
		e.nonBlocking = true
	}
	e.mu.Unlock()
	if fd >= 0 {
		nbkernel.SetNonblock(fd, true)
	}
}

// retry runs the spec §4.5 steps 4-5 try/park/retry loop: attempt the
// syscall once, and while it reports ErrWouldBlock and the endpoint is
// still open, park on events via the readiness waiter (recomputing the
// remaining deadline across each wait) and retry.
func (e *Endpoint) retry(op string, cl *rcfd.Closer, events nbwait.Events, millis int64, attempt func() (int, error)) (int, error) {
	deadline, infinite := deadlineFromMillis(millis)

	for {
		n, err := attempt()
		if err == nil {
			return n, nil
		}
		if err == nbkernel.ErrInterrupted {
			continue
		}
		if err != nbkernel.ErrWouldBlock {
			return n, err
		}

		if cl.Closed() {
			return 0, newErr(op, KindNotOpen)
		}

		var nanos int64
		if !infinite {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, newErr(op, KindTimeout)
			}
			nanos = remaining.Nanoseconds()
		}

		_, woken, werr := nbwait.Wait(cl.FD(), events, cl.Wake(), nanos)
		if woken || cl.Closed() {
			return 0, newErr(op, KindNotOpen)
		}
		switch werr {
		case nil:
			continue
		case nbwait.ErrTimeout:
			return 0, newErr(op, KindTimeout)
		case nbwait.ErrInterrupted:
			continue
		default:
			return 0, wrapIOErr(op, werr)
		}
	}
}

// checkStillOpenForResult implements spec §4.5 step 6's state-lock
// epilogue: clear the
// in-flight slot (done by release, called by callers via defer) and, if the
// operation did not complete because the state advanced past CONNECTED
// while it was running, report "socket closed" instead of whatever partial
// result was produced.
func (e *Endpoint) checkStillOpenForResult(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state >= StateClosing {
		return newErr(op, KindNotOpen)
	}
	return nil
}
