// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket

import (
	"context"

	"golang.org/x/sys/unix"
	"nbsocket.dev/internal/nbkernel"
)

// Close implements spec §5's close protocol, the subtlest operation in the
// whole design:
//
//  1. Under the state-lock: no-op if already >= CLOSING; NEW jumps straight
//     to CLOSED (no fd was ever allocated).
//  2. If SO_LINGER is disabled (the default), shutdown(SHUT_WR) nudges the
//     peer.
//  3. If a read-side or write-side operation is in flight, Preclose wakes
//     it (and any future readiness wait on this fd) immediately.
//  4. Wait until both role slots have drained.
//  5. Run the closer exactly once; set CLOSED.
//
// Close is idempotent: a second concurrent or subsequent call returns nil
// immediately without additional effect, per spec §8.
func (e *Endpoint) Close() error {
	return e.closeContext(context.Background())
}

// CloseContext is Close with a ctx that records an interruption of step 4's
// drain. Go has no per-goroutine interrupt flag to "re-apply" the way spec
// §5/§7 describes for a blocked native thread; ctx cancellation is the
// substitute vehicle. If ctx is cancelled before the drain completes,
// CloseContext still waits for the drain, runs the closer and advances the
// state to CLOSED, and only then returns ctx.Err() to its caller. The wait
// itself is not cut short by ctx.
func (e *Endpoint) CloseContext(ctx context.Context) error {
	return e.closeContext(ctx)
}

func (e *Endpoint) closeContext(ctx context.Context) error {
	e.mu.Lock()
	if e.state >= StateClosing {
		e.mu.Unlock()
		return nil
	}
	if e.state == StateNew {
		e.state = StateClosed
		e.mu.Unlock()
		return nil
	}

	e.state = StateClosing
	cl := e.closer
	linger := e.lingerSeconds
	active := e.readerActive || e.writerActive
	e.mu.Unlock()

	e.logDebug("closing", "had_inflight", active)

	if linger < 0 && cl != nil {
		nbkernel.Shutdown(cl.FD(), unix.SHUT_WR)
	}

	if active && cl != nil {
		cl.Preclose()
	}

	drained := make(chan struct{})
	go func() {
		e.mu.Lock()
		for e.readerActive || e.writerActive {
			e.cond.Wait()
		}
		e.mu.Unlock()
		close(drained)
	}()

	var interrupted error
	select {
	case <-drained:
	case <-ctx.Done():
		interrupted = ctx.Err()
		<-drained // still wait for the real drain before running the closer
	}

	var closeErr error
	if cl != nil {
		closeErr = cl.Run()
	}

	e.mu.Lock()
	e.state = StateClosed
	e.mu.Unlock()

	if closeErr != nil {
		// Errors from the descriptor-cleanup hook are swallowed per spec §7;
		// the close attempt is still considered done.
		e.logDebug("close: closer reported an error (swallowed)", "err", closeErr)
	}

	e.logDebug("closed")
	if interrupted != nil {
		return interrupted
	}
	return nil
}

// ShutdownInput issues the kernel half-shutdown for reads, per spec §4.4.
// An in-flight Read parked in the readiness waiter is not woken through the
// close-notify pipe: shutdown(SHUT_RD) itself makes fd immediately readable
// (the next read(2) returns EOF rather than blocking), so unix.Poll's normal
// fd-readiness path wakes it without touching the Closer's wake pipe. That
// pipe is reserved for Close's permanent, never-drained preclose signal
// (internal/nbwait.Wake); reusing it here would leave it hot forever after
// the first Signal, poisoning every later blocking Read/Write on this still-
// open endpoint with a spurious "socket closed". Idempotent.
func (e *Endpoint) ShutdownInput() error {
	const op = "shutdownInput"
	e.mu.Lock()
	if err := e.checkOpenLocked(op); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.state != StateConnected {
		e.mu.Unlock()
		return newErr(op, KindNotConnected)
	}
	if e.isInputClosed {
		e.mu.Unlock()
		return nil
	}
	cl := e.closer
	e.isInputClosed = true
	e.mu.Unlock()

	if err := nbkernel.Shutdown(cl.FD(), unix.SHUT_RD); err != nil {
		return wrapIOErr(op, err)
	}
	return nil
}

// ShutdownOutput issues the kernel half-shutdown for writes, per spec §4.4.
// As with ShutdownInput, an in-flight Write parked on EventOut wakes on its
// own: shutdown(SHUT_WR) makes a blocked writer's next write(2) fail with
// EPIPE immediately rather than staying would-block, so fd readiness alone
// unblocks it — see ShutdownInput for why this does not go through the
// Closer's close-notify pipe. Idempotent.
func (e *Endpoint) ShutdownOutput() error {
	const op = "shutdownOutput"
	e.mu.Lock()
	if err := e.checkOpenLocked(op); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.state != StateConnected {
		e.mu.Unlock()
		return newErr(op, KindNotConnected)
	}
	if e.isOutputClosed {
		e.mu.Unlock()
		return nil
	}
	cl := e.closer
	e.isOutputClosed = true
	e.mu.Unlock()

	if err := nbkernel.Shutdown(cl.FD(), unix.SHUT_WR); err != nil {
		return wrapIOErr(op, err)
	}
	return nil
}
