// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

// Package nbwait parks a goroutine on a descriptor until it becomes ready for
// a requested event, an optional deadline elapses, or an external "wake" is
// triggered. The wake mechanism realizes spec's "preclose" primitive: Close
// needs a way to unblock an in-flight Wait from a different goroutine, and Go
// exposes no way to interrupt a blocked poll(2)/unix.Poll call directly, so
// every waitable descriptor gets a companion self-pipe whose write end is
// closed by the owner's Closer. This is the same trick used by classic
// select/poll-based event loops (see the pack's epoll-based pollers) adapted
// to unix.Poll instead of raw epoll, since a single fd/single waiter endpoint
// has no need for an epoll instance of its own.
package nbwait

import (
	"time"

	"golang.org/x/sys/unix"
)

// Events is a readiness bitmask, matching the POLLIN/POLLOUT subset spec
// §4.2 relies on.
type Events int16

const (
	EventIn  Events = unix.POLLIN
	EventOut Events = unix.POLLOUT
)

// Wake is a one-shot, idempotent close-notify signal built on pipe2(2). An
// endpoint's Closer holds the write end; Wait holds (transiently) a poll on
// the read end. Closing the write end (or writing to it) makes the read end
// immediately readable, which Wait interprets as "closing in progress."
type Wake struct {
	r, w int
}

// NewWake creates a non-blocking, close-on-exec pipe pair.
func NewWake() (*Wake, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &Wake{r: fds[0], w: fds[1]}, nil
}

// Signal wakes any in-flight Wait on this pipe without closing it. It is
// deliberately one-shot for the lifetime of the endpoint: once written, the
// read end stays readable forever (nothing ever drains it), which is exactly
// the permanent "closing" state Preclose needs to broadcast to every future
// Wait on this fd. Callers that need a transient, resettable wake (e.g. a
// half-shutdown interrupting one in-flight peer without poisoning the rest
// of the endpoint's lifetime) must not use this pipe; see
// Endpoint.ShutdownInput/ShutdownOutput, which rely on fd readiness instead.
func (w *Wake) Signal() error {
	_, err := unix.Write(w.w, []byte{0})
	if err != nil && err != unix.EAGAIN {
		// EAGAIN means the pipe buffer already has a pending byte, which is
		// fine: the reader only needs to observe readability once.
		return err
	}
	return nil
}

// Close closes both ends of the pipe. Safe to call once; the owning Closer
// guarantees single-shot semantics.
func (w *Wake) Close() {
	unix.Close(w.r)
	unix.Close(w.w)
}

// ReadFD returns the file descriptor Wait polls for wake notifications.
func (w *Wake) ReadFD() int { return w.r }

// Wait blocks until fd is ready for any event in events, wake becomes
// readable, or nanos elapses (0 means wait forever). It returns the ready
// events for fd (zero if the wake fired first), whether the wake fired, and
// any poll(2) error.
func Wait(fd int, events Events, wake *Wake, nanos int64) (ready Events, woken bool, err error) {
	pfds := []unix.PollFd{
		{Fd: int32(fd), Events: int16(events)},
		{Fd: int32(wake.ReadFD()), Events: unix.POLLIN},
	}

	timeout := -1
	if nanos > 0 {
		ms := nanos / int64(time.Millisecond)
		if ms <= 0 {
			ms = 1
		}
		if ms > int64(int(^uint(0)>>1)) {
			ms = int64(int(^uint(0) >> 1))
		}
		timeout = int(ms)
	}

	n, err := unix.Poll(pfds, timeout)
	if err != nil {
		if err == unix.EINTR {
			return 0, false, ErrInterrupted
		}
		return 0, false, err
	}
	if n == 0 {
		return 0, false, ErrTimeout
	}
	if pfds[1].Revents != 0 {
		woken = true
	}
	if pfds[0].Revents != 0 {
		ready = Events(pfds[0].Revents)
	}
	return ready, woken, nil
}

// ErrTimeout is returned by Wait when nanos elapses without fd or the wake
// pipe becoming ready.
var ErrTimeout = timeoutErr{}

// ErrInterrupted is returned by Wait when the underlying poll(2) call was
// interrupted by a signal before any descriptor became ready.
var ErrInterrupted = interruptedErr{}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "nbwait: timeout" }

type interruptedErr struct{}

func (interruptedErr) Error() string { return "nbwait: interrupted" }
