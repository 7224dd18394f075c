// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

// Package nbkernel is the thin, synchronous adapter over the host's
// non-blocking socket syscalls. It never blocks and never retries; callers
// loop on ErrWouldBlock themselves, parking on the readiness waiter between
// attempts. This mirrors how senior7515-gvisor's hostinet socketOperations
// and subtrace's cmd/run/socket wrap unix.* directly instead of going
// through net.Conn.
package nbkernel

import (
	"io"

	"golang.org/x/sys/unix"
)

// MaxTransferSize bounds a single Read/Write/Recvfrom/Sendto syscall. The
// operation drivers above this package loop in MaxTransferSize chunks rather
// than handing the kernel an arbitrarily large user buffer in one call.
const MaxTransferSize = 131072

// ErrWouldBlock is returned when a non-blocking syscall could not make
// progress immediately (EAGAIN/EWOULDBLOCK).
var ErrWouldBlock = unix.EWOULDBLOCK

// ErrInterrupted is returned when a syscall was interrupted by a signal
// (EINTR) before completing.
var ErrInterrupted = unix.EINTR

// Socket creates a new non-blocking socket of the given domain/type. The
// returned descriptor always has O_NONBLOCK and CLOEXEC set, matching the
// "conservatively ignore caller flags" approach both gvisor's socketProvider
// and subtrace's CreateSocket take.
func Socket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// Bind wraps bind(2).
func Bind(fd int, sa unix.Sockaddr) error {
	return unix.Bind(fd, sa)
}

// Listen wraps listen(2).
func Listen(fd, backlog int) error {
	return unix.Listen(fd, backlog)
}

// Connect issues a single non-blocking connect(2) attempt. The classic
// EINPROGRESS outcome of a non-blocking connect is translated to
// ErrWouldBlock so operation drivers can treat it exactly like any other
// would-block condition and park on EventOut.
func Connect(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	switch err {
	case nil:
		return nil
	case unix.EINPROGRESS, unix.EALREADY:
		return ErrWouldBlock
	default:
		return err
	}
}

// ConnectError reads SO_ERROR after a non-blocking connect's fd becomes
// writable, per connect(2)'s documented completion protocol.
func ConnectError(fd int) error {
	val, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if val != 0 {
		return unix.Errno(val)
	}
	return nil
}

// Accept performs a single non-blocking accept4(2) attempt.
func Accept(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return -1, nil, ErrWouldBlock
		}
		return -1, nil, err
	}
	return nfd, sa, nil
}

// Read performs a single non-blocking read(2), bounded to MaxTransferSize.
// A zero-length read on a stream socket is reported as io.EOF, matching
// spec's "read returns -1 at EOF" contract one layer up.
func Read(fd int, p []byte) (int, error) {
	if len(p) > MaxTransferSize {
		p = p[:MaxTransferSize]
	}
	n, err := unix.Read(fd, p)
	if err != nil {
		switch err {
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		case unix.EINTR:
			return 0, ErrInterrupted
		default:
			return 0, err
		}
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write performs a single non-blocking write(2), bounded to MaxTransferSize.
func Write(fd int, p []byte) (int, error) {
	if len(p) > MaxTransferSize {
		p = p[:MaxTransferSize]
	}
	n, err := unix.Write(fd, p)
	if err != nil {
		switch err {
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		case unix.EINTR:
			return 0, ErrInterrupted
		default:
			return 0, err
		}
	}
	return n, nil
}

// SendOOB sends a single out-of-band byte via send(2) with MSG_OOB.
func SendOOB(fd int, b byte) error {
	err := unix.Send(fd, []byte{b}, unix.MSG_OOB)
	if err != nil {
		if err == unix.EAGAIN {
			return ErrWouldBlock
		}
		return err
	}
	return nil
}

// Available returns the number of bytes immediately readable, via
// ioctl(FIONREAD), matching the socket option SO_BINDADDR-adjacent "available"
// primitive described in spec §4.6.
func Available(fd int) (int, error) {
	n, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Shutdown wraps shutdown(2).
func Shutdown(fd, how int) error {
	return unix.Shutdown(fd, how)
}

// Close wraps close(2). Called exactly once per descriptor by rcfd.Closer.
func Close(fd int) error {
	return unix.Close(fd)
}

// GetsockoptInt wraps getsockopt(2) for integer-valued options.
func GetsockoptInt(fd, level, name int) (int, error) {
	return unix.GetsockoptInt(fd, level, name)
}

// SetsockoptInt wraps setsockopt(2) for integer-valued options.
func SetsockoptInt(fd, level, name, value int) error {
	return unix.SetsockoptInt(fd, level, name, value)
}

// GetsockoptLinger wraps getsockopt(SO_LINGER).
func GetsockoptLinger(fd int) (*unix.Linger, error) {
	return unix.GetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER)
}

// SetsockoptLinger wraps setsockopt(SO_LINGER).
func SetsockoptLinger(fd int, l *unix.Linger) error {
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, l)
}

// Getsockname wraps getsockname(2).
func Getsockname(fd int) (unix.Sockaddr, error) {
	return unix.Getsockname(fd)
}

// Getpeername wraps getpeername(2).
func Getpeername(fd int) (unix.Sockaddr, error) {
	return unix.Getpeername(fd)
}

// SetNonblock toggles O_NONBLOCK via fcntl(2). Sticky in practice: callers
// only ever move 0 -> 1 for the life of a descriptor (see Endpoint.nonBlocking).
func SetNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}
