// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket_test

import (
	"errors"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"nbsocket.dev"
)

func loopback() netip.Addr { return netip.MustParseAddr("127.0.0.1") }

func newListener(t *testing.T) *nbsocket.Endpoint {
	t.Helper()
	ln := nbsocket.NewEndpoint(true)
	require.NoError(t, ln.Create(unix.AF_INET, true))
	require.NoError(t, ln.Bind(loopback(), 0))
	require.NoError(t, ln.Listen(0))
	t.Cleanup(func() { ln.Close() })
	return ln
}

func dial(t *testing.T, host netip.Addr, port int, millis int64) *nbsocket.Endpoint {
	t.Helper()
	c := nbsocket.NewEndpoint(false)
	require.NoError(t, c.Create(unix.AF_INET, true))
	require.NoError(t, c.Connect(host, port, millis))
	t.Cleanup(func() { c.Close() })
	return c
}

// scenario 1: happy echo.
func TestHappyEcho(t *testing.T) {
	ln := newListener(t)

	accepted := make(chan *nbsocket.Endpoint, 1)
	go func() {
		conn, err := ln.Accept(nil)
		require.NoError(t, err)
		accepted <- conn
	}()

	b := dial(t, loopback(), ln.LocalPort(), 0)
	n, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	a := <-accepted
	defer a.Close()
	buf := make([]byte, 5)
	n, err = a.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

// scenario 2: read timeout; endpoint stays open and connected.
func TestReadTimeout(t *testing.T) {
	ln := newListener(t)

	accepted := make(chan *nbsocket.Endpoint, 1)
	go func() {
		conn, err := ln.Accept(nil)
		require.NoError(t, err)
		accepted <- conn
	}()

	b := dial(t, loopback(), ln.LocalPort(), 0)
	require.NoError(t, b.SetOption(nbsocket.SO_TIMEOUT, int64(250)))

	a := <-accepted
	defer a.Close()

	start := time.Now()
	buf := make([]byte, 16)
	_, err := b.Read(buf)
	elapsed := time.Since(start)

	var opErr *nbsocket.OpError
	require.ErrorAs(t, err, &opErr)
	require.True(t, opErr.Timeout())
	require.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	require.Equal(t, nbsocket.StateConnected, b.State())

	_, err = a.Write([]byte("ok"))
	require.NoError(t, err)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ok", string(buf[:n]))
}

// scenario 3: async close unblocks a reader with no timeout set.
func TestAsyncCloseUnblocksRead(t *testing.T) {
	ln := newListener(t)

	accepted := make(chan *nbsocket.Endpoint, 1)
	go func() {
		conn, err := ln.Accept(nil)
		require.NoError(t, err)
		accepted <- conn
	}()

	b := dial(t, loopback(), ln.LocalPort(), 0)
	a := <-accepted
	defer a.Close()

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := b.Read(buf)
		readErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-readErr:
		var opErr *nbsocket.OpError
		require.ErrorAs(t, err, &opErr)
		require.Equal(t, nbsocket.KindNotOpen, opErr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not unblock after close")
	}

	_, err := b.Read(make([]byte, 1))
	require.Error(t, err)
}

// scenario 4: half-shutdown.
func TestHalfShutdown(t *testing.T) {
	ln := newListener(t)

	accepted := make(chan *nbsocket.Endpoint, 1)
	go func() {
		conn, err := ln.Accept(nil)
		require.NoError(t, err)
		accepted <- conn
	}()

	b := dial(t, loopback(), ln.LocalPort(), 0)
	a := <-accepted
	defer a.Close()

	n, err := a.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, a.ShutdownOutput())

	buf := make([]byte, 3)
	n, err = b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "abc", string(buf))

	_, err = b.Read(buf)
	require.ErrorIs(t, err, io.EOF)

	_, err = b.Write([]byte("xy"))
	require.NoError(t, err)
	n, err = a.Read(buf[:2])
	require.NoError(t, err)
	require.Equal(t, "xy", string(buf[:n]))
}

// ShutdownOutput on the peer must wake an already-blocked Read with EOF, and
// must not poison unrelated later Read/Write calls on the still-open
// endpoint (regression test for the close-notify pipe being wrongly reused
// for shutdown wakeups).
func TestShutdownWakesBlockedReader(t *testing.T) {
	ln := newListener(t)

	accepted := make(chan *nbsocket.Endpoint, 1)
	go func() {
		conn, err := ln.Accept(nil)
		require.NoError(t, err)
		accepted <- conn
	}()

	b := dial(t, loopback(), ln.LocalPort(), 0)
	a := <-accepted
	defer a.Close()
	defer b.Close()

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := b.Read(buf)
		readErr <- err
	}()

	time.Sleep(50 * time.Millisecond) // let b.Read actually park in the waiter
	require.NoError(t, a.ShutdownOutput())

	select {
	case err := <-readErr:
		require.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not unblock after peer ShutdownOutput")
	}

	// The connection is otherwise still live: writing from b to a must still
	// work, proving the wake used to unblock the reader above didn't poison
	// b's writer (or any later reader) with a spurious "socket closed".
	n, err := b.Write([]byte("still alive"))
	require.NoError(t, err)
	require.Equal(t, len("still alive"), n)

	buf := make([]byte, len("still alive"))
	n, err = a.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "still alive", string(buf[:n]))
}

// scenario 5: connect timeout to a non-routable address.
func TestConnectTimeout(t *testing.T) {
	c := nbsocket.NewEndpoint(false)
	require.NoError(t, c.Create(unix.AF_INET, true))

	nonRoutable := netip.MustParseAddr("10.255.255.1")
	start := time.Now()
	err := c.Connect(nonRoutable, 9, 200)
	elapsed := time.Since(start)

	require.Error(t, err)
	var opErr *nbsocket.OpError
	require.ErrorAs(t, err, &opErr)
	require.Less(t, elapsed, 5*time.Second, "connect should not hang")
	require.Equal(t, nbsocket.StateClosed, c.State())
}

type rejectingConnectHook struct{}

func (rejectingConnectHook) BeforeConnect(netip.AddrPort) error {
	return errors.New("rejected by policy")
}

// A failed Connect must close the endpoint and return promptly rather than
// deadlocking against its own in-flight role slot (regression test for the
// self-deadlock in Connect's close-before-surfacing path).
func TestConnectHookFailureDoesNotDeadlock(t *testing.T) {
	c := nbsocket.NewEndpoint(false, nbsocket.WithConnectHook(rejectingConnectHook{}))
	require.NoError(t, c.Create(unix.AF_INET, true))

	done := make(chan error, 1)
	go func() {
		done <- c.Connect(loopback(), 1, 0)
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		require.Equal(t, nbsocket.StateClosed, c.State())
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after a rejected connect hook")
	}
}

// idempotence: repeated Close has no additional effect.
func TestCloseIdempotent(t *testing.T) {
	ln := newListener(t)
	require.NoError(t, ln.Close())
	require.NoError(t, ln.Close())
	require.NoError(t, ln.Close())
}

// idempotence: repeated ShutdownInput/ShutdownOutput have no additional
// effect.
func TestShutdownIdempotent(t *testing.T) {
	ln := newListener(t)

	accepted := make(chan *nbsocket.Endpoint, 1)
	go func() {
		conn, err := ln.Accept(nil)
		require.NoError(t, err)
		accepted <- conn
	}()

	b := dial(t, loopback(), ln.LocalPort(), 0)
	a := <-accepted
	defer a.Close()
	defer b.Close()

	require.NoError(t, b.ShutdownOutput())
	require.NoError(t, b.ShutdownOutput())
	require.NoError(t, b.ShutdownInput())
	require.NoError(t, b.ShutdownInput())
}

// sticky EOF: a read past EOF does not re-enter the kernel, and keeps
// reporting io.EOF.
func TestStickyEOF(t *testing.T) {
	ln := newListener(t)

	accepted := make(chan *nbsocket.Endpoint, 1)
	go func() {
		conn, err := ln.Accept(nil)
		require.NoError(t, err)
		accepted <- conn
	}()

	b := dial(t, loopback(), ln.LocalPort(), 0)
	a := <-accepted
	defer a.Close()

	require.NoError(t, a.ShutdownOutput())
	buf := make([]byte, 4)
	_, err := b.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	_, err = b.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

// sticky ConnectionReset: an abortive close on the peer (SO_LINGER=0 with
// unread data queued) delivers ECONNRESET to the next Read, and repeated
// reads keep reporting it.
func TestStickyConnectionReset(t *testing.T) {
	ln := newListener(t)

	accepted := make(chan *nbsocket.Endpoint, 1)
	go func() {
		conn, err := ln.Accept(nil)
		require.NoError(t, err)
		accepted <- conn
	}()

	b := dial(t, loopback(), ln.LocalPort(), 0)
	a := <-accepted

	_, err := b.Write([]byte("unread"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond) // let it land in a's receive queue

	require.NoError(t, a.SetOption(nbsocket.SO_LINGER, 0))
	require.NoError(t, a.Close())

	buf := make([]byte, 16)
	require.Eventually(t, func() bool {
		_, err := b.Read(buf)
		var opErr *nbsocket.OpError
		return errors.As(err, &opErr) && opErr.Kind == nbsocket.KindConnectionReset
	}, 2*time.Second, 10*time.Millisecond)

	_, err = b.Read(buf)
	var opErr *nbsocket.OpError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, nbsocket.KindConnectionReset, opErr.Kind)
}

// round-trip via the byte-stream views.
func TestStreamViewsRoundTrip(t *testing.T) {
	ln := newListener(t)

	accepted := make(chan *nbsocket.Endpoint, 1)
	go func() {
		conn, err := ln.Accept(nil)
		require.NoError(t, err)
		accepted <- conn
	}()

	b := dial(t, loopback(), ln.LocalPort(), 0)
	a := <-accepted
	defer a.Close()

	n, err := b.Writer().Write([]byte("stream-view"))
	require.NoError(t, err)
	require.Equal(t, len("stream-view"), n)

	buf := make([]byte, len("stream-view"))
	_, err = io.ReadFull(a.Reader(), buf)
	require.NoError(t, err)
	require.Equal(t, "stream-view", string(buf))
}
