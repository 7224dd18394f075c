// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package rcfd_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"nbsocket.dev/internal/rcfd"
)

type fakeAccounting struct{ closed int }

func (f *fakeAccounting) AfterDatagramClose() { f.closed++ }

func TestRunClosesExactlyOnce(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	acct := &fakeAccounting{}
	cl, err := rcfd.New(fds[0], false, acct)
	require.NoError(t, err)

	require.NoError(t, cl.Run())
	require.NoError(t, cl.Run()) // second Run is a no-op
	require.Equal(t, 1, acct.closed)
	require.True(t, cl.Closed())

	// fds[0] must actually be closed: writing to its peer and reading back
	// would block forever if it weren't, so instead assert close(2) on an
	// already-closed fd fails, proving Run closed it exactly once.
	require.Error(t, unix.Close(fds[0]))
}

func TestDisablePreventsRunFromClosing(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	cl, err := rcfd.New(fds[0], true, nil)
	require.NoError(t, err)
	cl.Disable()

	require.NoError(t, cl.Run())
	require.False(t, cl.Closed())

	// fds[0] was never closed by Run, so closing it here must succeed.
	require.NoError(t, unix.Close(fds[0]))
}

func TestPrecloseSignalsWithoutClosing(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	cl, err := rcfd.New(fds[0], true, nil)
	require.NoError(t, err)

	cl.Preclose()
	require.False(t, cl.Closed())

	buf := make([]byte, 1)
	n, err := unix.Read(cl.Wake().ReadFD(), buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
