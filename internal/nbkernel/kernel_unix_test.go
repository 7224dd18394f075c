// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbkernel_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"nbsocket.dev/internal/nbkernel"
)

// scenario 6 (chunking): a single Write call never hands the kernel more
// than MaxTransferSize bytes, regardless of how large the caller's buffer
// is.
func TestWriteBoundsToMaxTransferSize(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))

	big := make([]byte, 4*nbkernel.MaxTransferSize)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		buf := make([]byte, nbkernel.MaxTransferSize)
		for {
			if _, err := unix.Read(fds[1], buf); err != nil {
				return
			}
		}
	}()

	n, err := nbkernel.Write(fds[0], big)
	require.NoError(t, err)
	require.LessOrEqual(t, n, nbkernel.MaxTransferSize)
	unix.Close(fds[0])
	<-drained
}

func TestReadReportsEOFOnOrderlyShutdown(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))

	require.NoError(t, unix.Close(fds[0]))

	buf := make([]byte, 16)
	_, err = nbkernel.Read(fds[1], buf)
	require.ErrorIs(t, err, io.EOF)
}
