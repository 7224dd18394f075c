// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbwait_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"nbsocket.dev/internal/nbwait"
)

func TestWaitTimesOutWithoutWakeOrReadiness(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	wake, err := nbwait.NewWake()
	require.NoError(t, err)
	defer wake.Close()

	start := time.Now()
	_, woken, err := nbwait.Wait(fds[0], nbwait.EventIn, wake, (50 * time.Millisecond).Nanoseconds())
	require.False(t, woken)
	require.ErrorIs(t, err, nbwait.ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSignalWakesAnInFlightWait(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	wake, err := nbwait.NewWake()
	require.NoError(t, err)
	defer wake.Close()

	done := make(chan bool, 1)
	go func() {
		_, woken, _ := nbwait.Wait(fds[0], nbwait.EventIn, wake, 0)
		done <- woken
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, wake.Signal())

	select {
	case woken := <-done:
		require.True(t, woken)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Signal")
	}
}

func TestWaitReportsReadiness(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	wake, err := nbwait.NewWake()
	require.NoError(t, err)
	defer wake.Close()

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	ready, woken, err := nbwait.Wait(fds[0], nbwait.EventIn, wake, (2 * time.Second).Nanoseconds())
	require.NoError(t, err)
	require.False(t, woken)
	require.NotZero(t, ready&nbwait.EventIn)
}
