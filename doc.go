// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

// Package nbsocket implements a stream-socket endpoint that sits between a
// legacy blocking-socket call surface (create/bind/listen/accept/connect/
// read/write/shutdown/close, plus socket options and byte-stream views) and
// a non-blocking kernel socket driven through a readiness poller.
//
// The goal is to preserve the exact observable semantics of a classic
// blocking socket — timeouts, interruption via an asynchronous close,
// half-shutdown, and error reporting — while always driving the kernel
// descriptor in non-blocking mode internally, so that a concurrent Close
// from another goroutine can always interrupt an in-flight operation. See
// Endpoint for the state machine and close protocol, and the internal/
// packages for the non-blocking syscall adapter, readiness waiter, and
// single-shot descriptor closer this type is built from.
package nbsocket
