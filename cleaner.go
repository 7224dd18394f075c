// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket

import (
	"runtime"

	"nbsocket.dev/internal/rcfd"
)

// registerCleanup arranges for e's descriptor to be closed if the Endpoint
// becomes phantom-reachable without ever having Close called on it, per
// spec §9's finalizer safety net. runtime.AddCleanup (not the deprecated
// runtime.SetFinalizer) is used because the cleanup receives a separate
// argument (the closer) instead of e itself, so the cleanup cannot
// accidentally keep e reachable and is not invalidated by e later escaping
// into a cycle. The cleanup function must not touch e or anything it can
// reach — only the raw, already-captured closer reference.
func (e *Endpoint) registerCleanup() {
	if e.closer != nil {
		runtime.AddCleanup(e, closeLeakedDescriptor, e.closer)
	}
}

func closeLeakedDescriptor(cl *rcfd.Closer) {
	cl.Run()
}
