// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket

import "io"

// Reader returns the byte-stream view of spec §4.4/§9's getInputStream: an
// io.Reader layered on Endpoint.Read with a sticky EOF flag, so that once a
// Read on this view reports io.EOF every subsequent call does too without
// re-entering the kernel. Safe to call repeatedly; each call returns a new
// lightweight view sharing the same Endpoint and eof latch semantics are
// per-view, matching the source's per-stream-object state.
func (e *Endpoint) Reader() io.Reader { return &endpointReader{e: e} }

// Writer returns the byte-stream view of spec §4.4/§9's getOutputStream: an
// io.Writer layered on Endpoint.Write, chunking writes to MaxTransferSize per
// the embedded Write, and latching the first error of any kind so a writer
// that has already failed keeps failing the same way rather than
// re-attempting a doomed syscall.
func (e *Endpoint) Writer() io.Writer { return &endpointWriter{e: e} }

type endpointReader struct {
	e   *Endpoint
	eof bool
}

func (r *endpointReader) Read(p []byte) (int, error) {
	if r.eof {
		return 0, io.EOF
	}
	n, err := r.e.Read(p)
	if err == io.EOF {
		r.eof = true
	}
	return n, err
}

type endpointWriter struct {
	e      *Endpoint
	sticky error
}

func (w *endpointWriter) Write(p []byte) (int, error) {
	if w.sticky != nil {
		return 0, w.sticky
	}
	n, err := w.e.Write(p)
	if err != nil {
		w.sticky = err
	}
	return n, err
}
