// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"nbsocket.dev/internal/rcfd"
)

// State is the endpoint lifecycle of spec §3/§4.4. Values are ordered so
// that "state >= StateClosing" is a meaningful comparison, exactly as spec's
// state machine diagram relies on.
type State int

const (
	StateNew State = iota
	StateUnconnected
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateUnconnected:
		return "UNCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Endpoint is the core type of this package: a blocking-socket call surface
// (Create/Bind/Listen/Accept/Connect/Read/Write/Shutdown*/Close, options,
// and byte-stream views) driven internally by a non-blocking kernel
// descriptor plus a readiness waiter, per spec §1-§5.
//
// Field layout mirrors spec §3's data model table field-for-field. The two
// "current I/O thread" slots are realized as the readerActive/writerActive
// booleans rather than native thread identifiers: Go does not expose thread
// identity to user code, and goroutines are multiplexed across OS threads
// rather than pinned to one, so there is no native id to record. What
// spec's Close protocol actually needs from those slots — "is there an
// in-flight syscall on this fd that I must wait for and must wake" — is
// fully captured by the booleans plus the closer's wake pipe (see
// internal/rcfd and internal/nbwait).
type Endpoint struct {
	server bool // immutable role flag, set once by the constructor

	logger *slog.Logger

	acct        ResourceAccounting
	connectHook ConnectHook
	bindHook    BindHook

	// PostAcceptHook, if set on a listening Endpoint, runs against every
	// freshly accepted child Endpoint before Accept returns it, mirroring
	// spec §6/§9's postCustomAccept customization point.
	PostAcceptHook func(*Endpoint) error

	readMu  sync.Mutex // role-lock: serializes Read / Accept / Connect
	writeMu sync.Mutex // role-lock: serializes Write

	mu   sync.Mutex // state-lock, always acquired after any role-lock
	cond *sync.Cond

	state  State
	closer *rcfd.Closer
	stream bool

	nonBlocking bool

	readerActive bool
	writerActive bool

	timeoutMillis int64 // SO_TIMEOUT / default read+accept deadline, ms; 0 = infinite

	isInputClosed  bool
	isOutputClosed bool

	// readReset latches the first ConnectionReset observed by Read, per
	// spec §8's "read calls after a ConnectionReset raise it again without a
	// further syscall" invariant — the same sticky-error idea as EOF, keyed
	// off a different terminal condition.
	readReset *OpError

	isReuseAddress bool
	trafficClass   int
	lingerSeconds  int // -1 == disabled

	domain     int // unix.AF_INET / unix.AF_INET6, set at Create
	address    netip.Addr
	localPort  int
	remoteAddr netip.Addr
	remotePort int

	// deferredInterrupt is not set or read anywhere: closeContext tracks an
	// interruption of its drain wait in a local variable and hands the
	// caller back its own cancellation error just before returning (see
	// CloseContext and DESIGN.md).
	deferredInterrupt error
}

// NewEndpoint allocates an Endpoint in state NEW. server marks whether this
// endpoint was born to listen, matching spec §3's immutable role flag; it
// never changes after construction ("the split between server and client
// endpoints is captured by a single immutable server flag... not by
// subclassing" - spec §9).
func NewEndpoint(server bool, opts ...Option) *Endpoint {
	e := &Endpoint{
		server:        server,
		state:         StateNew,
		lingerSeconds: -1,
		logger:        slog.Default(),
	}
	e.cond = sync.NewCond(&e.mu)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option configures an Endpoint at construction time.
type Option func(*Endpoint)

// WithLogger overrides the *slog.Logger used for debug-level tracing of
// state transitions and the close protocol, mirroring the teacher's ambient
// use of log/slog (cmd/run/run.go) rather than introducing a bespoke
// logging abstraction.
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) { e.logger = l }
}

// WithResourceAccounting injects the datagram create/close counter hook of
// spec §6.
func WithResourceAccounting(a ResourceAccounting) Option {
	return func(e *Endpoint) { e.acct = a }
}

// WithConnectHook injects the pre-connect integration point of spec §6.
func WithConnectHook(h ConnectHook) Option {
	return func(e *Endpoint) { e.connectHook = h }
}

// WithBindHook injects the pre-bind integration point of spec §6.
func WithBindHook(h BindHook) Option {
	return func(e *Endpoint) { e.bindHook = h }
}

// State returns the current lifecycle state, read under the state-lock.
// Callers only ever use it for logging/diagnostics or best-effort
// precondition checks that get re-validated for real under mu.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// checkOpenLocked returns the standard "socket closed" error if state has
// advanced to CLOSING or CLOSED; callers hold mu.
func (e *Endpoint) checkOpenLocked(op string) error {
	if e.state >= StateClosing {
		return newErr(op, KindNotOpen)
	}
	return nil
}

func (e *Endpoint) logDebug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

// deadlineFromMillis turns a millisecond budget (0 == infinite) into an
// absolute deadline and an "infinite" flag, matching spec §4.5 step 5's
// wall-clock delta approach.
func deadlineFromMillis(millis int64) (deadline time.Time, infinite bool) {
	if millis <= 0 {
		return time.Time{}, true
	}
	return time.Now().Add(time.Duration(millis) * time.Millisecond), false
}
