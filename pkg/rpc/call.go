// Package rpc implements the call handle (spec.md C4) and the four
// call-shape drivers built on pkg/transport batches (spec.md C6-C9).
package rpc

import (
	"context"
	"time"

	"github.com/corerpc/corerpc/pkg/credentials"
	"github.com/corerpc/corerpc/pkg/status"
)

// CallHandle is a single in-flight RPC: it owns the deadline, the peer
// address, a per-call credential override, and cancellation, including
// propagation to children created from its context (spec.md C4, §5). It
// wraps a context.Context rather than reimplementing deadline/cancellation
// bookkeeping: context's own parent/child cancellation propagation already
// gives spec.md §5's "cancelling a parent transitively cancels children
// created with propagation flags" for free.
type CallHandle struct {
	method string
	peer   string

	ctx    context.Context
	cancel context.CancelCauseFunc

	creds *credentials.CallCredentials

	terminalMu    chan struct{} // closed exactly once, on termination
	localOverride *status.Status
}

// Option configures a CallHandle at creation (spec.md §4.7 per-call options).
type Option func(*callOptions)

type callOptions struct {
	deadline  time.Time
	parent    *CallHandle
	propagate bool
	creds     *credentials.CallCredentials
}

// WithDeadline sets the call's absolute deadline. A zero Time means +∞.
func WithDeadline(t time.Time) Option {
	return func(o *callOptions) { o.deadline = t }
}

// WithParent sets the parent call for cancellation propagation.
func WithParent(parent *CallHandle) Option {
	return func(o *callOptions) { o.parent = parent }
}

// WithPropagateCancel enables transitive cancellation from the parent set
// via WithParent.
func WithPropagateCancel() Option {
	return func(o *callOptions) { o.propagate = true }
}

// WithCredentials sets the per-call credential override.
func WithCredentials(c *credentials.CallCredentials) Option {
	return func(o *callOptions) { o.creds = c }
}

// New creates a CallHandle for method against rootCtx, applying opts.
func New(rootCtx context.Context, method, peer string, opts ...Option) *CallHandle {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	parentCtx := rootCtx
	if o.parent != nil && o.propagate {
		parentCtx = o.parent.ctx
	}

	var ctx context.Context
	var cancel context.CancelCauseFunc
	if !o.deadline.IsZero() {
		cctx, ccancel := context.WithCancelCause(parentCtx)
		dctx, dcancel := context.WithDeadlineCause(cctx, o.deadline,
			status.ErrorOf(status.DeadlineExceeded, "deadline exceeded"))
		ctx = dctx
		cancel = func(cause error) { ccancel(cause); dcancel() }
	} else {
		ctx, cancel = context.WithCancelCause(parentCtx)
	}

	return &CallHandle{
		method:      method,
		peer:        peer,
		ctx:         ctx,
		cancel:      cancel,
		creds:       o.creds,
		terminalMu:  make(chan struct{}),
	}
}

// Context returns the call-scoped context batches are submitted under.
func (h *CallHandle) Context() context.Context { return h.ctx }

// Method returns the target method name.
func (h *CallHandle) Method() string { return h.method }

// Peer returns the peer string given to New. pkg/client passes the call's
// authority here, not the address the transport connected to.
func (h *CallHandle) Peer() string { return h.peer }

// Credentials returns the call's per-call credential override, if any.
func (h *CallHandle) Credentials() *credentials.CallCredentials { return h.creds }

// SetCredentials overrides the per-call credential. It is only meaningful
// before the first batch; callers are responsible for calling it early
// (spec.md C4's setCredentials).
func (h *CallHandle) SetCredentials(c *credentials.CallCredentials) {
	h.creds = c
}

// isTerminal reports whether the call has already been finalized, racing
// safely against Cancel/CancelWithStatus/MarkTerminal (spec.md §5: "the
// first [signal] to be observed wins").
func (h *CallHandle) isTerminal() bool {
	select {
	case <-h.terminalMu:
		return true
	default:
		return false
	}
}

// Cancel triggers transport cancellation: any outstanding batch and the
// final status will report CANCELLED. A no-op if the call is already
// terminal (spec.md §5: "if called after [status arrives], it is a no-op").
func (h *CallHandle) Cancel() {
	if h.isTerminal() {
		return
	}
	close(h.terminalMu)
	h.cancel(status.ErrorOf(status.Cancelled, "cancelled by caller"))
}

// CancelWithStatus is like Cancel, but also records code/details as the
// local status override, readable via LocalStatusOverride. The transport
// is cancelled with CANCELLED; the drivers in this package do not read the
// override, so their in-flight batches still report CANCELLED.
func (h *CallHandle) CancelWithStatus(code status.Code, details string) {
	if h.isTerminal() {
		return
	}
	h.localOverride = status.New(code, details)
	close(h.terminalMu)
	h.cancel(status.ErrorOf(status.Cancelled, details))
}

// MarkTerminal records that the call has reached a terminal state via a
// normal RECV_STATUS_ON_CLIENT completion (as opposed to Cancel). Drivers
// call this once their terminal batch completes. A no-op if already
// terminal (e.g. a concurrent Cancel already won the race).
func (h *CallHandle) MarkTerminal() {
	select {
	case <-h.terminalMu:
	default:
		close(h.terminalMu)
	}
}

// LocalStatusOverride returns the status set by CancelWithStatus, if any.
// None of the drivers in this package call it.
func (h *CallHandle) LocalStatusOverride() (*status.Status, bool) {
	return h.localOverride, h.localOverride != nil
}
