// Package transport defines the opaque batch-operation boundary between the
// call drivers (pkg/rpc) and a concrete transport (pkg/transport/inproc,
// pkg/transport/wire). It mirrors a binding layer's operation-batch
// interface rather than reimplementing HTTP/2 framing, flow control, or DNS,
// all of which are out of scope and left to whatever sits behind
// ClientTransport/ServerTransport.
package transport

import (
	"context"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/status"
)

// Op identifies one of the eight operation slots a Batch may carry: six
// client-side ops plus two server-side counterparts.
type Op int

const (
	SendInitialMetadata Op = iota
	SendMessage
	SendCloseFromClient
	RecvInitialMetadata
	RecvMessage
	RecvStatusOnClient

	// SendStatusFromServer and RecvCloseOnServer are the server-side
	// counterparts spec.md's client-facing six-op language implies but
	// does not name (it describes C6-C9, which are all client drivers).
	// A server needs a symmetric way to conclude a call and to notice the
	// client half-closing; these mirror grpc-core's own
	// GRPC_OP_SEND_STATUS_FROM_SERVER and GRPC_OP_RECV_CLOSE_ON_SERVER.
	SendStatusFromServer
	RecvCloseOnServer
)

func (o Op) String() string {
	switch o {
	case SendInitialMetadata:
		return "SEND_INITIAL_METADATA"
	case SendMessage:
		return "SEND_MESSAGE"
	case SendCloseFromClient:
		return "SEND_CLOSE_FROM_CLIENT"
	case RecvInitialMetadata:
		return "RECV_INITIAL_METADATA"
	case RecvMessage:
		return "RECV_MESSAGE"
	case RecvStatusOnClient:
		return "RECV_STATUS_ON_CLIENT"
	case SendStatusFromServer:
		return "SEND_STATUS_FROM_SERVER"
	case RecvCloseOnServer:
		return "RECV_CLOSE_ON_SERVER"
	default:
		return "UNKNOWN_OP"
	}
}

// Batch is an unordered set of operations submitted to a stream atomically:
// either the transport accepts all of them or the submission fails as a
// whole, and each slot may appear at most once (spec.md C5). Send fields are
// populated with their outgoing payload; recv fields are booleans requesting
// that the transport deliver that payload in the matching BatchResult field.
type Batch struct {
	// SendInitialMetadata, if non-nil, is sent before SendMessage within
	// this same batch (spec.md §4.5 send ordering).
	SendInitialMetadata *metadata.MD

	// SendMessage, if non-nil, is the outgoing message payload, sent after
	// SendInitialMetadata and before SendCloseFromClient within this batch.
	SendMessage []byte

	// SendCloseFromClient half-closes the client's write side.
	SendCloseFromClient bool

	// RecvInitialMetadata requests delivery of the peer's initial metadata.
	RecvInitialMetadata bool

	// RecvMessage requests delivery of the next inbound message.
	RecvMessage bool

	// RecvStatusOnClient requests delivery of the final status. Exactly
	// one such batch completes per call (spec.md invariant).
	RecvStatusOnClient bool

	// SendStatus, if non-nil, is the server's terminal status for this
	// call (server-side SendStatusFromServer op).
	SendStatus *status.Status
	// SendTrailer accompanies SendStatus.
	SendTrailer *metadata.MD

	// RecvCloseOnServer requests notification that the client has
	// half-closed (server-side RecvCloseOnServer op).
	RecvCloseOnServer bool
}

// HasOp reports whether the batch requests the given operation.
func (b *Batch) HasOp(op Op) bool {
	switch op {
	case SendInitialMetadata:
		return b.SendInitialMetadata != nil
	case SendMessage:
		return b.SendMessage != nil
	case SendCloseFromClient:
		return b.SendCloseFromClient
	case RecvInitialMetadata:
		return b.RecvInitialMetadata
	case RecvMessage:
		return b.RecvMessage
	case RecvStatusOnClient:
		return b.RecvStatusOnClient
	case SendStatusFromServer:
		return b.SendStatus != nil
	case RecvCloseOnServer:
		return b.RecvCloseOnServer
	default:
		return false
	}
}

// BatchResult carries the outcome of every recv operation a Batch requested.
// Send operations carry no payload in the completion (spec.md §4.5).
type BatchResult struct {
	// InitialMetadata is set when RecvInitialMetadata was requested.
	InitialMetadata *metadata.MD

	// Message is set when RecvMessage was requested and a message arrived.
	Message []byte
	// MessageEOF is true when RecvMessage was requested but the stream has
	// no more inbound messages (end-of-stream marker, not an error).
	MessageEOF bool

	// Status and Trailer are set when RecvStatusOnClient was requested.
	Status  *status.Status
	Trailer *metadata.MD

	// ClientHalfClosed is set when RecvCloseOnServer was requested and the
	// client has sent SEND_CLOSE_FROM_CLIENT.
	ClientHalfClosed bool
}

// ClientStream is a single in-flight call's batch-submission boundary on the
// client side. Call handles are single-owner (spec.md §5): no two drivers
// may submit batches concurrently against the same stream, though
// independent batches for distinct directions (send-side, recv-side) may
// both be outstanding via separate SubmitBatch calls from goroutines the
// driver itself manages.
type ClientStream interface {
	// SubmitBatch submits b and blocks until every operation it contains
	// has completed, per the transport's own serialization of batches on
	// this call (spec.md §3: "batches on the same call are serialized by
	// the transport in submission order"). ctx governs cancellation of
	// this specific submission; call-level cancellation is driven by the
	// stream's own Context (see Context).
	SubmitBatch(ctx context.Context, b *Batch) (*BatchResult, error)

	// Context is the stream's call-scoped context; its cancellation is
	// the transport's cancel() signal (spec.md C4).
	Context() context.Context

	// Peer returns the transport's current remote address as a string.
	Peer() string
}

// ClientTransport opens new streams to a fixed destination. Implementations
// are safe for concurrent use by multiple calls (spec.md §5: "channels are
// the only multi-call shared resource").
type ClientTransport interface {
	// NewStream opens a stream for method against authority. Per-call
	// credentials are not passed here; the caller resolves them into the
	// request metadata it sends on the stream.
	NewStream(ctx context.Context, method, authority string) (ClientStream, error)

	// Close tears down the transport and fails any outstanding streams.
	Close() error
}

// ServerStream is the server-side counterpart of ClientStream.
type ServerStream interface {
	SubmitBatch(ctx context.Context, b *Batch) (*BatchResult, error)
	Context() context.Context
	// Method is the fully-qualified method name the client dialed.
	Method() string
	Peer() string
}

// ServerTransport accepts inbound streams.
type ServerTransport interface {
	// Accept blocks until a new stream arrives or ctx is cancelled.
	Accept(ctx context.Context) (ServerStream, error)
	Close() error
}
