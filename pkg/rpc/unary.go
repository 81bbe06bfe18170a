package rpc

import (
	"context"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/status"
	"github.com/corerpc/corerpc/pkg/transport"
)

// UnaryResult is the outcome of a completed unary call: the raw response
// bytes (caller deserializes) plus the trailing metadata delivered
// alongside status.
type UnaryResult struct {
	Message []byte
	Trailer *metadata.MD
}

// Unary sequences one send + one recv + status into a single batch (spec.md
// C6): {SEND_INITIAL_METADATA, SEND_MESSAGE, SEND_CLOSE_FROM_CLIENT,
// RECV_INITIAL_METADATA, RECV_MESSAGE, RECV_STATUS_ON_CLIENT}. On a non-OK
// status the returned error carries the status code and the trailer; a
// caller-side deserialization failure on an OK status is the client
// factory's responsibility to downgrade to INTERNAL (spec.md §4.6), since
// this driver never inspects message contents.
func Unary(ctx context.Context, stream transport.ClientStream, initialMD *metadata.MD, reqMsg []byte) (*UnaryResult, error) {
	res, err := stream.SubmitBatch(ctx, &transport.Batch{
		SendInitialMetadata: initialMD,
		SendMessage:         reqMsg,
		SendCloseFromClient: true,
		RecvInitialMetadata: true,
		RecvMessage:         true,
		RecvStatusOnClient:  true,
	})
	if err != nil {
		return nil, err
	}
	if res.Status != nil && !res.Status.OK() {
		return nil, res.Status.ErrWithTrailer(res.Trailer)
	}
	if res.MessageEOF {
		return nil, status.ErrorOf(status.Internal, "server closed the call without a response message")
	}
	return &UnaryResult{Message: res.Message, Trailer: res.Trailer}, nil
}
