package rpc

import (
	"context"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/transport"
)

// ServerStreamCall drives a server-streaming call (spec.md C8): open batch
// {SEND_INITIAL_METADATA, SEND_MESSAGE, SEND_CLOSE_FROM_CLIENT,
// RECV_INITIAL_METADATA}; reads are demand-driven {RECV_MESSAGE} batches
// until end-of-stream, followed by a trailing {RECV_STATUS_ON_CLIENT} batch.
type ServerStreamCall struct {
	ctx    context.Context
	stream transport.ClientStream
	initMD *metadata.MD
}

// NewServerStream opens the call: sends the single request message and
// blocks for the server's initial metadata.
func NewServerStream(ctx context.Context, stream transport.ClientStream, initialMD *metadata.MD, reqMsg []byte) (*ServerStreamCall, error) {
	res, err := stream.SubmitBatch(ctx, &transport.Batch{
		SendInitialMetadata: initialMD,
		SendMessage:         reqMsg,
		SendCloseFromClient: true,
		RecvInitialMetadata: true,
	})
	if err != nil {
		return nil, err
	}
	return &ServerStreamCall{ctx: ctx, stream: stream, initMD: res.InitialMetadata}, nil
}

// InitialMetadata returns the server's initial metadata.
func (c *ServerStreamCall) InitialMetadata() *metadata.MD { return c.initMD }

// Recv pulls the next response message. On end-of-stream it returns
// (nil, true, nil) for an OK-terminated call, or (nil, true, err) carrying
// the non-OK status as an error (spec.md §4.6: "reported as an error on the
// readable sequence").
func (c *ServerStreamCall) Recv() ([]byte, bool, error) {
	res, err := c.stream.SubmitBatch(c.ctx, &transport.Batch{RecvMessage: true})
	if err != nil {
		return nil, true, err
	}
	if !res.MessageEOF {
		return res.Message, false, nil
	}

	sres, err := c.stream.SubmitBatch(c.ctx, &transport.Batch{RecvStatusOnClient: true})
	if err != nil {
		return nil, true, err
	}
	if sres.Status != nil && !sres.Status.OK() {
		return nil, true, sres.Status.ErrWithTrailer(sres.Trailer)
	}
	return nil, true, nil
}
