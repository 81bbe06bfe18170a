package rpc

import (
	"context"
	"sync"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/transport"
)

// ClientStreamCall drives a client-streaming call (spec.md C7): two
// concurrent batches on open, {SEND_INITIAL_METADATA, RECV_INITIAL_METADATA}
// and {RECV_MESSAGE, RECV_STATUS_ON_CLIENT}; writes are one {SEND_MESSAGE}
// batch per application write; half-close emits {SEND_CLOSE_FROM_CLIENT}.
type ClientStreamCall struct {
	ctx    context.Context
	stream transport.ClientStream

	sendMu sync.Mutex

	initMD chan *metadata.MD
	result chan clientStreamResult
}

type clientStreamResult struct {
	msg     []byte
	trailer *metadata.MD
	err     error
}

// NewClientStream opens the call and starts its two concurrent open
// batches in the background.
func NewClientStream(ctx context.Context, stream transport.ClientStream, initialMD *metadata.MD) *ClientStreamCall {
	c := &ClientStreamCall{
		ctx:    ctx,
		stream: stream,
		initMD: make(chan *metadata.MD, 1),
		result: make(chan clientStreamResult, 1),
	}

	go func() {
		res, err := stream.SubmitBatch(ctx, &transport.Batch{
			SendInitialMetadata: initialMD,
			RecvInitialMetadata: true,
		})
		if err != nil {
			c.initMD <- nil
			return
		}
		c.initMD <- res.InitialMetadata
	}()

	go func() {
		res, err := stream.SubmitBatch(ctx, &transport.Batch{
			RecvMessage:        true,
			RecvStatusOnClient: true,
		})
		if err != nil {
			c.result <- clientStreamResult{err: err}
			return
		}
		if res.Status != nil && !res.Status.OK() {
			c.result <- clientStreamResult{err: res.Status.ErrWithTrailer(res.Trailer)}
			return
		}
		c.result <- clientStreamResult{msg: res.Message, trailer: res.Trailer}
	}()

	return c
}

// InitialMetadata blocks until the server's initial metadata arrives.
func (c *ClientStreamCall) InitialMetadata() *metadata.MD {
	return <-c.initMD
}

// Send writes one request message. Per spec.md §4.6, a write after
// end-of-stream or cancel is dropped silently by the transport rather than
// surfaced here.
func (c *ClientStreamCall) Send(msg []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.stream.SubmitBatch(c.ctx, &transport.Batch{SendMessage: msg})
	return err
}

// CloseAndRecv half-closes the write side and waits for the single
// response message and final status.
func (c *ClientStreamCall) CloseAndRecv() ([]byte, *metadata.MD, error) {
	c.sendMu.Lock()
	_, err := c.stream.SubmitBatch(c.ctx, &transport.Batch{SendCloseFromClient: true})
	c.sendMu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	r := <-c.result
	return r.msg, r.trailer, r.err
}
