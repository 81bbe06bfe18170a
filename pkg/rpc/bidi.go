package rpc

import (
	"context"
	"sync"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/transport"
)

// BidiCall drives a bidirectional-streaming call (spec.md C9): open batch
// {SEND_INITIAL_METADATA, RECV_INITIAL_METADATA}; writes and reads proceed
// independently. The read side may legitimately end before the write side
// (server-initiated completion); CloseSend remains safe to call afterward
// since a write/close after end-of-stream is dropped silently by the
// transport (spec.md §4.6).
type BidiCall struct {
	ctx    context.Context
	stream transport.ClientStream

	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error

	initMD chan *metadata.MD
}

// NewBidi opens the call and starts its open batch in the background.
func NewBidi(ctx context.Context, stream transport.ClientStream, initialMD *metadata.MD) *BidiCall {
	c := &BidiCall{
		ctx:    ctx,
		stream: stream,
		initMD: make(chan *metadata.MD, 1),
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
	return c
}

// InitialMetadata blocks until the server's initial metadata arrives.
func (c *BidiCall) InitialMetadata() *metadata.MD { return <-c.initMD }

// Send writes one message on the write side.
func (c *BidiCall) Send(msg []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.stream.SubmitBatch(c.ctx, &transport.Batch{SendMessage: msg})
	return err
}

// CloseSend half-closes the write side. Safe to call more than once or
// after the read side has already observed end-of-stream.
func (c *BidiCall) CloseSend() error {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		defer c.sendMu.Unlock()
		_, c.closeErr = c.stream.SubmitBatch(c.ctx, &transport.Batch{SendCloseFromClient: true})
	})
	return c.closeErr
}

// Recv pulls the next response message on the read side, with the same
// end-of-stream/status contract as ServerStreamCall.Recv.
func (c *BidiCall) Recv() ([]byte, bool, error) {
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
