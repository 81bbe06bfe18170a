package rpc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/rpc"
	"github.com/corerpc/corerpc/pkg/status"
	"github.com/corerpc/corerpc/pkg/transport"
	"github.com/corerpc/corerpc/pkg/transport/inproc"
)

func dialPair(t *testing.T) (*inproc.Listener, transport.ClientTransport) {
	t.Helper()
	ln := inproc.NewListener("test.local:0")
	t.Cleanup(func() { ln.Close() })
	return ln, inproc.Dial(ln)
}

func TestUnaryDriverSuccess(t *testing.T) {
	ln, client := dialPair(t)
	ctx := context.Background()

	go func() {
		srv, err := ln.Accept(ctx)
		require.NoError(t, err)
		res, err := srv.SubmitBatch(ctx, &transport.Batch{
			SendInitialMetadata: metadata.Pairs(),
			RecvMessage:         true,
		})
		require.NoError(t, err)
		_, err = srv.SubmitBatch(ctx, &transport.Batch{
			SendMessage: append([]byte("echo:"), res.Message...),
			SendStatus:  status.New(status.OK, ""),
		})
		require.NoError(t, err)
	}()

	stream, err := client.NewStream(ctx, "/echo/Echo", "test.local:0")
	require.NoError(t, err)

	res, err := rpc.Unary(ctx, stream, metadata.Pairs(), []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:hi"), res.Message)
}

func TestUnaryDriverSurfacesRemoteStatus(t *testing.T) {
	ln, client := dialPair(t)
	ctx := context.Background()

	go func() {
		srv, err := ln.Accept(ctx)
		require.NoError(t, err)
		_, err = srv.SubmitBatch(ctx, &transport.Batch{RecvMessage: true})
		require.NoError(t, err)
		_, err = srv.SubmitBatch(ctx, &transport.Batch{
			SendStatus:  status.New(status.NotFound, "no such widget"),
			SendTrailer: metadata.Pairs("x-detail", "missing"),
		})
		require.NoError(t, err)
	}()

	stream, err := client.NewStream(ctx, "/echo/Echo", "test.local:0")
	require.NoError(t, err)

	_, err = rpc.Unary(ctx, stream, nil, []byte("hi"))
	require.Error(t, err)
	assert.Equal(t, status.NotFound, status.CodeOf(err))
}

func TestClientStreamDriverAggregates(t *testing.T) {
	ln, client := dialPair(t)
	ctx := context.Background()

	go func() {
		srv, err := ln.Accept(ctx)
		require.NoError(t, err)
		_, err = srv.SubmitBatch(ctx, &transport.Batch{RecvInitialMetadata: true})
		require.NoError(t, err)

		total := 0
		for {
			res, err := srv.SubmitBatch(ctx, &transport.Batch{RecvMessage: true})
			require.NoError(t, err)
			if res.MessageEOF {
				break
			}
			total += len(res.Message)
		}
		_, err = srv.SubmitBatch(ctx, &transport.Batch{
			SendMessage: []byte{byte(total)},
			SendStatus:  status.New(status.OK, ""),
		})
		require.NoError(t, err)
	}()

	stream, err := client.NewStream(ctx, "/echo/ClientStream", "test.local:0")
	require.NoError(t, err)

	call := rpc.NewClientStream(ctx, stream, metadata.Pairs())
	require.NoError(t, call.Send([]byte("aaa")))
	require.NoError(t, call.Send([]byte("bb")))
	msg, _, err := call.CloseAndRecv()
	require.NoError(t, err)
	assert.Equal(t, byte(5), msg[0])
}

func TestServerStreamDriverDeliversInOrder(t *testing.T) {
	ln, client := dialPair(t)
	ctx := context.Background()

	go func() {
		srv, err := ln.Accept(ctx)
		require.NoError(t, err)
		_, err = srv.SubmitBatch(ctx, &transport.Batch{
			SendInitialMetadata: metadata.Pairs(),
			RecvMessage:         true,
		})
		require.NoError(t, err)
		for _, n := range []int{3, 1, 4} {
			_, err = srv.SubmitBatch(ctx, &transport.Batch{SendMessage: make([]byte, n)})
			require.NoError(t, err)
		}
		_, err = srv.SubmitBatch(ctx, &transport.Batch{SendStatus: status.New(status.OK, "")})
		require.NoError(t, err)
	}()

	stream, err := client.NewStream(ctx, "/echo/ServerStream", "test.local:0")
	require.NoError(t, err)

	call, err := rpc.NewServerStream(ctx, stream, metadata.Pairs(), []byte("req"))
	require.NoError(t, err)

	var sizes []int
	for {
		msg, done, err := call.Recv()
		require.NoError(t, err)
		if done {
			break
		}
		sizes = append(sizes, len(msg))
	}
	assert.Equal(t, []int{3, 1, 4}, sizes)
}

func TestBidiDriverHalfClosesWithoutErrorWhenServerEndsFirst(t *testing.T) {
	ln, client := dialPair(t)
	ctx := context.Background()

	go func() {
		srv, err := ln.Accept(ctx)
		require.NoError(t, err)
		_, err = srv.SubmitBatch(ctx, &transport.Batch{RecvInitialMetadata: true})
		require.NoError(t, err)
		_, err = srv.SubmitBatch(ctx, &transport.Batch{SendMessage: []byte("one")})
		require.NoError(t, err)
		_, err = srv.SubmitBatch(ctx, &transport.Batch{SendStatus: status.New(status.OK, "")})
		require.NoError(t, err)
	}()

	stream, err := client.NewStream(ctx, "/echo/Bidi", "test.local:0")
	require.NoError(t, err)

	call := rpc.NewBidi(ctx, stream, metadata.Pairs())
	call.InitialMetadata()

	msg, done, err := call.Recv()
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, []byte("one"), msg)

	_, done, err = call.Recv()
	require.NoError(t, err)
	assert.True(t, done)

	assert.NoError(t, call.CloseSend())
}

func TestUnaryDriverDeadlineExceeded(t *testing.T) {
	ln, client := dialPair(t)

	go func() {
		ctx := context.Background()
		srv, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		// Never responds; the client's deadline should win the race.
		_, _ = srv.SubmitBatch(ctx, &transport.Batch{RecvMessage: true})
	}()

	h := rpc.New(context.Background(), "/echo/Slow", "test.local:0", rpc.WithDeadline(time.Now().Add(10*time.Millisecond)))
	stream, err := client.NewStream(h.Context(), "/echo/Slow", "test.local:0")
	require.NoError(t, err)

	_, err = rpc.Unary(h.Context(), stream, nil, []byte("hi"))
	require.Error(t, err)
}
