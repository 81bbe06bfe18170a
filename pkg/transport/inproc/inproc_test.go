package inproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/status"
	"github.com/corerpc/corerpc/pkg/transport"
)

func TestUnaryRoundTrip(t *testing.T) {
	ln := NewListener("test.local:0")
	defer ln.Close()
	client := Dial(ln)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		srv, err := ln.Accept(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/echo/Echo", srv.Method())

		res, err := srv.SubmitBatch(ctx, &transport.Batch{
			SendInitialMetadata: metadata.Pairs("x-server", "hi"),
			RecvMessage:         true,
		})
		require.NoError(t, err)
		require.Equal(t, []byte("ping"), res.Message)

		_, err = srv.SubmitBatch(ctx, &transport.Batch{
			SendMessage: []byte("pong"),
			SendStatus:  status.New(status.OK, ""),
		})
		require.NoError(t, err)
	}()

	cs, err := client.NewStream(ctx, "/echo/Echo", "test.local:0")
	require.NoError(t, err)

	res, err := cs.SubmitBatch(ctx, &transport.Batch{
		SendInitialMetadata: metadata.Pairs("x-client", "hey"),
		SendMessage:         []byte("ping"),
		SendCloseFromClient: true,
		RecvInitialMetadata: true,
		RecvMessage:         true,
		RecvStatusOnClient:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, res.InitialMetadata.Get("x-server"))
	assert.Equal(t, []byte("pong"), res.Message)
	assert.Equal(t, status.OK, res.Status.Code)

	<-serverDone
}

func TestCancelUnblocksOutstandingRecv(t *testing.T) {
	ln := NewListener("test.local:0")
	defer ln.Close()
	client := Dial(ln)
	ctx := context.Background()

	go func() {
		srv, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		// Never responds; the client should observe cancellation instead
		// of hanging forever.
		_, _ = srv.SubmitBatch(ctx, &transport.Batch{RecvMessage: true})
	}()

	cs, err := client.NewStream(ctx, "/echo/Echo", "test.local:0")
	require.NoError(t, err)
	impl := cs.(*clientStream)

	done := make(chan *transport.BatchResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := cs.SubmitBatch(ctx, &transport.Batch{RecvStatusOnClient: true})
		done <- res
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	impl.Cancel()

	select {
	case res := <-done:
		require.NoError(t, <-errCh)
		assert.Equal(t, status.Cancelled, res.Status.Code)
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock outstanding RECV_STATUS_ON_CLIENT")
	}
}

func TestWriteAfterCancelIsDroppedSilently(t *testing.T) {
	ln := NewListener("test.local:0")
	defer ln.Close()
	client := Dial(ln)
	ctx := context.Background()

	go func() {
		_, _ = ln.Accept(ctx)
	}()

	cs, err := client.NewStream(ctx, "/echo/Echo", "test.local:0")
	require.NoError(t, err)
	impl := cs.(*clientStream)
	impl.Cancel()

	res, err := cs.SubmitBatch(ctx, &transport.Batch{SendMessage: []byte("too late")})
	require.NoError(t, err)
	assert.NotNil(t, res)
}
