package wire_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/status"
	"github.com/corerpc/corerpc/pkg/transport"
	"github.com/corerpc/corerpc/pkg/transport/wire"
)

func TestUnaryRoundTripOverTCP(t *testing.T) {
	ln, err := wire.NewListener("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		ctx := context.Background()
		ss, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		assert.Equal(t, "/wire.Test/Echo", ss.Method())

		res, err := ss.SubmitBatch(ctx, &transport.Batch{
			RecvInitialMetadata: true,
			RecvMessage:         true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"v"}, res.InitialMetadata.Get("k"))
		assert.Equal(t, []byte("ping"), res.Message)

		_, err = ss.SubmitBatch(ctx, &transport.Batch{
			SendInitialMetadata: metadata.Pairs(),
			SendMessage:         []byte("pong"),
			SendStatus:          status.New(status.OK, ""),
			SendTrailer:         metadata.Pairs(),
		})
		require.NoError(t, err)
	}()

	tr := wire.NewClientTransport(ln.Addr().String(), nil)
	defer tr.Close()

	ctx := context.Background()
	cs, err := tr.NewStream(ctx, "/wire.Test/Echo", "127.0.0.1")
	require.NoError(t, err)

	res, err := cs.SubmitBatch(ctx, &transport.Batch{
		SendInitialMetadata: metadata.Pairs("k", "v"),
		SendMessage:         []byte("ping"),
		SendCloseFromClient: true,
		RecvInitialMetadata: true,
		RecvMessage:         true,
		RecvStatusOnClient:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), res.Message)
	assert.Equal(t, status.OK, res.Status.Code)

	<-serverDone
}
