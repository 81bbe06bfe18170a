package server_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corerpc/corerpc/pkg/client"
	"github.com/corerpc/corerpc/pkg/credentials"
	"github.com/corerpc/corerpc/pkg/server"
	"github.com/corerpc/corerpc/pkg/status"
	"github.com/corerpc/corerpc/pkg/transport"
	"github.com/corerpc/corerpc/pkg/transport/inproc"
)

func passthrough(data []byte) (any, error) { return data, nil }
func toBytes(v any) ([]byte, error)         { return v.([]byte), nil }

func TestUnaryEndToEndThroughClientAndServer(t *testing.T) {
	srv := server.New()
	srv.Register(server.ServiceDesc{
		ServiceName: "echo.Echo",
		Methods: map[string]server.MethodDesc{
			"Echo": {
				Path:        "/echo.Echo/Echo",
				Serialize:   toBytes,
				Deserialize: passthrough,
				Handler: func(s *server.Stream) {
					req, done, err := s.Recv()
					require.NoError(t, err)
					require.False(t, done)

					err = s.Send(append([]byte("echo:"), req.([]byte)...))
					require.NoError(t, err)
					_ = s.Finish(status.New(status.OK, ""), nil)
				},
			},
		},
	})

	ln := inproc.NewListener("echo.local:0")
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln)

	f, err := client.NewFactory("echo.Echo", map[string]client.MethodDesc{
		"Echo": {
			Path:        "/echo.Echo/Echo",
			Serialize:   toBytes,
			Deserialize: passthrough,
		},
	})
	require.NoError(t, err)

	dial := func(ctx context.Context, address string, creds *credentials.ChannelCredentials, opts client.Options) (transport.ClientTransport, error) {
		return inproc.Dial(ln), nil
	}

	c, err := f.Dial(ctx, dial, "echo.local:0", credentials.Insecure(), client.Options{})
	require.NoError(t, err)

	resp, err := c.Invoke(ctx, "Echo", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:hi"), resp)
}

func TestUnimplementedMethodSurfacesUnimplementedStatus(t *testing.T) {
	srv := server.New()
	ln := inproc.NewListener("echo.local:0")
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln)

	f, err := client.NewFactory("echo.Echo", map[string]client.MethodDesc{
		"Missing": {
			Path:        "/echo.Echo/Missing",
			Serialize:   toBytes,
			Deserialize: passthrough,
		},
	})
	require.NoError(t, err)

	dial := func(ctx context.Context, address string, creds *credentials.ChannelCredentials, opts client.Options) (transport.ClientTransport, error) {
		return inproc.Dial(ln), nil
	}
	c, err := f.Dial(ctx, dial, "echo.local:0", credentials.Insecure(), client.Options{})
	require.NoError(t, err)

	_, err = c.Invoke(ctx, "Missing", []byte("hi"))
	require.Error(t, err)
	assert.Equal(t, status.Unimplemented, status.CodeOf(err))
}
