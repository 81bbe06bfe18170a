package interop_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corerpc/corerpc/interop"
	"github.com/corerpc/corerpc/pkg/client"
	"github.com/corerpc/corerpc/pkg/credentials"
	"github.com/corerpc/corerpc/pkg/server"
	"github.com/corerpc/corerpc/pkg/status"
	"github.com/corerpc/corerpc/pkg/transport"
	"github.com/corerpc/corerpc/pkg/transport/inproc"
	"github.com/corerpc/corerpc/testservice"
)

func startServer(t *testing.T, impl *testservice.Service) (*inproc.Listener, *client.Factory) {
	t.Helper()
	srv := server.New()
	srv.Register(testservice.RegisterServer(impl))

	ln := inproc.NewListener("interop.local:0")
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, ln)

	f, err := client.NewFactory(testservice.ServiceName, testservice.ClientMethods())
	require.NoError(t, err)
	return ln, f
}

func dialInproc(ln *inproc.Listener) client.Dialer {
	return func(ctx context.Context, address string, creds *credentials.ChannelCredentials, opts client.Options) (transport.ClientTransport, error) {
		return inproc.Dial(ln), nil
	}
}

func dialClient(t *testing.T, ln *inproc.Listener, f *client.Factory) *client.Client {
	t.Helper()
	// The credential-backed cases attach per-call credentials, which the
	// client only accepts on a composable channel credential.
	creds, err := credentials.NewTLS(nil, nil)
	require.NoError(t, err)
	c, err := f.Dial(context.Background(), dialInproc(ln), "interop.local:0", creds, client.Options{})
	require.NoError(t, err)
	return c
}

func TestDoEmptyUnary(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoEmptyUnary(context.Background(), c))
}

func TestDoLargeUnary(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoLargeUnary(context.Background(), c))
}

func TestDoClientStreaming(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoClientStreaming(context.Background(), c))
}

func TestDoServerStreaming(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoServerStreaming(context.Background(), c))
}

func TestDoPingPong(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoPingPong(context.Background(), c))
}

func TestDoEmptyStream(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoEmptyStream(context.Background(), c))
}

func TestDoCancelAfterBegin(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoCancelAfterBegin(context.Background(), c))
}

func TestDoCancelAfterFirstResponse(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoCancelAfterFirstResponse(context.Background(), c))
}

func TestDoTimeoutOnSleepingServer(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoTimeoutOnSleepingServer(context.Background(), c))
}

func TestDoCustomMetadata(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoCustomMetadata(context.Background(), c))
}

func TestDoStatusCodeAndMessage(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoStatusCodeAndMessage(context.Background(), c))
}

func TestDoUnimplementedMethod(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoUnimplementedMethod(context.Background(), c))
}

func TestDoUnimplementedService(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	_ = f // the registered service's own factory is irrelevant here

	empty, err := client.NewFactory("corerpc.testing.UnregisteredService", map[string]client.MethodDesc{})
	require.NoError(t, err)
	c := dialClient(t, ln, empty)
	assert.NoError(t, interop.DoUnimplementedService(context.Background(), c))
}

func TestDoJWTTokenCreds(t *testing.T) {
	key := interop.ServiceAccountKey{ClientEmail: "jwt-user@example.com", PrivateKey: []byte("test-secret")}
	authenticator := interop.NewAuthenticator(key.PrivateKey, "")
	ln, f := startServer(t, &testservice.Service{Authenticator: authenticator})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoJWTTokenCreds(context.Background(), c, key))
}

func TestDoServiceAccountCreds(t *testing.T) {
	key := interop.ServiceAccountKey{ClientEmail: "svc-user@example.com", PrivateKey: []byte("test-secret")}
	authenticator := interop.NewAuthenticator(key.PrivateKey, "")
	ln, f := startServer(t, &testservice.Service{Authenticator: authenticator})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoServiceAccountCreds(context.Background(), c, key, "https://www.example.com/auth/test"))
}

func TestDoOAuth2AuthToken(t *testing.T) {
	const token = "fixed-oauth2-token"
	authenticator := interop.NewAuthenticator([]byte("unused-secret"), "",
		interop.StaticIdentity{Token: token, Username: "oauth2-user@example.com"})
	ln, f := startServer(t, &testservice.Service{Authenticator: authenticator})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoOAuth2AuthToken(context.Background(), c, token, "oauth2-user@example.com"))
}

func TestDoPerRPCCreds(t *testing.T) {
	const token = "fixed-per-rpc-token"
	authenticator := interop.NewAuthenticator([]byte("unused-secret"), "",
		interop.StaticIdentity{Token: token, Username: "per-rpc-user@example.com"})
	ln, f := startServer(t, &testservice.Service{Authenticator: authenticator})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoPerRPCCreds(context.Background(), c, token, "per-rpc-user@example.com"))
}

func TestDoComputeEngineCreds(t *testing.T) {
	authenticator := interop.NewAuthenticator([]byte("unused-secret"), "",
		interop.StaticIdentity{Token: "compute-engine-token", Username: "gce-default@example.com"})
	ln, f := startServer(t, &testservice.Service{Authenticator: authenticator})
	c := dialClient(t, ln, f)
	assert.NoError(t, interop.DoComputeEngineCreds(context.Background(), c, "gce-default@example.com"))
}

func TestParseTokenRejectsWrongAudience(t *testing.T) {
	key := interop.ServiceAccountKey{ClientEmail: "aud-user@example.com", PrivateKey: []byte("test-secret")}
	src := interop.NewJWTTokenSource(key, "https://wanted.example.com", time.Hour)
	tok, err := src.Token(context.Background())
	require.NoError(t, err)

	parse := interop.ParseToken(key.PrivateKey, "https://other.example.com")
	_, _, ok := parse(tok)
	assert.False(t, ok)
}

func TestParseTokenAcceptsMatchingAudience(t *testing.T) {
	key := interop.ServiceAccountKey{ClientEmail: "aud-user@example.com", PrivateKey: []byte("test-secret")}
	src := interop.NewJWTTokenSource(key, "https://wanted.example.com", time.Hour)
	tok, err := src.Token(context.Background())
	require.NoError(t, err)

	parse := interop.ParseToken(key.PrivateKey, "https://wanted.example.com")
	username, _, ok := parse(tok)
	require.True(t, ok)
	assert.Equal(t, key.ClientEmail, username)
}

func TestStatusCodeAndMessageDetailsOfError(t *testing.T) {
	ln, f := startServer(t, &testservice.Service{})
	c := dialClient(t, ln, f)
	_, err := c.Invoke(context.Background(), "UnaryCall", testservice.SimpleRequest{
		ResponseStatusCode:    status.NotFound,
		ResponseStatusMessage: "no such resource",
	})
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, status.NotFound, st.Code)
	assert.Equal(t, "no such resource", st.Details)
}
