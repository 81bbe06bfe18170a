package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/status"
)

func tokenSource(tok string) AccessTokenSource {
	return AccessTokenSourceFunc(func(ctx context.Context) (string, error) { return tok, nil })
}

func TestInsecureIsNotComposable(t *testing.T) {
	assert.False(t, Insecure().IsComposable())
	assert.False(t, Insecure().IsSecure())
}

func TestComposeChannelRejectsNonComposable(t *testing.T) {
	call := FromAccessTokenSource(tokenSource("tok"))
	_, err := ComposeChannel(Insecure(), call)
	require.Error(t, err)
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestComposeChannelRejectsMissingArgument(t *testing.T) {
	secure, err := NewTLS(nil, nil)
	require.NoError(t, err)

	_, err = ComposeChannel(secure, nil)
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))

	_, err = ComposeChannel(nil, FromAccessTokenSource(tokenSource("tok")))
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestComposeChannelResultIsSealed(t *testing.T) {
	secure, err := NewTLS(nil, nil)
	require.NoError(t, err)

	composed, err := ComposeChannel(secure, FromAccessTokenSource(tokenSource("tok")))
	require.NoError(t, err)
	assert.False(t, composed.IsComposable())

	_, err = ComposeChannel(composed, FromAccessTokenSource(tokenSource("tok2")))
	require.Error(t, err)
}

func TestComposeChannelAttachesCallCredentials(t *testing.T) {
	secure, err := NewTLS(nil, nil)
	require.NoError(t, err)

	composed, err := ComposeChannel(secure, FromAccessTokenSource(tokenSource("tok")))
	require.NoError(t, err)

	md, st, err := composed.CallCredentials().GetRequestMetadata(context.Background(), "example.com:443")
	require.NoError(t, err)
	assert.True(t, st.OK())
	assert.Equal(t, []string{"Bearer tok"}, md.Get("authorization"))
}

func TestComposeCallMergesMetadataInOrder(t *testing.T) {
	first := FromMetadataGenerator(func(ctx context.Context, authority string) (*metadata.MD, *status.Status, error) {
		return metadata.Pairs("a", "1"), nil, nil
	})
	second := FromAccessTokenSource(tokenSource("tok"))

	merged, err := ComposeCall(first, second)
	require.NoError(t, err)

	md, st, err := merged.GetRequestMetadata(context.Background(), "example.com:443")
	require.NoError(t, err)
	assert.True(t, st.OK())
	assert.Equal(t, []string{"a", "authorization"}, md.Keys())
}

func TestComposeCallShortCircuitsOnNonOKStatus(t *testing.T) {
	denied := FromMetadataGenerator(func(ctx context.Context, authority string) (*metadata.MD, *status.Status, error) {
		return nil, status.New(status.Unauthenticated, "bad token"), nil
	})
	never := FromMetadataGenerator(func(ctx context.Context, authority string) (*metadata.MD, *status.Status, error) {
		t.Fatal("second generator should not run once the first denies the call")
		return nil, nil, nil
	})

	merged, err := ComposeCall(denied, never)
	require.NoError(t, err)

	_, st, err := merged.GetRequestMetadata(context.Background(), "example.com:443")
	require.NoError(t, err)
	assert.Equal(t, status.Unauthenticated, st.Code)
}

func TestCombineFoldsMultipleCallCredentials(t *testing.T) {
	secure, err := NewTLS(nil, nil)
	require.NoError(t, err)

	extra := FromMetadataGenerator(func(ctx context.Context, authority string) (*metadata.MD, *status.Status, error) {
		return metadata.Pairs("x-extra", "v"), nil, nil
	})

	combined, err := Combine(secure, FromAccessTokenSource(tokenSource("tok")), extra)
	require.NoError(t, err)

	md, _, err := combined.CallCredentials().GetRequestMetadata(context.Background(), "example.com:443")
	require.NoError(t, err)
	assert.Equal(t, []string{"authorization", "x-extra"}, md.Keys())
}

func TestCombineRequiresAtLeastOneCallCredential(t *testing.T) {
	secure, err := NewTLS(nil, nil)
	require.NoError(t, err)

	_, err = Combine(secure)
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}
