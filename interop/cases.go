package interop

import (
	"context"
	"fmt"
	"time"

	"github.com/corerpc/corerpc/pkg/client"
	"github.com/corerpc/corerpc/pkg/credentials"
	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/status"
	"github.com/corerpc/corerpc/testservice"
)

// largePayloadReqSize/largePayloadRespSize match the canonical large_unary
// case's fixed sizes (spec.md S1).
const (
	largePayloadReqSize  = 271828
	largePayloadRespSize = 314159
)

func simpleRequest(size int) testservice.SimpleRequest {
	return testservice.SimpleRequest{
		ResponseType: testservice.Compressable,
		ResponseSize: largePayloadRespSize,
		Payload:      testservice.Payload{Type: testservice.Compressable, Body: make([]byte, size)},
	}
}

// DoEmptyUnary exercises an empty-request/empty-response unary call.
func DoEmptyUnary(ctx context.Context, c *client.Client) error {
	resp, err := c.Invoke(ctx, "EmptyCall", testservice.Empty{})
	if err != nil {
		return fmt.Errorf("empty_unary: %w", err)
	}
	if _, ok := resp.(testservice.Empty); !ok {
		return fmt.Errorf("empty_unary: unexpected response type %T", resp)
	}
	return nil
}

// DoLargeUnary exercises spec.md S1: a 271828 byte request yielding a
// 314159 byte COMPRESSABLE response.
func DoLargeUnary(ctx context.Context, c *client.Client, callOpts ...client.CallOption) error {
	resp, err := c.Invoke(ctx, "UnaryCall", simpleRequest(largePayloadReqSize), callOpts...)
	if err != nil {
		return fmt.Errorf("large_unary: %w", err)
	}
	sr := resp.(testservice.SimpleResponse)
	if len(sr.Payload.Body) != largePayloadRespSize {
		return fmt.Errorf("large_unary: got %d response bytes, want %d", len(sr.Payload.Body), largePayloadRespSize)
	}
	if sr.Payload.Type != testservice.Compressable {
		return fmt.Errorf("large_unary: got payload type %v, want COMPRESSABLE", sr.Payload.Type)
	}
	return nil
}

// DoClientStreaming exercises spec.md's client_streaming case: four
// payload sizes summing to an aggregate the server echoes back.
func DoClientStreaming(ctx context.Context, c *client.Client) error {
	sizes := []int{27182, 8, 1828, 45904}
	call, desc, err := c.NewClientStream(ctx, "StreamingInputCall")
	if err != nil {
		return fmt.Errorf("client_streaming: open: %w", err)
	}
	for _, n := range sizes {
		data, err := desc.Serialize(testservice.StreamingInputCallRequest{Payload: testservice.Payload{Body: make([]byte, n)}})
		if err != nil {
			return fmt.Errorf("client_streaming: serialize: %w", err)
		}
		if err := call.Send(data); err != nil {
			return fmt.Errorf("client_streaming: send: %w", err)
		}
	}
	raw, _, err := call.CloseAndRecv()
	if err != nil {
		return fmt.Errorf("client_streaming: %w", err)
	}
	respAny, err := desc.Deserialize(raw)
	if err != nil {
		return fmt.Errorf("client_streaming: deserialize: %w", err)
	}
	resp := respAny.(testservice.StreamingInputCallResponse)
	const want = 27182 + 8 + 1828 + 45904
	if resp.AggregatedPayloadSize != want {
		return fmt.Errorf("client_streaming: got aggregate %d, want %d", resp.AggregatedPayloadSize, want)
	}
	return nil
}

func responseParams(sizes []int) []testservice.ResponseParameters {
	params := make([]testservice.ResponseParameters, len(sizes))
	for i, n := range sizes {
		params[i] = testservice.ResponseParameters{Size: n}
	}
	return params
}

// DoServerStreaming exercises the server_streaming case: a single request
// naming four response sizes, delivered in order.
func DoServerStreaming(ctx context.Context, c *client.Client) error {
	sizes := []int{31415, 9, 2653, 58979}
	call, desc, err := c.NewServerStream(ctx, "StreamingOutputCall", testservice.StreamingOutputCallRequest{
		ResponseType:       testservice.Compressable,
		ResponseParameters: responseParams(sizes),
	})
	if err != nil {
		return fmt.Errorf("server_streaming: open: %w", err)
	}
	var got []int
	for {
		raw, done, err := call.Recv()
		if err != nil {
			return fmt.Errorf("server_streaming: %w", err)
		}
		if done {
			break
		}
		respAny, err := desc.Deserialize(raw)
		if err != nil {
			return fmt.Errorf("server_streaming: deserialize: %w", err)
		}
		got = append(got, len(respAny.(testservice.StreamingOutputCallResponse).Payload.Body))
	}
	if len(got) != len(sizes) {
		return fmt.Errorf("server_streaming: got %d responses, want %d", len(got), len(sizes))
	}
	for i, n := range sizes {
		if got[i] != n {
			return fmt.Errorf("server_streaming: response %d was %d bytes, want %d", i, got[i], n)
		}
	}
	return nil
}

// DoPingPong exercises the ping_pong bidi case: four round-trips, each
// sending one request of reqSizes[i] and expecting one response of
// respSizes[i], strictly interleaved.
func DoPingPong(ctx context.Context, c *client.Client) error {
	reqSizes := []int{27182, 8, 1828, 45904}
	respSizes := []int{31415, 9, 2653, 58979}

	call, desc, err := c.NewBidiStream(ctx, "FullDuplexCall")
	if err != nil {
		return fmt.Errorf("ping_pong: open: %w", err)
	}
	for i := range reqSizes {
		req := testservice.StreamingOutputCallRequest{
			ResponseType:       testservice.Compressable,
			ResponseParameters: []testservice.ResponseParameters{{Size: respSizes[i]}},
			Payload:            testservice.Payload{Body: make([]byte, reqSizes[i])},
		}
		data, err := desc.Serialize(req)
		if err != nil {
			return fmt.Errorf("ping_pong: serialize: %w", err)
		}
		if err := call.Send(data); err != nil {
			return fmt.Errorf("ping_pong: send: %w", err)
		}
		raw, done, err := call.Recv()
		if err != nil {
			return fmt.Errorf("ping_pong: recv: %w", err)
		}
		if done {
			return fmt.Errorf("ping_pong: stream ended after %d round-trips, want %d", i, len(reqSizes))
		}
		respAny, err := desc.Deserialize(raw)
		if err != nil {
			return fmt.Errorf("ping_pong: deserialize: %w", err)
		}
		got := len(respAny.(testservice.StreamingOutputCallResponse).Payload.Body)
		if got != respSizes[i] {
			return fmt.Errorf("ping_pong: round-trip %d got %d bytes, want %d", i, got, respSizes[i])
		}
	}
	if err := call.CloseSend(); err != nil {
		return fmt.Errorf("ping_pong: close send: %w", err)
	}
	_, done, err := call.Recv()
	if err != nil {
		return fmt.Errorf("ping_pong: final recv: %w", err)
	}
	if !done {
		return fmt.Errorf("ping_pong: server sent a fifth response")
	}
	return nil
}

// DoEmptyStream exercises the empty_stream case: an immediate half-close
// with zero data frames exchanged either way.
func DoEmptyStream(ctx context.Context, c *client.Client) error {
	call, _, err := c.NewBidiStream(ctx, "FullDuplexCall")
	if err != nil {
		return fmt.Errorf("empty_stream: open: %w", err)
	}
	if err := call.CloseSend(); err != nil {
		return fmt.Errorf("empty_stream: close send: %w", err)
	}
	_, done, err := call.Recv()
	if err != nil {
		return fmt.Errorf("empty_stream: %w", err)
	}
	if !done {
		return fmt.Errorf("empty_stream: server sent a response on an empty stream")
	}
	return nil
}

// DoCancelAfterBegin exercises cancel_after_begin: the client cancels a
// client-streaming call before sending anything, expecting CANCELLED.
func DoCancelAfterBegin(ctx context.Context, c *client.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	call, _, err := c.NewClientStream(ctx, "StreamingInputCall")
	if err != nil {
		return fmt.Errorf("cancel_after_begin: open: %w", err)
	}
	cancel()
	_, _, err = call.CloseAndRecv()
	if status.CodeOf(err) != status.Cancelled {
		return fmt.Errorf("cancel_after_begin: got code %v, want CANCELLED", status.CodeOf(err))
	}
	return nil
}

// DoCancelAfterFirstResponse exercises spec.md S4: a bidi call cancelled
// right after its first response arrives, expecting CANCELLED.
func DoCancelAfterFirstResponse(ctx context.Context, c *client.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	call, desc, err := c.NewBidiStream(ctx, "FullDuplexCall")
	if err != nil {
		return fmt.Errorf("cancel_after_first_response: open: %w", err)
	}
	req := testservice.StreamingOutputCallRequest{
		ResponseParameters: []testservice.ResponseParameters{{Size: 31415}},
		Payload:            testservice.Payload{Body: make([]byte, 27182)},
	}
	data, err := desc.Serialize(req)
	if err != nil {
		return fmt.Errorf("cancel_after_first_response: serialize: %w", err)
	}
	if err := call.Send(data); err != nil {
		return fmt.Errorf("cancel_after_first_response: send: %w", err)
	}
	if _, _, err := call.Recv(); err != nil {
		return fmt.Errorf("cancel_after_first_response: recv: %w", err)
	}
	cancel()
	_, _, err = call.Recv()
	if status.CodeOf(err) != status.Cancelled {
		return fmt.Errorf("cancel_after_first_response: got code %v, want CANCELLED", status.CodeOf(err))
	}
	return nil
}

// DoTimeoutOnSleepingServer exercises timeout_on_sleeping_server: a 1ms
// deadline against a server asked to sleep before replying, expecting
// DEADLINE_EXCEEDED (or INTERNAL, when the transport observes the
// connection tear down before the deadline fires locally; spec.md allows
// either).
func DoTimeoutOnSleepingServer(ctx context.Context, c *client.Client) error {
	ctx, cancel := context.WithTimeout(ctx, time.Millisecond)
	defer cancel()

	call, desc, err := c.NewBidiStream(ctx, "FullDuplexCall")
	if err != nil {
		return fmt.Errorf("timeout_on_sleeping_server: open: %w", err)
	}
	req := testservice.StreamingOutputCallRequest{
		ResponseParameters: []testservice.ResponseParameters{{Size: 1, IntervalUs: 50_000}},
		Payload:            testservice.Payload{Body: make([]byte, 27182)},
	}
	data, err := desc.Serialize(req)
	if err != nil {
		return fmt.Errorf("timeout_on_sleeping_server: serialize: %w", err)
	}
	_ = call.Send(data)
	_, _, err = call.Recv()
	code := status.CodeOf(err)
	if code != status.DeadlineExceeded && code != status.Internal {
		return fmt.Errorf("timeout_on_sleeping_server: got code %v, want DEADLINE_EXCEEDED or INTERNAL", code)
	}
	return nil
}

// DoCustomMetadata exercises spec.md S5 with the echo headers attached to a
// unary and a server-streaming call. It checks that the unary call succeeds
// and that the stream's initial metadata echoes the initial value; the
// unary call's echoes and both trailing echoes are not checked.
func DoCustomMetadata(ctx context.Context, c *client.Client) error {
	const initialValue = "test_initial_metadata_value"
	trailingValue := string([]byte{0xAB, 0xAB, 0xAB})

	gen := credentials.FromMetadataGenerator(func(ctx context.Context, authority string) (*metadata.MD, *status.Status, error) {
		return metadata.Pairs(
			testservice.EchoInitialMetadataKey, initialValue,
			testservice.EchoTrailingMetadataKey, trailingValue,
		), nil, nil
	})

	if _, err := c.Invoke(ctx, "UnaryCall", simpleRequest(1), client.WithCredentials(gen)); err != nil {
		return fmt.Errorf("custom_metadata: unary: %w", err)
	}

	call, _, err := c.NewServerStream(ctx, "StreamingOutputCall",
		testservice.StreamingOutputCallRequest{ResponseParameters: responseParams([]int{1})},
		client.WithCredentials(gen))
	if err != nil {
		return fmt.Errorf("custom_metadata: stream open: %w", err)
	}
	if got := call.InitialMetadata().Get(testservice.EchoInitialMetadataKey); len(got) != 1 || got[0] != initialValue {
		return fmt.Errorf("custom_metadata: initial metadata echo = %v, want [%s]", got, initialValue)
	}
	for {
		_, done, err := call.Recv()
		if err != nil {
			return fmt.Errorf("custom_metadata: stream recv: %w", err)
		}
		if done {
			break
		}
	}
	return nil
}

// DoStatusCodeAndMessage exercises the supplemented status_code_and_message
// case: the server echoes a requested non-OK (code, message) pair back
// verbatim.
func DoStatusCodeAndMessage(ctx context.Context, c *client.Client) error {
	const wantMsg = "test status message"
	_, err := c.Invoke(ctx, "UnaryCall", testservice.SimpleRequest{
		ResponseStatusCode:    status.Unknown,
		ResponseStatusMessage: wantMsg,
	})
	st, ok := status.FromError(err)
	if !ok || st.Code != status.Unknown || st.Details != wantMsg {
		return fmt.Errorf("status_code_and_message: got %v, want UNKNOWN: %q", err, wantMsg)
	}
	return nil
}

// DoUnimplementedMethod exercises the supplemented unimplemented_method
// case: invoking a method name absent from the client's descriptor map.
func DoUnimplementedMethod(ctx context.Context, c *client.Client) error {
	_, err := c.Invoke(ctx, "$NoSuchMethod", testservice.Empty{})
	if status.CodeOf(err) != status.Unimplemented {
		return fmt.Errorf("unimplemented_method: got code %v, want UNIMPLEMENTED", status.CodeOf(err))
	}
	return nil
}

// DoUnimplementedService exercises the supplemented unimplemented_service
// case against a client.Client dialed with an empty method map (simulating a
// client built for a service the target server never registered).
func DoUnimplementedService(ctx context.Context, emptyServiceClient *client.Client) error {
	_, err := emptyServiceClient.Invoke(ctx, "EmptyCall", testservice.Empty{})
	if status.CodeOf(err) != status.Unimplemented {
		return fmt.Errorf("unimplemented_service: got code %v, want UNIMPLEMENTED", status.CodeOf(err))
	}
	return nil
}

// authenticatedIdentityRequest builds the SimpleRequest the five
// credential-backed cases share: fill both username and oauth_scope from
// whatever identity the server authenticates the call's metadata to.
func authenticatedIdentityRequest() testservice.SimpleRequest {
	req := simpleRequest(largePayloadReqSize)
	req.FillUsername = true
	req.FillOauthScope = true
	return req
}

// DoComputeEngineCreds, DoServiceAccountCreds, DoJWTTokenCreds,
// DoOAuth2AuthToken and DoPerRPCCreds all share the same shape: a
// large_unary call carrying a bearer token as a per-call credential, asserting the server's echoed identity matches wantUsername
// (and, when non-empty, wantScope).
func doAuthenticatedUnary(ctx context.Context, c *client.Client, creds *credentials.CallCredentials, wantUsername, wantScope string) error {
	resp, err := c.Invoke(ctx, "UnaryCall", authenticatedIdentityRequest(), client.WithCredentials(creds))
	if err != nil {
		return err
	}
	sr := resp.(testservice.SimpleResponse)
	if sr.Username != wantUsername {
		return fmt.Errorf("got username %q, want %q", sr.Username, wantUsername)
	}
	if wantScope != "" && sr.OauthScope != wantScope {
		return fmt.Errorf("got oauth_scope %q, want %q", sr.OauthScope, wantScope)
	}
	return nil
}

// DoComputeEngineCreds exercises compute_engine_creds: a fixed access token
// standing in for the GCE metadata server's instance identity.
func DoComputeEngineCreds(ctx context.Context, c *client.Client, defaultServiceAccount string) error {
	creds := credentials.FromAccessTokenSource(NewOAuth2TokenSource("compute-engine-token"))
	if err := doAuthenticatedUnary(ctx, c, creds, defaultServiceAccount, ""); err != nil {
		return fmt.Errorf("compute_engine_creds: %w", err)
	}
	return nil
}

// DoServiceAccountCreds exercises service_account_creds: a JWT minted from
// a service account key, carrying an OAuth2 scope claim.
func DoServiceAccountCreds(ctx context.Context, c *client.Client, key ServiceAccountKey, scope string) error {
	creds := credentials.FromAccessTokenSource(NewServiceAccountTokenSource(key, "", scope, time.Hour))
	if err := doAuthenticatedUnary(ctx, c, creds, key.ClientEmail, scope); err != nil {
		return fmt.Errorf("service_account_creds: %w", err)
	}
	return nil
}

// DoJWTTokenCreds exercises jwt_token_creds: a self-issued JWT with no
// OAuth2 scope claim.
func DoJWTTokenCreds(ctx context.Context, c *client.Client, key ServiceAccountKey) error {
	creds := credentials.FromAccessTokenSource(NewJWTTokenSource(key, "", time.Hour))
	if err := doAuthenticatedUnary(ctx, c, creds, key.ClientEmail, ""); err != nil {
		return fmt.Errorf("jwt_token_creds: %w", err)
	}
	return nil
}

// DoOAuth2AuthToken exercises oauth2_auth_token: a bearer token obtained
// out-of-band (here, a caller-supplied fixed string), attached to the call
// via doAuthenticatedUnary's client.WithCredentials.
func DoOAuth2AuthToken(ctx context.Context, c *client.Client, token, wantUsername string) error {
	creds := credentials.FromAccessTokenSource(NewOAuth2TokenSource(token))
	if err := doAuthenticatedUnary(ctx, c, creds, wantUsername, ""); err != nil {
		return fmt.Errorf("oauth2_auth_token: %w", err)
	}
	return nil
}

// DoPerRPCCreds exercises per_rpc_creds: a per-call credential override
// (client.WithCredentials on the Invoke itself). It runs the same code path
// as DoOAuth2AuthToken, which also attaches its token per call.
func DoPerRPCCreds(ctx context.Context, c *client.Client, token, wantUsername string) error {
	creds := credentials.FromAccessTokenSource(NewOAuth2TokenSource(token))
	if err := doAuthenticatedUnary(ctx, c, creds, wantUsername, ""); err != nil {
		return fmt.Errorf("per_rpc_creds: %w", err)
	}
	return nil
}
