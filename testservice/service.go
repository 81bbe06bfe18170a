package testservice

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/server"
	"github.com/corerpc/corerpc/pkg/status"
)

// EchoInitialMetadataKey and EchoTrailingMetadataKey are the reserved
// metadata keys the interop matrix uses to exercise the echo convention
// (spec.md §4.9).
const (
	EchoInitialMetadataKey  = "x-grpc-test-echo-initial"
	EchoTrailingMetadataKey = "x-grpc-test-echo-trailing-bin"
)

// Authenticator resolves the identity behind a call's initial metadata
// (typically an "authorization" bearer token set by a call credential), for
// unaryCall to echo back via username/oauth_scope per spec.md §4.8.
type Authenticator func(md *metadata.MD) (username, oauthScope string, ok bool)

// Service implements the reference test service (spec.md C11).
type Service struct {
	Authenticator Authenticator
}

func echoMetadata(initial *metadata.MD) (initialEcho, trailerEcho *metadata.MD) {
	initialEcho = metadata.Pairs()
	trailerEcho = metadata.Pairs()
	if initial == nil {
		return
	}
	if v := initial.Get(EchoInitialMetadataKey); len(v) > 0 {
		initialEcho.Set(EchoInitialMetadataKey, v...)
	}
	if v := initial.Get(EchoTrailingMetadataKey); len(v) > 0 {
		trailerEcho.Set(EchoTrailingMetadataKey, v...)
	}
	return
}

func makePayload(t PayloadType, size int) (Payload, error) {
	if size < 0 {
		return Payload{}, fmt.Errorf("negative response size %d", size)
	}
	actual := t
	if t == Random {
		if rand.Intn(2) == 0 {
			actual = Compressable
		} else {
			actual = Uncompressable
		}
	}
	return Payload{Type: actual, Body: make([]byte, size)}, nil
}

// EmptyCall echoes initial/trailing metadata per §4.9 and returns Empty.
func (s *Service) EmptyCall(st *server.Stream) {
	initialMD, err := st.RecvInitialMetadata()
	if err != nil {
		return
	}
	initEcho, trailerEcho := echoMetadata(initialMD)
	if err := st.SendInitialMetadata(initEcho); err != nil {
		return
	}

	_, done, err := st.Recv()
	if err != nil {
		_ = st.Finish(status.New(status.Internal, err.Error()), trailerEcho)
		return
	}
	if done {
		_ = st.Finish(status.New(status.InvalidArgument, "expected a request message"), trailerEcho)
		return
	}

	if err := st.Send(Empty{}); err != nil {
		return
	}
	_ = st.Finish(status.New(status.OK, ""), trailerEcho)
}

// UnaryCall returns a payload of response_size bytes of the requested type,
// filling username/oauth_scope from the authenticated identity when asked.
func (s *Service) UnaryCall(st *server.Stream) {
	initialMD, err := st.RecvInitialMetadata()
	if err != nil {
		return
	}
	initEcho, trailerEcho := echoMetadata(initialMD)
	if err := st.SendInitialMetadata(initEcho); err != nil {
		return
	}

	reqAny, done, err := st.Recv()
	if err != nil {
		_ = st.Finish(status.New(status.Internal, err.Error()), trailerEcho)
		return
	}
	if done {
		_ = st.Finish(status.New(status.InvalidArgument, "expected a request message"), trailerEcho)
		return
	}
	req := reqAny.(SimpleRequest)

	if req.ResponseStatusCode != status.OK {
		_ = st.Finish(status.New(req.ResponseStatusCode, req.ResponseStatusMessage), trailerEcho)
		return
	}

	payload, err := makePayload(req.ResponseType, req.ResponseSize)
	if err != nil {
		_ = st.Finish(status.New(status.InvalidArgument, err.Error()), trailerEcho)
		return
	}

	resp := SimpleResponse{Payload: payload}
	if s.Authenticator != nil {
		if username, scope, ok := s.Authenticator(initialMD); ok {
			if req.FillUsername {
				resp.Username = username
			}
			if req.FillOauthScope {
				resp.OauthScope = scope
			}
		}
	}

	if err := st.Send(resp); err != nil {
		return
	}
	_ = st.Finish(status.New(status.OK, ""), trailerEcho)
}

// StreamingInputCall returns aggregated_payload_size equal to the sum of
// inbound payload lengths.
func (s *Service) StreamingInputCall(st *server.Stream) {
	initialMD, err := st.RecvInitialMetadata()
	if err != nil {
		return
	}
	initEcho, trailerEcho := echoMetadata(initialMD)
	if err := st.SendInitialMetadata(initEcho); err != nil {
		return
	}

	total := 0
	for {
		reqAny, done, err := st.Recv()
		if err != nil {
			_ = st.Finish(status.New(status.Internal, err.Error()), trailerEcho)
			return
		}
		if done {
			break
		}
		req := reqAny.(StreamingInputCallRequest)
		total += len(req.Payload.Body)
	}

	if err := st.Send(StreamingInputCallResponse{AggregatedPayloadSize: total}); err != nil {
		return
	}
	_ = st.Finish(status.New(status.OK, ""), trailerEcho)
}

// StreamingOutputCall writes one payload per response_parameters entry.
func (s *Service) StreamingOutputCall(st *server.Stream) {
	initialMD, err := st.RecvInitialMetadata()
	if err != nil {
		return
	}
	initEcho, trailerEcho := echoMetadata(initialMD)
	if err := st.SendInitialMetadata(initEcho); err != nil {
		return
	}

	reqAny, done, err := st.Recv()
	if err != nil {
		_ = st.Finish(status.New(status.Internal, err.Error()), trailerEcho)
		return
	}
	if done {
		_ = st.Finish(status.New(status.InvalidArgument, "expected a request message"), trailerEcho)
		return
	}
	req := reqAny.(StreamingOutputCallRequest)

	for _, p := range req.ResponseParameters {
		if err := sleepOrAbort(st, p.IntervalUs); err != nil {
			_ = st.Finish(status.New(status.DeadlineExceeded, err.Error()), trailerEcho)
			return
		}
		payload, err := makePayload(req.ResponseType, p.Size)
		if err != nil {
			_ = st.Finish(status.New(status.InvalidArgument, err.Error()), trailerEcho)
			return
		}
		if err := st.Send(StreamingOutputCallResponse{Payload: payload}); err != nil {
			return
		}
	}
	_ = st.Finish(status.New(status.OK, ""), trailerEcho)
}

// sleepOrAbort sleeps intervalUs microseconds, returning early with an
// error if the stream's context is cancelled or its deadline passes first
// (the timeout_on_sleeping_server interop case).
func sleepOrAbort(st *server.Stream, intervalUs int) error {
	if intervalUs <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(intervalUs) * time.Microsecond):
		return nil
	case <-st.Context().Done():
		return st.Context().Err()
	}
}

// FullDuplexCall emits one response per response_parameters entry for each
// inbound request, closing output when input closes.
func (s *Service) FullDuplexCall(st *server.Stream) {
	initialMD, err := st.RecvInitialMetadata()
	if err != nil {
		return
	}
	initEcho, trailerEcho := echoMetadata(initialMD)
	if err := st.SendInitialMetadata(initEcho); err != nil {
		return
	}

	for {
		reqAny, done, err := st.Recv()
		if err != nil {
			_ = st.Finish(status.New(status.Internal, err.Error()), trailerEcho)
			return
		}
		if done {
			break
		}
		req := reqAny.(StreamingOutputCallRequest)
		for _, p := range req.ResponseParameters {
			if err := sleepOrAbort(st, p.IntervalUs); err != nil {
				_ = st.Finish(status.New(status.DeadlineExceeded, err.Error()), trailerEcho)
				return
			}
			payload, err := makePayload(req.ResponseType, p.Size)
			if err != nil {
				_ = st.Finish(status.New(status.InvalidArgument, err.Error()), trailerEcho)
				return
			}
			if err := st.Send(StreamingOutputCallResponse{Payload: payload}); err != nil {
				return
			}
		}
	}
	_ = st.Finish(status.New(status.OK, ""), trailerEcho)
}

// HalfDuplexCall is declared unimplemented (spec.md §4.8 allows this).
func (s *Service) HalfDuplexCall(st *server.Stream) {
	_ = st.Finish(status.New(status.Unimplemented, "halfDuplexCall is not implemented"), nil)
}
