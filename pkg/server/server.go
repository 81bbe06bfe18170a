// Package server implements the server-side registration and dispatch
// counterpart to pkg/client: a method-descriptor map drives an accept loop
// that pulls inbound streams off a transport.ServerTransport and runs each
// through the handler matching its method path.
package server

import (
	"context"
	"sync"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/status"
	"github.com/corerpc/corerpc/pkg/transport"
)

// Stream wraps a transport.ServerStream with the request/response
// serialization a handler needs, keeping the handler itself agnostic of the
// underlying batch sequencing.
type Stream struct {
	raw  transport.ServerStream
	desc MethodDesc

	initMDSent bool
}

// Context is the call-scoped context for this stream.
func (s *Stream) Context() context.Context { return s.raw.Context() }

// Peer returns the client's address as a string.
func (s *Stream) Peer() string { return s.raw.Peer() }

// RecvInitialMetadata returns the client's initial metadata.
func (s *Stream) RecvInitialMetadata() (*metadata.MD, error) {
	res, err := s.raw.SubmitBatch(s.raw.Context(), &transport.Batch{RecvInitialMetadata: true})
	if err != nil {
		return nil, err
	}
	return res.InitialMetadata, nil
}

// SendInitialMetadata sends md as this call's initial response metadata. It
// is a no-op on any call after the first (a handler may call it exactly
// once; spec.md's echo convention requires it before the first message).
func (s *Stream) SendInitialMetadata(md *metadata.MD) error {
	if s.initMDSent {
		return nil
	}
	s.initMDSent = true
	_, err := s.raw.SubmitBatch(s.raw.Context(), &transport.Batch{SendInitialMetadata: md})
	return err
}

// Recv pulls the next request message, deserialized per the method
// descriptor. Returns (nil, true, nil) at clean end-of-stream.
func (s *Stream) Recv() (any, bool, error) {
	res, err := s.raw.SubmitBatch(s.raw.Context(), &transport.Batch{RecvMessage: true})
	if err != nil {
		return nil, true, err
	}
	if res.MessageEOF {
		return nil, true, nil
	}
	msg, err := s.desc.Deserialize(res.Message)
	if err != nil {
		return nil, false, status.ErrorOf(status.Internal, "failed to parse request message")
	}
	return msg, false, nil
}

// Send writes one response message, serialized per the method descriptor.
// It implicitly sends empty initial metadata first if the handler never
// called SendInitialMetadata, matching a unary/server-stream handler that
// has nothing to add to it.
func (s *Stream) Send(msg any) error {
	if !s.initMDSent {
		if err := s.SendInitialMetadata(metadata.Pairs()); err != nil {
			return err
		}
	}
	data, err := s.desc.Serialize(msg)
	if err != nil {
		return status.ErrorOf(status.Internal, "failed to serialize response message")
	}
	_, err = s.raw.SubmitBatch(s.raw.Context(), &transport.Batch{SendMessage: data})
	return err
}

// Finish sends the call's terminal status and trailer. A handler must call
// this exactly once, even on error paths.
func (s *Stream) Finish(st *status.Status, trailer *metadata.MD) error {
	if !s.initMDSent {
		if err := s.SendInitialMetadata(metadata.Pairs()); err != nil {
			return err
		}
	}
	_, err := s.raw.SubmitBatch(s.raw.Context(), &transport.Batch{SendStatus: st, SendTrailer: trailer})
	return err
}

// Handler implements one RPC method against a Stream. It is responsible for
// calling Stream.Finish exactly once, even when it returns an error.
type Handler func(stream *Stream)

// MethodDesc describes one server-side method: its path, streaming shape,
// serialize/deserialize functions, and handler.
type MethodDesc struct {
	Path           string
	RequestStream  bool
	ResponseStream bool
	Serialize      func(resp any) ([]byte, error)
	Deserialize    func(data []byte) (any, error)
	Handler        Handler
}

// ServiceDesc groups a service's methods under its fully-qualified name.
type ServiceDesc struct {
	ServiceName string
	Methods     map[string]MethodDesc
}

// Server dispatches inbound streams from one or more transport.
// ServerTransport listeners to registered service methods by path.
type Server struct {
	mu       sync.Mutex
	byPath   map[string]MethodDesc
	stopping chan struct{}
	stopOnce sync.Once
}

// New creates an empty Server.
func New() *Server {
	return &Server{byPath: make(map[string]MethodDesc), stopping: make(chan struct{})}
}

// Register adds every method of desc, keyed by its wire path.
func (s *Server) Register(desc ServiceDesc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range desc.Methods {
		s.byPath[m.Path] = m
	}
}

// Serve runs the accept loop against ln. It returns nil the first time
// Accept fails after ctx is cancelled or Stop is called, and returns
// Accept's error otherwise. Each accepted stream is dispatched in its own
// goroutine.
func (s *Server) Serve(ctx context.Context, ln transport.ServerTransport) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		raw, err := ln.Accept(ctx)
		if err != nil {
			select {
			case <-s.stopping:
				return nil
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		s.mu.Lock()
		desc, ok := s.byPath[raw.Method()]
		s.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.dispatch(raw, desc, ok)
		}()
	}
}

func (s *Server) dispatch(raw transport.ServerStream, desc MethodDesc, known bool) {
	stream := &Stream{raw: raw, desc: desc}
	if !known {
		_ = stream.Finish(status.New(status.Unimplemented, "unknown method "+raw.Method()), nil)
		return
	}
	desc.Handler(stream)
}

// Stop marks the server as stopping, so the accept loop returns at its next
// Accept failure (for example once the listener is closed). Stop does not
// interrupt an Accept that is already waiting. In-flight calls are left to
// finish on their own; it does not forcibly close active streams.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopping) })
}
