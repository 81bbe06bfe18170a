// Package inproc implements a concrete transport.ClientTransport/
// ServerTransport pair connecting a client and server within one process,
// for deterministic tests of the call drivers without a socket.
//
// Each call is modeled as a pair of one-directional message pipes plus two
// one-shot initial-metadata handoffs and a one-shot status handoff, in the
// shape of joeycumines/go-utilpkg's inprocgrpc clientStreamAdapter: a
// SubmitBatch call blocks until every operation in the batch has been
// satisfied by the peer, so ordering within and across batches falls out of
// plain channel operations rather than an explicit scheduler.
package inproc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/status"
	"github.com/corerpc/corerpc/pkg/transport"
)

var callSeq atomic.Uint64

// callPipe is the shared state of one call, visible to both its
// clientStream and serverStream halves.
type callPipe struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	method string
	id     uint64

	c2s chan []byte // client -> server messages; closed on SEND_CLOSE_FROM_CLIENT
	s2c chan []byte // server -> client messages; closed when the server ends its output

	clientInitMD chan *metadata.MD // buffered 1
	serverInitMD chan *metadata.MD // buffered 1

	statusOnce sync.Once
	statusCh   chan statusResult // buffered 1

	c2sCloseOnce sync.Once
	s2cCloseOnce sync.Once
}

type statusResult struct {
	status  *status.Status
	trailer *metadata.MD
}

func newCallPipe(ctx context.Context, method string) *callPipe {
	cctx, cancel := context.WithCancelCause(ctx)
	return &callPipe{
		ctx:          cctx,
		cancel:       cancel,
		method:       method,
		id:           callSeq.Add(1),
		c2s:          make(chan []byte, 4),
		s2c:          make(chan []byte, 4),
		clientInitMD: make(chan *metadata.MD, 1),
		serverInitMD: make(chan *metadata.MD, 1),
		statusCh:     make(chan statusResult, 1),
	}
}

func (p *callPipe) closeC2S() {
	p.c2sCloseOnce.Do(func() { close(p.c2s) })
}

func (p *callPipe) closeS2C() {
	p.s2cCloseOnce.Do(func() { close(p.s2c) })
}

// Listener is an inproc transport.ServerTransport: a rendezvous point new
// client streams are delivered through.
type Listener struct {
	addr     string
	incoming chan *serverStream
	closed   chan struct{}
	closeErr error
	mu       sync.Mutex
}

// NewListener creates a Listener addressed by addr (a label only; inproc
// never opens a socket).
func NewListener(addr string) *Listener {
	return &Listener{
		addr:     addr,
		incoming: make(chan *serverStream, 16),
		closed:   make(chan struct{}),
	}
}

func (l *Listener) Accept(ctx context.Context) (transport.ServerStream, error) {
	select {
	case s, ok := <-l.incoming:
		if !ok {
			return nil, fmt.Errorf("inproc: listener %s closed", l.addr)
		}
		return s, nil
	case <-l.closed:
		return nil, fmt.Errorf("inproc: listener %s closed", l.addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

// Dial returns a transport.ClientTransport that delivers new streams to l.
func Dial(l *Listener) transport.ClientTransport {
	return &clientTransport{listener: l}
}

type clientTransport struct {
	listener *Listener
}

func (t *clientTransport) NewStream(ctx context.Context, method, authority string) (transport.ClientStream, error) {
	p := newCallPipe(ctx, method)
	srv := &serverStream{pipe: p, peer: authority}
	select {
	case t.listener.incoming <- srv:
	case <-t.listener.closed:
		return nil, status.ErrorOf(status.Unavailable, "inproc: server listener closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &clientStream{pipe: p, peer: t.listener.addr}, nil
}

func (t *clientTransport) Close() error { return nil }

// clientStream implements transport.ClientStream.
type clientStream struct {
	pipe *callPipe
	peer string

	mu          sync.Mutex
	sentInitMD  bool
	recvInitMD  bool
	sentClose   bool
	gotStatus   bool
}

func (s *clientStream) Context() context.Context { return s.pipe.ctx }
func (s *clientStream) Peer() string              { return s.peer }

func (s *clientStream) SubmitBatch(ctx context.Context, b *transport.Batch) (*transport.BatchResult, error) {
	result := &transport.BatchResult{}

	if b.SendInitialMetadata != nil {
		s.mu.Lock()
		already := s.sentInitMD
		s.sentInitMD = true
		s.mu.Unlock()
		if !already {
			select {
			case s.pipe.clientInitMD <- b.SendInitialMetadata:
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.pipe.ctx.Done():
				return nil, callCancelledErr(s.pipe)
			}
		}
	}

	if b.SendMessage != nil {
		select {
		case s.pipe.c2s <- b.SendMessage:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.pipe.ctx.Done():
			// Per spec.md §4.6: a write after cancel is dropped silently.
			return result, nil
		}
	}

	if b.SendCloseFromClient {
		s.mu.Lock()
		already := s.sentClose
		s.sentClose = true
		s.mu.Unlock()
		if !already {
			s.pipe.closeC2S()
		}
	}

	if b.RecvInitialMetadata {
		select {
		case md := <-s.pipe.serverInitMD:
			result.InitialMetadata = md
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.pipe.ctx.Done():
			return nil, callCancelledErr(s.pipe)
		}
	}

	if b.RecvMessage {
		select {
		case msg, ok := <-s.pipe.s2c:
			if !ok {
				result.MessageEOF = true
			} else {
				result.Message = msg
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.pipe.ctx.Done():
			return nil, callCancelledErr(s.pipe)
		}
	}

	if b.RecvStatusOnClient {
		select {
		case sr := <-s.pipe.statusCh:
			result.Status = sr.status
			result.Trailer = sr.trailer
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.pipe.ctx.Done():
			result.Status = status.New(status.Cancelled, "call cancelled")
			result.Trailer = metadata.Pairs()
		}
	}

	return result, nil
}

func callCancelledErr(p *callPipe) error {
	if err := p.ctx.Err(); err != nil {
		if cause := context.Cause(p.ctx); cause != nil && cause != context.Canceled {
			return cause
		}
	}
	return status.ErrorOf(status.Cancelled, "call cancelled")
}

// serverStream implements transport.ServerStream.
type serverStream struct {
	pipe *callPipe
	peer string

	mu           sync.Mutex
	sentInitMD   bool
	sentStatus   bool
}

func (s *serverStream) Context() context.Context { return s.pipe.ctx }
func (s *serverStream) Method() string            { return s.pipe.method }
func (s *serverStream) Peer() string              { return s.peer }

func (s *serverStream) SubmitBatch(ctx context.Context, b *transport.Batch) (*transport.BatchResult, error) {
	result := &transport.BatchResult{}

	if b.SendInitialMetadata != nil {
		s.mu.Lock()
		already := s.sentInitMD
		s.sentInitMD = true
		s.mu.Unlock()
		if !already {
			select {
			case s.pipe.serverInitMD <- b.SendInitialMetadata:
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.pipe.ctx.Done():
				return nil, callCancelledErr(s.pipe)
			}
		}
	}

	if b.RecvInitialMetadata {
		select {
		case md := <-s.pipe.clientInitMD:
			result.InitialMetadata = md
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.pipe.ctx.Done():
			return nil, callCancelledErr(s.pipe)
		}
	}

	if b.SendMessage != nil {
		select {
		case s.pipe.s2c <- b.SendMessage:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.pipe.ctx.Done():
			return result, nil
		}
	}

	if b.RecvCloseOnServer {
		select {
		case _, ok := <-s.pipe.c2s:
			// A closed c2s means the client has half-closed. A message
			// arriving instead is consumed and dropped; this slot is only
			// meaningful once the client has actually half-closed, so
			// the caller is expected to combine this with RecvMessage
			// loops rather than call it standalone mid-stream.
			result.ClientHalfClosed = !ok
		case <-s.pipe.ctx.Done():
			result.ClientHalfClosed = true
		}
	}

	if b.RecvMessage {
		select {
		case msg, ok := <-s.pipe.c2s:
			if !ok {
				result.MessageEOF = true
			} else {
				result.Message = msg
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.pipe.ctx.Done():
			return nil, callCancelledErr(s.pipe)
		}
	}

	if b.SendStatus != nil {
		s.mu.Lock()
		already := s.sentStatus
		s.sentStatus = true
		s.mu.Unlock()
		if !already {
			trailer := b.SendTrailer
			if trailer == nil {
				trailer = metadata.Pairs()
			}
			s.pipe.statusOnce.Do(func() {
				s.pipe.statusCh <- statusResult{status: b.SendStatus, trailer: trailer}
			})
			s.pipe.closeS2C()
		}
	}

	return result, nil
}

// Cancel cancels the call, causing any outstanding or future batch on
// either side to observe status.Cancelled (spec.md §5 cancel()).
func (s *clientStream) Cancel() {
	s.pipe.cancel(nil)
}
