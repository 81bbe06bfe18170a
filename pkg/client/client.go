// Package client implements the method-descriptor-driven client factory
// (spec.md C10): a mapping of method name to { path, requestStream,
// responseStream, serialize, deserialize } plus a fully-qualified service
// name produces a constructor that yields a client exposing one method per
// entry, its shape determined by the (requestStream, responseStream) pair.
package client

import (
	"context"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/corerpc/corerpc/pkg/credentials"
	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/rpc"
	"github.com/corerpc/corerpc/pkg/status"
	"github.com/corerpc/corerpc/pkg/transport"
)

// MethodDesc describes one RPC method: its wire path, its streaming shape,
// and the opaque serialize/deserialize functions the caller supplies
// (spec.md treats message serialization as an external collaborator).
type MethodDesc struct {
	Path            string
	RequestStream   bool
	ResponseStream  bool
	Serialize       func(req any) ([]byte, error)
	Deserialize     func(data []byte) (any, error)
}

// Factory binds a method-descriptor map to a service name, rejecting any
// method name with the reserved "$" prefix at construction time (spec.md
// §4.6 edge case, §8 property 9).
type Factory struct {
	serviceName string
	methods     map[string]MethodDesc
}

// NewFactory validates methods and returns a reusable Factory.
func NewFactory(serviceName string, methods map[string]MethodDesc) (*Factory, error) {
	for name := range methods {
		if strings.HasPrefix(name, "$") {
			return nil, status.Errorf(status.InvalidArgument,
				"method name %q: the $ prefix is reserved for internal client fields", name)
		}
	}
	out := make(map[string]MethodDesc, len(methods))
	for k, v := range methods {
		out[k] = v
	}
	return &Factory{serviceName: serviceName, methods: out}, nil
}

// ServiceName returns the service name the factory was built with.
func (f *Factory) ServiceName() string { return f.serviceName }

// Dialer opens a ClientTransport to address. Concrete transports (pkg/
// transport/inproc, pkg/transport/wire) provide one.
type Dialer func(ctx context.Context, address string, creds *credentials.ChannelCredentials, opts Options) (transport.ClientTransport, error)

// Options are the client-construction options recognized by spec.md §4.7.
type Options struct {
	// SSLTargetNameOverride is the authority used for TLS hostname
	// matching.
	SSLTargetNameOverride string
	// DefaultAuthority is the fallback authority header.
	DefaultAuthority string
	// PrimaryUserAgent is prepended to the library's own UA string.
	PrimaryUserAgent string
	// MaxReceiveMessageSize is stored on the Client as given; no call
	// path in this package checks received messages against it.
	MaxReceiveMessageSize int
}

const libraryUserAgent = "corerpc-go/1.0"

// UserAgent returns the composed user-agent string: PrimaryUserAgent,
// followed by the library's own version, as spec.md §4.7 describes.
func (o Options) UserAgent() string {
	if o.PrimaryUserAgent == "" {
		return libraryUserAgent
	}
	return o.PrimaryUserAgent + " " + libraryUserAgent
}

// Client is a bound client instance: a dialed transport plus the method
// descriptor map and options it was constructed with.
type Client struct {
	factory   *Factory
	transport transport.ClientTransport
	authority string
	creds     *credentials.ChannelCredentials
	opts      Options
}

// Dial builds a Client for address using dial to open the transport.
func (f *Factory) Dial(ctx context.Context, dial Dialer, address string, creds *credentials.ChannelCredentials, opts Options) (*Client, error) {
	if creds != nil && creds.IsSecure() {
		if opts.SSLTargetNameOverride != "" {
			creds.OverrideServerName(opts.SSLTargetNameOverride)
		}
	}

	tr, err := dial(ctx, address, creds, opts)
	if err != nil {
		return nil, err
	}

	authority := address
	if opts.DefaultAuthority != "" {
		authority = opts.DefaultAuthority
	}

	return &Client{factory: f, transport: tr, authority: authority, creds: creds, opts: opts}, nil
}

// Close tears down the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// CallOptions are the per-invocation options recognized by spec.md §4.7.
type CallOptions struct {
	Deadline       time.Time
	Host           string
	Parent         *rpc.CallHandle
	PropagateFlags uint32
	Credentials    *credentials.CallCredentials
	Flags          uint32
}

// CallOption configures a CallOptions value.
type CallOption func(*CallOptions)

func WithDeadline(t time.Time) CallOption     { return func(o *CallOptions) { o.Deadline = t } }
func WithHost(host string) CallOption         { return func(o *CallOptions) { o.Host = host } }
func WithParent(p *rpc.CallHandle) CallOption { return func(o *CallOptions) { o.Parent = p } }
func WithPropagateFlags(f uint32) CallOption  { return func(o *CallOptions) { o.PropagateFlags = f } }

// WithDeadlineProto sets the call's deadline from an absolute protobuf
// timestamp (spec.md §4.7's "deadline (absolute date or numeric
// timestamp)" alternative to WithDeadline's time.Time).
func WithDeadlineProto(ts *timestamppb.Timestamp) CallOption {
	return func(o *CallOptions) { o.Deadline = ts.AsTime() }
}
func WithCredentials(c *credentials.CallCredentials) CallOption {
	return func(o *CallOptions) { o.Credentials = c }
}
func WithFlags(f uint32) CallOption { return func(o *CallOptions) { o.Flags = f } }

func (c *Client) resolve(method string) (MethodDesc, error) {
	desc, ok := c.factory.methods[method]
	if !ok {
		return MethodDesc{}, status.Errorf(status.Unimplemented, "unknown method %q", method)
	}
	return desc, nil
}

func (c *Client) openCall(ctx context.Context, desc MethodDesc, callOpts []CallOption) (*rpc.CallHandle, transport.ClientStream, *metadata.MD, error) {
	var o CallOptions
	for _, opt := range callOpts {
		opt(&o)
	}

	if o.Credentials != nil && (c.creds == nil || !c.creds.IsComposable()) {
		// A call with a non-composable channel credential (the insecure
		// sentinel, or an already-sealed composite) may not receive a
		// per-call credential override (spec.md §3 invariant).
		return nil, nil, nil, status.ErrorOf(status.InvalidArgument,
			"per-call credentials may not be attached to a non-composable channel credential")
	}

	authority := c.authority
	if o.Host != "" {
		authority = o.Host
	}

	var handleOpts []rpc.Option
	if !o.Deadline.IsZero() {
		handleOpts = append(handleOpts, rpc.WithDeadline(o.Deadline))
	}
	if o.Parent != nil {
		handleOpts = append(handleOpts, rpc.WithParent(o.Parent))
		if o.PropagateFlags != 0 {
			handleOpts = append(handleOpts, rpc.WithPropagateCancel())
		}
	}
	if o.Credentials != nil {
		handleOpts = append(handleOpts, rpc.WithCredentials(o.Credentials))
	}

	handle := rpc.New(ctx, desc.Path, authority, handleOpts...)

	stream, err := c.transport.NewStream(handle.Context(), desc.Path, authority)
	if err != nil {
		return nil, nil, nil, err
	}

	md, err := c.requestMetadata(handle.Context(), authority, o.Credentials)
	if err != nil {
		return nil, nil, nil, err
	}

	return handle, stream, md, nil
}

func (c *Client) requestMetadata(ctx context.Context, authority string, perCall *credentials.CallCredentials) (*metadata.MD, error) {
	var md *metadata.MD
	if c.creds != nil {
		if cc := c.creds.CallCredentials(); cc != nil {
			m, st, err := cc.GetRequestMetadata(ctx, authority)
			if err != nil {
				return nil, err
			}
			if st != nil && !st.OK() {
				return nil, st.Err()
			}
			md = m
		}
	}
	if perCall != nil {
		m, st, err := perCall.GetRequestMetadata(ctx, authority)
		if err != nil {
			return nil, err
		}
		if st != nil && !st.OK() {
			return nil, st.Err()
		}
		if md == nil {
			md = m
		} else {
			md = md.Merge(m)
		}
	}
	if md == nil {
		md = metadata.Pairs()
	}
	return md, nil
}

// deserializeResponse applies desc.Deserialize, downgrading a
// deserialization failure on an otherwise-OK response to INTERNAL with
// details "Failed to parse server response" (spec.md §4.6).
func deserializeResponse(desc MethodDesc, data []byte) (any, error) {
	resp, err := desc.Deserialize(data)
	if err != nil {
		return nil, status.ErrorOf(status.Internal, "Failed to parse server response")
	}
	return resp, nil
}

// Invoke performs a unary call (spec.md C6).
func (c *Client) Invoke(ctx context.Context, method string, req any, callOpts ...CallOption) (any, error) {
	desc, err := c.resolve(method)
	if err != nil {
		return nil, err
	}
	_, stream, md, err := c.openCall(ctx, desc, callOpts)
	if err != nil {
		return nil, err
	}

	reqBytes, err := desc.Serialize(req)
	if err != nil {
		return nil, status.Errorf(status.InvalidArgument, "failed to serialize request: %v", err)
	}

	res, err := rpc.Unary(ctx, stream, md, reqBytes)
	if err != nil {
		return nil, err
	}
	return deserializeResponse(desc, res.Message)
}

// NewClientStream opens a client-streaming call (spec.md C7).
func (c *Client) NewClientStream(ctx context.Context, method string, callOpts ...CallOption) (*rpc.ClientStreamCall, MethodDesc, error) {
	desc, err := c.resolve(method)
	if err != nil {
		return nil, MethodDesc{}, err
	}
	_, stream, md, err := c.openCall(ctx, desc, callOpts)
	if err != nil {
		return nil, MethodDesc{}, err
	}
	return rpc.NewClientStream(ctx, stream, md), desc, nil
}

// NewServerStream opens a server-streaming call (spec.md C8).
func (c *Client) NewServerStream(ctx context.Context, method string, req any, callOpts ...CallOption) (*rpc.ServerStreamCall, MethodDesc, error) {
	desc, err := c.resolve(method)
	if err != nil {
		return nil, MethodDesc{}, err
	}
	_, stream, md, err := c.openCall(ctx, desc, callOpts)
	if err != nil {
		return nil, MethodDesc{}, err
	}
	reqBytes, err := desc.Serialize(req)
	if err != nil {
		return nil, MethodDesc{}, status.Errorf(status.InvalidArgument, "failed to serialize request: %v", err)
	}
	call, err := rpc.NewServerStream(ctx, stream, md, reqBytes)
	if err != nil {
		return nil, MethodDesc{}, err
	}
	return call, desc, nil
}

// NewBidiStream opens a bidirectional-streaming call (spec.md C9).
func (c *Client) NewBidiStream(ctx context.Context, method string, callOpts ...CallOption) (*rpc.BidiCall, MethodDesc, error) {
	desc, err := c.resolve(method)
	if err != nil {
		return nil, MethodDesc{}, err
	}
	_, stream, md, err := c.openCall(ctx, desc, callOpts)
	if err != nil {
		return nil, MethodDesc{}, err
	}
	return rpc.NewBidi(ctx, stream, md), desc, nil
}
